package store

import (
	"fmt"
	"time"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

// Configuration of the store, as written in yaml.
//
// This type is mutable. Seal it to get `*StoreConfig`.
type StoreConfigMarshall struct {
	Database        string                  `yaml:"database"`
	Service         bool                    `yaml:"service"`
	ComputeNode     bool                    `yaml:"computeNode"`
	Retry           *RetryConfigMarshall    `yaml:"retry,omitempty"`
	Query           *QueryConfigMarshall    `yaml:"query,omitempty"`
	Stats           *StatsConfigMarshall    `yaml:"stats,omitempty"`
	InsertBuffering int                     `yaml:"insertBuffering"`
	LogStore        *LogStoreConfigMarshall `yaml:"logStore,omitempty"`
}

var _ Marshalled[*StoreConfig] = &StoreConfigMarshall{}

func (s *StoreConfigMarshall) trySeal(path string) *StoreConfig {
	return &StoreConfig{
		database:        required(s.Database, path+".database"),
		service:         s.Service,
		computeNode:     s.ComputeNode,
		retry:           orEmpty(s.Retry).trySeal(path + ".retry"),
		query:           orEmpty(s.Query).trySeal(path + ".query"),
		stats:           orEmpty(s.Stats).trySeal(path + ".stats"),
		insertBuffering: nonnegative(s.InsertBuffering, path+".insertBuffering"),
		logStore:        s.LogStore.trySeal(path + ".logStore"),
	}
}

type RetryConfigMarshall struct {
	MaxAttempts            int     `yaml:"maxAttempts"`
	ClientAttempts         int     `yaml:"clientAttempts"`
	MaxBackoff             string  `yaml:"maxBackoff"`
	ClientBackoff          string  `yaml:"clientBackoff"`
	ResetConnectionOnRetry *bool   `yaml:"resetConnectionOnRetry"`
	FakeErrorRate          float64 `yaml:"fakeErrorRate"`
}

func (r *RetryConfigMarshall) trySeal(path string) *RetryConfig {
	if r.FakeErrorRate < 0 || 1 <= r.FakeErrorRate {
		panic(fmt.Sprintf("%s.fakeErrorRate should be in [0, 1): %v", path, r.FakeErrorRate))
	}
	return &RetryConfig{
		maxAttempts:    positiveOr(r.MaxAttempts, 25, path+".maxAttempts"),
		clientAttempts: positiveOr(r.ClientAttempts, 2, path+".clientAttempts"),
		maxBackoff:     duration(r.MaxBackoff, 60*time.Second, path+".maxBackoff"),
		clientBackoff:  duration(r.ClientBackoff, 5*time.Second, path+".clientBackoff"),
		resetOnRetry:   boolOr(r.ResetConnectionOnRetry, true),
		fakeErrorRate:  r.FakeErrorRate,
	}
}

type QueryConfigMarshall struct {
	ChunkSize  int `yaml:"chunkSize"`
	MaxWorkers int `yaml:"maxWorkers"`
}

func (q *QueryConfigMarshall) trySeal(path string) *QueryConfig {
	return &QueryConfig{
		chunkSize:  positiveOr(q.ChunkSize, 50, path+".chunkSize"),
		maxWorkers: positiveOr(q.MaxWorkers, 25, path+".maxWorkers"),
	}
}

type StatsConfigMarshall struct {
	Job  *bool `yaml:"job"`
	Run  *bool `yaml:"run"`
	Node *bool `yaml:"node"`
}

func (s *StatsConfigMarshall) trySeal(string) *StatsConfig {
	return &StatsConfig{
		job:  boolOr(s.Job, true),
		run:  boolOr(s.Run, true),
		node: boolOr(s.Node, true),
	}
}

type LogStoreConfigMarshall struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Insecure        bool   `yaml:"insecure"`
	Concurrency     int    `yaml:"concurrency"`
}

func (l *LogStoreConfigMarshall) trySeal(path string) *LogStoreConfig {
	if l == nil {
		return nil
	}
	return &LogStoreConfig{
		endpoint:        required(l.Endpoint, path+".endpoint"),
		bucket:          required(l.Bucket, path+".bucket"),
		accessKeyID:     l.AccessKeyID,
		secretAccessKey: l.SecretAccessKey,
		insecure:        l.Insecure,
		concurrency:     positiveOr(l.Concurrency, 8, path+".concurrency"),
	}
}

func orEmpty[T any](v *T) *T {
	if v == nil {
		return new(T)
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

func nonnegative(v int, path string) int {
	if v < 0 {
		panic(fmt.Sprintf("%s should not be negative: %d", path, v))
	}
	return v
}

func positiveOr(v int, def int, path string) int {
	if v == 0 {
		return def
	}
	if v < 0 {
		panic(fmt.Sprintf("%s should be positive: %d", path, v))
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func duration(v string, def time.Duration, path string) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Sprintf("%s can not be parsed: %v", path, err))
	}
	if d < 0 {
		panic(fmt.Sprintf("%s should not be negative: %s", path, v))
	}
	return d
}
