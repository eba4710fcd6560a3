// Package minio is LogStore on S3 compatible object storages.
//
// Log records of a run are JSON lines in the object "<workspace>/runs/<run name>/log_records.jsonl".
package minio

import (
	"bufio"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/opst/xtstore/pkg/domain"
	"github.com/opst/xtstore/pkg/domain/logs"
	xe "github.com/opst/xtstore/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bucket gives objects.
type Bucket interface {
	// Get returns a reader of the object.
	Get(ctx context.Context, name string) (io.ReadCloser, error)

	// IsObjNotFoundErr tells the error is caused by absence of the object.
	IsObjNotFoundErr(err error) bool
}

// Config of the connection to the object storage.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Insecure        bool   `yaml:"insecure"`
}

type bucket struct {
	client *minio.Client
	name   string
}

// NewBucket connects to the bucket.
func NewBucket(conf Config) (Bucket, error) {
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKeyID, conf.SecretAccessKey, ""),
		Secure: !conf.Insecure,
	})
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return &bucket{client: client, name: conf.Bucket}, nil
}

func (b *bucket) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.name, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// absence of the object is revealed on the first read.
	if _, err := obj.Read(nil); err != nil {
		obj.Close()
		if errors.Is(err, io.EOF) {
			return io.NopCloser(strings.NewReader("")), nil
		}
		return nil, err
	}
	return obj, nil
}

func (b *bucket) IsObjNotFoundErr(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

type logStore struct {
	bucket      Bucket
	logger      log.Logger
	concurrency int
}

type Option func(*logStore) *logStore

func WithLogger(logger log.Logger) Option {
	return func(s *logStore) *logStore {
		s.logger = logger
		return s
	}
}

// WithConcurrency sets the number of objects read at once. Default is 8.
func WithConcurrency(n int) Option {
	return func(s *logStore) *logStore {
		s.concurrency = n
		return s
	}
}

func New(bucket Bucket, options ...Option) logs.LogStore {
	s := &logStore{bucket: bucket, logger: log.NewNopLogger(), concurrency: 8}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

// ObjectName returns the name of the object having log records of the run.
func ObjectName(workspace string, run string) string {
	return path.Join(workspace, "runs", run, "log_records.jsonl")
}

func (s *logStore) LogRecordsForRuns(ctx context.Context, workspace string, ids []string) ([]domain.Document, error) {
	found := make([][]domain.Document, len(ids))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for i, id := range ids {
		eg.Go(func() error {
			_, run, ok := domain.SplitID(id)
			if !ok {
				run = id
			}
			recs, err := s.read(ctx, ObjectName(workspace, run), id)
			if err != nil {
				return err
			}
			found[i] = recs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, xe.Wrap(err)
	}

	out := []domain.Document{}
	for _, recs := range found {
		out = append(out, recs...)
	}
	return out, nil
}

var readers = sync.Pool{New: func() any { return bufio.NewReaderSize(nil, 64*1024) }}

func (s *logStore) read(ctx context.Context, name string, key string) ([]domain.Document, error) {
	obj, err := s.bucket.Get(ctx, name)
	if err != nil {
		if s.bucket.IsObjNotFoundErr(err) || errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	defer obj.Close()

	r := readers.Get().(*bufio.Reader)
	defer readers.Put(r)
	r.Reset(obj)

	recs := []domain.Document{}
	for {
		line, err := r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			rec := domain.Document{}
			if uerr := json.UnmarshalFromString(trimmed, &rec); uerr != nil {
				level.Warn(s.logger).Log("msg", "broken log record is skipped", "object", name, "err", uerr)
			} else {
				rec["key"] = key
				recs = append(recs, rec)
			}
		}
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
