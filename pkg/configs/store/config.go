package store

import "time"

// Configuration for the store.
//
// to get `StoreConfig` instance, use `TrySeal(*StoreConfigMarshall)` or `Unmarshal`.
type StoreConfig struct {
	database        string
	service         bool
	computeNode     bool
	retry           *RetryConfig
	query           *QueryConfig
	stats           *StatsConfig
	insertBuffering int
	logStore        *LogStoreConfig
}

// Connection string for database.
func (s *StoreConfig) Database() string {
	return s.database
}

// true when the store is used by a long-lived service. false for short-lived clients.
func (s *StoreConfig) Service() bool {
	return s.service
}

// true when the store is used on a compute node of the fleet.
//
// Queries from compute nodes are never split into chunks.
func (s *StoreConfig) ComputeNode() bool {
	return s.computeNode
}

func (s *StoreConfig) Retry() *RetryConfig {
	return s.retry
}

func (s *StoreConfig) Query() *QueryConfig {
	return s.query
}

func (s *StoreConfig) Stats() *StatsConfig {
	return s.stats
}

// Threshold of buffered bag inserts. 0 means inserts are not buffered.
func (s *StoreConfig) InsertBuffering() int {
	return s.insertBuffering
}

// Object storage having log records of runs. nil when not configured.
func (s *StoreConfig) LogStore() *LogStoreConfig {
	return s.logStore
}

type RetryConfig struct {
	maxAttempts    int
	clientAttempts int
	maxBackoff     time.Duration
	clientBackoff  time.Duration
	resetOnRetry   bool
	fakeErrorRate  float64
}

// Attempts per statement in service mode. default = 25
func (r *RetryConfig) MaxAttempts() int {
	return r.maxAttempts
}

// Attempts per statement in client mode. default = 2
func (r *RetryConfig) ClientAttempts() int {
	return r.clientAttempts
}

// Upper bound of the random backoff in service mode. default = 60s
func (r *RetryConfig) MaxBackoff() time.Duration {
	return r.maxBackoff
}

// Fixed backoff in client mode. default = 5s
func (r *RetryConfig) ClientBackoff() time.Duration {
	return r.clientBackoff
}

// When true, connection is replaced before every retry. default = true
func (r *RetryConfig) ResetConnectionOnRetry() bool {
	return r.resetOnRetry
}

// Rate of injected faults, in [0, 1). default = 0
func (r *RetryConfig) FakeErrorRate() float64 {
	return r.fakeErrorRate
}

type QueryConfig struct {
	chunkSize  int
	maxWorkers int
}

// Rows per chunk of paginated queries. default = 50
func (q *QueryConfig) ChunkSize() int {
	return q.chunkSize
}

// Concurrent chunk fetches per query. default = 25
func (q *QueryConfig) MaxWorkers() int {
	return q.maxWorkers
}

// Toggles of stats tables maintenance. All default to true.
type StatsConfig struct {
	job  bool
	run  bool
	node bool
}

func (s *StatsConfig) Job() bool {
	return s.job
}

func (s *StatsConfig) Run() bool {
	return s.run
}

func (s *StatsConfig) Node() bool {
	return s.node
}

type LogStoreConfig struct {
	endpoint        string
	bucket          string
	accessKeyID     string
	secretAccessKey string
	insecure        bool
	concurrency     int
}

// Endpoint of the S3 compatible storage, like "minio.example.com:9000".
func (l *LogStoreConfig) Endpoint() string {
	return l.endpoint
}

func (l *LogStoreConfig) Bucket() string {
	return l.bucket
}

func (l *LogStoreConfig) AccessKeyID() string {
	return l.accessKeyID
}

func (l *LogStoreConfig) SecretAccessKey() string {
	return l.secretAccessKey
}

// true when the storage is connected without TLS.
func (l *LogStoreConfig) Insecure() bool {
	return l.insecure
}

// Objects read concurrently per query. default = 8
func (l *LogStoreConfig) Concurrency() int {
	return l.concurrency
}
