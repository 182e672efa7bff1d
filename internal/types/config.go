package types

type RunMode string

const (
	// ModeLocal runs the API server and the temporal worker in one process
	ModeLocal RunMode = "local"
	// ModeAPI is the mode for running just the API server
	ModeAPI RunMode = "api"
	// ModeTemporalWorker is the mode for running just the temporal worker
	ModeTemporalWorker RunMode = "temporal_worker"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LockBackend selects the implementation behind the deal lock
type LockBackend string

const (
	LockBackendRedis  LockBackend = "redis"
	LockBackendMemory LockBackend = "memory"
)
