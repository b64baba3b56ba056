package logging

import "time"

// JSONConfig configures the JSON-lines sink.
type JSONConfig struct {
	MaxBatch      int
	FlushInterval time.Duration
	FilePath      string
}

// Config captures the runtime configuration for the logging router. Which
// sinks are active is decided by the caller building the map it hands to
// NewRouter, not by a name list here: internal/app only ever constructs a
// console sink and, behind DEMO_JSON_LOG_PATH, a json sink.
type Config struct {
	BufferSize  int
	MinSeverity Severity

	JSON JSONConfig

	Metadata map[string]string
}

// DefaultConfig returns a configuration mirroring the engine's plain
// stdout logging behaviour.
func DefaultConfig() Config {
	return Config{
		BufferSize:  1024,
		MinSeverity: SeverityDebug,
		JSON:        JSONConfig{MaxBatch: 1, FlushInterval: 0},
		Metadata:    make(map[string]string),
	}
}

// Clock describes the time source used by the router.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
