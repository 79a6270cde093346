package phasedtick

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultWorkerTimeoutMs      = 2000
	defaultAffinityPollInterval = time.Millisecond
)

// Config models the scheduler's configuration, see also the Option type, for
// collaborators that aren't plain values.
type Config struct {
	// WorkerCount is the size of the worker pool, and must be at least 1.
	WorkerCount int `yaml:"worker_count"`

	// WorkerTimeoutMs is how long the supervisor waits, from the start of a
	// cycle, for each worker to report done, before replacing it. Must be
	// positive.
	WorkerTimeoutMs int `yaml:"worker_timeout_ms"`

	// DefaultCacheFrequency is the eviction frequency used by
	// resultcache.Cache.RegisterDefault, for the scheduler's cache. Must be at
	// least 1.
	DefaultCacheFrequency int `yaml:"default_cache_frequency"`

	// AffinityPollInterval bounds each wait of the affinity goroutine, while
	// it waits for a cycle. Defaults to 1ms, if 0.
	AffinityPollInterval time.Duration `yaml:"affinity_poll_interval"`
}

// DefaultConfig returns a Config with one worker per GOMAXPROCS, and a two
// second worker timeout.
func DefaultConfig() Config {
	return Config{
		WorkerCount:           runtime.GOMAXPROCS(0),
		WorkerTimeoutMs:       defaultWorkerTimeoutMs,
		DefaultCacheFrequency: 1,
		AffinityPollInterval:  defaultAffinityPollInterval,
	}
}

// LoadConfig decodes YAML from r, on top of DefaultConfig. Unknown fields are
// an error. Empty input yields the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf(`phasedtick: decode config: %w`, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile is LoadConfig, reading from the file at path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadConfig(f)
}

// Validate checks the config, returning an error wrapping ErrInvalidConfig
// describing every problem.
func (x Config) Validate() error {
	var errs []error
	if x.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf(`worker_count must be >= 1: %d`, x.WorkerCount))
	}
	if x.WorkerTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf(`worker_timeout_ms must be > 0: %d`, x.WorkerTimeoutMs))
	}
	if x.DefaultCacheFrequency < 1 {
		errs = append(errs, fmt.Errorf(`default_cache_frequency must be >= 1: %d`, x.DefaultCacheFrequency))
	}
	if x.AffinityPollInterval < 0 {
		errs = append(errs, fmt.Errorf(`affinity_poll_interval must not be negative: %s`, x.AffinityPollInterval))
	}
	if errs != nil {
		return fmt.Errorf(`%w: %w`, ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// WorkerTimeout returns WorkerTimeoutMs as a duration.
func (x Config) WorkerTimeout() time.Duration {
	return time.Duration(x.WorkerTimeoutMs) * time.Millisecond
}

func (x Config) pollInterval() time.Duration {
	if x.AffinityPollInterval > 0 {
		return x.AffinityPollInterval
	}
	return defaultAffinityPollInterval
}
