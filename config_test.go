package phasedtick

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.WorkerCount)
	assert.Equal(t, time.Second*2, cfg.WorkerTimeout())
	assert.Equal(t, 1, cfg.DefaultCacheFrequency)
	assert.Equal(t, time.Millisecond, cfg.pollInterval())
}

func TestLoadConfig(t *testing.T) {
	for _, tc := range [...]struct {
		name    string
		input   string
		want    func(cfg *Config)
		wantErr string
	}{
		{
			name:  `empty`,
			input: ``,
			want:  func(*Config) {},
		},
		{
			name: `overrides`,
			input: `worker_count: 4
worker_timeout_ms: 150
default_cache_frequency: 8
affinity_poll_interval: 5ms
`,
			want: func(cfg *Config) {
				cfg.WorkerCount = 4
				cfg.WorkerTimeoutMs = 150
				cfg.DefaultCacheFrequency = 8
				cfg.AffinityPollInterval = time.Millisecond * 5
			},
		},
		{
			name:    `unknown field`,
			input:   "worker_count: 2\nworkers: 3\n",
			wantErr: `field workers not found`,
		},
		{
			name:    `invalid values`,
			input:   "worker_count: 0\nworker_timeout_ms: -1\n",
			wantErr: `worker_timeout_ms must be > 0`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(strings.NewReader(tc.input))
			if tc.wantErr != `` {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			want := DefaultConfig()
			tc.want(&want)
			assert.Equal(t, want, cfg)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	err := Config{AffinityPollInterval: -1}.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, field := range []string{`worker_count`, `worker_timeout_ms`, `default_cache_frequency`, `affinity_poll_interval`} {
		assert.Contains(t, err.Error(), field)
	}

	cfg := DefaultConfig()
	cfg.AffinityPollInterval = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultAffinityPollInterval, cfg.pollInterval())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), `config.yaml`)
	require.NoError(t, os.WriteFile(path, []byte("worker_count: 3\n"), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.WorkerCount)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), `missing.yaml`))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
