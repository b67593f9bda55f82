package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
store:
  name: "Store 42"
discovery:
  enabled: true
collector:
  destination_url: "http://aggregator.local/tanks"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10001, cfg.Gateway.Port)
	assert.Equal(t, "I201", cfg.Gateway.CommandPrefix)
	assert.Equal(t, 1, cfg.Gateway.FirstSensor)
	assert.Equal(t, 6, cfg.Gateway.LastSensor)
	assert.Equal(t, 10*time.Second, cfg.Gateway.DialTimeout)

	assert.Equal(t, 30718, cfg.Discovery.Port)
	assert.Equal(t, 3*time.Second, cfg.Discovery.Timeout)
	assert.Equal(t, DefaultFallbackNetworks, cfg.Discovery.FallbackNetworks)
	assert.Equal(t, [2]int{6, 12}, cfg.Discovery.Layout.MAC)
	assert.Equal(t, 30, cfg.Discovery.Layout.MinLength)

	assert.Equal(t, 5*time.Minute, cfg.Collector.Interval)
	assert.Equal(t, 30*time.Second, cfg.Collector.RequestTimeout)

	assert.Equal(t, 10000, cfg.Normalize.Capacity)
	assert.Equal(t, 37, cfg.Normalize.TCVolumeOffset)
	assert.Equal(t, 45.0, cfg.Normalize.DefaultHeight)
	assert.Equal(t, 0.0, cfg.Normalize.DefaultWater)
	assert.Equal(t, 70.0, cfg.Normalize.DefaultTemp)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
store:
  name: "Store 7"
gateway:
  address: "192.168.1.40"
  last_sensor: 4
discovery:
  enabled: false
  fallback_networks: []
  layout:
    mac: [8, 14]
collector:
  destination_url: "http://aggregator.local/tanks"
  interval_seconds: 60
  headers:
    X-Api-Key: "secret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.40", cfg.Gateway.Address)
	assert.Equal(t, 4, cfg.Gateway.LastSensor)
	assert.Empty(t, cfg.Discovery.FallbackNetworks)
	assert.Equal(t, [2]int{8, 14}, cfg.Discovery.Layout.MAC)
	assert.Equal(t, time.Minute, cfg.Collector.Interval)
	assert.Equal(t, "secret", cfg.Collector.Headers["X-Api-Key"])
}

func TestLoad_NormalizeZerosAreKept(t *testing.T) {
	path := writeConfig(t, `
store:
  name: "Store 42"
discovery:
  enabled: true
collector:
  destination_url: "http://aggregator.local/tanks"
normalize:
  tc_volume_offset: 0
  default_height: 0
  default_temp: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Normalize.TCVolumeOffset)
	assert.Equal(t, 0.0, cfg.Normalize.DefaultHeight)
	assert.Equal(t, 0.0, cfg.Normalize.DefaultTemp)
	assert.Equal(t, 10000, cfg.Normalize.Capacity, "omitted keys keep their default")
}

func TestApplyDefaults_EmptyNormalize(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultNormalize(), cfg.Normalize)

	cfg = &Config{Normalize: NormalizeConfig{TCVolumeOffset: 12}}
	cfg.ApplyDefaults()
	assert.Equal(t, 12, cfg.Normalize.TCVolumeOffset)
	assert.Equal(t, 0.0, cfg.Normalize.DefaultTemp)
	assert.Equal(t, 10000, cfg.Normalize.Capacity)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "store: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Store:     StoreConfig{Name: "Store 42"},
			Discovery: DiscoveryConfig{Enabled: true},
			Collector: CollectorConfig{DestinationURL: "http://aggregator.local"},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing store", mutate: func(c *Config) { c.Store.Name = "" }, wantErr: "store.name"},
		{name: "missing destination", mutate: func(c *Config) { c.Collector.DestinationURL = "" }, wantErr: "destination_url"},
		{
			name:    "no gateway source",
			mutate:  func(c *Config) { c.Discovery.Enabled = false },
			wantErr: "gateway.address",
		},
		{
			name:    "static address without discovery",
			mutate:  func(c *Config) { c.Discovery.Enabled = false; c.Gateway.Address = "10.0.0.5" },
			wantErr: "",
		},
		{name: "interval below minimum", mutate: func(c *Config) { c.Collector.IntervalSeconds = 10 }, wantErr: "below the minimum"},
		{name: "inverted sensors", mutate: func(c *Config) { c.Gateway.FirstSensor = 5; c.Gateway.LastSensor = 2 }, wantErr: "sensor range"},
		{name: "sensor above 99", mutate: func(c *Config) { c.Gateway.LastSensor = 100 }, wantErr: "sensor range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
