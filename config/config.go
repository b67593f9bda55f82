package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tank-inventory-relay/internal/logger"
)

// Config represents the overall application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Collector  CollectorConfig  `yaml:"collector"`
	Normalize  NormalizeConfig  `yaml:"normalize"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        logger.Config    `yaml:"log"`
}

// StoreConfig identifies the site whose tanks are being relayed.
type StoreConfig struct {
	Name string `yaml:"name"`
}

// GatewayConfig describes how to reach the serial-to-network gateway.
type GatewayConfig struct {
	Address            string        `yaml:"address"`
	Port               int           `yaml:"port"`
	PreferredMAC       string        `yaml:"preferred_mac"`
	CommandPrefix      string        `yaml:"command_prefix"`
	FirstSensor        int           `yaml:"first_sensor"`
	LastSensor         int           `yaml:"last_sensor"`
	DialTimeoutSeconds int           `yaml:"dial_timeout_seconds"`
	DialTimeout        time.Duration `yaml:"-"`
	ReadTimeoutSeconds int           `yaml:"read_timeout_seconds"`
	ReadTimeout        time.Duration `yaml:"-"`
}

// DiscoveryConfig controls broadcast discovery of the gateway.
type DiscoveryConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Port             int           `yaml:"port"`
	TimeoutSeconds   int           `yaml:"timeout_seconds"`
	Timeout          time.Duration `yaml:"-"`
	FallbackNetworks []string      `yaml:"fallback_networks"`
	EgressProbeAddr  string        `yaml:"egress_probe_addr"`
	Layout           LayoutConfig  `yaml:"layout"`
}

// LayoutConfig holds the byte offsets of the discovery reply fields.
// Each field is a half-open [start, end) range.
type LayoutConfig struct {
	MinLength int    `yaml:"min_length"`
	MAC       [2]int `yaml:"mac"`
	Type      [2]int `yaml:"type"`
	Firmware  [2]int `yaml:"firmware"`
	Status    [2]int `yaml:"status"`
}

// CollectorConfig holds the collection cycle and upload configuration.
type CollectorConfig struct {
	IntervalSeconds       int               `yaml:"interval_seconds"`
	Interval              time.Duration     `yaml:"-"`
	MinIntervalSeconds    int               `yaml:"min_interval_seconds"`
	DestinationURL        string            `yaml:"destination_url"`
	Headers               map[string]string `yaml:"headers"`
	HTTPProxy             string            `yaml:"http_proxy"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds"`
	RequestTimeout        time.Duration     `yaml:"-"`
}

// NormalizeConfig holds the constants applied to every reading before upload.
type NormalizeConfig struct {
	Capacity       int     `yaml:"capacity"`
	TCVolumeOffset int     `yaml:"tc_volume_offset"`
	DefaultHeight  float64 `yaml:"default_height"`
	DefaultWater   float64 `yaml:"default_water"`
	DefaultTemp    float64 `yaml:"default_temp"`
}

// ServerConfig holds the diagnostics API configuration.
type ServerConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableTimescale        bool   `yaml:"enable_timescale"`
}

// PushConfig holds the VAPID keys for operator alerts.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

var (
	errMissingStore       = errors.New("store.name is required")
	errMissingDestination = errors.New("collector.destination_url is required")
	errNoGatewaySource    = errors.New("either gateway.address or discovery.enabled must be set")
)

// DefaultFallbackNetworks are probed in addition to the local interface networks.
var DefaultFallbackNetworks = []string{
	"192.168.1.0/24",
	"10.0.0.0/24",
	"172.16.0.0/24",
	"192.168.0.0/24",
	"169.254.0.0/16",
}

// DefaultNormalize returns the constants the aggregator expects.
func DefaultNormalize() NormalizeConfig {
	return NormalizeConfig{
		Capacity:       10000,
		TCVolumeOffset: 37,
		DefaultHeight:  45.0,
		DefaultWater:   0.0,
		DefaultTemp:    70.0,
	}
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Config{Normalize: DefaultNormalize()}
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	g := &cfg.Gateway
	if g.Port <= 0 {
		g.Port = 10001
	}
	if g.CommandPrefix == "" {
		g.CommandPrefix = "I201"
	}
	if g.FirstSensor <= 0 {
		g.FirstSensor = 1
	}
	if g.LastSensor <= 0 {
		g.LastSensor = 6
	}
	if g.DialTimeoutSeconds <= 0 {
		g.DialTimeoutSeconds = 10
	}
	g.DialTimeout = time.Duration(g.DialTimeoutSeconds) * time.Second
	if g.ReadTimeoutSeconds <= 0 {
		g.ReadTimeoutSeconds = 10
	}
	g.ReadTimeout = time.Duration(g.ReadTimeoutSeconds) * time.Second

	d := &cfg.Discovery
	if d.Port <= 0 {
		d.Port = 30718
	}
	if d.TimeoutSeconds <= 0 {
		d.TimeoutSeconds = 3
	}
	d.Timeout = time.Duration(d.TimeoutSeconds) * time.Second
	if d.FallbackNetworks == nil {
		d.FallbackNetworks = append([]string(nil), DefaultFallbackNetworks...)
	}
	if d.EgressProbeAddr == "" {
		d.EgressProbeAddr = "8.8.8.8:80"
	}
	l := &d.Layout
	if l.MinLength <= 0 {
		l.MinLength = 30
	}
	if l.MAC == [2]int{} {
		l.MAC = [2]int{6, 12}
	}
	if l.Type == [2]int{} {
		l.Type = [2]int{0, 2}
	}
	if l.Firmware == [2]int{} {
		l.Firmware = [2]int{2, 4}
	}
	if l.Status == [2]int{} {
		l.Status = [2]int{4, 6}
	}

	c := &cfg.Collector
	if c.MinIntervalSeconds <= 0 {
		c.MinIntervalSeconds = 30
	}
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 300
	}
	c.Interval = time.Duration(c.IntervalSeconds) * time.Second
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 30
	}
	c.RequestTimeout = time.Duration(c.RequestTimeoutSeconds) * time.Second

	// Load seeds the normalize constants before decoding, so a zero here
	// was written on purpose. Only an entirely empty section is defaulted.
	if cfg.Normalize == (NormalizeConfig{}) {
		cfg.Normalize = DefaultNormalize()
	}
	if cfg.Normalize.Capacity <= 0 {
		cfg.Normalize.Capacity = DefaultNormalize().Capacity
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 2
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 10
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		logger.Warn().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate reports configuration that would make every cycle fail.
func (cfg *Config) Validate() error {
	if cfg.Store.Name == "" {
		return errMissingStore
	}
	if cfg.Collector.DestinationURL == "" {
		return errMissingDestination
	}
	if cfg.Gateway.Address == "" && !cfg.Discovery.Enabled {
		return errNoGatewaySource
	}
	if cfg.Collector.IntervalSeconds < cfg.Collector.MinIntervalSeconds {
		return fmt.Errorf("collector.interval_seconds %d is below the minimum of %d",
			cfg.Collector.IntervalSeconds, cfg.Collector.MinIntervalSeconds)
	}
	if cfg.Gateway.FirstSensor > cfg.Gateway.LastSensor || cfg.Gateway.LastSensor > 99 {
		return fmt.Errorf("invalid sensor range %d..%d", cfg.Gateway.FirstSensor, cfg.Gateway.LastSensor)
	}
	return nil
}
