package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall daemon configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Day      DayConfig      `yaml:"day"`
	Feed     FeedConfig     `yaml:"feed"`
	Floors   []FloorConfig  `yaml:"floors"`
}

// BackendConfig describes the remote housekeeping backend.
type BackendConfig struct {
	URL            string            `yaml:"url"`
	SocketPath     string            `yaml:"socket_path"`
	ProbePath      string            `yaml:"probe_path"`
	HTTPProxy      string            `yaml:"http_proxy"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Timeout        time.Duration     `yaml:"-"` // Ignored by YAML parser
	Reconnect      ReconnectConfig   `yaml:"reconnect"`
}

// ReconnectConfig is the realtime channel's retry policy. It is read once
// when the channel is created.
type ReconnectConfig struct {
	Attempts         int           `yaml:"attempts"`
	DelayMillis      int           `yaml:"delay_ms"`
	MaxDelayMillis   int           `yaml:"max_delay_ms"`
	ConnectTimeoutMS int           `yaml:"connect_timeout_ms"`
	ProbeTimeoutMS   int           `yaml:"probe_timeout_ms"`
	Delay            time.Duration `yaml:"-"`
	MaxDelay         time.Duration `yaml:"-"`
	ConnectTimeout   time.Duration `yaml:"-"`
	ProbeTimeout     time.Duration `yaml:"-"`
}

// ServerConfig holds the local API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	// StartVisible opens the channel without waiting for a front end to
	// report visibility. Useful for headless runs.
	StartVisible bool `yaml:"start_visible"`
}

// CacheTTL is how long proxied backend reads are served from memory.
func (s ServerConfig) CacheTTL() time.Duration {
	if s.CacheTTLSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// RateLimit returns the per-client request rate and burst.
func (s ServerConfig) RateLimit() (float64, int) {
	r := s.RateLimitPerSec
	if r <= 0 {
		r = 5
	}
	b := int(r * 2)
	if b < 1 {
		b = 1
	}
	return r, b
}

// DatabaseConfig holds the session database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "sqlite" or "postgres"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// DayConfig defines the operating day.
type DayConfig struct {
	Timezone            string         `yaml:"timezone"`
	PollIntervalSeconds int            `yaml:"poll_interval_seconds"`
	PollInterval        time.Duration  `yaml:"-"`
	Location            *time.Location `yaml:"-"`
}

// FeedConfig tunes the live activity feed.
type FeedConfig struct {
	Capacity         int           `yaml:"capacity"`
	PageSize         int           `yaml:"page_size"`
	LoadOlderEveryMS int           `yaml:"load_older_every_ms"`
	LoadOlderEvery   time.Duration `yaml:"-"`
}

// FloorConfig is one tab of the room grid.
type FloorConfig struct {
	ID    string   `yaml:"id" json:"id"`
	Name  string   `yaml:"name" json:"name"`
	Rooms []string `yaml:"rooms" json:"rooms"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	// The zero config always has a valid timezone.
	_ = cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() error {
	b := &cfg.Backend
	if b.URL == "" {
		b.URL = "http://localhost:3001"
	}
	b.URL = strings.TrimRight(b.URL, "/")
	if b.SocketPath == "" {
		b.SocketPath = "/socketio"
	}
	if b.ProbePath == "" {
		b.ProbePath = "/health"
	}
	if b.TimeoutSeconds <= 0 {
		b.TimeoutSeconds = 30
	}
	b.Timeout = time.Duration(b.TimeoutSeconds) * time.Second

	r := &b.Reconnect
	if r.Attempts <= 0 {
		r.Attempts = 5
	}
	if r.DelayMillis <= 0 {
		r.DelayMillis = 1000
	}
	if r.MaxDelayMillis <= 0 {
		r.MaxDelayMillis = 5000
	}
	if r.MaxDelayMillis < r.DelayMillis {
		log.Printf("backend.reconnect.max_delay_ms (%d) is below delay_ms; raising it", r.MaxDelayMillis)
		r.MaxDelayMillis = r.DelayMillis
	}
	if r.ConnectTimeoutMS <= 0 {
		r.ConnectTimeoutMS = 5000
	}
	if r.ProbeTimeoutMS <= 0 {
		r.ProbeTimeoutMS = 3000
	}
	r.Delay = time.Duration(r.DelayMillis) * time.Millisecond
	r.MaxDelay = time.Duration(r.MaxDelayMillis) * time.Millisecond
	r.ConnectTimeout = time.Duration(r.ConnectTimeoutMS) * time.Millisecond
	r.ProbeTimeout = time.Duration(r.ProbeTimeoutMS) * time.Millisecond

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 15
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "housekeepd.db"
	}

	if cfg.Day.Timezone == "" {
		cfg.Day.Timezone = "America/New_York"
	}
	loc, err := time.LoadLocation(cfg.Day.Timezone)
	if err != nil {
		return fmt.Errorf("invalid day.timezone %q: %w", cfg.Day.Timezone, err)
	}
	cfg.Day.Location = loc
	if cfg.Day.PollIntervalSeconds <= 0 {
		cfg.Day.PollIntervalSeconds = 60
	}
	cfg.Day.PollInterval = time.Duration(cfg.Day.PollIntervalSeconds) * time.Second

	if cfg.Feed.Capacity <= 0 {
		cfg.Feed.Capacity = 200
	}
	if cfg.Feed.PageSize <= 0 {
		cfg.Feed.PageSize = 50
	}
	if cfg.Feed.LoadOlderEveryMS <= 0 {
		cfg.Feed.LoadOlderEveryMS = 1000
	}
	cfg.Feed.LoadOlderEvery = time.Duration(cfg.Feed.LoadOlderEveryMS) * time.Millisecond

	if len(cfg.Floors) == 0 {
		cfg.Floors = DefaultFloors()
	}
	return nil
}

// DefaultFloors is the hotel's room layout.
func DefaultFloors() []FloorConfig {
	return []FloorConfig{
		{ID: "ground-floor", Name: "Ground Floor", Rooms: append(roomRange(1, 7), roomRange(11, 17)...)},
		{ID: "second-floor", Name: "Second Floor", Rooms: roomRange(101, 117)},
		{ID: "third-floor", Name: "Third Floor", Rooms: append(roomRange(201, 205), roomRange(208, 217)...)},
	}
}

func roomRange(from, to int) []string {
	out := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		out = append(out, fmt.Sprintf("%03d", n))
	}
	return out
}

// Floor looks up a floor by id.
func (cfg *Config) Floor(id string) (FloorConfig, bool) {
	for _, f := range cfg.Floors {
		if f.ID == id {
			return f, true
		}
	}
	return FloorConfig{}, false
}
