// Package config loads clienthubd settings from a TOML file with
// environment overrides.
//
//	[server]
//	listen = ":7885"
//	path = "/rpc"
//	ping_interval = "30s"
//
//	[store]
//	backend = "nats"   # or "memory"
//
//	[nats]
//	url = "nats://localhost:4222"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/clienthub/bus"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/server"
	"github.com/vinayprograms/clienthub/store"
	"github.com/vinayprograms/clienthub/telemetry"
)

// Backends for the store and the bus.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full clienthubd configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	NATS      NATSConfig      `toml:"nats"`
	Bus       BusConfig       `toml:"bus"`
	Manifests ManifestsConfig `toml:"manifests"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Shutdown  ShutdownConfig  `toml:"shutdown"`
}

// ServerConfig configures the HTTP and WebSocket listener.
type ServerConfig struct {
	Listen         string   `toml:"listen"`
	Path           string   `toml:"path"`
	PingInterval   Duration `toml:"ping_interval"`
	WriteTimeout   Duration `toml:"write_timeout"`
	MaxMessageSize int64    `toml:"max_message_size"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend string   `toml:"backend"`
	Bucket  string   `toml:"bucket"`
	Timeout Duration `toml:"timeout"`
}

// NATSConfig is the shared NATS connection.
type NATSConfig struct {
	URL            string   `toml:"url"`
	Name           string   `toml:"name"`
	Token          string   `toml:"token"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	MaxReconnects  int      `toml:"max_reconnects"`
}

// BusConfig selects the notification bus.
type BusConfig struct {
	Backend    string `toml:"backend"`
	BufferSize int    `toml:"buffer_size"`
}

// ManifestsConfig points at the manifest seed file.
type ManifestsConfig struct {
	SeedFile string `toml:"seed_file"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures OTLP tracing.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	Timeout Duration `toml:"timeout"`
}

// Default returns the configuration used when no file is found: everything
// in memory, listening on :7885.
func Default() Config {
	ws := server.DefaultConfig()
	natsCfg := bus.DefaultNATSConfig()
	return Config{
		Server: ServerConfig{
			Listen:         ws.Listen,
			Path:           ws.Path,
			PingInterval:   Duration{ws.WebSocket.PingInterval},
			WriteTimeout:   Duration{ws.WebSocket.WriteTimeout},
			MaxMessageSize: ws.WebSocket.MaxMessageSize,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Bucket:  store.DefaultNATSStoreConfig().Bucket,
			Timeout: Duration{store.DefaultNATSStoreConfig().Timeout},
		},
		NATS: NATSConfig{
			URL:            natsCfg.URL,
			Name:           natsCfg.Name,
			ConnectTimeout: Duration{natsCfg.ConnectTimeout},
			MaxReconnects:  natsCfg.MaxReconnects,
		},
		Bus: BusConfig{
			Backend:    BackendMemory,
			BufferSize: bus.DefaultConfig().BufferSize,
		},
		Log: LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: telemetry.DefaultServiceName,
		},
		Shutdown: ShutdownConfig{Timeout: Duration{15 * time.Second}},
	}
}

// StandardPaths returns the config file locations searched by Load, in
// order of priority.
func StandardPaths() []string {
	paths := []string{"clienthub.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "clienthub", "clienthub.toml"))
	}
	return append(paths, "/etc/clienthub/clienthub.toml")
}

// Load reads path, or the first standard location that exists when path is
// empty. Missing files in the standard locations are not an error. The
// environment is applied last. It returns the file used, if any.
func Load(path string) (Config, string, error) {
	if path == "" {
		for _, candidate := range StandardPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, path, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

// decodeFile decodes path over cfg. Unknown keys are rejected so typos do
// not silently fall back to defaults.
func decodeFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides settings from the environment:
//
//	CLIENTHUB_LISTEN     server.listen
//	CLIENTHUB_LOG_LEVEL  log.level
//	CLIENTHUB_STORE      store.backend and bus.backend
//	NATS_URL             nats.url
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("CLIENTHUB_LISTEN"); ok && v != "" {
		c.Server.Listen = v
	}
	if v, ok := lookup("CLIENTHUB_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("CLIENTHUB_STORE"); ok && v != "" {
		c.Store.Backend = v
		c.Bus.Backend = v
	}
	if v, ok := lookup("NATS_URL"); ok && v != "" {
		c.NATS.URL = v
	}
}

// Validate checks values the rest of the program relies on.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /: %q", c.Server.Path)
	}
	if err := checkBackend("store.backend", c.Store.Backend); err != nil {
		return err
	}
	if err := checkBackend("bus.backend", c.Bus.Backend); err != nil {
		return err
	}
	if (c.Store.Backend == BackendNATS || c.Bus.Backend == BackendNATS) && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required for the nats backend")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Telemetry.Enabled && c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
		return fmt.Errorf("telemetry.protocol must be grpc or http: %q", c.Telemetry.Protocol)
	}
	return nil
}

func checkBackend(key, v string) error {
	if v != BackendMemory && v != BackendNATS {
		return fmt.Errorf("%s must be %q or %q: %q", key, BackendMemory, BackendNATS, v)
	}
	return nil
}

// UsesNATS reports whether any component needs a NATS connection.
func (c *Config) UsesNATS() bool {
	return c.Store.Backend == BackendNATS || c.Bus.Backend == BackendNATS
}

// ServerConfig returns the HTTP server settings.
func (c *Config) ServerConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Listen = c.Server.Listen
	cfg.Path = c.Server.Path
	cfg.WebSocket.PingInterval = c.Server.PingInterval.Duration
	if c.Server.WriteTimeout.Duration > 0 {
		cfg.WebSocket.WriteTimeout = c.Server.WriteTimeout.Duration
	}
	if c.Server.MaxMessageSize > 0 {
		cfg.WebSocket.MaxMessageSize = c.Server.MaxMessageSize
	}
	return cfg
}

// BusNATSConfig returns the NATS connection settings.
func (c *Config) BusNATSConfig() bus.NATSConfig {
	cfg := bus.DefaultNATSConfig()
	cfg.URL = c.NATS.URL
	if c.NATS.Name != "" {
		cfg.Name = c.NATS.Name
	}
	cfg.Token = c.NATS.Token
	cfg.User = c.NATS.User
	cfg.Password = c.NATS.Password
	if c.NATS.ConnectTimeout.Duration > 0 {
		cfg.ConnectTimeout = c.NATS.ConnectTimeout.Duration
	}
	cfg.MaxReconnects = c.NATS.MaxReconnects
	if c.Bus.BufferSize > 0 {
		cfg.BufferSize = c.Bus.BufferSize
	}
	return cfg
}

// StoreNATSConfig returns the KV store settings for the bucket.
func (c *Config) StoreNATSConfig() store.NATSStoreConfig {
	cfg := store.DefaultNATSStoreConfig()
	if c.Store.Bucket != "" {
		cfg.Bucket = c.Store.Bucket
	}
	if c.Store.Timeout.Duration > 0 {
		cfg.Timeout = c.Store.Timeout.Duration
	}
	return cfg
}

// ProviderConfig returns the tracing settings.
func (c *Config) ProviderConfig(version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Protocol:       c.Telemetry.Protocol,
		Insecure:       c.Telemetry.Insecure,
	}
}
