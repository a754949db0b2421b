// Package config loads and validates the router's TOML configuration file,
// following the teacher's appConfig shape (cmd/can-server/config.go):
// strongly-typed fields, range/enum-only validation with no device or
// socket I/O, and environment-variable overrides that flag-set values
// always win over.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TCP holds the [tcp] table.
type TCP struct {
	ListenPort int    `toml:"listen_port"`
	BindAddr   string `toml:"bind_addr"`
	MaxClients int    `toml:"max_clients"`
}

// UARTDiscovery holds the [uart_discovery] table.
type UARTDiscovery struct {
	Enabled              bool   `toml:"enabled"`
	DevicePattern        string `toml:"device_pattern"`
	BaudRate             int    `toml:"baud_rate"`
	DetectionTimeoutSecs int    `toml:"detection_timeout_secs"`
	RescanIntervalSecs   int    `toml:"rescan_interval_secs"`
}

// UART is one [[uart]] entry: a statically-configured vehicle link.
type UART struct {
	Path     string `toml:"path"`
	BaudRate int    `toml:"baud_rate"`
	Name     string `toml:"name"`
}

// Routing holds the [routing] allow-matrix.
type Routing struct {
	UARTToUART bool `toml:"uart_to_uart"`
	TCPToTCP   bool `toml:"tcp_to_tcp"`
	UARTToTCP  bool `toml:"uart_to_tcp"`
	TCPToUART  bool `toml:"tcp_to_uart"`
}

// Metrics holds the ambient [metrics] table.
type Metrics struct {
	ListenAddr      string `toml:"listen_addr"`
	LogIntervalSecs int    `toml:"log_interval_secs"`
}

// MDNS holds the domain [mdns] table.
type MDNS struct {
	Enabled      bool   `toml:"enabled"`
	InstanceName string `toml:"instance_name"`
}

// Redis holds the optional [redis] status-publisher table.
type Redis struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// NetInfo holds the [netinfo] TCP health-sampling table.
type NetInfo struct {
	SampleIntervalSecs int `toml:"sample_interval_secs"`
}

// Config is the full parsed configuration file.
type Config struct {
	TCP           TCP           `toml:"tcp"`
	UARTDiscovery UARTDiscovery `toml:"uart_discovery"`
	UART          []UART        `toml:"uart"`
	Routing       Routing       `toml:"routing"`
	Metrics       Metrics       `toml:"metrics"`
	MDNS          MDNS          `toml:"mdns"`
	Redis         Redis         `toml:"redis"`
	NetInfo       NetInfo       `toml:"netinfo"`

	LogFormat string `toml:"-"`
	LogLevel  string `toml:"-"`
	// LogModules holds per-module level overrides parsed from the
	// MAVROUTER_LOG environment variable (e.g. "warn,dispatcher=debug"),
	// consumed by internal/logging.SetModuleLevels in cmd/mavrouter's
	// setupLogger. Module names are dispatcher, discovery, serial (UART
	// endpoints and the supervisor's static-UART loops) and tcp (TCP endpoints
	// and the listener).
	LogModules map[string]string `toml:"-"`
}

// Default returns a Config populated with the spec's documented defaults.
func Default() *Config {
	return &Config{
		TCP: TCP{
			ListenPort: 5760,
			BindAddr:   "0.0.0.0",
		},
		UARTDiscovery: UARTDiscovery{
			Enabled:              false,
			DevicePattern:        "/dev/ttyUSB*",
			BaudRate:             57600,
			DetectionTimeoutSecs: 3,
			RescanIntervalSecs:   10,
		},
		Routing: Routing{
			UARTToUART: false,
			TCPToTCP:   true,
			UARTToTCP:  true,
			TCPToUART:  true,
		},
		NetInfo:    NetInfo{SampleIntervalSecs: 0},
		LogFormat:  "text",
		LogLevel:   "info",
		LogModules: map[string]string{},
	}
}

// Load reads and parses the TOML file at path, returning a Config seeded
// with Default()'s values for anything the file doesn't set, then applies
// MAVROUTER_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := applyEnvOverrides(cfg, nil); err != nil {
		return nil, fmt.Errorf("config: env override: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate performs range/enum checks only; it never touches a device or
// socket, matching the teacher's appConfig.validate().
func (c *Config) Validate() error {
	if c.TCP.ListenPort <= 0 || c.TCP.ListenPort > 65535 {
		return fmt.Errorf("tcp.listen_port out of range: %d", c.TCP.ListenPort)
	}
	if c.TCP.MaxClients < 0 {
		return fmt.Errorf("tcp.max_clients must be >= 0")
	}
	if c.UARTDiscovery.Enabled {
		if c.UARTDiscovery.DevicePattern == "" {
			return fmt.Errorf("uart_discovery.device_pattern required when enabled")
		}
		if _, err := filepath.Match(c.UARTDiscovery.DevicePattern, ""); err != nil {
			return fmt.Errorf("uart_discovery.device_pattern invalid: %w", err)
		}
		if c.UARTDiscovery.BaudRate <= 0 {
			return fmt.Errorf("uart_discovery.baud_rate must be > 0")
		}
		if c.UARTDiscovery.DetectionTimeoutSecs <= 0 {
			return fmt.Errorf("uart_discovery.detection_timeout_secs must be > 0")
		}
		if c.UARTDiscovery.RescanIntervalSecs <= 0 {
			return fmt.Errorf("uart_discovery.rescan_interval_secs must be > 0")
		}
	}
	for i, u := range c.UART {
		if u.Path == "" {
			return fmt.Errorf("uart[%d].path required", i)
		}
		if u.BaudRate <= 0 {
			return fmt.Errorf("uart[%d].baud_rate must be > 0", i)
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when redis.enabled")
	}
	if c.NetInfo.SampleIntervalSecs < 0 {
		return fmt.Errorf("netinfo.sample_interval_secs must be >= 0")
	}
	if c.Metrics.LogIntervalSecs < 0 {
		return fmt.Errorf("metrics.log_interval_secs must be >= 0")
	}
	return nil
}

// MetricsLogInterval returns metrics.log_interval_secs as a Duration. Zero
// (the default) disables the periodic metrics-to-log mirror.
func (c *Config) MetricsLogInterval() time.Duration {
	return time.Duration(c.Metrics.LogIntervalSecs) * time.Second
}

// DetectionTimeout returns uart_discovery.detection_timeout_secs as a
// Duration.
func (c *Config) DetectionTimeout() time.Duration {
	return time.Duration(c.UARTDiscovery.DetectionTimeoutSecs) * time.Second
}

// RescanInterval returns uart_discovery.rescan_interval_secs as a Duration.
func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.UARTDiscovery.RescanIntervalSecs) * time.Second
}

// applyEnvOverrides maps MAVROUTER_* environment variables onto cfg unless
// the corresponding name is present in explicitlySet (flags always win),
// following the teacher's applyEnvOverrides(cfg, setFlags) pattern.
func applyEnvOverrides(c *Config, explicitlySet map[string]struct{}) error {
	var firstErr error
	wasSet := func(name string) bool {
		if explicitlySet == nil {
			return false
		}
		_, ok := explicitlySet[name]
		return ok
	}
	get := func(k string) (string, bool) {
		v, ok := os.LookupEnv(k)
		return strings.TrimSpace(v), ok
	}
	setErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if !wasSet("tcp.listen_port") {
		if v, ok := get("MAVROUTER_TCP_LISTEN_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.TCP.ListenPort = n
			} else {
				setErr(fmt.Errorf("invalid MAVROUTER_TCP_LISTEN_PORT: %w", err))
			}
		}
	}
	if !wasSet("tcp.bind_addr") {
		if v, ok := get("MAVROUTER_TCP_BIND_ADDR"); ok && v != "" {
			c.TCP.BindAddr = v
		}
	}
	if !wasSet("tcp.max_clients") {
		if v, ok := get("MAVROUTER_TCP_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.TCP.MaxClients = n
			} else {
				setErr(fmt.Errorf("invalid MAVROUTER_TCP_MAX_CLIENTS: %w", err))
			}
		}
	}
	if !wasSet("uart_discovery.enabled") {
		if v, ok := get("MAVROUTER_UART_DISCOVERY_ENABLED"); ok && v != "" {
			c.UARTDiscovery.Enabled = parseBoolLax(v, c.UARTDiscovery.Enabled)
		}
	}
	if !wasSet("uart_discovery.device_pattern") {
		if v, ok := get("MAVROUTER_UART_DISCOVERY_PATTERN"); ok && v != "" {
			c.UARTDiscovery.DevicePattern = v
		}
	}
	if !wasSet("mdns.enabled") {
		if v, ok := get("MAVROUTER_MDNS_ENABLED"); ok && v != "" {
			c.MDNS.Enabled = parseBoolLax(v, c.MDNS.Enabled)
		}
	}
	if !wasSet("metrics.listen_addr") {
		if v, ok := get("MAVROUTER_METRICS_ADDR"); ok {
			c.Metrics.ListenAddr = v
		}
	}
	if !wasSet("metrics.log_interval_secs") {
		if v, ok := get("MAVROUTER_METRICS_LOG_INTERVAL_SECS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Metrics.LogIntervalSecs = n
			} else {
				setErr(fmt.Errorf("invalid MAVROUTER_METRICS_LOG_INTERVAL_SECS: %w", err))
			}
		}
	}
	if !wasSet("redis.enabled") {
		if v, ok := get("MAVROUTER_REDIS_ENABLED"); ok && v != "" {
			c.Redis.Enabled = parseBoolLax(v, c.Redis.Enabled)
		}
	}
	if !wasSet("redis.addr") {
		if v, ok := get("MAVROUTER_REDIS_ADDR"); ok && v != "" {
			c.Redis.Addr = v
		}
	}
	if !wasSet("log.format") {
		if v, ok := get("MAVROUTER_LOG_FORMAT"); ok && v != "" {
			c.LogFormat = v
		}
	}

	if v, ok := get("MAVROUTER_LOG"); ok && v != "" {
		lvl, modules := ParseLogEnv(v)
		if lvl != "" {
			c.LogLevel = lvl
		}
		for mod, modLvl := range modules {
			c.LogModules[mod] = modLvl
		}
	}

	return firstErr
}

func parseBoolLax(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// ParseLogEnv parses a RUST_LOG-style MAVROUTER_LOG value: a comma list of
// either a bare level (sets the default for any module not otherwise
// listed) or module=level pairs, e.g. "warn,dispatcher=debug,discovery=info".
func ParseLogEnv(v string) (defaultLevel string, perModule map[string]string) {
	perModule = make(map[string]string)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			mod := strings.TrimSpace(part[:idx])
			lvl := strings.TrimSpace(part[idx+1:])
			if mod != "" && lvl != "" {
				perModule[mod] = lvl
			}
			continue
		}
		defaultLevel = part
	}
	return defaultLevel, perModule
}
