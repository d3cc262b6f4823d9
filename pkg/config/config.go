// Package config provides configuration management for ringkv servers and
// clients.
//
// The package supports configuration through multiple sources with the
// following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables
//  3. Default values (lowest priority)
//
// Example server usage:
//
//	cfg, err := config.LoadServerConfig(os.Args[1:])
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv, err := server.New(cfg)
//
// Example client usage:
//
//	cfg := config.DefaultClientConfig()
//	cfg.Ports = []int{6060, 6061, 6062}
//	c := client.NewWithConfig(cfg)
//
// Environment variables are prefixed with "RINGKV_" and use uppercase names.
// For example, the server port can be set with RINGKV_PORT=6060.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultHost            = "127.0.0.1"
	DefaultServerPort      = 6060
	DefaultMaxConnections  = 1000
	DefaultWriteTimeout    = 10 * time.Second
	DefaultDialTimeout     = time.Second
	DefaultResponseTimeout = 2 * time.Second
	DefaultPollInterval    = 5 * time.Second
	DefaultLogLevel        = "info"

	envPrefix = "RINGKV_"
)

// ServerConfig holds all configuration options for a ringkv server.
//
// Example:
//
//	cfg := &ServerConfig{
//		Host:     "127.0.0.1",
//		Port:     6060,
//		MaxConns: 100,
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// A server at MaxConns still completes the TCP handshake for a new client
// and then closes the socket without reading. The client sees a successful
// connect, its first request fails with EOF and the server is marked dead
// until the next health poll. Rejections are logged by the server at warn
// level.
type ServerConfig struct {
	Host         string        // Address to bind to (default: "127.0.0.1")
	LogLevel     string        // debug, info, warn, error or off (default: "info")
	Port         int           // TCP port to listen on (default: 6060)
	MaxConns     int           // Maximum concurrent client connections (default: 1000)
	WriteTimeout time.Duration // Bound on sending one response (default: 10s)
}

// ClientConfig holds all configuration options for a ringkv client.
//
// Example:
//
//	cfg := &ClientConfig{
//		Host:            "127.0.0.1",
//		Ports:           []int{6060, 6061},
//		ResponseTimeout: 500 * time.Millisecond,
//		PollInterval:    time.Second,
//	}
type ClientConfig struct {
	Host            string        // Host all servers listen on (default: "127.0.0.1")
	LogLevel        string        // debug, info, warn, error or off (default: "info")
	Ports           []int         // Server pool ports, one ring entry each
	DialTimeout     time.Duration // Bound on one connect attempt (default: 1s)
	WriteTimeout    time.Duration // Bound on sending one request (default: 10s)
	ResponseTimeout time.Duration // Bound on awaiting a response (default: 2s)
	PollInterval    time.Duration // Sleep between reconnect sweeps (default: 5s)
}

// DefaultServerConfig returns a ServerConfig populated with defaults only.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         DefaultHost,
		Port:         DefaultServerPort,
		MaxConns:     DefaultMaxConnections,
		WriteTimeout: DefaultWriteTimeout,
		LogLevel:     DefaultLogLevel,
	}
}

// DefaultClientConfig returns a ClientConfig populated with defaults and no
// ports.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:            DefaultHost,
		DialTimeout:     DefaultDialTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		ResponseTimeout: DefaultResponseTimeout,
		PollInterval:    DefaultPollInterval,
		LogLevel:        DefaultLogLevel,
	}
}

// LoadServerConfig builds a ServerConfig from defaults, environment
// variables and the command-line arguments in args.
//
// Command-line flags:
//
//	-port: Server port (default: 6060)
//	-host: Server host (default: "127.0.0.1")
//	-max-conns: Maximum connections (default: 1000)
//	-write-timeout: Response write timeout (default: 10s)
//	-log-level: Log level (default: "info")
//
// A single positional argument is accepted as the port, so
// `ringkv-server 6060` works like `ringkv-server -port 6060`.
//
// Environment variables:
//
//	RINGKV_PORT, RINGKV_HOST, RINGKV_MAX_CONNS, RINGKV_WRITE_TIMEOUT,
//	RINGKV_LOG_LEVEL
func LoadServerConfig(args []string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	envInt("PORT", &cfg.Port)
	envString("HOST", &cfg.Host)
	envInt("MAX_CONNS", &cfg.MaxConns)
	envDuration("WRITE_TIMEOUT", &cfg.WriteTimeout)
	envString("LOG_LEVEL", &cfg.LogLevel)

	fs := flag.NewFlagSet("ringkv-server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Server host")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "Maximum concurrent connections")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Response write timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, off)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch fs.NArg() {
	case 0:
	case 1:
		p, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return nil, fmt.Errorf("invalid port argument %q: %w", fs.Arg(0), err)
		}
		cfg.Port = p
	default:
		return nil, fmt.Errorf("expected at most one port argument, got %d", fs.NArg())
	}

	return cfg, nil
}

// LoadClientConfig builds a ClientConfig from defaults, environment
// variables and the command-line arguments in args. Positional arguments
// are server ports; if any are given they replace RINGKV_PORTS.
//
// Command-line flags:
//
//	-host: Host of every server (default: "127.0.0.1")
//	-dial-timeout: Connect timeout (default: 1s)
//	-write-timeout: Request write timeout (default: 10s)
//	-response-timeout: Response wait (default: 2s)
//	-poll-interval: Reconnect sweep interval (default: 5s)
//	-log-level: Log level (default: "info")
//
// Environment variables:
//
//	RINGKV_PORTS: Comma-separated list of server ports
//	RINGKV_HOST, RINGKV_DIAL_TIMEOUT, RINGKV_WRITE_TIMEOUT,
//	RINGKV_RESPONSE_TIMEOUT, RINGKV_POLL_INTERVAL, RINGKV_LOG_LEVEL
func LoadClientConfig(args []string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if ports := os.Getenv(envPrefix + "PORTS"); ports != "" {
		parsed, err := ParsePorts(strings.Split(ports, ","))
		if err != nil {
			return nil, fmt.Errorf("%sPORTS: %w", envPrefix, err)
		}
		cfg.Ports = parsed
	}
	envString("HOST", &cfg.Host)
	envDuration("DIAL_TIMEOUT", &cfg.DialTimeout)
	envDuration("WRITE_TIMEOUT", &cfg.WriteTimeout)
	envDuration("RESPONSE_TIMEOUT", &cfg.ResponseTimeout)
	envDuration("POLL_INTERVAL", &cfg.PollInterval)
	envString("LOG_LEVEL", &cfg.LogLevel)

	fs := flag.NewFlagSet("ringkv-client", flag.ContinueOnError)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host of every server in the pool")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Connect timeout")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Request write timeout")
	fs.DurationVar(&cfg.ResponseTimeout, "response-timeout", cfg.ResponseTimeout, "Response wait")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Reconnect sweep interval")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, off)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		parsed, err := ParsePorts(fs.Args())
		if err != nil {
			return nil, err
		}
		cfg.Ports = parsed
	}

	return cfg, nil
}

// ParsePorts converts decimal port strings to ints, ignoring surrounding
// whitespace.
func ParsePorts(values []string) ([]int, error) {
	ports := make([]int, 0, len(values))
	for _, v := range values {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", v, err)
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// Address returns the "host:port" string the server binds to.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the ServerConfig contains valid values.
//
// Validation rules:
//   - Port must be between 1 and 65535, or 0 for any free port
//   - MaxConns must be positive
//   - WriteTimeout must be positive
//   - LogLevel must be one of: debug, info, warn, error, off
func (c *ServerConfig) Validate() error {
	if c.Port != 0 {
		if err := validatePort(c.Port); err != nil {
			return err
		}
	}

	if c.MaxConns < 1 {
		return fmt.Errorf("max connections must be positive: %d", c.MaxConns)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive: %v", c.WriteTimeout)
	}

	return validateLogLevel(c.LogLevel)
}

// Validate checks if the ClientConfig contains valid values.
//
// Validation rules:
//   - At least one port must be specified, each between 1 and 65535
//   - Host must be non-empty
//   - All timeouts and the poll interval must be positive
//   - LogLevel must be one of: debug, info, warn, error, off
func (c *ClientConfig) Validate() error {
	if len(c.Ports) == 0 {
		return fmt.Errorf("at least one port must be specified")
	}

	for _, p := range c.Ports {
		if err := validatePort(p); err != nil {
			return err
		}
	}

	if c.Host == "" {
		return fmt.Errorf("empty host")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive: %v", c.DialTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive: %v", c.WriteTimeout)
	}

	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("response timeout must be positive: %v", c.ResponseTimeout)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %v", c.PollInterval)
	}

	return validateLogLevel(c.LogLevel)
}

func validatePort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("invalid port: %d", p)
	}
	return nil
}

func validateLogLevel(level string) error {
	if _, ok := logLevels[level]; !ok {
		return fmt.Errorf("invalid log level: %s", level)
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
