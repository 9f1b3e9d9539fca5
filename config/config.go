// Package config holds the relay's runtime settings. Values start from
// Default, are overlaid by RELAY_* environment variables with FromEnv, and
// finally by command line flags registered with BindFlags.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cyberinferno/go-relay/logger"
	"github.com/spf13/pflag"
)

const (
	ModeServer = "server"
	ModeRelay  = "relay" // alias of ModeServer
	ModeClient = "client"

	BackendMemory = "memory"
	BackendRedis  = "redis"

	EnvPrefix = "RELAY_"
)

var ErrInvalid = errors.New("invalid config")

// Config is the full set of relay settings.
type Config struct {
	Mode    string
	Host    string
	Port    int
	Workers int

	LogLevel  string
	LogFormat string
	// LogDir, when set, also writes JSON logs to daily files in this directory.
	LogDir    string

	MailboxBackend string
	MailboxTTL     time.Duration
	MailboxLimit   int
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string

	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameSize  int
	StatsInterval time.Duration

	AuthEnabled  bool
	RequireToken bool
	TokenTTL     time.Duration
}

// Default returns the settings used when nothing is overridden.
func Default() Config {
	return Config{
		Mode:           ModeServer,
		Host:           "127.0.0.1",
		Port:           5555,
		Workers:        runtime.NumCPU(),
		LogLevel:       "info",
		LogFormat:      string(logger.FormatConsole),
		MailboxBackend: BackendMemory,
		MailboxTTL:     72 * time.Hour,
		MailboxLimit:   1000,
		RedisAddr:      "127.0.0.1:6379",
		RedisPrefix:    "relay:mailbox:",
		MaxFrameSize:   64 * 1024,
		TokenTTL:       24 * time.Hour,
	}
}

// IsServer reports whether Mode runs the relay server.
func (c Config) IsServer() bool {
	return c.Mode == ModeServer || c.Mode == ModeRelay
}

// Addr returns Host:Port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// FromEnv overlays RELAY_* variables found by lookup onto c. Pass
// os.LookupEnv in production.
//
// Parameters:
//   - lookup: Environment accessor
//
// Returns:
//   - The first variable that failed to parse, wrapped in ErrInvalid
func (c *Config) FromEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	e := envReader{lookup: lookup}
	e.str("MODE", &c.Mode)
	e.str("HOST", &c.Host)
	e.int("PORT", &c.Port)
	e.int("WORKERS", &c.Workers)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FORMAT", &c.LogFormat)
	e.str("LOG_DIR", &c.LogDir)
	e.str("MAILBOX_BACKEND", &c.MailboxBackend)
	e.duration("MAILBOX_TTL", &c.MailboxTTL)
	e.int("MAILBOX_LIMIT", &c.MailboxLimit)
	e.str("REDIS_ADDR", &c.RedisAddr)
	e.str("REDIS_PASSWORD", &c.RedisPassword)
	e.int("REDIS_DB", &c.RedisDB)
	e.str("REDIS_PREFIX", &c.RedisPrefix)
	e.duration("READ_TIMEOUT", &c.ReadTimeout)
	e.duration("WRITE_TIMEOUT", &c.WriteTimeout)
	e.int("MAX_FRAME_SIZE", &c.MaxFrameSize)
	e.duration("STATS_INTERVAL", &c.StatsInterval)
	e.bool("AUTH_ENABLED", &c.AuthEnabled)
	e.bool("REQUIRE_TOKEN", &c.RequireToken)
	e.duration("TOKEN_TTL", &c.TokenTTL)

	return e.err
}

// BindFlags registers a flag for every field, defaulting to the current value.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Mode, "mode", "m", c.Mode, "run mode: server or client")
	fs.StringVarP(&c.Host, "host", "H", c.Host, "listen or connect host")
	fs.IntVarP(&c.Port, "port", "P", c.Port, "listen or connect port")
	fs.IntVar(&c.Workers, "workers", c.Workers, "GOMAXPROCS for server mode")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "console or json")
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "also write daily rotated log files to this directory")

	fs.StringVar(&c.MailboxBackend, "mailbox", c.MailboxBackend, "offline mailbox backend: memory or redis")
	fs.DurationVar(&c.MailboxTTL, "mailbox-ttl", c.MailboxTTL, "idle time before a mailbox expires, 0 keeps it forever")
	fs.IntVar(&c.MailboxLimit, "mailbox-limit", c.MailboxLimit, "messages kept per user, 0 for no limit")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis address for the redis mailbox")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "redis database")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", c.RedisPrefix, "redis key prefix for mailboxes")

	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "idle read timeout, 0 disables")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "per write timeout, 0 disables")
	fs.IntVar(&c.MaxFrameSize, "max-frame-size", c.MaxFrameSize, "largest accepted frame in bytes")
	fs.DurationVar(&c.StatsInterval, "stats-interval", c.StatsInterval, "interval for stats log lines, 0 disables")

	fs.BoolVar(&c.AuthEnabled, "auth", c.AuthEnabled, "enable register and auth commands")
	fs.BoolVar(&c.RequireToken, "require-token", c.RequireToken, "require an auth token on login")
	fs.DurationVar(&c.TokenTTL, "token-ttl", c.TokenTTL, "auth token lifetime")
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeServer, ModeRelay, ModeClient:
	default:
		errs = append(errs, fmt.Errorf("mode %q: want %s or %s", c.Mode, ModeServer, ModeClient))
	}

	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is empty"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Mode == ModeClient && c.Port == 0 {
		errs = append(errs, errors.New("client needs a port"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers %d: must be positive", c.Workers))
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}

	switch c.MailboxBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis mailbox needs redis-addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("mailbox %q: want %s or %s", c.MailboxBackend, BackendMemory, BackendRedis))
	}

	if c.MailboxTTL < 0 {
		errs = append(errs, errors.New("mailbox-ttl is negative"))
	}
	if c.MailboxLimit < 0 {
		errs = append(errs, errors.New("mailbox-limit is negative"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.StatsInterval < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxFrameSize < 16 {
		errs = append(errs, fmt.Errorf("max-frame-size %d too small", c.MaxFrameSize))
	}
	if c.RequireToken && !c.AuthEnabled {
		errs = append(errs, errors.New("require-token needs auth"))
	}
	if c.AuthEnabled && c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token-ttl must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}

	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}

	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(name, value string, err error) {
	e.err = fmt.Errorf("%w: %s%s=%q: %w", ErrInvalid, EnvPrefix, name, value, err)
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}
