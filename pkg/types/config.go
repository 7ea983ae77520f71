package types

import "errors"

// Config holds store selection and server parameters for a jetstream process.
type Config struct {
	Backend      string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir      string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Schema       string `json:"schema" yaml:"schema" mapstructure:"schema"`
	RootType     string `json:"root_type" yaml:"root_type" mapstructure:"root_type"`
	ScopeName    string `json:"scope_name" yaml:"scope_name" mapstructure:"scope_name"`
	Listen       string `json:"listen" yaml:"listen" mapstructure:"listen"`
	LogLevel     string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty    bool   `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	Bus          string `json:"bus" yaml:"bus" mapstructure:"bus"`
	RedisAddr    string `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisChannel string `json:"redis_channel" yaml:"redis_channel" mapstructure:"redis_channel"`
}

// Supported backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Supported change bus names.
const (
	BusNone   = "none"
	BusMemory = "memory"
	BusRedis  = "redis"
)

// DefaultListen is the address the server binds when none is configured.
const DefaultListen = ":3000"

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrRootTypeEmpty  = errors.New("root type must not be empty")
	ErrBusUnknown     = errors.New("unknown bus")
	ErrRedisAddrEmpty = errors.New("redis address must not be empty")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendMemory: true,
	BackendSQLite: true,
}

// knownBuses lists the change buses that Validate accepts. The empty string
// is treated as BusNone.
var knownBuses = map[string]bool{
	"":        true,
	BusNone:   true,
	BusMemory: true,
	BusRedis:  true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.RootType == "" {
		return ErrRootTypeEmpty
	}
	if !knownBuses[c.Bus] {
		return ErrBusUnknown
	}
	if c.Bus == BusRedis && c.RedisAddr == "" {
		return ErrRedisAddrEmpty
	}
	return nil
}
