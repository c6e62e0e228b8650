package types

import "errors"

// Config holds backend selection and parameters for opening a Mapping.
type Config struct {
	Backend  string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir  string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	DSN      string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	User     string `json:"user" yaml:"user" mapstructure:"user"`
	LogLevel string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrDSNEmpty       = errors.New("postgres backend requires a dsn")
	ErrLogLevel       = errors.New("unknown log level")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
	BackendMemory:   true,
}

var knownLogLevels = map[string]bool{
	"":      true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
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
	if c.Backend == BackendPostgres && c.DSN == "" {
		return ErrDSNEmpty
	}
	if !knownLogLevels[c.LogLevel] {
		return ErrLogLevel
	}
	return nil
}
