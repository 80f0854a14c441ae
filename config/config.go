package config

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Netflix/go-env"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendHTTP     = "http"
	BackendMemory   = "memory"
)

var ErrInvalidCertificate = errors.New("invalid certificate")

type Certificate struct {
	Raw *x509.Certificate
}

func (c *Certificate) UnmarshalEnvironmentValue(data string) error {
	decodedData, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("%w: could not decode base64-encoded certificate: %v", ErrInvalidCertificate, err)
	}

	CACertBlock, _ := pem.Decode(decodedData)
	if CACertBlock == nil {
		return fmt.Errorf("%w: no PEM block found", ErrInvalidCertificate)
	}

	CACert, err := x509.ParseCertificate(CACertBlock.Bytes)
	if err != nil {
		return fmt.Errorf("%w: could not parse CA cert: %v", ErrInvalidCertificate, err)
	}

	c.Raw = CACert

	return nil
}

// ConfigurationError reports a setting that can never work. It is not
// retryable.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %v: %v", e.Field, e.Reason)
}

type Config struct {
	GrpcListenAddress    string       `env:"GRPC_LISTEN_ADDRESS,default=0.0.0.0:8080"`
	GrpcWebListenAddress string       `env:"GRPC_WEB_LISTEN_ADDRESS"`
	MetricsListenAddress string       `env:"METRICS_LISTEN_ADDRESS"`
	StoreBackend         string       `env:"STORE_BACKEND,default=sqlite"`
	SQLiteDirPath        string       `env:"SQLITE_DIR_PATH,default=db"`
	PgDatabaseUrl        string       `env:"DATABASE_URL"`
	RemoteBaseUrl        string       `env:"REMOTE_BASE_URL"`
	RemoteToken          string       `env:"REMOTE_TOKEN"`
	RemoteRetryMax       int          `env:"REMOTE_RETRY_MAX,default=4"`
	CacheTTLSeconds      int          `env:"CACHE_TTL_SECONDS,default=0"`
	LogLevel             string       `env:"LOG_LEVEL,default=info"`
	CSVDelimiter         string       `env:"CSV_DELIMITER"`
	CACert               *Certificate `env:"CA_CERT"`
}

func NewConfig() (*Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the settings the selected backend depends on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StoreBackend) {
	case BackendSQLite:
		if c.SQLiteDirPath == "" {
			return &ConfigurationError{Field: "SQLITE_DIR_PATH", Reason: "required by the sqlite backend"}
		}
	case BackendPostgres:
		if c.PgDatabaseUrl == "" {
			return &ConfigurationError{Field: "DATABASE_URL", Reason: "required by the postgres backend"}
		}
	case BackendHTTP:
		if c.RemoteBaseUrl == "" {
			return &ConfigurationError{Field: "REMOTE_BASE_URL", Reason: "required by the http backend"}
		}
		if c.RemoteToken == "" {
			return &ConfigurationError{Field: "REMOTE_TOKEN", Reason: "required by the http backend"}
		}
	case BackendMemory:
	default:
		return &ConfigurationError{Field: "STORE_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.StoreBackend)}
	}
	if c.RemoteRetryMax < 0 {
		return &ConfigurationError{Field: "REMOTE_RETRY_MAX", Reason: "must not be negative"}
	}
	if c.CacheTTLSeconds < 0 {
		return &ConfigurationError{Field: "CACHE_TTL_SECONDS", Reason: "must not be negative"}
	}
	if _, err := c.Delimiter(); err != nil {
		return err
	}
	return nil
}

// Delimiter returns the single-character delimiter of the csv codec.
func (c *Config) Delimiter() (rune, error) {
	if c.CSVDelimiter == "" {
		return ',', nil
	}
	r, size := utf8.DecodeRuneInString(c.CSVDelimiter)
	if size != len(c.CSVDelimiter) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, &ConfigurationError{Field: "CSV_DELIMITER", Reason: fmt.Sprintf("%q is not a valid delimiter", c.CSVDelimiter)}
	}
	return r, nil
}
