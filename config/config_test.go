package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unsetenv clears keys for the duration of the test.
func unsetenv(t *testing.T, keys ...string) {
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestNewConfigDefaults(t *testing.T) {
	unsetenv(t, "STORE_BACKEND", "SQLITE_DIR_PATH", "GRPC_LISTEN_ADDRESS", "REMOTE_RETRY_MAX",
		"CACHE_TTL_SECONDS", "LOG_LEVEL", "CSV_DELIMITER", "CA_CERT")

	c, err := NewConfig()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8080", c.GrpcListenAddress)
	require.Equal(t, BackendSQLite, c.StoreBackend)
	require.Equal(t, "db", c.SQLiteDirPath)
	require.Equal(t, 4, c.RemoteRetryMax)
	require.Equal(t, "info", c.LogLevel)
	require.Nil(t, c.CACert)
	require.NoError(t, c.Validate())
}

func TestNewConfigFromEnvironment(t *testing.T) {
	unsetenv(t, "REMOTE_RETRY_MAX", "CA_CERT")
	t.Setenv("STORE_BACKEND", "http")
	t.Setenv("REMOTE_BASE_URL", "https://example.com/api")
	t.Setenv("REMOTE_TOKEN", "secret")
	t.Setenv("CACHE_TTL_SECONDS", "30")
	t.Setenv("CSV_DELIMITER", ";")

	c, err := NewConfig()
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.Equal(t, 30, c.CacheTTLSeconds)
	d, err := c.Delimiter()
	require.NoError(t, err)
	require.Equal(t, ';', d)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		field  string
	}{
		{"unknown backend", Config{StoreBackend: "s3"}, "STORE_BACKEND"},
		{"sqlite without dir", Config{StoreBackend: BackendSQLite}, "SQLITE_DIR_PATH"},
		{"postgres without url", Config{StoreBackend: BackendPostgres}, "DATABASE_URL"},
		{"http without url", Config{StoreBackend: BackendHTTP, RemoteToken: "t"}, "REMOTE_BASE_URL"},
		{"http without token", Config{StoreBackend: BackendHTTP, RemoteBaseUrl: "http://x"}, "REMOTE_TOKEN"},
		{"negative retries", Config{StoreBackend: BackendMemory, RemoteRetryMax: -1}, "REMOTE_RETRY_MAX"},
		{"negative ttl", Config{StoreBackend: BackendMemory, CacheTTLSeconds: -1}, "CACHE_TTL_SECONDS"},
		{"long delimiter", Config{StoreBackend: BackendMemory, CSVDelimiter: ";;"}, "CSV_DELIMITER"},
		{"quote delimiter", Config{StoreBackend: BackendMemory, CSVDelimiter: "\""}, "CSV_DELIMITER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			var configErr *ConfigurationError
			require.True(t, errors.As(err, &configErr), "expected a configuration error, got %v", err)
			require.Equal(t, tt.field, configErr.Field)
		})
	}
	require.NoError(t, (&Config{StoreBackend: "Memory", CSVDelimiter: "\t"}).Validate())
}

func TestCertificateUnmarshal(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "docstore test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	var c Certificate
	require.NoError(t, c.UnmarshalEnvironmentValue(encoded))
	require.Equal(t, "docstore test ca", c.Raw.Subject.CommonName)

	require.ErrorIs(t, c.UnmarshalEnvironmentValue("not base64!"), ErrInvalidCertificate)
	require.ErrorIs(t, c.UnmarshalEnvironmentValue(base64.StdEncoding.EncodeToString([]byte("plain"))), ErrInvalidCertificate)
}
