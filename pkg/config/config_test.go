package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceConfig struct {
	HTTPPort   int    `env:"LOADER_TEST_HTTP_PORT" envDefault:"8004"`
	LogLevel   string `env:"LOADER_TEST_LOG_LEVEL" envDefault:"info"`
	TaxRateBPS int    `env:"LOADER_TEST_TAX_RATE_BPS" envDefault:"1000"`
	Brokers    string `env:"LOADER_TEST_KAFKA_BROKERS" envDefault:"localhost:9092"`
}

func TestLoad_UsesDefaults(t *testing.T) {
	var cfg serviceConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8004, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1000, cfg.TaxRateBPS)
	assert.Equal(t, "localhost:9092", cfg.Brokers)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("LOADER_TEST_HTTP_PORT", "9104")
	t.Setenv("LOADER_TEST_LOG_LEVEL", "debug")
	t.Setenv("LOADER_TEST_TAX_RATE_BPS", "0")

	var cfg serviceConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9104, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Zero(t, cfg.TaxRateBPS)
}

func TestLoad_RequiredTag(t *testing.T) {
	type secured struct {
		APIKey string `env:"LOADER_TEST_API_KEY,required"`
	}

	var cfg secured
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")

	t.Setenv("LOADER_TEST_API_KEY", "test-key")
	require.NoError(t, Load(&cfg))
	assert.Equal(t, "test-key", cfg.APIKey)
}

func TestLoad_TypeMismatch(t *testing.T) {
	t.Setenv("LOADER_TEST_HTTP_PORT", "not-a-port")

	var cfg serviceConfig
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
