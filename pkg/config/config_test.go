package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advogo/billingcore/pkg/config"
)

type testConfig struct {
	Name     string        `env:"CFGTEST_NAME" envDefault:"billingcore"`
	Interval time.Duration `env:"CFGTEST_INTERVAL" envDefault:"30s"`
	Required string        `env:"CFGTEST_REQUIRED,required"`
}

func TestLoad(t *testing.T) {
	t.Run("reads environment with defaults", func(t *testing.T) {
		t.Setenv("CFGTEST_REQUIRED", "set")
		t.Setenv("CFGTEST_INTERVAL", "2m")

		cfg, err := config.Load[testConfig]()
		require.NoError(t, err)
		assert.Equal(t, "billingcore", cfg.Name)
		assert.Equal(t, 2*time.Minute, cfg.Interval)
		assert.Equal(t, "set", cfg.Required)
	})

	t.Run("fails on missing required variable", func(t *testing.T) {
		// t.Setenv registers cleanup; unsetting afterwards leaves the
		// variable absent for the duration of this subtest only.
		t.Setenv("CFGTEST_REQUIRED", "placeholder")
		os.Unsetenv("CFGTEST_REQUIRED")

		_, err := config.Load[testConfig]()
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParseFailed)
	})

	t.Run("must load panics on failure", func(t *testing.T) {
		t.Setenv("CFGTEST_REQUIRED", "placeholder")
		os.Unsetenv("CFGTEST_REQUIRED")

		assert.Panics(t, func() { config.MustLoad[testConfig]() })
	})
}
