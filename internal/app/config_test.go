package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("AMQP_URL", "amqp://platform")
	t.Setenv("PORT", "9000")

	t.Run("FillsEmpty", func(t *testing.T) {
		cfg := Config{Addr: defaultAddr}
		cfg.applyPlatformDefaults()

		assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
		assert.Equal(t, "redis://platform:6379/0", cfg.Redis.URL)
		assert.Equal(t, "amqp://platform", cfg.Notify.AMQPURL)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	})
	t.Run("KeepsExplicit", func(t *testing.T) {
		cfg := Config{
			Addr:        "127.0.0.1:7000",
			DatabaseURL: "postgres://explicit/db",
			Redis:       RedisConfig{URL: "redis://explicit"},
		}
		cfg.applyPlatformDefaults()

		assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
		assert.Equal(t, "redis://explicit", cfg.Redis.URL)
		assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL:  "postgres://localhost/store",
			APIKeyPepper: "pepper",
			Checkout:     CheckoutConfig{FreeShippingOver: "50", ShippingFee: "5.99"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "NoDatabase", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL is required"},
		{name: "NoPepper", mutate: func(c *Config) { c.APIKeyPepper = "" }, wantErr: "pepper is required"},
		{name: "BadFee", mutate: func(c *Config) { c.Checkout.ShippingFee = "free" }, wantErr: "parse shipping fee"},
		{name: "NegativeThreshold", mutate: func(c *Config) { c.Checkout.FreeShippingOver = "-1" }, wantErr: "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCheckoutConfigPricing(t *testing.T) {
	p, err := CheckoutConfig{FreeShippingOver: "75", ShippingFee: "4.50"}.Pricing()
	require.NoError(t, err)
	assert.True(t, p.FreeShippingOver.Equal(decimal.NewFromInt(75)))
	assert.True(t, p.ShippingFee.Equal(decimal.RequireFromString("4.50")))
}
