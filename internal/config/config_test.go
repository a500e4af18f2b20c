package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Database.RunMigrations)
	assert.Equal(t, "USD", cfg.Cart.DefaultCurrency)
	assert.Equal(t, 5*time.Minute, cfg.Stripe.SignatureTolerance)
	assert.Equal(t, 1, cfg.Gateway.RetryAttempts)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.ResetTimeout)
	assert.Empty(t, cfg.Policy.Rules)
	assert.False(t, cfg.Stripe.Enabled())
	assert.False(t, cfg.PayPal.Enabled())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payments.yaml")
	yaml := `
http:
  addr: ":9090"
database:
  driver: MEMORY
stripe:
  api_key: sk_file
  webhook_secret: whsec_file
gateway:
  timeout: 3s
policy:
  rules:
    - id: max_amount
      expression: "amount <= 5000"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("PAYMENTS_STRIPE_API_KEY", "sk_env")
	t.Setenv("PAYMENTS_BREAKER_FAILURE_THRESHOLD", "7")
	t.Setenv("PAYMENTS_CART_DEFAULT_CURRENCY", "eur")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "sk_env", cfg.Stripe.APIKey, "environment overrides file")
	assert.Equal(t, "whsec_file", cfg.Stripe.WebhookSecret)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 7, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "EUR", cfg.Cart.DefaultCurrency)
	require.Len(t, cfg.Policy.Rules, 1)
	assert.Equal(t, "max_amount", cfg.Policy.Rules[0].ID)
	assert.Equal(t, "amount <= 5000", cfg.Policy.Rules[0].Expression)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Database.DSN = "postgres://localhost/payments"
		cfg.Stripe.APIKey = "sk"
		cfg.Stripe.WebhookSecret = "whsec"
		return cfg
	}

	assert.NoError(t, valid().Validate())

	t.Run("NoProvider", func(t *testing.T) {
		cfg := valid()
		cfg.Stripe.APIKey = ""
		assert.ErrorContains(t, cfg.Validate(), "no payment provider configured")
	})

	t.Run("StripeWithoutSecret", func(t *testing.T) {
		cfg := valid()
		cfg.Stripe.WebhookSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "stripe.webhook_secret")
	})

	t.Run("PayPalIncomplete", func(t *testing.T) {
		cfg := valid()
		cfg.PayPal.ClientID = "client"
		err := cfg.Validate()
		require.Error(t, err)
		for _, key := range []string{"paypal.client_secret", "paypal.webhook_id", "paypal.return_url", "paypal.cancel_url"} {
			assert.ErrorContains(t, err, key)
		}
	})

	t.Run("PostgresWithoutDSN", func(t *testing.T) {
		cfg := valid()
		cfg.Database.DSN = ""
		assert.ErrorContains(t, cfg.Validate(), "database.dsn")
	})

	t.Run("MemoryNeedsNoDSN", func(t *testing.T) {
		cfg := valid()
		cfg.Database.Driver = "memory"
		cfg.Database.DSN = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		cfg := valid()
		cfg.Database.Driver = "sqlite"
		assert.ErrorContains(t, cfg.Validate(), "must be postgres or memory")
	})
}

func TestGatewayBudgets(t *testing.T) {
	g := GatewayConfig{Timeout: 10 * time.Second, RetryAttempts: 1, RetryDelay: 500 * time.Millisecond}
	assert.Equal(t, 20500*time.Millisecond, g.CallBudget())

	g.RetryAttempts = 0
	assert.Equal(t, 10*time.Second, g.CallBudget())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second+41*time.Second, cfg.RequestBudget())
	assert.Greater(t, cfg.RequestBudget(), cfg.HTTP.WriteTimeout)
}
