// Package config loads service configuration from defaults, an optional YAML
// file and PAYMENTS_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yourorg/payment-reconciler/internal/policy"
)

const envPrefix = "PAYMENTS"

// Config is the full service configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Cart     CartConfig     `mapstructure:"cart"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	PayPal   PayPalConfig   `mapstructure:"paypal"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// HTTPConfig configures the API listener. WriteTimeout is a floor; the server
// raises it to cover RequestBudget.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the ledger. Driver is "postgres" or "memory".
type DatabaseConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

// RabbitMQConfig enables result events when URL is set.
type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

type CartConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DefaultCurrency string        `mapstructure:"default_currency"`
}

// StripeConfig enables the stripe method when APIKey is set.
type StripeConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	BaseURL            string        `mapstructure:"base_url"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
}

func (c StripeConfig) Enabled() bool { return c.APIKey != "" }

// PayPalConfig enables the paypal method when ClientID is set.
type PayPalConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	WebhookID    string `mapstructure:"webhook_id"`
	BaseURL      string `mapstructure:"base_url"`
	ReturnURL    string `mapstructure:"return_url"`
	CancelURL    string `mapstructure:"cancel_url"`
	BrandName    string `mapstructure:"brand_name"`
}

func (c PayPalConfig) Enabled() bool { return c.ClientID != "" }

// GatewayConfig applies to every provider call. Timeout bounds one attempt;
// RetryAttempts counts retries after the first try, so zero disables them.
type GatewayConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// CallBudget bounds one provider operation: every attempt running into Timeout
// plus the delays between attempts.
func (g GatewayConfig) CallBudget() time.Duration {
	attempts := time.Duration(1 + max(g.RetryAttempts, 0))
	return attempts*g.Timeout + (attempts-1)*g.RetryDelay
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type PolicyConfig struct {
	Rules []policy.Rule `mapstructure:"rules"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.run_migrations", true)

	v.SetDefault("rabbitmq.url", "")

	v.SetDefault("cart.base_url", "http://cart-service:8080")
	v.SetDefault("cart.timeout", 5*time.Second)
	v.SetDefault("cart.default_currency", "USD")

	v.SetDefault("stripe.api_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.base_url", "https://api.stripe.com/v1")
	v.SetDefault("stripe.signature_tolerance", 5*time.Minute)

	v.SetDefault("paypal.client_id", "")
	v.SetDefault("paypal.client_secret", "")
	v.SetDefault("paypal.webhook_id", "")
	v.SetDefault("paypal.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("paypal.return_url", "")
	v.SetDefault("paypal.cancel_url", "")
	v.SetDefault("paypal.brand_name", "E-Commerce")

	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.retry_attempts", 1)
	v.SetDefault("gateway.retry_delay", 500*time.Millisecond)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", 30*time.Second)

	v.SetDefault("policy.rules", []map[string]string{})

	v.SetDefault("tracing.enabled", false)
}

// RequestBudget bounds the slowest request, payment creation: the cart lookup
// plus two provider operations (PayPal fetches a token before creating).
func (c *Config) RequestBudget() time.Duration {
	return c.Cart.Timeout + 2*c.Gateway.CallBudget()
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.Cart.DefaultCurrency = strings.ToUpper(cfg.Cart.DefaultCurrency)
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be postgres or memory", c.Database.Driver))
	}

	if c.Cart.BaseURL == "" {
		errs = append(errs, errors.New("cart.base_url is required"))
	}
	if len(c.Cart.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Errorf("cart.default_currency %q is not an ISO 4217 code", c.Cart.DefaultCurrency))
	}

	if !c.Stripe.Enabled() && !c.PayPal.Enabled() {
		errs = append(errs, errors.New("no payment provider configured: set stripe.api_key or paypal.client_id"))
	}
	if c.Stripe.Enabled() && c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("stripe.webhook_secret is required when stripe is enabled"))
	}
	if c.PayPal.Enabled() {
		for key, val := range map[string]string{
			"paypal.client_secret": c.PayPal.ClientSecret,
			"paypal.webhook_id":    c.PayPal.WebhookID,
			"paypal.return_url":    c.PayPal.ReturnURL,
			"paypal.cancel_url":    c.PayPal.CancelURL,
		} {
			if val == "" {
				errs = append(errs, fmt.Errorf("%s is required when paypal is enabled", key))
			}
		}
	}

	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("gateway.timeout must be positive"))
	}
	if c.Gateway.RetryAttempts < 0 {
		errs = append(errs, errors.New("gateway.retry_attempts must not be negative"))
	}
	return errors.Join(errs...)
}
