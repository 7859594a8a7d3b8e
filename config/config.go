package config

import (
	"errors"
	"fmt"

	"github.com/pitabwire/frame"
)

const (
	EnvironmentTest = "test"
	EnvironmentProd = "prod"

	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"
)

// MpesaConfig holds the Daraja credentials and service wiring for the
// M-Pesa gateway integration.
type MpesaConfig struct {
	frame.ConfigurationDefault

	Environment    string `envDefault:"test" env:"MPESA_ENVIRONMENT"`
	ShortCode      string `env:"MPESA_SHORT_CODE"`
	PassKey        string `env:"MPESA_PASS_KEY"`
	ConsumerKey    string `env:"MPESA_CONSUMER_KEY"`
	ConsumerSecret string `env:"MPESA_CONSUMER_SECRET"`

	// InitiatorName and SecurityCredential are only required for the
	// B2B/B2C/reversal family of commands.
	InitiatorName      string `env:"MPESA_INITIATOR_NAME"`
	SecurityCredential string `env:"MPESA_SECURITY_CREDENTIAL"`

	CallbackBaseURL string `envDefault:"https://demo13.kylix.online" env:"MPESA_CALLBACK_BASE_URL"`

	NatsURL string `envDefault:"nats://nats:4222/" env:"NATS_URL"`

	RedisHost string `envDefault:"localhost" env:"REDIS_HOST"`
	RedisPort string `envDefault:"6379" env:"REDIS_PORT"`
}

// APIBaseURL resolves the Daraja host for the configured environment.
func (c *MpesaConfig) APIBaseURL() string {
	if c.Environment == EnvironmentProd {
		return productionBaseURL
	}
	return sandboxBaseURL
}

// CallbackURL returns the absolute URL the gateway should post STK callbacks to.
func (c *MpesaConfig) CallbackURL() string {
	return c.CallbackBaseURL + "/payments/mpesa/callback"
}

// ResultURL returns the absolute URL for B2B/B2C result callbacks.
func (c *MpesaConfig) ResultURL() string {
	return c.CallbackBaseURL + "/payments/mpesa/result"
}

// QueueTimeoutURL returns the absolute URL the gateway invokes when a request
// expires on its internal queue.
func (c *MpesaConfig) QueueTimeoutURL() string {
	return c.CallbackBaseURL + "/payments/mpesa/timeout"
}

// Validate checks that every credential required to talk to the gateway is
// present. No request may be built against an incomplete configuration.
func (c *MpesaConfig) Validate() error {
	if c.Environment != EnvironmentTest && c.Environment != EnvironmentProd {
		return fmt.Errorf("unknown environment %q, expected %q or %q",
			c.Environment, EnvironmentTest, EnvironmentProd)
	}
	if c.ShortCode == "" {
		return errors.New("short code is required")
	}
	if c.PassKey == "" {
		return errors.New("pass key is required")
	}
	if c.ConsumerKey == "" {
		return errors.New("consumer key is required")
	}
	if c.ConsumerSecret == "" {
		return errors.New("consumer secret is required")
	}
	return nil
}
