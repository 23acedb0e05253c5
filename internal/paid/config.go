package paid

import "time"

type Config struct {
	Enabled  bool `mapstructure:"enabled"`
	TestMode bool `mapstructure:"test_mode"`
	// TestToken enables the loopback test bypass when non-empty.
	TestToken string `mapstructure:"test_token"`

	StripeSecretKey     string `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
	StripePriceID       string `mapstructure:"stripe_price_id"`
	StripeAPIBase       string `mapstructure:"stripe_api_base"`
	// WebhookToleranceSeconds bounds the signed timestamp age; 0 disables
	// the check.
	WebhookToleranceSeconds int `mapstructure:"webhook_tolerance_seconds"`

	SuccessURL string `mapstructure:"success_url"`
	CancelURL  string `mapstructure:"cancel_url"`

	ProvisionerURL          string `mapstructure:"provisioner_url"`
	ProvisionerAuthToken    string `mapstructure:"provisioner_auth_token"`
	ProvisionTimeoutSeconds int    `mapstructure:"provision_timeout_seconds"`
}

func (c Config) ProvisionTimeout() time.Duration {
	if c.ProvisionTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ProvisionTimeoutSeconds) * time.Second
}

func (c Config) WebhookTolerance() time.Duration {
	return time.Duration(c.WebhookToleranceSeconds) * time.Second
}
