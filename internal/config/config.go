package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`

	// JWTSecret signs both session and payment-confirmation tokens. May be
	// left empty when GCPProjectID is set; it is then loaded from Secret
	// Manager at startup.
	JWTSecret string `envconfig:"JWT_SECRET"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`

	CheckoutSuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:8080/success"`
	CheckoutCancelURL  string `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:8080/payments"`
	PortalReturnURL    string `envconfig:"PORTAL_RETURN_URL" default:"http://localhost:8080/account"`

	// AllowedOrigins is the comma-separated list of frontend origins allowed
	// by CORS.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`

	// GCPProjectID enables the Secret Manager fallback for the secrets above.
	GCPProjectID string `envconfig:"GCP_PROJECT_ID"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
