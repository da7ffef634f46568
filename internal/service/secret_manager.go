package service

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"

	"tiergate/internal/config"
)

// Names of the secrets this service reads when the corresponding env vars
// are unset.
const (
	secretJWT           = "tiergate-jwt-secret"
	secretStripeKey     = "tiergate-stripe-secret-key"
	secretStripeWebhook = "tiergate-stripe-webhook-secret"
)

// SecretLoader fills in missing signing and billing secrets from Google
// Secret Manager at startup. Failures here are fatal to boot, never handled
// mid-request.
type SecretLoader struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretLoader(ctx context.Context, cfg *config.Config, opts ...option.ClientOption) (*SecretLoader, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP project ID is not set")
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create Secret Manager client: %w", err)
	}
	return &SecretLoader{client: client, projectID: cfg.GCPProjectID}, nil
}

func (s *SecretLoader) Close() error {
	return s.client.Close()
}

// PopulateConfig resolves every secret the config is missing. Env-provided
// values win; Secret Manager is only consulted for the gaps.
func (s *SecretLoader) PopulateConfig(ctx context.Context, cfg *config.Config) error {
	fill := []struct {
		dst  *string
		name string
	}{
		{&cfg.JWTSecret, secretJWT},
		{&cfg.StripeSecretKey, secretStripeKey},
		{&cfg.StripeWebhookSecret, secretStripeWebhook},
	}
	for _, f := range fill {
		if *f.dst != "" {
			continue
		}
		val, err := s.access(ctx, f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}
	return nil
}

func (s *SecretLoader) access(ctx context.Context, name string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name)
	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		return "", fmt.Errorf("access secret %s: %w", name, err)
	}
	return string(result.Payload.Data), nil
}
