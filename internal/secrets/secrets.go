// Package secrets loads provider credentials from Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"fileshare/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Secret ids in the project.
const (
	StripeSecretKey     = "stripe-secret-key"
	StripeWebhookSecret = "stripe-webhook-secret"
	PayPalClientSecret  = "paypal-client-secret"
)

// ErrNotFound is returned by Accessor implementations when a secret has no
// version.
var ErrNotFound = errors.New("secret not found")

type Accessor interface {
	Access(ctx context.Context, name string) (string, error)
}

type Manager struct {
	client    *secretmanager.Client
	projectID string
}

func NewManager(ctx context.Context, projectID string) (*Manager, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &Manager{client: client, projectID: projectID}, nil
}

// Access returns the latest version of the named secret.
func (m *Manager) Access(ctx context.Context, name string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", m.projectID, name),
	}
	result, err := m.client.AccessSecretVersion(ctx, req)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}
	return string(result.Payload.Data), nil
}

func (m *Manager) Close() error {
	return m.client.Close()
}

// Resolve overwrites the provider credentials in cfg with the values held
// in Secret Manager. Secrets that do not exist keep their environment value.
func Resolve(ctx context.Context, acc Accessor, cfg *config.Config) error {
	targets := []struct {
		name string
		dst  *string
	}{
		{StripeSecretKey, &cfg.StripeSecretKey},
		{StripeWebhookSecret, &cfg.StripeWebhookSecret},
		{PayPalClientSecret, &cfg.PayPalClientSecret},
	}
	for _, t := range targets {
		v, err := acc.Access(ctx, t.name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		*t.dst = v
	}
	return nil
}
