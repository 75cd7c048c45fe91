package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

const secretPath = "secret/data/sigec-client"

type SecretManager struct {
	client *api.Client
	path   string
	log    *zap.Logger
}

func NewSecretManager(address, token string, log *zap.Logger) (*SecretManager, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	client.SetToken(token)

	return &SecretManager{client: client, path: secretPath, log: log}, nil
}

// GetBackendToken reads the bearer token used against the SIGEC backend.
func (sm *SecretManager) GetBackendToken(ctx context.Context) (string, error) {
	return sm.read(ctx, "backend_token")
}

func (sm *SecretManager) GetStripeKey(ctx context.Context) (string, error) {
	return sm.read(ctx, "stripe_key")
}

func (sm *SecretManager) read(ctx context.Context, key string) (string, error) {
	secret, err := sm.client.Logical().ReadWithContext(ctx, sm.path)
	if err != nil {
		return "", fmt.Errorf("vault: read %s: %w", sm.path, err)
	}
	if secret == nil {
		return "", fmt.Errorf("vault: secret %s not found", sm.path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("vault: secret %s has no data", sm.path)
	}
	value, ok := data[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("vault: key %s missing in %s", key, sm.path)
	}

	sm.log.Debug("Secret read from vault", zap.String("path", sm.path), zap.String("key", key))
	return value, nil
}
