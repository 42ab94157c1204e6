package secrets

import (
	"context"
	"errors"
	"os"
	"strings"

	"marketplace-responder/backend/pkg/config"
	"marketplace-responder/backend/pkg/logger"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)
}

// Secret keys the responder reads
const (
	KeyAIAPIKey      = "ai_api_key"
	KeyDBPassword    = "db_password"
	KeyRedisPassword = "redis_password"
	KeyJWTSecret     = "jwt_secret"
)

// ErrSecretNotFound is returned when no source holds the key
var ErrSecretNotFound = errors.New("secret not found")

// EnvManager reads secrets from environment variables, ai_api_key from AI_API_KEY
type EnvManager struct{}

// GetSecret implements Manager
func (EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	return fromEnvironment(key)
}

// Apply overwrites the credentials in cfg with the values m holds. Keys m does not know keep
// their configured value.
func Apply(ctx context.Context, m Manager, cfg *config.Config, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	targets := map[string]*string{
		KeyAIAPIKey:      &cfg.AI.APIKey,
		KeyDBPassword:    &cfg.Database.Password,
		KeyRedisPassword: &cfg.Redis.Password,
		KeyJWTSecret:     &cfg.Security.JWTSecret,
	}
	for key, target := range targets {
		value, err := m.GetSecret(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*target = value
		log.Debug("Secret applied", "key", key)
	}
	return nil
}

func fromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}
