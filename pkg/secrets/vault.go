package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"

	"marketplace-responder/backend/pkg/logger"
)

// Vault configuration errors
var (
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// VaultConfig holds configuration for Vault client
type VaultConfig struct {
	Address    string
	Token      string
	Namespace  string
	Mount      string
	Path       string
	Timeout    time.Duration
	MaxRetries int
	CacheTTL   time.Duration
}

// VaultConfigFromEnv reads the VAULT_* variables; ok is false when VAULT_ENABLED is not set
func VaultConfigFromEnv() (cfg VaultConfig, ok bool) {
	switch os.Getenv("VAULT_ENABLED") {
	case "true", "1", "yes":
	default:
		return VaultConfig{}, false
	}
	cfg = VaultConfig{
		Address:    os.Getenv("VAULT_ADDR"),
		Token:      os.Getenv("VAULT_TOKEN"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
		Mount:      os.Getenv("VAULT_MOUNT"),
		Path:       os.Getenv("VAULT_SECRETS_PATH"),
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		CacheTTL:   5 * time.Minute,
	}
	return cfg, true
}

// VaultManager reads secrets from one KV v2 secret and falls back to the environment
type VaultManager struct {
	client *vault.Client
	config VaultConfig
	log    *logger.Logger

	mu       sync.Mutex
	cache    map[string]string
	loadedAt time.Time
}

// NewVaultManager creates a Vault-backed manager
func NewVaultManager(cfg VaultConfig, log *logger.Logger) (*VaultManager, error) {
	if cfg.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if cfg.Token == "" {
		return nil, ErrNoVaultToken
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}
	if cfg.Path == "" {
		cfg.Path = "marketplace-responder"
	}
	if log == nil {
		log = logger.Nop()
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		vaultConfig.Timeout = cfg.Timeout
	}
	vaultConfig.MaxRetries = cfg.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &VaultManager{
		client: client,
		config: cfg,
		log:    log.With("component", "secrets"),
	}, nil
}

// GetSecret returns key from Vault, or from the environment when the Vault secret lacks it
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	data, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if value, ok := data[key]; ok && value != "" {
		return value, nil
	}
	m.log.Warn("Secret not found in Vault, falling back to environment", "key", key)
	return fromEnvironment(key)
}

// load reads the whole secret once per cache period
func (m *VaultManager) load(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil && time.Since(m.loadedAt) < m.config.CacheTTL {
		return m.cache, nil
	}

	secret, err := m.client.KVv2(m.config.Mount).Get(ctx, m.config.Path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			m.cache, m.loadedAt = map[string]string{}, time.Now()
			return m.cache, nil
		}
		return nil, fmt.Errorf("failed to read secret %s/%s: %w", m.config.Mount, m.config.Path, err)
	}

	data := make(map[string]string, len(secret.Data))
	for k, v := range secret.Data {
		if s, ok := v.(string); ok {
			data[k] = s
		}
	}
	m.cache, m.loadedAt = data, time.Now()
	m.log.Debug("Secrets loaded from Vault", "path", m.config.Path, "keys", len(data))
	return data, nil
}

// NewManager returns a Vault manager when VAULT_ENABLED is set and the environment otherwise
func NewManager(log *logger.Logger) (Manager, error) {
	cfg, ok := VaultConfigFromEnv()
	if !ok {
		return EnvManager{}, nil
	}
	return NewVaultManager(cfg, log)
}
