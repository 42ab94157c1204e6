package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/internal/store"
	"marketplace-responder/backend/pkg/config"
)

// NewClient creates a Redis client from the application config
func NewClient(cfg *config.Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// SenderStore keeps sender contexts in Redis as JSON documents
type SenderStore struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewSenderStore stores senders under prefix; entries expire ttl after the last save
func NewSenderStore(client *goredis.Client, prefix string, ttl time.Duration) *SenderStore {
	return &SenderStore{client: client, prefix: prefix, ttl: ttl}
}

// GetSender loads a sender context
func (s *SenderStore) GetSender(ctx context.Context, senderID string) (*models.SenderContext, error) {
	data, err := s.client.Get(ctx, s.key(senderID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sender %s: %w", senderID, err)
	}
	return decodeSender(data)
}

// SaveSender writes a sender context and refreshes its expiry
func (s *SenderStore) SaveSender(ctx context.Context, sender *models.SenderContext) error {
	data, err := json.Marshal(sender)
	if err != nil {
		return fmt.Errorf("failed to encode sender %s: %w", sender.SenderID, err)
	}
	if err := s.client.Set(ctx, s.key(sender.SenderID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save sender %s: %w", sender.SenderID, err)
	}
	return nil
}

// DeleteSender forgets a sender
func (s *SenderStore) DeleteSender(ctx context.Context, senderID string) error {
	return s.client.Del(ctx, s.key(senderID)).Err()
}

// Ping checks the connection
func (s *SenderStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *SenderStore) Close() error {
	return s.client.Close()
}

func (s *SenderStore) key(senderID string) string {
	return s.prefix + senderID
}

func decodeSender(data []byte) (*models.SenderContext, error) {
	var sender models.SenderContext
	if err := json.Unmarshal(data, &sender); err != nil {
		return nil, fmt.Errorf("failed to decode sender: %w", err)
	}
	if sender.History == nil {
		sender.History = []models.HistoryEntry{}
	}
	return &sender, nil
}
