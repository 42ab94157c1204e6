package redis

import (
	"encoding/json"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/pkg/config"
)

func TestSenderKeyUsesPrefix(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:0"})
	defer client.Close()

	s := NewSenderStore(client, "responder:sender:", time.Hour)
	assert.Equal(t, "responder:sender:b1", s.key("b1"))
}

func TestDecodeSender(t *testing.T) {
	sender := models.NewSenderContext("b1")
	sender.Name = "Анна"
	sender.PreferredStyle = models.StyleCasual
	sender.Remember(models.HistoryEntry{Text: "привет", Response: "Здравствуйте!"}, 10)

	data, err := json.Marshal(sender)
	require.NoError(t, err)

	got, err := decodeSender(data)
	require.NoError(t, err)
	assert.Equal(t, "Анна", got.Name)
	assert.Equal(t, models.StyleCasual, got.PreferredStyle)
	require.Len(t, got.History, 1)
	assert.Equal(t, "Здравствуйте!", got.History[0].Response)

	empty, err := decodeSender([]byte(`{"sender_id":"b2"}`))
	require.NoError(t, err)
	assert.NotNil(t, empty.History)

	_, err = decodeSender([]byte(`{`))
	assert.Error(t, err)
}

func TestNewClientFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Redis.Addr = "redis:6379"
	cfg.Redis.DB = 2

	client := NewClient(cfg)
	defer client.Close()
	assert.Equal(t, "redis:6379", client.Options().Addr)
	assert.Equal(t, 2, client.Options().DB)
}
