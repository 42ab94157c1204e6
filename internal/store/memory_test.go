package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-responder/backend/internal/models"
)

func TestMemorySenderRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetSender(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)

	sender := models.NewSenderContext("b1")
	sender.Remember(models.HistoryEntry{Text: "привет"}, 10)
	require.NoError(t, s.SaveSender(ctx, sender))

	sender.Remember(models.HistoryEntry{Text: "не сохранено"}, 10)

	got, err := s.GetSender(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, got.History, 1, "store keeps its own copy")

	got.Flagged = true
	again, _ := s.GetSender(ctx, "b1")
	assert.False(t, again.Flagged)
	assert.Equal(t, 1, s.Senders())
}

func TestMemoryListings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetListing(ctx, "l1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveListing(ctx, &models.ListingContext{ID: "l1", Title: "Велосипед", Price: 1000}))
	l, err := s.GetListing(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, l.Price)
}

func TestMemoryTemplates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveTemplate(ctx, &models.Template{Name: "b", Category: models.PriceQuestion, Text: "b"}))
	require.NoError(t, s.SaveTemplate(ctx, &models.Template{Name: "a", Category: models.PriceQuestion, Text: "a"}))
	require.NoError(t, s.SaveTemplate(ctx, &models.Template{Name: "z", Category: models.Availability, Text: "z"}))

	list, err := s.ListTemplates(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, tpl := range list {
		names = append(names, tpl.Name)
	}
	assert.Equal(t, []string{"z", "a", "b"}, names)

	require.NoError(t, s.DeleteTemplate(ctx, "a"))
	assert.ErrorIs(t, s.DeleteTemplate(ctx, "a"), ErrNotFound)
}
