package store

import (
	"context"
	"errors"

	"marketplace-responder/backend/internal/models"
)

// ErrNotFound is returned when a sender, listing or template does not exist
var ErrNotFound = errors.New("not found")

// SenderStore persists what the assistant remembers about buyers
type SenderStore interface {
	GetSender(ctx context.Context, senderID string) (*models.SenderContext, error)
	SaveSender(ctx context.Context, sender *models.SenderContext) error
}

// ListingStore resolves the listing a conversation is about
type ListingStore interface {
	GetListing(ctx context.Context, listingID string) (*models.ListingContext, error)
}

// TemplateRepository persists reply templates
type TemplateRepository interface {
	ListTemplates(ctx context.Context) ([]models.Template, error)
	SaveTemplate(ctx context.Context, t *models.Template) error
	DeleteTemplate(ctx context.Context, name string) error
}

// ListingRepository is a ListingStore that also accepts listing updates
type ListingRepository interface {
	ListingStore
	SaveListing(ctx context.Context, listing *models.ListingContext) error
}
