package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-responder/backend/internal/models"
)

// Migrate creates or updates the listings and templates tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.ListingContext{}, &models.Template{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// GormListingRepository reads listings from PostgreSQL
type GormListingRepository struct {
	db *gorm.DB
}

// NewGormListingRepository creates a listing repository on db
func NewGormListingRepository(db *gorm.DB) *GormListingRepository {
	return &GormListingRepository{db: db}
}

// GetListing loads a listing by id
func (r *GormListingRepository) GetListing(ctx context.Context, listingID string) (*models.ListingContext, error) {
	var listing models.ListingContext
	err := r.db.WithContext(ctx).Where("id = ?", listingID).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// SaveListing inserts or updates a listing
func (r *GormListingRepository) SaveListing(ctx context.Context, listing *models.ListingContext) error {
	return r.db.WithContext(ctx).Save(listing).Error
}

// GormTemplateRepository stores reply templates in PostgreSQL
type GormTemplateRepository struct {
	db *gorm.DB
}

// NewGormTemplateRepository creates a template repository on db
func NewGormTemplateRepository(db *gorm.DB) *GormTemplateRepository {
	return &GormTemplateRepository{db: db}
}

// ListTemplates loads every template ordered by category and name
func (r *GormTemplateRepository) ListTemplates(ctx context.Context) ([]models.Template, error) {
	var templates []models.Template
	err := r.db.WithContext(ctx).Order("category").Order("name").Find(&templates).Error
	if err != nil {
		return nil, err
	}
	return templates, nil
}

// SaveTemplate inserts t or overwrites the template with the same name
func (r *GormTemplateRepository) SaveTemplate(ctx context.Context, t *models.Template) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(t).Error
}

// DeleteTemplate removes the named template
func (r *GormTemplateRepository) DeleteTemplate(ctx context.Context, name string) error {
	res := r.db.WithContext(ctx).Where("name = ?", name).Delete(&models.Template{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
