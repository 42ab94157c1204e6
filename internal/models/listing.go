package models

import (
	"strconv"
	"time"
)

// ListingContext is a read-only snapshot of the ad a conversation is about
type ListingContext struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	Title             string    `json:"title" gorm:"not null"`
	Price             float64   `json:"price"`
	Description       string    `json:"description"`
	Category          string    `json:"category" gorm:"index"`
	Condition         string    `json:"condition"`
	Location          string    `json:"location"`
	SellerName        string    `json:"seller_name"`
	DeliveryAvailable bool      `json:"delivery_available"`
	Negotiable        bool      `json:"negotiable"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (ListingContext) TableName() string {
	return "listings"
}

// DefaultListing stands in when the listing is unknown
func DefaultListing(id string) *ListingContext {
	return &ListingContext{ID: id, Title: "Товар из объявления"}
}

// HasPrice reports whether the listing has a known price
func (l *ListingContext) HasPrice() bool {
	return l != nil && l.Price > 0
}

// PriceString formats the price without trailing zeros
func (l *ListingContext) PriceString() string {
	if !l.HasPrice() {
		return ""
	}
	return strconv.FormatFloat(l.Price, 'f', -1, 64)
}
