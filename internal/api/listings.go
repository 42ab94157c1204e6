package api

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/internal/store"
	"marketplace-responder/backend/pkg/errors"
)

// ContextController exposes the listing and sender contexts the pipeline works with
type ContextController struct {
	listings store.ListingRepository
	senders  store.SenderStore
}

// NewContextController creates a context controller
func NewContextController(listings store.ListingRepository, senders store.SenderStore) *ContextController {
	return &ContextController{listings: listings, senders: senders}
}

// RegisterRoutesV1 registers the context routes under /api/v1; guard runs before listing updates
func (c *ContextController) RegisterRoutesV1(v1 *gin.RouterGroup, guard ...gin.HandlerFunc) {
	v1.GET("/listings/:id", c.GetListing)
	v1.PUT("/listings/:id", guarded(guard, c.SaveListing)...)
	v1.GET("/senders/:id", c.GetSender)
}

// GetListing returns a stored listing
func (c *ContextController) GetListing(ctx *gin.Context) {
	id := ctx.Param("id")
	listing, err := c.listings.GetListing(ctx.Request.Context(), id)
	if err != nil {
		_ = ctx.Error(notFound(err, "listing", id))
		return
	}
	ctx.JSON(http.StatusOK, listing)
}

// SaveListing creates or replaces a listing
func (c *ContextController) SaveListing(ctx *gin.Context) {
	var listing models.ListingContext
	if err := ctx.ShouldBindJSON(&listing); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("Invalid request format").WithDetails(err.Error()))
		return
	}
	if listing.Title == "" {
		_ = ctx.Error(errors.NewBadRequestError("listing title is required"))
		return
	}
	if listing.Price < 0 {
		_ = ctx.Error(errors.NewBadRequestError("listing price must not be negative"))
		return
	}

	listing.ID = ctx.Param("id")
	listing.UpdatedAt = time.Now().UTC()
	if err := c.listings.SaveListing(ctx.Request.Context(), &listing); err != nil {
		_ = ctx.Error(errors.NewInternalError("Failed to save listing", err))
		return
	}
	ctx.JSON(http.StatusOK, listing)
}

// GetSender returns what the assistant remembers about a buyer
func (c *ContextController) GetSender(ctx *gin.Context) {
	id := ctx.Param("id")
	sender, err := c.senders.GetSender(ctx.Request.Context(), id)
	if err != nil {
		_ = ctx.Error(notFound(err, "sender", id))
		return
	}
	ctx.JSON(http.StatusOK, sender)
}

func notFound(err error, kind, id string) error {
	if stderrors.Is(err, store.ErrNotFound) {
		return errors.NewNotFoundError(fmt.Sprintf("%s %q not found", kind, id))
	}
	return errors.NewInternalError(fmt.Sprintf("Failed to load %s", kind), err)
}
