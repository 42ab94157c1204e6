package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/internal/pipeline"
	"marketplace-responder/backend/internal/responder"
	"marketplace-responder/backend/internal/store"
	"marketplace-responder/backend/pkg/errors"
	"marketplace-responder/backend/pkg/logger"
)

const defaultVariantCount = 2

// MessageProcessor is the part of the pipeline the HTTP layer drives
type MessageProcessor interface {
	HandleMessage(ctx context.Context, msg models.IncomingMessage, sender *models.SenderContext, listing *models.ListingContext) models.ProcessedMessage
	Variants(ctx context.Context, msg models.IncomingMessage, n int) ([]responder.Variant, *models.Analysis, error)
	Metrics() pipeline.Snapshot
	ClearCache()
}

// MessageQueue accepts messages for background processing
type MessageQueue interface {
	Enqueue(msg models.IncomingMessage) error
	Depth() int
}

// MessageController handles message-related API endpoints
type MessageController struct {
	processor MessageProcessor
	queue     MessageQueue
	listings  store.ListingRepository
	now       func() time.Time
}

// NewMessageController creates a new message controller; queue and listings may be nil
func NewMessageController(processor MessageProcessor, queue MessageQueue, listings store.ListingRepository) *MessageController {
	return &MessageController{
		processor: processor,
		queue:     queue,
		listings:  listings,
		now:       time.Now,
	}
}

type messageRequest struct {
	ID        string                 `json:"id"`
	SenderID  string                 `json:"sender_id" binding:"required"`
	ListingID string                 `json:"listing_id" binding:"required"`
	Text      string                 `json:"text"`
	Timestamp *time.Time             `json:"timestamp"`
	Listing   *models.ListingContext `json:"listing"`
}

type variantsRequest struct {
	messageRequest
	Count int `json:"count"`
}

// RegisterRoutesV1 registers the message routes under /api/v1; guard runs before cache clearing
func (c *MessageController) RegisterRoutesV1(v1 *gin.RouterGroup, guard ...gin.HandlerFunc) {
	v1.POST("/messages", c.HandleMessage)
	v1.POST("/messages/queue", c.EnqueueMessage)
	v1.POST("/variants", c.ComposeVariants)
	v1.GET("/metrics", c.Metrics)
	v1.POST("/cache/clear", guarded(guard, c.ClearCache)...)
}

// guarded prepends guard to h without sharing guard's backing array
func guarded(guard []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	return append(slices.Clip(guard), h)
}

// HandleMessage runs a message through the pipeline and returns the verdict. Blocked and failed
// messages are verdicts too, so they are returned with 200.
func (c *MessageController) HandleMessage(ctx *gin.Context) {
	var req messageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("Invalid request format").WithDetails(err.Error()))
		return
	}

	msg := c.message(req.ID, req.SenderID, req.ListingID, req.Text, req.Timestamp)
	listing, err := c.storeListing(ctx.Request.Context(), msg.ListingID, req.Listing)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	result := c.processor.HandleMessage(ctx.Request.Context(), msg, nil, listing)
	if result.RetryAfterSeconds > 0 {
		ctx.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
	}
	ctx.JSON(http.StatusOK, result)
}

// EnqueueMessage hands a message to the worker queue
func (c *MessageController) EnqueueMessage(ctx *gin.Context) {
	if c.queue == nil {
		_ = ctx.Error(errors.NewUnavailableError("Background processing is disabled"))
		return
	}

	var req messageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("Invalid request format").WithDetails(err.Error()))
		return
	}

	msg := c.message(req.ID, req.SenderID, req.ListingID, req.Text, req.Timestamp)
	if _, err := c.storeListing(ctx.Request.Context(), msg.ListingID, req.Listing); err != nil {
		_ = ctx.Error(err)
		return
	}

	if err := c.queue.Enqueue(msg); err != nil {
		switch {
		case stderrors.Is(err, pipeline.ErrQueueFull):
			appErr := errors.NewUnavailableError("Message queue is full")
			appErr.RetryAfter = time.Second
			_ = ctx.Error(appErr)
		case stderrors.Is(err, pipeline.ErrQueueStopped):
			_ = ctx.Error(errors.NewUnavailableError("Service is shutting down"))
		default:
			_ = ctx.Error(err)
		}
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"id":          msg.ID,
		"queue_depth": c.queue.Depth(),
	})
}

// ComposeVariants returns alternative replies for an A/B experiment
func (c *MessageController) ComposeVariants(ctx *gin.Context) {
	var req variantsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError("Invalid request format").WithDetails(err.Error()))
		return
	}
	if req.Count <= 0 {
		req.Count = defaultVariantCount
	}

	msg := c.message(req.ID, req.SenderID, req.ListingID, req.Text, req.Timestamp)
	if _, err := c.storeListing(ctx.Request.Context(), msg.ListingID, req.Listing); err != nil {
		_ = ctx.Error(err)
		return
	}

	variants, analysis, err := c.processor.Variants(ctx.Request.Context(), msg, req.Count)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message_id": msg.ID,
		"analysis":   analysis,
		"variants":   variants,
	})
}

// Metrics returns the pipeline counters
func (c *MessageController) Metrics(ctx *gin.Context) {
	snapshot := c.processor.Metrics()
	if c.queue != nil {
		snapshot.QueueDepth = c.queue.Depth()
	}
	ctx.JSON(http.StatusOK, snapshot)
}

// ClearCache drops the spam verdicts, cached generations and template usage counts
func (c *MessageController) ClearCache(ctx *gin.Context) {
	c.processor.ClearCache()
	logger.FromContext(ctx).Info("Caches cleared over the API")
	ctx.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (c *MessageController) message(id, senderID, listingID, text string, ts *time.Time) models.IncomingMessage {
	if id == "" {
		id = uuid.NewString()
	}
	timestamp := c.now().UTC()
	if ts != nil && !ts.IsZero() {
		timestamp = *ts
	}
	return models.IncomingMessage{
		ID:        id,
		SenderID:  senderID,
		ListingID: listingID,
		Text:      text,
		Timestamp: timestamp,
	}
}

// storeListing persists an inline listing so queued and later messages see it too
func (c *MessageController) storeListing(ctx context.Context, listingID string, listing *models.ListingContext) (*models.ListingContext, error) {
	if listing == nil {
		return nil, nil
	}
	listing.ID = listingID
	listing.UpdatedAt = c.now().UTC()
	if c.listings != nil {
		if err := c.listings.SaveListing(ctx, listing); err != nil {
			return nil, errors.NewInternalError("Failed to save listing", err)
		}
	}
	return listing, nil
}
