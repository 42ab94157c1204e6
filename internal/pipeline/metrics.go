package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"marketplace-responder/backend/ai"
	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/internal/responder"
	"marketplace-responder/backend/pkg/cache"
	apperrors "marketplace-responder/backend/pkg/errors"
)

// Snapshot is a point-in-time view of the pipeline counters
type Snapshot struct {
	Received          uint64                  `json:"messages_received"`
	Processed         uint64                  `json:"messages_processed"`
	Blocked           uint64                  `json:"messages_blocked"`
	Spam              uint64                  `json:"spam_detected"`
	Errors            uint64                  `json:"errors"`
	Duplicates        uint64                  `json:"duplicates"`
	RateLimited       uint64                  `json:"rate_limited"`
	AvgProcessingTime time.Duration           `json:"-"`
	AvgProcessingMs   float64                 `json:"avg_processing_time_ms"`
	SuccessRate       float64                 `json:"success_rate"`
	QueueDepth        int                     `json:"queue_size"`
	TrackedSenders    int                     `json:"sender_contexts_count"`
	SpamEvaluations   uint64                  `json:"spam_evaluations"`
	SpamCache         cache.Stats             `json:"spam_cache"`
	Composer          responder.ComposerStats `json:"composer"`
	Gateway           *ai.Stats               `json:"gateway,omitempty"`
}

type metrics struct {
	received    atomic.Uint64
	processed   atomic.Uint64
	blocked     atomic.Uint64
	spam        atomic.Uint64
	errors      atomic.Uint64
	duplicates  atomic.Uint64
	rateLimited atomic.Uint64
	outcomes    atomic.Uint64
	totalNanos  atomic.Int64

	messages metric.Int64Counter
	latency  metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	messages, err := meter.Int64Counter("pipeline.messages",
		metric.WithDescription("Messages that reached a terminal state"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("pipeline.processing_time",
		metric.WithDescription("Time from receipt to terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{messages: messages, latency: latency}, nil
}

// record counts a terminal outcome
func (m *metrics) record(ctx context.Context, res *models.ProcessedMessage) {
	switch res.Status {
	case models.StatusProcessed:
		m.processed.Add(1)
	case models.StatusBlocked:
		m.blocked.Add(1)
		switch {
		case res.IsSpam:
			m.spam.Add(1)
		case res.IsDuplicate:
			m.duplicates.Add(1)
		case res.ErrorCode == apperrors.CodeRateLimited:
			m.rateLimited.Add(1)
		}
	case models.StatusError:
		m.errors.Add(1)
	}
	m.outcomes.Add(1)
	m.totalNanos.Add(int64(res.ProcessingTime))

	attrs := metric.WithAttributes(
		attribute.String("status", string(res.Status)),
		attribute.String("code", res.ErrorCode),
	)
	m.messages.Add(ctx, 1, attrs)
	m.latency.Record(ctx, res.ProcessingTime.Seconds(), attrs)
}

func (m *metrics) snapshot() Snapshot {
	s := Snapshot{
		Received:    m.received.Load(),
		Processed:   m.processed.Load(),
		Blocked:     m.blocked.Load(),
		Spam:        m.spam.Load(),
		Errors:      m.errors.Load(),
		Duplicates:  m.duplicates.Load(),
		RateLimited: m.rateLimited.Load(),
	}
	if n := m.outcomes.Load(); n > 0 {
		s.AvgProcessingTime = time.Duration(m.totalNanos.Load() / int64(n))
		s.AvgProcessingMs = float64(s.AvgProcessingTime) / float64(time.Millisecond)
	}
	if s.Received > 0 {
		s.SuccessRate = float64(s.Processed) / float64(s.Received)
	}
	return s
}
