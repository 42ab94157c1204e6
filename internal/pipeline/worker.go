package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/pkg/logger"
)

var (
	// ErrQueueFull is returned when the sender's shard has no free slot
	ErrQueueFull = errors.New("message queue is full")
	// ErrQueueStopped is returned after Stop
	ErrQueueStopped = errors.New("message queue is stopped")
)

// Handler processes one message; *Pipeline satisfies it
type Handler interface {
	HandleMessage(ctx context.Context, msg models.IncomingMessage, sender *models.SenderContext, listing *models.ListingContext) models.ProcessedMessage
}

// ResultSink receives every processed message; delivering the reply is up to it
type ResultSink func(ctx context.Context, res models.ProcessedMessage)

// Queue buffers messages for background processing. Messages of one sender always land on the
// same worker, so they are handled in arrival order.
type Queue struct {
	handler Handler
	sink    ResultSink
	shards  []chan models.IncomingMessage
	log     *logger.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
	depth   atomic.Int64
}

// NewQueue creates a queue with workers shards sharing capacity slots
func NewQueue(handler Handler, workers, capacity int, sink ResultSink, log *logger.Logger) *Queue {
	workers = max(workers, 1)
	perShard := max(capacity/workers, 1)
	if log == nil {
		log = logger.Nop()
	}

	shards := make([]chan models.IncomingMessage, workers)
	for i := range shards {
		shards[i] = make(chan models.IncomingMessage, perShard)
	}
	return &Queue{
		handler: handler,
		sink:    sink,
		shards:  shards,
		log:     log.With("component", "pipeline_queue"),
	}
}

// Start launches one worker per shard; it is a no-op when already started or stopped
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true

	for i, shard := range q.shards {
		q.wg.Add(1)
		go q.work(ctx, i, shard)
	}
	q.log.Info("Message queue started", "workers", len(q.shards))
}

// Enqueue hands msg to its sender's shard without blocking
func (q *Queue) Enqueue(msg models.IncomingMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueStopped
	}

	q.depth.Add(1)
	select {
	case q.shards[q.shardFor(msg.SenderID)] <- msg:
		return nil
	default:
		q.depth.Add(-1)
		return ErrQueueFull
	}
}

// Stop refuses new messages, lets the workers drain what is queued and waits for them or ctx
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	for _, shard := range q.shards {
		close(shard)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		q.depth.Store(0)
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.log.Info("Message queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of queued messages not yet picked up
func (q *Queue) Depth() int {
	return int(q.depth.Load())
}

func (q *Queue) shardFor(senderID string) int {
	return int(xxhash.Sum64String(senderID) % uint64(len(q.shards)))
}

func (q *Queue) work(ctx context.Context, id int, shard <-chan models.IncomingMessage) {
	defer q.wg.Done()
	for msg := range shard {
		q.depth.Add(-1)
		res := q.handler.HandleMessage(ctx, msg, nil, nil)
		q.deliver(ctx, id, res)
	}
}

func (q *Queue) deliver(ctx context.Context, worker int, res models.ProcessedMessage) {
	if q.sink == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			q.log.Error("Result sink panicked", "worker", worker, "message_id", res.Original.ID, "panic", rec)
		}
	}()
	q.sink(ctx, res)
}
