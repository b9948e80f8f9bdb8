package bus

import (
	"context"

	"github.com/danmuck/agrilink/internal/observability"
	"github.com/rs/zerolog/log"
)

const DefaultQueueCapacity = 10

// Queue is the bounded hand-off between the bus callback and its consumer.
type Queue struct {
	ch chan Record
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan Record, capacity)}
}

// Offer enqueues r without blocking and reports ErrQueueFull when there is
// no room. It is safe to call from a receive callback.
func (q *Queue) Offer(r Record) error {
	select {
	case q.ch <- r:
		observability.SetBusQueueDepth(len(q.ch))
		return nil
	default:
		observability.RecordBusQueueFull()
		log.Warn().Str("from", r.From).Int("bytes", r.n).Msgf("bus.Queue.Offer queue full cap=%d", cap(q.ch))
		return ErrQueueFull
	}
}

// Take waits for the next record. There is no wait timeout; only ctx ends it.
func (q *Queue) Take(ctx context.Context) (Record, error) {
	select {
	case r := <-q.ch:
		observability.SetBusQueueDepth(len(q.ch))
		return r, nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }
