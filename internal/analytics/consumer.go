package analytics

import (
	"context"
	"log"
	"time"

	"github.com/flowrule/flowrule/internal/domain"
)

type Sink interface {
	Record(ctx context.Context, outcome domain.JobOutcome) error
}

// DrainTimeout is the maximum time to wait for buffered outcomes during
// shutdown.
const DrainTimeout = 5 * time.Second

// Consumer drains job outcomes from the bus and records them on the
// sink. Sink errors are logged and the outcome dropped; analytics never
// retries.
type Consumer struct {
	sink Sink
}

func NewConsumer(sink Sink) *Consumer {
	return &Consumer{sink: sink}
}

// Run processes outcomes from the channel until ctx is cancelled, then
// drains remaining buffered outcomes with a timeout.
func (c *Consumer) Run(ctx context.Context, ch <-chan domain.JobOutcome) {
	for {
		select {
		case <-ctx.Done():
			c.drain(ch)
			return
		case outcome := <-ch:
			if err := c.sink.Record(ctx, outcome); err != nil {
				log.Printf("analytics: record error: %v", err)
			}
		}
	}
}

func (c *Consumer) drain(ch <-chan domain.JobOutcome) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Printf("analytics: drain timeout, recorded %d outcomes", count)
			return
		case outcome, ok := <-ch:
			if !ok {
				log.Printf("analytics: drain complete, recorded %d outcomes", count)
				return
			}
			if err := c.sink.Record(drainCtx, outcome); err != nil {
				log.Printf("analytics: drain record error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("analytics: drain complete, recorded %d outcomes", count)
			}
			return
		}
	}
}
