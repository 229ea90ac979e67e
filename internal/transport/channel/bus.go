// Package channel provides the in-process job outcome stream.
package channel

import (
	"context"
	"errors"

	"github.com/flowrule/flowrule/internal/domain"
)

// ErrBufferFull is returned when the bus buffer is saturated. Outcomes
// are best-effort observability data: callers drop them rather than
// block job execution.
var ErrBufferFull = errors.New("outcome buffer full")

// OutcomeBus is a buffered fan-in of job outcomes feeding best-effort
// consumers such as the analytics writer.
type OutcomeBus struct {
	ch chan domain.JobOutcome
}

func NewOutcomeBus(buffer int) *OutcomeBus {
	return &OutcomeBus{
		ch: make(chan domain.JobOutcome, buffer),
	}
}

// Emit never blocks: a full buffer returns ErrBufferFull immediately.
func (b *OutcomeBus) Emit(ctx context.Context, outcome domain.JobOutcome) error {
	select {
	case b.ch <- outcome:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBufferFull
	}
}

func (b *OutcomeBus) Channel() <-chan domain.JobOutcome {
	return b.ch
}
