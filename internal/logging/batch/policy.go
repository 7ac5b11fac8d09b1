package batch

import (
	"github.com/Chichichkin/ddlogs/internal/logging"
)

// Policy accumulates records and decides when they must be flushed. It has
// no notion of goroutines or I/O and is owned by exactly one dispatcher.
type Policy struct {
	batch     []logging.Log
	threshold int
}

func NewPolicy(threshold int) *Policy {
	if threshold <= 0 {
		threshold = logging.DefaultMaxBatchSize
	}
	return &Policy{
		batch:     make([]logging.Log, 0, threshold),
		threshold: threshold,
	}
}

// Add appends rec and reports whether the batch reached the flush threshold.
func (p *Policy) Add(rec logging.Log) bool {
	p.batch = append(p.batch, rec)
	return len(p.batch) >= p.threshold
}

func (p *Policy) Pending() bool {
	return len(p.batch) > 0
}

func (p *Policy) Len() int {
	return len(p.batch)
}

func (p *Policy) Threshold() int {
	return p.threshold
}

// Take hands the current batch to the caller and starts a new one. The
// returned slice is never touched by the policy again.
func (p *Policy) Take() []logging.Log {
	out := p.batch
	p.batch = make([]logging.Log, 0, p.threshold)
	return out
}
