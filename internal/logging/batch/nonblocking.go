package batch

import (
	"context"

	"github.com/Chichichkin/ddlogs/internal/logging"
	"github.com/Chichichkin/ddlogs/internal/logging/queue"
)

// NonBlocking is the dispatch loop as a task for a caller-owned runtime. It
// only ever parks in a select that also watches ctx, and it hands ctx to the
// AsyncSender so delivery can be abandoned too.
type NonBlocking struct {
	dispatcher
	sender logging.AsyncSender
}

func NewNonBlocking(sender logging.AsyncSender, q *queue.Queue, selflog *logging.SelfLog, counters *Counters, opts Options) *NonBlocking {
	return &NonBlocking{
		dispatcher: newDispatcher(q, selflog, counters, opts),
		sender:     sender,
	}
}

// Run drains the queue until it is closed, or until ctx is done, in which
// case ctx.Err() is returned and whatever is still queued is abandoned.
func (n *NonBlocking) Run(ctx context.Context) error {
	deliver := func(batch []logging.Log) error {
		return n.sender.SendAsync(ctx, batch)
	}
	return n.run(deliver, ctxWaiter{ctx: ctx})
}

type ctxWaiter struct {
	ctx context.Context
}

func (w ctxWaiter) alive() error { return w.ctx.Err() }

func (w ctxWaiter) wait(ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}
