package batch

import (
	"github.com/Chichichkin/ddlogs/internal/logging"
	"github.com/Chichichkin/ddlogs/internal/logging/queue"
)

// Blocking runs the dispatch loop on a goroutine of its own and calls the
// synchronous Sender from it.
type Blocking struct {
	dispatcher
	sender logging.Sender
}

func NewBlocking(sender logging.Sender, q *queue.Queue, selflog *logging.SelfLog, counters *Counters, opts Options) *Blocking {
	return &Blocking{
		dispatcher: newDispatcher(q, selflog, counters, opts),
		sender:     sender,
	}
}

// Run returns once the queue is closed and every record taken from it has
// been handed to the sender.
func (b *Blocking) Run() {
	_ = b.run(b.sender.Send, parkingWaiter{})
}

type parkingWaiter struct{}

func (parkingWaiter) alive() error { return nil }

func (parkingWaiter) wait(ready <-chan struct{}) error {
	<-ready
	return nil
}
