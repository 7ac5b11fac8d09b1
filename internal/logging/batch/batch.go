// Package batch drains a queue into a Sender. The batching rules live in
// Policy; Blocking and NonBlocking only differ in how they wait for the next
// record and how they call the sender.
package batch

import (
	"errors"
	"fmt"

	"go.uber.org/atomic"

	"github.com/Chichichkin/ddlogs/internal/logging"
	"github.com/Chichichkin/ddlogs/internal/logging/queue"
)

type Options struct {
	// MaxBatchSize is the flush threshold. 0 selects logging.DefaultMaxBatchSize.
	MaxBatchSize int
}

// Counters is shared between a dispatcher and whoever reports on it.
type Counters struct {
	delivered      atomic.Int64
	batches        atomic.Int64
	failedBatches  atomic.Int64
	failedRecords  atomic.Int64
	abandonedQueue atomic.Int64
}

type Snapshot struct {
	Delivered      int64
	Batches        int64
	FailedBatches  int64
	FailedRecords  int64
	AbandonedQueue int64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Delivered:      c.delivered.Load(),
		Batches:        c.batches.Load(),
		FailedBatches:  c.failedBatches.Load(),
		FailedRecords:  c.failedRecords.Load(),
		AbandonedQueue: c.abandonedQueue.Load(),
	}
}

// waiter is how a dispatcher shell parks while the queue is empty.
type waiter interface {
	// alive returns a non-nil error once the dispatcher must stop early.
	alive() error
	// wait returns when ready fires or the dispatcher must stop.
	wait(ready <-chan struct{}) error
}

type deliverFunc func(batch []logging.Log) error

type dispatcher struct {
	queue    *queue.Queue
	policy   *Policy
	selflog  *logging.SelfLog
	counters *Counters
}

func newDispatcher(q *queue.Queue, selflog *logging.SelfLog, counters *Counters, opts Options) dispatcher {
	if counters == nil {
		counters = &Counters{}
	}
	return dispatcher{
		queue:    q,
		policy:   NewPolicy(opts.MaxBatchSize),
		selflog:  selflog,
		counters: counters,
	}
}

// run drains the queue until it is closed and empty. It returns nil on a
// normal drain and the waiter's error when abandoned.
func (d *dispatcher) run(deliver deliverFunc, w waiter) error {
	for {
		if err := w.alive(); err != nil {
			d.abandon(err)
			return err
		}

		rec, err := d.queue.TryRecv()
		switch {
		case err == nil:
			if d.policy.Add(rec) {
				d.flush(deliver)
			}

		case errors.Is(err, queue.ErrEmpty):
			if d.policy.Pending() {
				d.flush(deliver)
			}
			if err := w.wait(d.queue.Notify()); err != nil {
				d.abandon(err)
				return err
			}

		default:
			if d.policy.Pending() {
				d.flush(deliver)
			}
			return nil
		}
	}
}

// flush always clears the batch. A failed batch is reported once on the
// self log and then dropped; retries belong to the sender.
func (d *dispatcher) flush(deliver deliverFunc) {
	batch := d.policy.Take()
	if err := deliver(batch); err != nil {
		d.counters.failedBatches.Inc()
		d.counters.failedRecords.Add(int64(len(batch)))
		d.selflog.Offer(err.Error())
		return
	}
	d.counters.batches.Inc()
	d.counters.delivered.Add(int64(len(batch)))
}

func (d *dispatcher) abandon(cause error) {
	pending := d.policy.Len() + d.queue.Len()
	if pending == 0 {
		return
	}
	d.counters.abandonedQueue.Add(int64(pending))
	d.selflog.Offer(fmt.Sprintf("dispatcher stopped (%v) with %d undelivered records", cause, pending))
}
