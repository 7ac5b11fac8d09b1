package ddlog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/atomic"

	"github.com/Chichichkin/ddlogs/internal/logging"
	"github.com/Chichichkin/ddlogs/internal/logging/batch"
	"github.com/Chichichkin/ddlogs/internal/logging/queue"
)

type (
	Config      = logging.Config
	Level       = logging.Level
	Log         = logging.Log
	Sender      = logging.Sender
	AsyncSender = logging.AsyncSender
)

const (
	LevelEmergency = logging.LevelEmergency
	LevelAlert     = logging.LevelAlert
	LevelCritical  = logging.LevelCritical
	LevelError     = logging.LevelError
	LevelWarning   = logging.LevelWarning
	LevelNotice    = logging.LevelNotice
	LevelInfo      = logging.LevelInfo
	LevelDebug     = logging.LevelDebug
)

var (
	ErrTaskStarted = errors.New("ddlog: dispatch task already started")
	ErrNilSender   = errors.New("ddlog: sender is nil")
)

// Task is the dispatcher of a non-blocking Logger. It must be run exactly
// once, on whatever goroutine or runtime the caller prefers.
type Task func(ctx context.Context) error

// Runtime schedules a Task. *errgroup.Group satisfies it.
type Runtime interface {
	Go(f func() error)
}

// Stats is a point in time view of a Logger's counters.
type Stats struct {
	Enqueued      int64
	Dropped       int64
	Delivered     int64
	Batches       int64
	FailedBatches int64
	FailedRecords int64
	Abandoned     int64
}

// Logger hands records to a background dispatcher. Its log methods never
// block and never perform I/O.
type Logger struct {
	config   Config
	queue    *queue.Queue
	selflog  *logging.SelfLog
	counters *batch.Counters

	enqueued atomic.Int64
	dropped  atomic.Int64
	closed   atomic.Bool
	started  atomic.Bool

	// done is closed when the dispatcher goroutine exits; nil for the
	// non-blocking variant, which is owned by the caller's runtime.
	done chan struct{}
}

func newLogger(cfg Config) (*Logger, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Logger{
		config:   cfg,
		queue:    queue.New(cfg.MessagesChannelCapacity),
		selflog:  logging.NewSelfLog(cfg.EnableSelfLog),
		counters: &batch.Counters{},
	}, nil
}

func (l *Logger) batchOptions() batch.Options {
	return batch.Options{MaxBatchSize: l.config.MaxBatchSize}
}

// NewBlocking starts a dedicated goroutine that ships batches through the
// synchronous sender. Close waits for that goroutine.
func NewBlocking(sender Sender, cfg Config) (*Logger, error) {
	if isNil(sender) {
		return nil, ErrNilSender
	}
	l, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	d := batch.NewBlocking(sender, l.queue, l.selflog, l.counters, l.batchOptions())
	l.done = make(chan struct{})
	l.started.Store(true)
	go l.runBlocking(d)

	return l, nil
}

func (l *Logger) runBlocking(d *batch.Blocking) {
	defer close(l.done)
	defer func() {
		if r := recover(); r != nil {
			l.queue.Close()
			l.selflog.Offer(fmt.Sprintf("dispatcher panicked: %v", r))
		}
	}()
	d.Run()
}

// NewNonBlockingCold returns a Logger and the Task that drains it. Nothing is
// shipped until the Task runs. Close does not wait for the Task; cancelling
// the context passed to it abandons whatever is still queued.
func NewNonBlockingCold(sender AsyncSender, cfg Config) (*Logger, Task, error) {
	if isNil(sender) {
		return nil, nil, ErrNilSender
	}
	l, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	d := batch.NewNonBlocking(sender, l.queue, l.selflog, l.counters, l.batchOptions())
	task := func(ctx context.Context) (err error) {
		if !l.started.CompareAndSwap(false, true) {
			return ErrTaskStarted
		}
		defer func() {
			if r := recover(); r != nil {
				l.queue.Close()
				err = fmt.Errorf("dispatcher panicked: %v", r)
				l.selflog.Offer(err.Error())
			}
		}()
		return d.Run(ctx)
	}

	return l, task, nil
}

// NewNonBlockingWithRuntime is NewNonBlockingCold followed by scheduling the
// Task on rt with ctx.
func NewNonBlockingWithRuntime(ctx context.Context, rt Runtime, sender AsyncSender, cfg Config) (*Logger, error) {
	l, task, err := NewNonBlockingCold(sender, cfg)
	if err != nil {
		return nil, err
	}
	rt.Go(func() error {
		return task(ctx)
	})
	return l, nil
}

func (l *Logger) Log(message string, level Level) {
	l.LogWithTrace(message, level, "", "")
}

func (l *Logger) Logf(level Level, format string, args ...any) {
	l.LogWithTrace(fmt.Sprintf(format, args...), level, "", "")
}

// LogWithTrace attaches Datadog trace and span ids to the record.
func (l *Logger) LogWithTrace(message string, level Level, traceID, spanID string) {
	l.enqueue(Log{
		Message: message,
		Tags:    l.config.Tags,
		Source:  l.config.Source,
		Host:    l.config.Hostname,
		Service: l.config.Service,
		Level:   level.String(),
		TraceID: traceID,
		SpanID:  spanID,
	})
}

// LogRecord enqueues a record built elsewhere. Empty routing fields are
// taken from the config and config tags are prepended to the record's tags.
func (l *Logger) LogRecord(rec Log) {
	if rec.Source == "" {
		rec.Source = l.config.Source
	}
	if rec.Host == "" {
		rec.Host = l.config.Hostname
	}
	if rec.Service == "" {
		rec.Service = l.config.Service
	}
	if rec.Level == "" {
		rec.Level = LevelInfo.String()
	}
	rec.Tags = joinTags(l.config.Tags, rec.Tags)
	l.enqueue(rec)
}

func (l *Logger) enqueue(rec Log) {
	if err := l.queue.TrySend(rec); err != nil {
		l.dropped.Inc()
		l.selflog.Offer(err.Error())
		return
	}
	l.enqueued.Inc()
}

// SelfLog returns the diagnostic channel. ok is false when the Logger was
// built with EnableSelfLog unset.
func (l *Logger) SelfLog() (ch <-chan string, ok bool) {
	return l.selflog.C()
}

func (l *Logger) Stats() Stats {
	snap := l.counters.Snapshot()
	return Stats{
		Enqueued:      l.enqueued.Load(),
		Dropped:       l.dropped.Load(),
		Delivered:     snap.Delivered,
		Batches:       snap.Batches,
		FailedBatches: snap.FailedBatches,
		FailedRecords: snap.FailedRecords,
		Abandoned:     snap.AbandonedQueue,
	}
}

// Pending reports records queued but not yet taken by the dispatcher.
func (l *Logger) Pending() int {
	return l.queue.Len()
}

// Close stops accepting records and lets the dispatcher drain. For a blocking
// Logger it returns only after the dispatcher goroutine has exited, so every
// record enqueued before Close has been handed to the sender. It is safe to
// call more than once.
func (l *Logger) Close() error {
	if l.closed.CompareAndSwap(false, true) {
		l.queue.Close()
	}
	if l.done != nil {
		<-l.done
	}
	return nil
}

// isNil also catches a typed nil pointer wrapped in the interface.
func isNil(sender any) bool {
	if sender == nil {
		return true
	}
	v := reflect.ValueOf(sender)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

func joinTags(a, b string) string {
	a = strings.Trim(a, ", ")
	b = strings.Trim(b, ", ")
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "," + b
	}
}
