// Package poller turns a one-shot status query into a bounded stream of
// snapshots. Each Watcher owns its goroutine and timers; nothing is shared
// between watches.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultBudget   = 120 * time.Second
)

// Reason explains why a watch stopped polling.
type Reason string

const (
	ReasonRunning  Reason = ""
	ReasonTerminal Reason = "terminal"
	ReasonBudget   Reason = "budget_exhausted"
	ReasonStopped  Reason = "stopped"
	ReasonContext  Reason = "context_done"
)

// Query performs one observation. It must honour ctx cancellation.
type Query[T any] func(ctx context.Context) (T, error)

// Snapshot is one observation. When Err is set Value is the zero value and
// polling carries on.
type Snapshot[T any] struct {
	Value      T
	Err        error
	Attempt    int
	ObservedAt time.Time
}

// Options tunes a watch. Zero values fall back to the package defaults.
type Options[T any] struct {
	Interval   time.Duration
	Budget     time.Duration
	IsTerminal func(T) bool
	Clock      clock.Clock
	// Buffer is the snapshot channel capacity, at least 1.
	Buffer int
}

func (o Options[T]) withDefaults() Options[T] {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Budget <= 0 {
		o.Budget = DefaultBudget
	}
	if o.IsTerminal == nil {
		o.IsTerminal = func(T) bool { return false }
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Buffer < 1 {
		o.Buffer = 8
	}
	return o
}

// Watcher is the handle of a running watch.
type Watcher[T any] struct {
	// C receives every snapshot in observation order and is closed once polling has ended.
	C <-chan Snapshot[T]

	out      chan Snapshot[T]
	opts     Options[T]
	query    Query[T]
	cancel   context.CancelFunc
	done     chan struct{}
	started  time.Time
	attempts int
	skipped  atomic.Int64
	stopped  atomic.Bool
	stopOnce sync.Once

	// Queries run under queryCtx. Stop leaves it alone so an in-flight
	// query can finish; the parent context and the budget still end it.
	queryCtx     context.Context
	releaseQuery func()
	inFlight     sync.WaitGroup

	mu     sync.Mutex
	reason Reason
}

// Watch runs the first query synchronously, so its snapshot is already
// buffered on C when Watch returns, and then polls once per interval until a
// terminal snapshot, the budget runs out, Stop is called or ctx is done.
func Watch[T any](ctx context.Context, query Query[T], opts Options[T]) *Watcher[T] {
	opts = opts.withDefaults()
	queryCtx, cancelQuery := context.WithTimeout(context.WithoutCancel(ctx), opts.Budget)
	stopPropagation := context.AfterFunc(ctx, cancelQuery)
	runCtx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot[T], opts.Buffer)
	w := &Watcher[T]{
		C:        out,
		out:      out,
		opts:     opts,
		query:    query,
		cancel:   cancel,
		done:     make(chan struct{}),
		started:  opts.Clock.Now(),
		queryCtx: queryCtx,
		releaseQuery: func() {
			stopPropagation()
			cancelQuery()
		},
	}

	first := w.poll(1)
	w.attempts = 1
	w.out <- first
	if w.isTerminal(first) {
		w.finish(ReasonTerminal)
		return w
	}
	go w.run(runCtx)
	return w
}

// Stop ends polling and waits for the watch goroutine to exit. A query still
// in flight is allowed to complete and its result is discarded. Calling Stop
// more than once is harmless.
func (w *Watcher[T]) Stop() {
	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		w.cancel()
	})
	<-w.done
}

// Done is closed once polling has ended and C has been closed.
func (w *Watcher[T]) Done() <-chan struct{} {
	return w.done
}

// Reason reports why polling ended, or ReasonRunning while it is active.
func (w *Watcher[T]) Reason() Reason {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

// Skipped counts ticks dropped because the previous query was still running.
func (w *Watcher[T]) Skipped() int64 {
	return w.skipped.Load()
}

func (w *Watcher[T]) run(ctx context.Context) {
	remaining := w.opts.Budget - w.opts.Clock.Now().Sub(w.started)
	if remaining <= 0 {
		w.finish(ReasonBudget)
		return
	}
	ticker := w.opts.Clock.Ticker(w.opts.Interval)
	defer ticker.Stop()
	deadline := w.opts.Clock.Timer(remaining)
	defer deadline.Stop()

	results := make(chan Snapshot[T], 1)
	inFlight := false
	for {
		select {
		case <-ctx.Done():
			w.finish(w.cancelReason())
			return
		case <-deadline.C:
			w.finish(ReasonBudget)
			return
		case <-ticker.C:
			if inFlight {
				w.skipped.Add(1)
				continue
			}
			inFlight = true
			w.attempts++
			attempt := w.attempts
			w.inFlight.Add(1)
			go func() {
				defer w.inFlight.Done()
				results <- w.poll(attempt)
			}()
		case snap := <-results:
			inFlight = false
			if ctx.Err() != nil || w.stopped.Load() {
				continue
			}
			if reason := w.emit(ctx, deadline.C, snap); reason != ReasonRunning {
				w.finish(reason)
				return
			}
			if w.isTerminal(snap) {
				w.finish(ReasonTerminal)
				return
			}
		}
	}
}

func (w *Watcher[T]) poll(attempt int) Snapshot[T] {
	value, err := w.query(w.queryCtx)
	snap := Snapshot[T]{Attempt: attempt, ObservedAt: w.opts.Clock.Now(), Err: err}
	if err == nil {
		snap.Value = value
	}
	return snap
}

// emit hands a snapshot to the subscriber. A slow subscriber does not hold
// the watch past its budget.
func (w *Watcher[T]) emit(ctx context.Context, deadline <-chan time.Time, snap Snapshot[T]) Reason {
	select {
	case w.out <- snap:
		return ReasonRunning
	case <-ctx.Done():
		return w.cancelReason()
	case <-deadline:
		return ReasonBudget
	}
}

func (w *Watcher[T]) isTerminal(snap Snapshot[T]) bool {
	return snap.Err == nil && w.opts.IsTerminal(snap.Value)
}

func (w *Watcher[T]) cancelReason() Reason {
	if w.stopped.Load() {
		return ReasonStopped
	}
	return ReasonContext
}

func (w *Watcher[T]) finish(reason Reason) {
	w.mu.Lock()
	w.reason = reason
	w.mu.Unlock()
	w.cancel()
	close(w.out)
	close(w.done)
	go func() {
		w.inFlight.Wait()
		w.releaseQuery()
	}()
}
