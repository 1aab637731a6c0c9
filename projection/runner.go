/*
runner.go - Ordered async event delivery

PURPOSE:
  Subscribes the projections to the ledger's event sink. Events for one
  account are delivered in commit order on a single goroutine per
  account, so the read side observes exactly the sequence the write side
  appended. Accounts are independent and progress concurrently.

HALT ON CORRUPTION:
  If any projection reports a CorruptionError the runner stops consuming
  that account's stream, logs at Error level, and drops further events
  for it. A halted account stays halted until the process restarts and
  the views are rebuilt from the event store. Skipping the bad event
  would silently desynchronize the views, which is worse than stale.

SEE ALSO:
  - transfer.go, account.go: the projections being driven
  - ledger/service.go:       the sink publishing committed events
*/
package projection

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/ledger"
)

// Projection is anything that folds committed events into a view.
type Projection interface {
	Apply(ctx context.Context, event ledger.Event) error
}

// Runner fans committed events out to projections, per-account ordered.
// It implements ledger.EventSink.
type Runner struct {
	projections []Projection
	logger      *zap.Logger

	mu      sync.Mutex
	queues  map[ledger.AccountID]chan ledger.Event
	halted  map[ledger.AccountID]bool
	wg      sync.WaitGroup
	sends   sync.WaitGroup
	closed  bool
	bufSize int
}

// NewRunner wires the projections behind a sink. Projections run in the
// order given, all against the same event before the next is consumed.
func NewRunner(logger *zap.Logger, projections ...Projection) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		projections: projections,
		logger:      logger,
		queues:      make(map[ledger.AccountID]chan ledger.Event),
		halted:      make(map[ledger.AccountID]bool),
		bufSize:     64,
	}
}

// Publish enqueues committed events. Called by the ledger service after
// a successful append, in commit order.
func (r *Runner) Publish(events []ledger.Event) {
	for _, event := range events {
		r.enqueue(event)
	}
}

func (r *Runner) enqueue(event ledger.Event) {
	r.mu.Lock()
	if r.closed || r.halted[event.Account()] {
		r.mu.Unlock()
		return
	}
	queue, ok := r.queues[event.Account()]
	if !ok {
		queue = make(chan ledger.Event, r.bufSize)
		r.queues[event.Account()] = queue
		r.wg.Add(1)
		go r.consume(event.Account(), queue)
	}
	// Registered under the lock so Close cannot close the queue while
	// this send is in flight.
	r.sends.Add(1)
	r.mu.Unlock()
	queue <- event
	r.sends.Done()
}

func (r *Runner) consume(accountID ledger.AccountID, queue chan ledger.Event) {
	defer r.wg.Done()
	ctx := context.Background()
	for event := range queue {
		if r.Halted(accountID) {
			continue // drain without applying
		}
		for _, projection := range r.projections {
			if err := projection.Apply(ctx, event); err != nil {
				r.halt(accountID, event, err)
				break
			}
		}
	}
}

func (r *Runner) halt(accountID ledger.AccountID, event ledger.Event, err error) {
	r.mu.Lock()
	r.halted[accountID] = true
	r.mu.Unlock()

	r.logger.Error("projection halted",
		zap.String("account_id", string(accountID)),
		zap.String("event", string(event.Kind())),
		zap.Error(err),
	)
}

// Halted reports whether the account's stream has been stopped.
func (r *Runner) Halted(accountID ledger.AccountID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted[accountID]
}

// Close drains all queues and waits for in-flight events to be applied.
// Publishes racing Close complete before the queues are closed; anything
// arriving afterwards is dropped.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	// No new sends can register once closed is set; wait out the ones
	// already past the gate, then it is safe to close the channels.
	r.sends.Wait()

	r.mu.Lock()
	for _, queue := range r.queues {
		close(queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Rebuild replays an account's full history through the projections
// synchronously. Used at startup to warm views from the event store.
func (r *Runner) Rebuild(ctx context.Context, store ledger.EventStore, accountID ledger.AccountID) error {
	events, err := store.Load(ctx, accountID)
	if err != nil {
		return err
	}
	for _, event := range events {
		for _, projection := range r.projections {
			if err := projection.Apply(ctx, event); err != nil {
				return err
			}
		}
	}
	return nil
}
