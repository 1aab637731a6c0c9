package projection_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/ledger/store"
	"github.com/warp/loyalty-engine/projection"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func at(n int) time.Time {
	return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Minute)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func created(n int) ledger.Event {
	return ledger.AccountCreated{AccountID: "acc-1", CustomerID: "cust-1", At: at(n)}
}

func added(id string, value string, n int) ledger.Event {
	return ledger.PointsAdded{AccountID: "acc-1", TransferID: ledger.TransferID(id), Value: dec(value), At: at(n)}
}

func addedLocked(id string, value string, n, lockedUntil int) ledger.Event {
	lock := at(lockedUntil)
	return ledger.PointsAdded{AccountID: "acc-1", TransferID: ledger.TransferID(id), Value: dec(value), LockedUntil: &lock, At: at(n)}
}

func spent(id string, value string, n int) ledger.Event {
	return ledger.PointsSpent{AccountID: "acc-1", TransferID: ledger.TransferID(id), Value: dec(value), At: at(n)}
}

func newSeededStore(t *testing.T, events ...ledger.Event) *store.Memory {
	t.Helper()
	memory := store.NewMemory()
	require.NoError(t, memory.Append(context.Background(), "acc-1", 0, events))
	return memory
}

func applyAll(t *testing.T, p projection.Projection, events ...ledger.Event) {
	t.Helper()
	for _, event := range events {
		require.NoError(t, p.Apply(context.Background(), event))
	}
}

// =============================================================================
// TRANSFER PROJECTION
// =============================================================================

func TestTransferProjection_LockedAdditionStartsPending(t *testing.T) {
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)

	applyAll(t, p, created(0), addedLocked("T1", "100", 1, 60))

	view, err := views.GetTransfer(context.Background(), "acc-1", "T1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, projection.ViewPending, view.State)
}

func TestTransferProjection_UnlockedAdditionStartsActive(t *testing.T) {
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)

	applyAll(t, p, created(0), added("T1", "100", 1))

	view, err := views.GetTransfer(context.Background(), "acc-1", "T1")
	require.NoError(t, err)
	assert.Equal(t, projection.ViewActive, view.State)
}

func TestTransferProjection_FullLifecycle(t *testing.T) {
	// PENDING -> ACTIVE -> EXPIRED, tracked through the events the
	// ledger emits for the same story.
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)
	ctx := context.Background()

	applyAll(t, p, created(0), addedLocked("T1", "100", 1, 60))
	applyAll(t, p, ledger.TransferUnlocked{AccountID: "acc-1", TransferID: "T1", At: at(2)})

	view, _ := views.GetTransfer(ctx, "acc-1", "T1")
	assert.Equal(t, projection.ViewActive, view.State)
	assert.Nil(t, view.LockedUntil)

	applyAll(t, p, ledger.TransferExpired{AccountID: "acc-1", TransferID: "T1", At: at(3)})

	view, _ = views.GetTransfer(ctx, "acc-1", "T1")
	assert.Equal(t, projection.ViewExpired, view.State)
}

func TestTransferProjection_PendingMayTerminateDirectly(t *testing.T) {
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)

	applyAll(t, p, created(0), addedLocked("T1", "100", 1, 60))
	applyAll(t, p, ledger.TransferCanceled{AccountID: "acc-1", TransferID: "T1", At: at(2)})

	view, _ := views.GetTransfer(context.Background(), "acc-1", "T1")
	assert.Equal(t, projection.ViewCanceled, view.State)
}

func TestTransferProjection_ResetExpiresOpenEarnings(t *testing.T) {
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)
	ctx := context.Background()

	applyAll(t, p,
		created(0),
		added("active", "100", 1),
		addedLocked("locked", "50", 2, 60),
		spent("S1", "30", 3),
	)
	applyAll(t, p, ledger.PointsReset{AccountID: "acc-1", At: at(4)})

	for _, id := range []ledger.TransferID{"active", "locked"} {
		view, _ := views.GetTransfer(ctx, "acc-1", id)
		assert.Equal(t, projection.ViewExpired, view.State, string(id))
	}
	// Spending rows have no lifecycle and are untouched.
	view, _ := views.GetTransfer(ctx, "acc-1", "S1")
	assert.Equal(t, projection.ViewActive, view.State)
}

// =============================================================================
// CORRUPTION IS FATAL
// =============================================================================

func TestTransferProjection_UnknownTransferIsFatal(t *testing.T) {
	// An event for a transfer the projection never saw means the stream
	// arrived out of order. It must refuse, not skip.
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)

	applyAll(t, p, created(0))
	err := p.Apply(context.Background(), ledger.TransferExpired{AccountID: "acc-1", TransferID: "ghost", At: at(1)})

	assert.ErrorIs(t, err, projection.ErrProjectionCorrupt)
}

func TestTransferProjection_CancelingDeductionIsFatal(t *testing.T) {
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)

	applyAll(t, p, created(0), added("T1", "100", 1), spent("S1", "30", 2))
	err := p.Apply(context.Background(), ledger.TransferCanceled{AccountID: "acc-1", TransferID: "S1", At: at(3)})

	assert.ErrorIs(t, err, projection.ErrProjectionCorrupt)
}

func TestTransferProjection_IllegalTransitionIsFatal(t *testing.T) {
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)

	applyAll(t, p, created(0), added("T1", "100", 1))
	applyAll(t, p, ledger.TransferExpired{AccountID: "acc-1", TransferID: "T1", At: at(2)})

	err := p.Apply(context.Background(), ledger.TransferCanceled{AccountID: "acc-1", TransferID: "T1", At: at(3)})
	assert.ErrorIs(t, err, projection.ErrProjectionCorrupt)
}

func TestTransferProjection_DuplicateTransferIsFatal(t *testing.T) {
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)

	applyAll(t, p, created(0), added("T1", "100", 1))
	err := p.Apply(context.Background(), added("T1", "100", 2))

	assert.ErrorIs(t, err, projection.ErrProjectionCorrupt)
}

func TestTransferProjection_SameTransferIDOnDifferentAccounts(t *testing.T) {
	// Transfer IDs are unique per account, not globally. Two accounts
	// reusing the same ID must each get their own row.
	views := projection.NewMemoryViews()
	p := projection.NewTransferProjection(views)
	ctx := context.Background()

	applyAll(t, p,
		created(0),
		added("T1", "100", 1),
		ledger.AccountCreated{AccountID: "acc-2", CustomerID: "cust-2", At: at(2)},
		ledger.PointsAdded{AccountID: "acc-2", TransferID: "T1", Value: dec("40"), At: at(3)},
	)

	first, err := views.GetTransfer(ctx, "acc-1", "T1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.Value.Equal(dec("100")))

	second, err := views.GetTransfer(ctx, "acc-2", "T1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.True(t, second.Value.Equal(dec("40")))

	// Expiring one account's transfer leaves the other untouched.
	applyAll(t, p, ledger.TransferExpired{AccountID: "acc-2", TransferID: "T1", At: at(4)})

	first, _ = views.GetTransfer(ctx, "acc-1", "T1")
	assert.Equal(t, projection.ViewActive, first.State)
	second, _ = views.GetTransfer(ctx, "acc-2", "T1")
	assert.Equal(t, projection.ViewExpired, second.State)
}

// =============================================================================
// ACCOUNT PROJECTION
// =============================================================================

func TestAccountProjection_MatchesAggregate(t *testing.T) {
	// The account view folds the same events the write side committed,
	// so its balances must equal the aggregate's at every step.
	views := projection.NewMemoryViews()
	p := projection.NewAccountProjection(views)
	ctx := context.Background()

	events := []ledger.Event{
		created(0),
		added("T1", "100", 1),
		added("T2", "50", 2),
		spent("S1", "120", 3),
		ledger.TransferCanceled{AccountID: "acc-1", TransferID: "T2", At: at(4)},
	}
	applyAll(t, p, events...)

	aggregate, err := ledger.Replay(events)
	require.NoError(t, err)

	view, err := views.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, view)

	now := at(4)
	assert.True(t, view.Available.Equal(aggregate.Available(now)))
	assert.True(t, view.Earned.Equal(aggregate.Earned()))
	assert.True(t, view.Used.Equal(aggregate.Used()))
	assert.True(t, view.Locked.Equal(aggregate.Locked(now)))
}

func TestAccountProjection_EventBeforeCreationIsFatal(t *testing.T) {
	views := projection.NewMemoryViews()
	p := projection.NewAccountProjection(views)

	err := p.Apply(context.Background(), added("T1", "100", 1))

	assert.ErrorIs(t, err, projection.ErrProjectionCorrupt)
}

// =============================================================================
// RUNNER
// =============================================================================

func TestRunner_DeliversInOrderAndHaltsOnCorruption(t *testing.T) {
	views := projection.NewMemoryViews()
	runner := projection.NewRunner(nil, projection.NewTransferProjection(views))

	runner.Publish([]ledger.Event{created(0), added("T1", "100", 1)})
	// Corrupt: expire a transfer the projection never saw.
	runner.Publish([]ledger.Event{ledger.TransferExpired{AccountID: "acc-1", TransferID: "ghost", At: at(2)}})
	// This one must be dropped, not applied out of order.
	runner.Publish([]ledger.Event{added("T2", "50", 3)})

	runner.Close()

	assert.True(t, runner.Halted("acc-1"))

	view, err := views.GetTransfer(context.Background(), "acc-1", "T1")
	require.NoError(t, err)
	require.NotNil(t, view)

	dropped, err := views.GetTransfer(context.Background(), "acc-1", "T2")
	require.NoError(t, err)
	assert.Nil(t, dropped)
}

func TestRunner_PublishRacingCloseDoesNotPanic(t *testing.T) {
	views := projection.NewMemoryViews()
	runner := projection.NewRunner(nil, projection.NewTransferProjection(views))

	runner.Publish([]ledger.Event{created(0)})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := ledger.TransferID(fmt.Sprintf("T-%d", i))
			runner.Publish([]ledger.Event{ledger.PointsAdded{AccountID: "acc-1", TransferID: id, Value: dec("1"), At: at(i + 1)}})
		}
	}()

	// Close races the publisher. Sends already in flight must complete
	// before the queues close; later publishes are dropped silently.
	runner.Close()
	wg.Wait()
}

func TestRunner_RebuildReplaysHistory(t *testing.T) {
	views := projection.NewMemoryViews()
	runner := projection.NewRunner(nil,
		projection.NewTransferProjection(views),
		projection.NewAccountProjection(views),
	)

	memory := newSeededStore(t,
		created(0),
		added("T1", "100", 1),
		spent("S1", "40", 2),
	)

	require.NoError(t, runner.Rebuild(context.Background(), memory, "acc-1"))

	account, err := views.GetAccount(context.Background(), "acc-1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.True(t, account.Available.Equal(dec("60")))
}
