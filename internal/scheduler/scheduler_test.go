package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promolink/auction-engine/internal/clock"
	"github.com/promolink/auction-engine/internal/domain"
	"github.com/promolink/auction-engine/internal/gate"
	"github.com/promolink/auction-engine/internal/ledger"
	"github.com/promolink/auction-engine/internal/registry"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store *ledger.MemoryStore
	clk   *clock.Fake
	reg   *registry.Registry
	gate  *gate.Gate
	sched *Scheduler
}

func newTestEnv(t *testing.T, endingWindow time.Duration) *testEnv {
	t.Helper()

	store := ledger.NewMemoryStore()
	return newTestEnvWithStore(t, store, endingWindow)
}

func newTestEnvWithStore(t *testing.T, store *ledger.MemoryStore, endingWindow time.Duration) *testEnv {
	t.Helper()

	clk := clock.NewFake(testStart)
	reg := registry.New(store, clk, nil, 12*time.Hour)
	require.NoError(t, reg.Recover())
	g := gate.New(reg, store, clk, time.Second)
	return &testEnv{
		store: store,
		clk:   clk,
		reg:   reg,
		gate:  g,
		sched: New(g, reg, clk, endingWindow),
	}
}

func (e *testEnv) createEnglish(t *testing.T, endAt time.Time) string {
	t.Helper()

	snap, err := e.gate.CreateAuction(context.Background(), registry.CreateSpec{
		Kind:         domain.KindEnglish,
		SubjectRef:   "promoter-7",
		StartAt:      testStart,
		EndAt:        endAt,
		StartingBid:  100,
		BidIncrement: 25,
	})
	require.NoError(t, err)
	e.sched.Track(snap)
	return snap.ID
}

func (e *testEnv) createDutch(t *testing.T, endAt time.Time) string {
	t.Helper()

	snap, err := e.gate.CreateAuction(context.Background(), registry.CreateSpec{
		Kind:          domain.KindDutch,
		SubjectRef:    "promo-3",
		StartAt:       testStart,
		EndAt:         endAt,
		StartPrice:    10000,
		FloorPrice:    4000,
		DecayStep:     1000,
		DecayInterval: time.Hour,
	})
	require.NoError(t, err)
	e.sched.Track(snap)
	return snap.ID
}

func (e *testEnv) snapshot(t *testing.T, auctionID string) domain.Auction {
	t.Helper()

	m, err := e.reg.Get(auctionID)
	require.NoError(t, err)
	return m.Snapshot()
}

func TestActivationAtStart(t *testing.T) {
	env := newTestEnv(t, 0)
	id := env.createEnglish(t, testStart.Add(48*time.Hour))

	assert.Equal(t, domain.StatusPending, env.snapshot(t, id).Status)

	committed := env.sched.ProcessDue(env.clk.Now())
	assert.Equal(t, 1, committed)
	assert.Equal(t, domain.StatusActive, env.snapshot(t, id).Status)

	// Nothing else is due before endAt.
	assert.Equal(t, 0, env.sched.ProcessDue(env.clk.Now()))
}

func TestDutchDecayFollowsBoundaries(t *testing.T) {
	env := newTestEnv(t, 0)
	id := env.createDutch(t, testStart.Add(48*time.Hour))
	env.sched.ProcessDue(env.clk.Now()) // activate

	env.clk.Advance(time.Hour)
	require.Equal(t, 1, env.sched.ProcessDue(env.clk.Now()))
	assert.Equal(t, int64(9000), env.snapshot(t, id).CurrentPrice)

	// A stalled scheduler catches up in one tick: two missed boundaries
	// collapse into a single recomputed price.
	env.clk.Advance(2 * time.Hour)
	require.Equal(t, 1, env.sched.ProcessDue(env.clk.Now()))
	assert.Equal(t, int64(7000), env.snapshot(t, id).CurrentPrice)

	// Decay stops at the floor.
	env.clk.Advance(10 * time.Hour)
	env.sched.ProcessDue(env.clk.Now())
	snap := env.snapshot(t, id)
	assert.Equal(t, int64(4000), snap.CurrentPrice)
	assert.Equal(t, domain.StatusActive, snap.Status)
}

func TestEndingWindowThenExpiry(t *testing.T) {
	env := newTestEnv(t, 24*time.Hour)
	id := env.createEnglish(t, testStart.Add(48*time.Hour))
	env.sched.ProcessDue(env.clk.Now()) // activate

	env.clk.Advance(24 * time.Hour)
	require.Equal(t, 1, env.sched.ProcessDue(env.clk.Now()))
	assert.Equal(t, domain.StatusEnding, env.snapshot(t, id).Status)

	// Bids are still admitted inside the ending window.
	_, err := env.gate.SubmitBid(context.Background(), id, "brand-a", 100)
	require.NoError(t, err)

	env.clk.Advance(24 * time.Hour)
	require.Equal(t, 1, env.sched.ProcessDue(env.clk.Now()))
	snap := env.snapshot(t, id)
	assert.Equal(t, domain.StatusClosed, snap.Status)
	assert.Equal(t, "brand-a", snap.CurrentLeaderID)
}

func TestCloseWithoutBidsExpires(t *testing.T) {
	env := newTestEnv(t, 0)
	id := env.createEnglish(t, testStart.Add(2*time.Hour))
	env.sched.ProcessDue(env.clk.Now()) // activate

	env.clk.Advance(2 * time.Hour)
	require.Equal(t, 1, env.sched.ProcessDue(env.clk.Now()))
	assert.Equal(t, domain.StatusExpired, env.snapshot(t, id).Status)

	events, err := env.store.ReadAll(id)
	require.NoError(t, err)
	_, expired := events[len(events)-1].(domain.AuctionExpired)
	assert.True(t, expired)
}

// A restart drops all timers; Rebuild re-derives them from recovered
// snapshots, and an auction already past endAt closes immediately with the
// last accepted bid as winner.
func TestRebuildClosesOverdueAuctions(t *testing.T) {
	store := ledger.NewMemoryStore()

	env1 := newTestEnvWithStore(t, store, 0)
	withBid := env1.createEnglish(t, testStart.Add(2*time.Hour))
	noBids := env1.createEnglish(t, testStart.Add(2*time.Hour))
	env1.sched.ProcessDue(env1.clk.Now())
	_, err := env1.gate.SubmitBid(context.Background(), withBid, "brand-a", 100)
	require.NoError(t, err)

	// New process, three hours later: both auctions are overdue.
	env2 := newTestEnvWithStore(t, store, 0)
	env2.clk.Set(testStart.Add(3 * time.Hour))
	env2.sched.Rebuild()

	committed := env2.sched.ProcessDue(env2.clk.Now())
	assert.Equal(t, 2, committed)

	snap := env2.snapshot(t, withBid)
	assert.Equal(t, domain.StatusClosed, snap.Status)
	assert.Equal(t, "brand-a", snap.CurrentLeaderID)

	assert.Equal(t, domain.StatusExpired, env2.snapshot(t, noBids).Status)
}

// A pending auction recovered past its endAt never activates; it goes
// straight to expired.
func TestRebuildExpiresPendingPastEnd(t *testing.T) {
	store := ledger.NewMemoryStore()

	env1 := newTestEnvWithStore(t, store, 0)
	id := env1.createEnglish(t, testStart.Add(time.Hour))

	env2 := newTestEnvWithStore(t, store, 0)
	env2.clk.Set(testStart.Add(2 * time.Hour))
	env2.sched.Rebuild()
	require.Equal(t, 1, env2.sched.ProcessDue(env2.clk.Now()))

	snap := env2.snapshot(t, id)
	assert.Equal(t, domain.StatusExpired, snap.Status)
}

// A transition that fails to persist is retried, not lost.
func TestFailedTransitionIsRequeued(t *testing.T) {
	env := newTestEnv(t, 0)
	id := env.createEnglish(t, testStart.Add(time.Hour))

	env.store.FailWith(errors.New("disk full"))
	assert.Equal(t, 0, env.sched.ProcessDue(env.clk.Now()))
	assert.Equal(t, domain.StatusPending, env.snapshot(t, id).Status)

	env.store.FailWith(nil)
	env.clk.Advance(time.Second)
	assert.Equal(t, 1, env.sched.ProcessDue(env.clk.Now()))
	assert.Equal(t, domain.StatusActive, env.snapshot(t, id).Status)
}

// Re-running a due transition commits nothing the second time.
func TestDueTransitionsAreIdempotent(t *testing.T) {
	env := newTestEnv(t, 0)
	id := env.createDutch(t, testStart.Add(48*time.Hour))
	env.sched.ProcessDue(env.clk.Now())

	// Track duplicates the pending decay entry; when both come due only
	// the first commits, the second recomputes the same price.
	env.sched.Track(env.snapshot(t, id))
	env.clk.Advance(time.Hour)
	assert.Equal(t, 1, env.sched.ProcessDue(env.clk.Now()))
	snap := env.snapshot(t, id)
	assert.Equal(t, int64(9000), snap.CurrentPrice)
	assert.Equal(t, uint64(3), snap.Version)
}
