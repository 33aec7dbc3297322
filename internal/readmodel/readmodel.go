package readmodel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/promolink/auction-engine/internal/domain"
	"github.com/promolink/auction-engine/internal/ledger"
)

const snapshotKey = "auction:snapshots"

// ReadModel is the query side: last-committed snapshots and the full bid
// history per auction. It folds the same transition function as the live
// machines, fed by the gate's event stream, and never touches the admission
// section, so reads never block on writers.
//
// The ledger is never rewritten; when a later bid is accepted, the previous
// leader's bid is re-labelled superseded here, on the derived view only.
type ReadModel struct {
	mu        sync.RWMutex
	snapshots map[string]domain.Auction
	history   map[string][]domain.Bid
	// Index of the currently accepted bid in history, per auction.
	leaderIdx map[string]int

	// Optional snapshot mirror for out-of-process readers (dashboards).
	rdb *redis.Client
}

// New creates a read model. rdb may be nil when no Redis mirror is wanted.
func New(rdb *redis.Client) *ReadModel {
	return &ReadModel{
		snapshots: make(map[string]domain.Auction),
		history:   make(map[string][]domain.Bid),
		leaderIdx: make(map[string]int),
		rdb:       rdb,
	}
}

// InitializeFromStore replays the full ledger to rebuild the view.
func (r *ReadModel) InitializeFromStore(store ledger.Store) error {
	events, err := store.LoadAll()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		r.applyEvent(ev)
	}

	slog.Info("read model initialized",
		slog.Int("events", len(events)),
		slog.Int("auctions", len(r.snapshots)))
	return nil
}

// HandleEvent ingests one committed event. Registered on the gate.
func (r *ReadModel) HandleEvent(ev domain.Event) {
	r.mu.Lock()
	r.applyEvent(ev)
	snap, ok := r.snapshots[ev.GetAuctionID()]
	r.mu.Unlock()

	if ok {
		r.mirror(snap)
	}
}

// GetSnapshot returns the last committed snapshot of an auction.
func (r *ReadModel) GetSnapshot(auctionID string) (domain.Auction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.snapshots[auctionID]
	return a, ok
}

// GetHistory returns the ordered bid audit trail of an auction, with
// derived outcomes.
func (r *ReadModel) GetHistory(auctionID string) []domain.Bid {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.history[auctionID]
	out := make([]domain.Bid, len(src))
	copy(out, src)
	return out
}

// applyEvent updates the view. Caller must hold the lock.
func (r *ReadModel) applyEvent(ev domain.Event) {
	id := ev.GetAuctionID()

	switch e := ev.(type) {
	case domain.BidRejected:
		r.history[id] = append(r.history[id], e.Bid)
		return

	case domain.BidAccepted:
		if idx, ok := r.leaderIdx[id]; ok {
			r.history[id][idx].Outcome = domain.OutcomeSuperseded
		}
		r.history[id] = append(r.history[id], e.Bid)
		r.leaderIdx[id] = len(r.history[id]) - 1

	case domain.DutchClaimed:
		r.history[id] = append(r.history[id], e.Bid)
		r.leaderIdx[id] = len(r.history[id]) - 1
	}

	snap := r.snapshots[id]
	if err := domain.Apply(&snap, ev); err != nil {
		slog.Error("read model apply failed",
			slog.String("auction_id", id), slog.Any("error", err))
		return
	}
	r.snapshots[id] = snap
}

// mirror writes the snapshot to Redis for out-of-process readers.
// Best effort: a mirror failure never affects the engine.
func (r *ReadModel) mirror(snap domain.Auction) {
	if r.rdb == nil {
		return
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := r.rdb.HSet(ctx, snapshotKey, snap.ID, data).Err(); err != nil {
		slog.Warn("failed to mirror snapshot to redis",
			slog.String("auction_id", snap.ID), slog.Any("error", err))
	}
}
