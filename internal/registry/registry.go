package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promolink/auction-engine/internal/auction"
	"github.com/promolink/auction-engine/internal/clock"
	"github.com/promolink/auction-engine/internal/domain"
	"github.com/promolink/auction-engine/internal/ledger"
	"github.com/promolink/auction-engine/internal/telemetry"
)

// SubjectDirectory is the external collaborator that owns promoted entities.
// The engine checks referential integrity at creation time only, never
// during bidding.
type SubjectDirectory interface {
	LookupSubject(ctx context.Context, subjectRef string) (bool, error)
}

// AllowAllSubjects accepts every subject reference. Used when no directory
// collaborator is wired.
type AllowAllSubjects struct{}

func (AllowAllSubjects) LookupSubject(context.Context, string) (bool, error) { return true, nil }

// CreateSpec is the campaign-setup input for a new auction.
type CreateSpec struct {
	Kind       domain.AuctionKind `json:"kind"`
	SubjectRef string             `json:"subject_ref"`
	StartAt    time.Time          `json:"start_at"`
	EndAt      time.Time          `json:"end_at"`

	// Dutch
	StartPrice    int64         `json:"start_price,omitempty"`
	FloorPrice    int64         `json:"floor_price,omitempty"`
	DecayStep     int64         `json:"decay_step,omitempty"`
	DecayInterval time.Duration `json:"decay_interval,omitempty"`

	// English
	StartingBid  int64 `json:"starting_bid,omitempty"`
	BidIncrement int64 `json:"bid_increment,omitempty"`
}

// Registry maps auction IDs to live state machines. Machines are hydrated
// lazily from the ledger on first access and evicted once terminal plus a
// retention window, to bound memory.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*auction.Machine

	store     ledger.Store
	clock     clock.Clock
	subjects  SubjectDirectory
	retention time.Duration
}

// New creates a registry over the given ledger. A nil subjects directory
// allows every subject reference.
func New(store ledger.Store, clk clock.Clock, subjects SubjectDirectory, retention time.Duration) *Registry {
	if subjects == nil {
		subjects = AllowAllSubjects{}
	}
	return &Registry{
		machines:  make(map[string]*auction.Machine),
		store:     store,
		clock:     clk,
		subjects:  subjects,
		retention: retention,
	}
}

// PrepareCreate validates a creation spec and stages the AuctionCreated
// event. The caller appends it to the ledger before Install.
func (r *Registry) PrepareCreate(ctx context.Context, spec CreateSpec) (domain.AuctionCreated, error) {
	var zero domain.AuctionCreated

	if spec.Kind != domain.KindDutch && spec.Kind != domain.KindEnglish {
		return zero, fmt.Errorf("kind must be %q or %q", domain.KindDutch, domain.KindEnglish)
	}
	if !spec.StartAt.Before(spec.EndAt) {
		return zero, fmt.Errorf("startAt must precede endAt")
	}

	switch spec.Kind {
	case domain.KindDutch:
		if spec.StartPrice <= 0 {
			return zero, fmt.Errorf("startPrice must be positive")
		}
		if spec.FloorPrice < 0 || spec.FloorPrice > spec.StartPrice {
			return zero, fmt.Errorf("floorPrice must be in [0, startPrice]")
		}
		if spec.DecayStep <= 0 || spec.DecayInterval <= 0 {
			return zero, fmt.Errorf("decayStep and decayInterval must be positive")
		}
	case domain.KindEnglish:
		if spec.StartingBid <= 0 {
			return zero, fmt.Errorf("startingBid must be positive")
		}
		// A zero increment would allow equal-amount ties; rejected here so
		// the gate's admission order remains the only tie-break needed.
		if spec.BidIncrement <= 0 {
			return zero, fmt.Errorf("bidIncrement must be positive")
		}
	}

	exists, err := r.subjects.LookupSubject(ctx, spec.SubjectRef)
	if err != nil {
		return zero, fmt.Errorf("subject lookup failed: %w", err)
	}
	if !exists {
		return zero, fmt.Errorf("subject %q does not exist", spec.SubjectRef)
	}

	a := domain.Auction{
		ID:         uuid.New().String(),
		Kind:       spec.Kind,
		SubjectRef: spec.SubjectRef,
		StartAt:    spec.StartAt,
		EndAt:      spec.EndAt,
		Status:     domain.StatusPending,
		Version:    1,
	}
	if spec.Kind == domain.KindDutch {
		a.StartPrice = spec.StartPrice
		a.FloorPrice = spec.FloorPrice
		a.DecayStep = spec.DecayStep
		a.DecayInterval = spec.DecayInterval
		a.CurrentPrice = spec.StartPrice
	} else {
		a.StartingBid = spec.StartingBid
		a.BidIncrement = spec.BidIncrement
	}

	return domain.AuctionCreated{Auction: a}, nil
}

// Install registers the machine for a ledger-committed AuctionCreated event.
func (r *Registry) Install(ev domain.AuctionCreated) (*auction.Machine, error) {
	m, err := auction.Replay([]domain.Event{ev})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent Get may already have hydrated this auction from the
	// ledger; that machine may carry state past version 1. Keep it.
	if existing, ok := r.machines[ev.Auction.ID]; ok {
		return existing, nil
	}
	r.machines[ev.Auction.ID] = m
	telemetry.LiveAuctions.Set(float64(len(r.machines)))
	return m, nil
}

// Get returns the live machine for an auction, hydrating it from the ledger
// on first access.
func (r *Registry) Get(auctionID string) (*auction.Machine, error) {
	r.mu.RLock()
	m, ok := r.machines[auctionID]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	events, err := r.store.ReadAll(auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger for %s: %w", auctionID, err)
	}
	if len(events) == 0 {
		return nil, domain.ErrAuctionNotFound
	}

	m, err = auction.Replay(events)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have hydrated concurrently; keep the first.
	if existing, ok := r.machines[auctionID]; ok {
		return existing, nil
	}
	r.machines[auctionID] = m
	telemetry.LiveAuctions.Set(float64(len(r.machines)))
	return m, nil
}

// Recover hydrates every auction found in the ledger. Terminal auctions
// within the retention window stay resident for settlement queries; older
// ones are left to the ledger.
func (r *Registry) Recover() error {
	all, err := r.store.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	byAuction := make(map[string][]domain.Event)
	var order []string
	for _, ev := range all {
		id := ev.GetAuctionID()
		if _, seen := byAuction[id]; !seen {
			order = append(order, id)
		}
		byAuction[id] = append(byAuction[id], ev)
	}

	now := r.clock.Now()
	recovered := 0

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range order {
		m, err := auction.Replay(byAuction[id])
		if err != nil {
			return fmt.Errorf("auction %s: %w", id, err)
		}
		snap := m.Snapshot()
		if snap.Status.IsTerminal() && now.Sub(snap.ClosedAt) > r.retention {
			continue
		}
		r.machines[id] = m
		recovered++
	}

	telemetry.LiveAuctions.Set(float64(len(r.machines)))
	slog.Info("registry recovered from ledger",
		slog.Int("events", len(all)),
		slog.Int("auctions", recovered))
	return nil
}

// Live returns snapshots of every resident auction.
func (r *Registry) Live() []domain.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Auction, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m.Snapshot())
	}
	return out
}

// EvictTerminal removes terminal auctions whose retention window has
// elapsed. Returns the number evicted. Their history stays in the ledger.
func (r *Registry) EvictTerminal() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, m := range r.machines {
		snap := m.Snapshot()
		if snap.Status.IsTerminal() && now.Sub(snap.ClosedAt) > r.retention {
			delete(r.machines, id)
			evicted++
		}
	}
	if evicted > 0 {
		telemetry.LiveAuctions.Set(float64(len(r.machines)))
		slog.Info("evicted terminal auctions", slog.Int("count", evicted))
	}
	return evicted
}
