package auction

import (
	"fmt"
	"sync"
	"time"

	"github.com/promolink/auction-engine/internal/domain"
)

// Machine holds the live, authoritative state of one auction and enforces
// transition legality. Command methods (Prepare*) validate against the
// current state and stage an event without mutating; the admission gate
// appends the event to the ledger and only then calls Apply. Replay folds
// the same Apply over the ledger, so recovered state matches live state by
// construction.
//
// Mutations are serialized externally by the per-auction admission section;
// the internal RWMutex only protects snapshot readers, which never block on
// the gate.
type Machine struct {
	mu    sync.RWMutex
	state domain.Auction
}

// Replay reconstructs a machine from an auction's ordered event history.
func Replay(events []domain.Event) (*Machine, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("replay: empty event history")
	}

	m := &Machine{}
	for _, ev := range events {
		if err := domain.Apply(&m.state, ev); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
	}
	return m, nil
}

// Snapshot returns an immutable copy of the current state.
func (m *Machine) Snapshot() domain.Auction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Apply commits a staged (ledger-durable) event to the live state.
func (m *Machine) Apply(ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.Apply(&m.state, ev)
}

// PrepareBid validates an english bid and stages the BidAccepted event.
func (m *Machine) PrepareBid(bid domain.Bid) (domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := m.state

	if a.Kind != domain.KindEnglish {
		return nil, domain.Rejected(domain.ReasonAuctionNotActive, a,
			"dutch auctions take claims, not bids")
	}
	// Any state not accepting bids, terminal included, reads
	// AuctionNotActive to the bidder.
	if a.Status != domain.StatusActive && a.Status != domain.StatusEnding {
		return nil, domain.Rejected(domain.ReasonAuctionNotActive, a,
			fmt.Sprintf("status is %s", a.Status))
	}

	if min := a.MinNextBid(); bid.Amount < min {
		return nil, domain.Rejected(domain.ReasonBelowIncrement, a,
			fmt.Sprintf("amount %d below minimum %d", bid.Amount, min))
	}

	bid.Outcome = domain.OutcomeAccepted
	return domain.BidAccepted{
		AuctionID:    a.ID,
		Version:      a.Version + 1,
		Bid:          bid,
		PrevLeaderID: a.CurrentLeaderID,
		PrevBid:      a.CurrentBid,
	}, nil
}

// PrepareClaim validates a dutch claim at the committed current price and
// stages the DutchClaimed event. A claim at any other price is stale: the
// price moved between the claimer's read and admission.
func (m *Machine) PrepareClaim(bid domain.Bid) (domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := m.state

	if a.Kind != domain.KindDutch {
		return nil, domain.Rejected(domain.ReasonAuctionNotActive, a,
			"english auctions take bids, not claims")
	}
	if err := m.checkClaimable(a); err != nil {
		return nil, err
	}

	if bid.Amount != a.CurrentPrice {
		return nil, domain.Rejected(domain.ReasonStaleState, a,
			fmt.Sprintf("claim at %d but current price is %d", bid.Amount, a.CurrentPrice))
	}

	bid.Outcome = domain.OutcomeAccepted
	return domain.DutchClaimed{
		AuctionID: a.ID,
		Version:   a.Version + 1,
		Bid:       bid,
	}, nil
}

// PrepareDecayTick stages a dutch price step for the given instant.
// ok is false when the recomputed price equals the committed price, which
// makes replayed or duplicated ticks harmless.
func (m *Machine) PrepareDecayTick(at time.Time) (domain.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := m.state

	if a.Kind != domain.KindDutch || a.Status.IsTerminal() || a.Status == domain.StatusPending {
		return nil, false
	}

	price := a.DecayedPriceAt(at)
	if price == a.CurrentPrice {
		return nil, false
	}

	return domain.PriceDecayed{
		AuctionID: a.ID,
		Version:   a.Version + 1,
		At:        at,
		NewPrice:  price,
	}, true
}

// PrepareActivate stages the pending → active transition.
// ok is false when the auction already left pending.
func (m *Machine) PrepareActivate(at time.Time) (domain.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := m.state

	if a.Status != domain.StatusPending {
		return nil, false
	}
	return domain.AuctionActivated{AuctionID: a.ID, Version: a.Version + 1, At: at}, true
}

// PrepareEnding stages entry into the ending window.
func (m *Machine) PrepareEnding(at time.Time) (domain.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := m.state

	if a.Status != domain.StatusActive {
		return nil, false
	}
	return domain.AuctionEnding{AuctionID: a.ID, Version: a.Version + 1, At: at}, true
}

// PrepareClose stages the terminal transition at EndAt: closed with the
// current leader for an english auction that has one, expired otherwise.
// ok is false when the auction is already terminal.
func (m *Machine) PrepareClose(reason string, at time.Time) (domain.Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := m.state

	if a.Status.IsTerminal() {
		return nil, false
	}

	if a.Kind == domain.KindEnglish && a.CurrentLeaderID != "" {
		return domain.AuctionClosed{
			AuctionID: a.ID,
			Version:   a.Version + 1,
			At:        at,
			Reason:    reason,
			WinnerID:  a.CurrentLeaderID,
			FinalBid:  a.CurrentBid,
		}, true
	}

	return domain.AuctionExpired{
		AuctionID: a.ID,
		Version:   a.Version + 1,
		At:        at,
		Reason:    reason,
	}, true
}

// checkClaimable rejects claims against auctions that are not accepting.
// A claim after the auction closed reads AlreadyClosed: the claimer raced
// the winning claim (or the close) and lost.
func (m *Machine) checkClaimable(a domain.Auction) error {
	switch {
	case a.Status.IsTerminal():
		return domain.Rejected(domain.ReasonAlreadyClosed, a, "")
	case a.Status != domain.StatusActive && a.Status != domain.StatusEnding:
		return domain.Rejected(domain.ReasonAuctionNotActive, a,
			fmt.Sprintf("status is %s", a.Status))
	}
	return nil
}
