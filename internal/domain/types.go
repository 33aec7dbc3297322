package domain

import "time"

// AuctionKind distinguishes the two pricing models.
type AuctionKind string

const (
	KindDutch   AuctionKind = "dutch"
	KindEnglish AuctionKind = "english"
)

// AuctionStatus represents the lifecycle state of an auction.
// Transitions only move forward: pending → active → ending → {closed, expired}.
type AuctionStatus string

const (
	StatusPending AuctionStatus = "pending"
	StatusActive  AuctionStatus = "active"
	StatusEnding  AuctionStatus = "ending"
	StatusClosed  AuctionStatus = "closed"
	StatusExpired AuctionStatus = "expired"
)

// IsTerminal reports whether the status is closed or expired.
func (s AuctionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusExpired
}

// statusRank orders statuses for the monotonic-transition check.
func statusRank(s AuctionStatus) int {
	switch s {
	case StatusPending:
		return 0
	case StatusActive:
		return 1
	case StatusEnding:
		return 2
	case StatusClosed, StatusExpired:
		return 3
	default:
		return -1
	}
}

// Auction is the authoritative state of one auction.
// All amounts are in cents (int64) to avoid floating-point issues.
type Auction struct {
	ID         string        `json:"id"`
	Kind       AuctionKind   `json:"kind"`
	SubjectRef string        `json:"subject_ref"`
	StartAt    time.Time     `json:"start_at"`
	EndAt      time.Time     `json:"end_at"`
	Status     AuctionStatus `json:"status"`

	// Dutch pricing: price decays from StartPrice by DecayStep every
	// DecayInterval until FloorPrice or a claim.
	StartPrice    int64         `json:"start_price,omitempty"`
	FloorPrice    int64         `json:"floor_price,omitempty"`
	DecayStep     int64         `json:"decay_step,omitempty"`
	DecayInterval time.Duration `json:"decay_interval,omitempty"`
	CurrentPrice  int64         `json:"current_price,omitempty"`

	// English bidding: each new bid must exceed CurrentBid by at least
	// BidIncrement. CurrentLeaderID is empty until the first accepted bid.
	StartingBid     int64  `json:"starting_bid,omitempty"`
	BidIncrement    int64  `json:"bid_increment,omitempty"`
	CurrentBid      int64  `json:"current_bid,omitempty"`
	CurrentLeaderID string `json:"current_leader_id,omitempty"`

	// Version increments on every accepted mutation. It doubles as the
	// optimistic-concurrency guard and the replay cursor.
	Version uint64 `json:"version"`

	// ClosedAt is set when the auction reaches a terminal status.
	ClosedAt time.Time `json:"closed_at,omitempty"`
}

// BidOutcome is the final disposition of a submitted bid.
type BidOutcome string

const (
	OutcomeAccepted   BidOutcome = "accepted"
	OutcomeRejected   BidOutcome = "rejected"
	OutcomeSuperseded BidOutcome = "superseded_by_outbid"
)

// Bid is one submitted bid (or dutch claim). Immutable once written to the
// ledger; the superseded outcome is derived on the read side, never rewritten.
type Bid struct {
	ID          string     `json:"id"`
	AuctionID   string     `json:"auction_id"`
	BidderID    string     `json:"bidder_id"`
	Amount      int64      `json:"amount"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Outcome     BidOutcome `json:"outcome"`
}

// SettlementEvent is emitted exactly once per auction on transition to a
// terminal status, for the external payment/commission collaborator.
type SettlementEvent struct {
	AuctionID string      `json:"auction_id"`
	Kind      AuctionKind `json:"kind"`
	// WinnerID is "unclaimed" when the auction expired without a winner.
	WinnerID string    `json:"winner_id"`
	FinalBid int64     `json:"final_bid"`
	ClosedAt time.Time `json:"closed_at"`
}

// UnclaimedWinner marks a settlement with no winning bidder.
const UnclaimedWinner = "unclaimed"
