package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type constants
const (
	EventTypeAuctionCreated   = "AuctionCreated"
	EventTypeAuctionActivated = "AuctionActivated"
	EventTypePriceDecayed     = "PriceDecayed"
	EventTypeBidAccepted      = "BidAccepted"
	EventTypeBidRejected      = "BidRejected"
	EventTypeDutchClaimed     = "DutchClaimed"
	EventTypeAuctionEnding    = "AuctionEnding"
	EventTypeAuctionClosed    = "AuctionClosed"
	EventTypeAuctionExpired   = "AuctionExpired"
)

// Event is the base interface for all ledger events.
type Event interface {
	GetType() string
	GetAuctionID() string
	// GetVersion is the auction version this event advances the state to.
	// Zero for audit-only events (rejections) that do not mutate state.
	GetVersion() uint64
}

// EventEnvelope wraps an event with metadata for serialization.
type EventEnvelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// AuctionCreated records the full initial state of a new auction.
type AuctionCreated struct {
	Auction Auction `json:"auction"`
}

func (e AuctionCreated) GetType() string      { return EventTypeAuctionCreated }
func (e AuctionCreated) GetAuctionID() string { return e.Auction.ID }
func (e AuctionCreated) GetVersion() uint64   { return e.Auction.Version }

// AuctionActivated records the pending → active transition at StartAt.
type AuctionActivated struct {
	AuctionID string    `json:"auction_id"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
}

func (e AuctionActivated) GetType() string      { return EventTypeAuctionActivated }
func (e AuctionActivated) GetAuctionID() string { return e.AuctionID }
func (e AuctionActivated) GetVersion() uint64   { return e.Version }

// PriceDecayed records a scheduler-driven dutch price step. NewPrice is the
// full recomputed price, not a delta, so replaying the event is idempotent
// even if the scheduler stalled and skipped intermediate boundaries.
type PriceDecayed struct {
	AuctionID string    `json:"auction_id"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
	NewPrice  int64     `json:"new_price"`
}

func (e PriceDecayed) GetType() string      { return EventTypePriceDecayed }
func (e PriceDecayed) GetAuctionID() string { return e.AuctionID }
func (e PriceDecayed) GetVersion() uint64   { return e.Version }

// BidAccepted records a new leading bid on an english auction.
type BidAccepted struct {
	AuctionID string `json:"auction_id"`
	Version   uint64 `json:"version"`
	Bid       Bid    `json:"bid"`
	// Previous leader, empty for the first accepted bid.
	PrevLeaderID string `json:"prev_leader_id,omitempty"`
	PrevBid      int64  `json:"prev_bid,omitempty"`
}

func (e BidAccepted) GetType() string      { return EventTypeBidAccepted }
func (e BidAccepted) GetAuctionID() string { return e.AuctionID }
func (e BidAccepted) GetVersion() uint64   { return e.Version }

// BidRejected is an audit-only record of a rejected submission. It does not
// advance the auction version and is a no-op on replay.
type BidRejected struct {
	AuctionID string       `json:"auction_id"`
	Bid       Bid          `json:"bid"`
	Reason    RejectReason `json:"reason"`
}

func (e BidRejected) GetType() string      { return EventTypeBidRejected }
func (e BidRejected) GetAuctionID() string { return e.AuctionID }
func (e BidRejected) GetVersion() uint64   { return 0 }

// DutchClaimed records a successful claim at the current decayed price.
// The claim closes the auction.
type DutchClaimed struct {
	AuctionID string `json:"auction_id"`
	Version   uint64 `json:"version"`
	Bid       Bid    `json:"bid"`
}

func (e DutchClaimed) GetType() string      { return EventTypeDutchClaimed }
func (e DutchClaimed) GetAuctionID() string { return e.AuctionID }
func (e DutchClaimed) GetVersion() uint64   { return e.Version }

// AuctionEnding records entry into the ending window before EndAt.
type AuctionEnding struct {
	AuctionID string    `json:"auction_id"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
}

func (e AuctionEnding) GetType() string      { return EventTypeAuctionEnding }
func (e AuctionEnding) GetAuctionID() string { return e.AuctionID }
func (e AuctionEnding) GetVersion() uint64   { return e.Version }

// AuctionClosed records a close with a winner.
type AuctionClosed struct {
	AuctionID string    `json:"auction_id"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
	Reason    string    `json:"reason"`
	WinnerID  string    `json:"winner_id"`
	FinalBid  int64     `json:"final_bid"`
}

func (e AuctionClosed) GetType() string      { return EventTypeAuctionClosed }
func (e AuctionClosed) GetAuctionID() string { return e.AuctionID }
func (e AuctionClosed) GetVersion() uint64   { return e.Version }

// AuctionExpired records expiry with no winner.
type AuctionExpired struct {
	AuctionID string    `json:"auction_id"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
	Reason    string    `json:"reason"`
}

func (e AuctionExpired) GetType() string      { return EventTypeAuctionExpired }
func (e AuctionExpired) GetAuctionID() string { return e.AuctionID }
func (e AuctionExpired) GetVersion() uint64   { return e.Version }

// SerializeEvent converts an event to JSON bytes with envelope.
func SerializeEvent(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	envelope := EventEnvelope{
		Type:      event.GetType(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	return json.Marshal(envelope)
}

// DeserializeEvent converts JSON bytes back to an Event.
func DeserializeEvent(data []byte) (Event, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	var event Event
	switch envelope.Type {
	case EventTypeAuctionCreated:
		var e AuctionCreated
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeAuctionActivated:
		var e AuctionActivated
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypePriceDecayed:
		var e PriceDecayed
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeBidAccepted:
		var e BidAccepted
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeBidRejected:
		var e BidRejected
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeDutchClaimed:
		var e DutchClaimed
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeAuctionEnding:
		var e AuctionEnding
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeAuctionClosed:
		var e AuctionClosed
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	case EventTypeAuctionExpired:
		var e AuctionExpired
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, err
		}
		event = e
	default:
		return nil, fmt.Errorf("unknown event type: %s", envelope.Type)
	}

	return event, nil
}

// SettlementFromEvent builds the settlement notification for a terminal
// event. ok is false for non-terminal events.
func SettlementFromEvent(a Auction, ev Event) (SettlementEvent, bool) {
	switch e := ev.(type) {
	case AuctionClosed:
		return SettlementEvent{
			AuctionID: e.AuctionID,
			Kind:      a.Kind,
			WinnerID:  e.WinnerID,
			FinalBid:  e.FinalBid,
			ClosedAt:  e.At,
		}, true
	case DutchClaimed:
		return SettlementEvent{
			AuctionID: e.AuctionID,
			Kind:      a.Kind,
			WinnerID:  e.Bid.BidderID,
			FinalBid:  e.Bid.Amount,
			ClosedAt:  e.Bid.SubmittedAt,
		}, true
	case AuctionExpired:
		return SettlementEvent{
			AuctionID: e.AuctionID,
			Kind:      a.Kind,
			WinnerID:  UnclaimedWinner,
			FinalBid:  0,
			ClosedAt:  e.At,
		}, true
	}
	return SettlementEvent{}, false
}
