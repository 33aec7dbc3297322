package domain

import (
	"errors"
	"fmt"
)

// RejectReason is the machine-readable reason a submission was rejected.
type RejectReason string

const (
	ReasonStaleState        RejectReason = "stale_state"
	ReasonBelowIncrement    RejectReason = "below_increment"
	ReasonAuctionNotActive  RejectReason = "auction_not_active"
	ReasonAlreadyClosed     RejectReason = "already_closed"
	ReasonBusy              RejectReason = "busy"
	ReasonPersistenceFailed RejectReason = "persistence_failed"
)

// RejectedError carries the rejection reason together with the current
// authoritative snapshot, so a retrying client can pick a new valid amount
// without a second round trip.
type RejectedError struct {
	Reason   RejectReason
	Snapshot Auction
	Detail   string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("bid rejected: %s", e.Reason)
	}
	return fmt.Sprintf("bid rejected: %s: %s", e.Reason, e.Detail)
}

// Rejected builds a RejectedError.
func Rejected(reason RejectReason, snap Auction, detail string) *RejectedError {
	return &RejectedError{Reason: reason, Snapshot: snap, Detail: detail}
}

// ReasonOf extracts the rejection reason from an error, or "" if the error
// is not a rejection.
func ReasonOf(err error) RejectReason {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// ErrAuctionNotFound is returned by the registry for unknown auction IDs.
var ErrAuctionNotFound = errors.New("auction not found")
