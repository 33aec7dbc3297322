package domain

import "fmt"

// Apply folds one event into the auction state. It is the single transition
// function shared by the live state machine, ledger replay, and the read
// model, so that replay(ledger) reproduces the live snapshot exactly.
//
// Mutating events must carry version == a.Version+1; anything else means a
// lost update and fails loudly instead of corrupting state.
func Apply(a *Auction, ev Event) error {
	switch e := ev.(type) {
	case AuctionCreated:
		if a.ID != "" {
			return fmt.Errorf("auction %s already created", a.ID)
		}
		if e.Auction.Version != 1 {
			return fmt.Errorf("created event for %s has version %d, want 1", e.Auction.ID, e.Auction.Version)
		}
		*a = e.Auction
		return nil

	case BidRejected:
		// Audit-only, no state change.
		return nil
	}

	if err := checkVersion(a, ev); err != nil {
		return err
	}

	switch e := ev.(type) {
	case AuctionActivated:
		if err := advanceStatus(a, StatusActive); err != nil {
			return err
		}

	case PriceDecayed:
		if e.NewPrice < a.FloorPrice || e.NewPrice > a.CurrentPrice {
			return fmt.Errorf("auction %s: decay to %d outside [%d, %d]",
				a.ID, e.NewPrice, a.FloorPrice, a.CurrentPrice)
		}
		a.CurrentPrice = e.NewPrice

	case BidAccepted:
		a.CurrentBid = e.Bid.Amount
		a.CurrentLeaderID = e.Bid.BidderID

	case DutchClaimed:
		if err := advanceStatus(a, StatusClosed); err != nil {
			return err
		}
		a.CurrentLeaderID = e.Bid.BidderID
		a.ClosedAt = e.Bid.SubmittedAt

	case AuctionEnding:
		if err := advanceStatus(a, StatusEnding); err != nil {
			return err
		}

	case AuctionClosed:
		if err := advanceStatus(a, StatusClosed); err != nil {
			return err
		}
		a.ClosedAt = e.At

	case AuctionExpired:
		if err := advanceStatus(a, StatusExpired); err != nil {
			return err
		}
		a.ClosedAt = e.At

	default:
		return fmt.Errorf("unknown event %T", ev)
	}

	a.Version = ev.GetVersion()
	return nil
}

func checkVersion(a *Auction, ev Event) error {
	if ev.GetAuctionID() != a.ID {
		return fmt.Errorf("event for auction %s applied to %s", ev.GetAuctionID(), a.ID)
	}
	if ev.GetVersion() != a.Version+1 {
		return fmt.Errorf("auction %s: event version %d does not follow %d (lost update)",
			a.ID, ev.GetVersion(), a.Version)
	}
	return nil
}

func advanceStatus(a *Auction, to AuctionStatus) error {
	if a.Status.IsTerminal() {
		return fmt.Errorf("auction %s is already %s", a.ID, a.Status)
	}
	if statusRank(to) < statusRank(a.Status) {
		return fmt.Errorf("auction %s: illegal transition %s → %s", a.ID, a.Status, to)
	}
	a.Status = to
	return nil
}
