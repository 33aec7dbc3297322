package domain

import "time"

// DecayedPriceAt recomputes the dutch price as a pure function of elapsed
// whole decay intervals since StartAt:
//
//	max(FloorPrice, StartPrice − DecayStep × ⌊(t − StartAt) / DecayInterval⌋)
//
// Deriving from absolute time rather than tick count makes decay ticks
// idempotent and immune to missed-tick drift.
func (a Auction) DecayedPriceAt(t time.Time) int64 {
	if a.Kind != KindDutch || a.DecayInterval <= 0 {
		return a.CurrentPrice
	}
	if !t.After(a.StartAt) {
		return a.StartPrice
	}

	steps := int64(t.Sub(a.StartAt) / a.DecayInterval)
	price := a.StartPrice - a.DecayStep*steps
	if price < a.FloorPrice {
		price = a.FloorPrice
	}
	return price
}

// NextDecayAfter returns the next decay boundary strictly after t, or
// ok=false when the price can no longer move (floor reached, or the next
// boundary falls past EndAt).
func (a Auction) NextDecayAfter(t time.Time) (time.Time, bool) {
	if a.Kind != KindDutch || a.DecayInterval <= 0 {
		return time.Time{}, false
	}
	if a.DecayedPriceAt(t) <= a.FloorPrice {
		return time.Time{}, false
	}

	var next time.Time
	if t.Before(a.StartAt) {
		next = a.StartAt.Add(a.DecayInterval)
	} else {
		elapsed := t.Sub(a.StartAt) / a.DecayInterval
		next = a.StartAt.Add(a.DecayInterval * (elapsed + 1))
	}
	if !next.Before(a.EndAt) {
		return time.Time{}, false
	}
	return next, true
}

// MinNextBid is the smallest amount a new english bid may carry: the
// starting bid while no bid has been accepted, CurrentBid + BidIncrement
// afterwards.
func (a Auction) MinNextBid() int64 {
	if a.CurrentLeaderID == "" {
		return a.StartingBid
	}
	return a.CurrentBid + a.BidIncrement
}
