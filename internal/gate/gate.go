package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/promolink/auction-engine/internal/auction"
	"github.com/promolink/auction-engine/internal/clock"
	"github.com/promolink/auction-engine/internal/domain"
	"github.com/promolink/auction-engine/internal/ledger"
	"github.com/promolink/auction-engine/internal/registry"
	"github.com/promolink/auction-engine/internal/telemetry"
)

// EventHandler receives every ledger-committed event (for the read model,
// notifier, and other subscribers).
type EventHandler func(event domain.Event)

// Gate is the single serialization point for all mutations of one auction.
// Bid submissions and scheduler-driven transitions both pass through the
// same per-auction exclusive section, so "read state, validate, append,
// apply" is atomic against every other writer of that auction. Different
// auctions proceed fully in parallel.
type Gate struct {
	reg   *registry.Registry
	store ledger.Store
	clock clock.Clock

	// Bounded wait for the per-auction section; beyond it a submission is
	// rejected Busy rather than queued indefinitely.
	acquireTimeout time.Duration

	sectionsMu sync.Mutex
	sections   map[string]chan struct{}

	handlersMu sync.RWMutex
	handlers   []EventHandler
}

// New creates a gate over the registry and ledger.
func New(reg *registry.Registry, store ledger.Store, clk clock.Clock, acquireTimeout time.Duration) *Gate {
	return &Gate{
		reg:            reg,
		store:          store,
		clock:          clk,
		acquireTimeout: acquireTimeout,
		sections:       make(map[string]chan struct{}),
	}
}

// RegisterEventHandler registers a handler to receive committed events.
func (g *Gate) RegisterEventHandler(h EventHandler) {
	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()
	g.handlers = append(g.handlers, h)
}

// CreateAuction validates a campaign-setup spec, durably records the
// creation, and registers the new machine.
func (g *Gate) CreateAuction(ctx context.Context, spec registry.CreateSpec) (domain.Auction, error) {
	ev, err := g.reg.PrepareCreate(ctx, spec)
	if err != nil {
		return domain.Auction{}, err
	}

	if _, err := g.append(ev); err != nil {
		return domain.Auction{}, err
	}

	m, err := g.reg.Install(ev)
	if err != nil {
		return domain.Auction{}, err
	}

	g.notify(ev)
	return m.Snapshot(), nil
}

// SubmitBid admits one english bid: acquire the auction's section, validate
// against the serialized current state, append to the ledger, apply, notify.
// The ledger append happens before the state mutation; a storage failure
// leaves the machine untouched.
func (g *Gate) SubmitBid(ctx context.Context, auctionID, bidderID string, amount int64) (domain.Auction, error) {
	return g.admit(ctx, auctionID, bidderID, amount, "gate.SubmitBid",
		func(m *auction.Machine, bid domain.Bid) (domain.Event, error) {
			return m.PrepareBid(bid)
		})
}

// Claim admits one dutch claim at the given price.
func (g *Gate) Claim(ctx context.Context, auctionID, bidderID string, atPrice int64) (domain.Auction, error) {
	return g.admit(ctx, auctionID, bidderID, atPrice, "gate.Claim",
		func(m *auction.Machine, bid domain.Bid) (domain.Event, error) {
			return m.PrepareClaim(bid)
		})
}

func (g *Gate) admit(
	ctx context.Context,
	auctionID, bidderID string,
	amount int64,
	spanName string,
	prepare func(*auction.Machine, domain.Bid) (domain.Event, error),
) (domain.Auction, error) {
	start := time.Now()

	if telemetry.Tracer != nil {
		var span trace.Span
		ctx, span = telemetry.Tracer.Start(ctx, spanName,
			trace.WithAttributes(
				attribute.String("auction_id", auctionID),
				attribute.String("bidder_id", bidderID),
				attribute.Int64("amount", amount),
			),
		)
		defer span.End()
	}

	m, err := g.reg.Get(auctionID)
	if err != nil {
		telemetry.BidsTotal.WithLabelValues(string(domain.ReasonAuctionNotActive)).Inc()
		return domain.Auction{}, domain.Rejected(domain.ReasonAuctionNotActive,
			domain.Auction{ID: auctionID}, err.Error())
	}

	// Snapshot observed at submission entry; used below to tell a stale
	// race loser apart from a genuinely low bid.
	observed := m.Snapshot()

	release, err := g.acquire(ctx, auctionID)
	if err != nil {
		telemetry.BidsTotal.WithLabelValues(string(domain.ReasonBusy)).Inc()
		return observed, domain.Rejected(domain.ReasonBusy, m.Snapshot(), err.Error())
	}
	defer release()

	bid := domain.Bid{
		ID:          uuid.New().String(),
		AuctionID:   auctionID,
		BidderID:    bidderID,
		Amount:      amount,
		SubmittedAt: g.clock.Now(),
	}

	ev, err := prepare(m, bid)
	if err != nil {
		err = g.reclassifyStale(err, observed, m.Snapshot(), amount)
		g.recordRejection(ctx, bid, err)
		return m.Snapshot(), err
	}

	if _, err := g.append(ev); err != nil {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ledger append failed")
		}
		telemetry.BidsTotal.WithLabelValues(string(domain.ReasonPersistenceFailed)).Inc()
		return m.Snapshot(), domain.Rejected(domain.ReasonPersistenceFailed, m.Snapshot(), err.Error())
	}

	if err := m.Apply(ev); err != nil {
		// The event was validated against the serialized state; a failed
		// apply after a durable append means a bug, not a recoverable
		// condition.
		slog.Error("apply after durable append failed",
			slog.String("auction_id", auctionID), slog.Any("error", err))
		return m.Snapshot(), fmt.Errorf("apply committed event: %w", err)
	}

	g.notify(ev)

	telemetry.BidsTotal.WithLabelValues(string(domain.OutcomeAccepted)).Inc()
	telemetry.BidAmount.WithLabelValues(string(domain.OutcomeAccepted)).Observe(float64(amount))
	telemetry.AdmissionDuration.Observe(time.Since(start).Seconds())

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
	return m.Snapshot(), nil
}

// RunScheduled funnels a time-driven transition through the same section as
// bids. prepare returns ok=false when the transition no longer applies
// (already happened, or the status moved on), which makes re-runs harmless.
func (g *Gate) RunScheduled(
	ctx context.Context,
	auctionID string,
	prepare func(m *auction.Machine) (domain.Event, bool),
) (domain.Auction, bool, error) {
	m, err := g.reg.Get(auctionID)
	if err != nil {
		return domain.Auction{}, false, err
	}

	release, err := g.acquireBlocking(ctx, auctionID)
	if err != nil {
		return m.Snapshot(), false, err
	}
	defer release()

	ev, ok := prepare(m)
	if !ok {
		return m.Snapshot(), false, nil
	}

	if _, err := g.append(ev); err != nil {
		return m.Snapshot(), false, err
	}

	if err := m.Apply(ev); err != nil {
		return m.Snapshot(), false, fmt.Errorf("apply committed event: %w", err)
	}

	g.notify(ev)
	return m.Snapshot(), true, nil
}

// reclassifyStale upgrades BelowIncrement to StaleState when the bid would
// have satisfied the increment against the state observed at submission
// entry: the bidder lost a race, they did not lowball.
func (g *Gate) reclassifyStale(err error, observed, current domain.Auction, amount int64) error {
	if domain.ReasonOf(err) != domain.ReasonBelowIncrement {
		return err
	}
	if current.Version == observed.Version {
		return err
	}
	if amount >= observed.MinNextBid() {
		return domain.Rejected(domain.ReasonStaleState, current,
			fmt.Sprintf("outbid while in flight: current bid is %d", current.CurrentBid))
	}
	return err
}

// recordRejection appends the audit record for a rejected submission and
// bumps metrics. Append failures are logged, not surfaced: the bid is
// rejected either way, and rejections carry no state.
func (g *Gate) recordRejection(ctx context.Context, bid domain.Bid, err error) {
	reason := domain.ReasonOf(err)
	telemetry.BidsTotal.WithLabelValues(string(reason)).Inc()
	telemetry.BidAmount.WithLabelValues(string(domain.OutcomeRejected)).Observe(float64(bid.Amount))

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("reject_reason", string(reason)))
	}

	bid.Outcome = domain.OutcomeRejected
	rejected := domain.BidRejected{AuctionID: bid.AuctionID, Bid: bid, Reason: reason}
	if _, appendErr := g.store.Append(rejected); appendErr != nil {
		slog.Warn("failed to record rejected bid",
			slog.String("auction_id", bid.AuctionID), slog.Any("error", appendErr))
		return
	}
	g.notify(rejected)
}

func (g *Gate) append(ev domain.Event) (uint64, error) {
	start := time.Now()
	seq, err := g.store.Append(ev)
	if err != nil {
		return 0, err
	}
	telemetry.LedgerWriteDuration.Observe(time.Since(start).Seconds())
	telemetry.EventsStoredTotal.WithLabelValues(ev.GetType()).Inc()
	return seq, nil
}

func (g *Gate) notify(ev domain.Event) {
	g.handlersMu.RLock()
	handlers := make([]EventHandler, len(g.handlers))
	copy(handlers, g.handlers)
	g.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// section returns the cap-1 semaphore channel for an auction.
func (g *Gate) section(auctionID string) chan struct{} {
	g.sectionsMu.Lock()
	defer g.sectionsMu.Unlock()

	sec, ok := g.sections[auctionID]
	if !ok {
		sec = make(chan struct{}, 1)
		g.sections[auctionID] = sec
	}
	return sec
}

// acquire takes the auction's exclusive section, waiting at most
// acquireTimeout.
func (g *Gate) acquire(ctx context.Context, auctionID string) (func(), error) {
	sec := g.section(auctionID)

	timer := time.NewTimer(g.acquireTimeout)
	defer timer.Stop()

	select {
	case sec <- struct{}{}:
		return func() { <-sec }, nil
	case <-timer.C:
		return nil, fmt.Errorf("auction %s busy after %s", auctionID, g.acquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquireBlocking takes the section with no bound beyond the context.
// Scheduler transitions are not user-cancellable and must eventually run.
func (g *Gate) acquireBlocking(ctx context.Context, auctionID string) (func(), error) {
	sec := g.section(auctionID)

	select {
	case sec <- struct{}{}:
		return func() { <-sec }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
