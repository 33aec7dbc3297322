package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/promolink/auction-engine/internal/auction"
	"github.com/promolink/auction-engine/internal/clock"
	"github.com/promolink/auction-engine/internal/domain"
	"github.com/promolink/auction-engine/internal/gate"
	"github.com/promolink/auction-engine/internal/registry"
	"github.com/promolink/auction-engine/internal/telemetry"
)

// transitionKind names the time-driven transitions the scheduler drives.
type transitionKind string

const (
	kindActivate transitionKind = "activate"
	kindDecay    transitionKind = "decay"
	kindEnding   transitionKind = "ending"
	kindClose    transitionKind = "close"
)

// entry is one pending wake-up: process `kind` for `auctionID` at `dueAt`.
type entry struct {
	auctionID string
	dueAt     time.Time
	kind      transitionKind
	index     int
}

// entryHeap is a min-heap ordered by dueAt.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler drives every time-only transition: activation at startAt, dutch
// decay boundaries, the ending window, and the close at endAt. Each due
// transition is routed through the admission gate so it is totally ordered
// against concurrently in-flight bids for the same auction.
//
// Timer state is never persisted. After a restart, Rebuild derives every
// next instant from the recovered auction snapshots.
type Scheduler struct {
	gate         *gate.Gate
	reg          *registry.Registry
	clock        clock.Clock
	endingWindow time.Duration

	mu sync.Mutex
	pq entryHeap

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler. endingWindow is how long before endAt an auction
// enters the ending status; zero disables the ending transition.
func New(g *gate.Gate, reg *registry.Registry, clk clock.Clock, endingWindow time.Duration) *Scheduler {
	return &Scheduler{
		gate:         g,
		reg:          reg,
		clock:        clk,
		endingWindow: endingWindow,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Track schedules the next relevant instant for an auction. Called on
// creation and by Rebuild.
func (s *Scheduler) Track(a domain.Auction) {
	s.scheduleNext(a, s.clock.Now())
}

// Rebuild derives the timer queue from the registry's live auctions.
// Auctions already past endAt get an immediately due close entry.
func (s *Scheduler) Rebuild() {
	now := s.clock.Now()
	live := s.reg.Live()
	for _, a := range live {
		s.scheduleNext(a, now)
	}
	slog.Info("scheduler rebuilt", slog.Int("auctions", len(live)))
}

// Start begins the timer loop in a goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the loop to shut down and waits for it.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	slog.Info("scheduler started")

	for {
		s.ProcessDue(s.clock.Now())

		wait := s.untilNext()
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-s.done:
			timer.Stop()
			slog.Info("scheduler stopped")
			return
		}
	}
}

// ProcessDue pops and processes every entry due at or before now. Exposed
// so tests can drive the scheduler with a fake clock. Returns the number of
// transitions that actually committed.
func (s *Scheduler) ProcessDue(now time.Time) int {
	processed := 0
	for {
		e := s.popDue(now)
		if e == nil {
			return processed
		}
		if s.process(e, now) {
			processed++
		}
	}
}

func (s *Scheduler) popDue(now time.Time) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pq) == 0 || s.pq[0].dueAt.After(now) {
		return nil
	}
	e := heap.Pop(&s.pq).(*entry)
	telemetry.SchedulerQueueDepth.Set(float64(len(s.pq)))
	return e
}

func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pq) == 0 {
		// Nothing queued; sleep until woken by Track.
		return time.Hour
	}
	wait := s.pq[0].dueAt.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	return wait
}

// process runs one due transition through the gate, then re-schedules the
// auction's next instant from the resulting snapshot.
func (s *Scheduler) process(e *entry, now time.Time) bool {
	ctx := context.Background()

	var (
		snap      domain.Auction
		committed bool
		err       error
	)
	switch e.kind {
	case kindActivate:
		snap, committed, err = s.gate.RunScheduled(ctx, e.auctionID,
			func(m *auction.Machine) (domain.Event, bool) { return m.PrepareActivate(now) })
	case kindDecay:
		snap, committed, err = s.gate.RunScheduled(ctx, e.auctionID,
			func(m *auction.Machine) (domain.Event, bool) { return m.PrepareDecayTick(now) })
	case kindEnding:
		snap, committed, err = s.gate.RunScheduled(ctx, e.auctionID,
			func(m *auction.Machine) (domain.Event, bool) { return m.PrepareEnding(now) })
	case kindClose:
		snap, committed, err = s.gate.RunScheduled(ctx, e.auctionID,
			func(m *auction.Machine) (domain.Event, bool) { return m.PrepareClose("time-expired", now) })
	default:
		return false
	}

	if err != nil {
		// Ticks are idempotent; the entry is re-queued and retried on the
		// next pass rather than lost.
		slog.Error("scheduled transition failed",
			slog.String("auction_id", e.auctionID),
			slog.String("kind", string(e.kind)),
			slog.Any("error", err))
		s.push(&entry{auctionID: e.auctionID, dueAt: now.Add(time.Second), kind: e.kind})
		return false
	}

	if committed {
		telemetry.SchedulerTicksTotal.WithLabelValues(string(e.kind)).Inc()
	}

	s.scheduleNext(snap, now)
	return committed
}

// scheduleNext pushes the single next relevant instant for an auction,
// derived from its snapshot: activation for pending auctions, then the
// earliest of the next decay boundary, the ending threshold, and endAt.
func (s *Scheduler) scheduleNext(a domain.Auction, now time.Time) {
	if a.Status.IsTerminal() {
		return
	}

	if a.Status == domain.StatusPending {
		due := a.StartAt
		// An auction recovered past its window closes immediately.
		if !now.Before(a.EndAt) {
			s.push(&entry{auctionID: a.ID, dueAt: now, kind: kindClose})
			return
		}
		if due.Before(now) {
			due = now
		}
		s.push(&entry{auctionID: a.ID, dueAt: due, kind: kindActivate})
		return
	}

	next := &entry{auctionID: a.ID, dueAt: a.EndAt, kind: kindClose}

	if s.endingWindow > 0 && a.Status == domain.StatusActive {
		endingAt := a.EndAt.Add(-s.endingWindow)
		if endingAt.After(now) && endingAt.Before(next.dueAt) {
			next = &entry{auctionID: a.ID, dueAt: endingAt, kind: kindEnding}
		}
	}

	if decayAt, ok := a.NextDecayAfter(now); ok && decayAt.Before(next.dueAt) {
		next = &entry{auctionID: a.ID, dueAt: decayAt, kind: kindDecay}
	}

	s.push(next)
}

func (s *Scheduler) push(e *entry) {
	s.mu.Lock()
	heap.Push(&s.pq, e)
	telemetry.SchedulerQueueDepth.Set(float64(len(s.pq)))
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}
