package ledger

import (
	"sync"

	"github.com/promolink/auction-engine/internal/domain"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
// FailWith injects a write error to exercise the persistence-failed path.
type MemoryStore struct {
	mu     sync.Mutex
	events []domain.Event
	seq    uint64
	err    error
	// onAppend, when set, runs outside the lock before each append.
	// Tests use it to hold an admission section open.
	onAppend func(domain.Event)
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make([]domain.Event, 0, 64)}
}

// FailWith makes every subsequent Append return err. Pass nil to heal.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// SetOnAppend installs a hook invoked before every append.
func (s *MemoryStore) SetOnAppend(fn func(domain.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = fn
}

func (s *MemoryStore) Append(event domain.Event) (uint64, error) {
	s.mu.Lock()
	hook := s.onAppend
	s.mu.Unlock()
	if hook != nil {
		hook(event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return 0, s.err
	}

	s.events = append(s.events, event)
	s.seq++
	return s.seq, nil
}

func (s *MemoryStore) ReadAll(auctionID string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []domain.Event
	for _, ev := range s.events {
		if ev.GetAuctionID() == auctionID {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (s *MemoryStore) LoadAll() ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
