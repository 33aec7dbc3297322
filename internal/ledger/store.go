package ledger

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/promolink/auction-engine/internal/domain"
)

// Store is the durable append-only auction ledger. It is the only source
// used to reconstruct state machines after a restart.
type Store interface {
	// Append durably writes one event and returns its sequence number.
	Append(event domain.Event) (uint64, error)
	// ReadAll returns the ordered event history of one auction.
	ReadAll(auctionID string) ([]domain.Event, error)
	// LoadAll returns every event in append order, across all auctions.
	LoadAll() ([]domain.Event, error)
	Close() error
}

// FileStore is a line-delimited JSON event log with fsync-per-append
// durability. Appends across different auctions share one file; ordering
// within an auction is the append order.
type FileStore struct {
	filePath string
	file     *os.File
	seq      uint64
	mu       sync.Mutex
}

// NewFileStore opens (or creates) the ledger file and counts existing
// records to restore the sequence counter.
func NewFileStore(filePath string) (*FileStore, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}

	s := &FileStore{
		filePath: filePath,
		file:     file,
	}

	events, err := s.LoadAll()
	if err != nil {
		file.Close()
		return nil, err
	}
	s.seq = uint64(len(events))

	return s, nil
}

// Append writes one event and syncs before returning.
func (s *FileStore) Append(event domain.Event) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := domain.SerializeEvent(event)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize event: %w", err)
	}

	data = append(data, '\n')

	if _, err := s.file.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write event: %w", err)
	}

	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync ledger: %w", err)
	}

	s.seq++
	return s.seq, nil
}

// ReadAll returns the ordered events of a single auction.
func (s *FileStore) ReadAll(auctionID string) ([]domain.Event, error) {
	all, err := s.LoadAll()
	if err != nil {
		return nil, err
	}

	var events []domain.Event
	for _, ev := range all {
		if ev.GetAuctionID() == auctionID {
			events = append(events, ev)
		}
	}
	return events, nil
}

// LoadAll reads the full log in append order. It holds the write lock so a
// reader hydrating mid-append never observes a half-flushed last line.
func (s *FileStore) LoadAll() ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Event{}, nil
		}
		return nil, fmt.Errorf("failed to open ledger for reading: %w", err)
	}
	defer file.Close()

	var events []domain.Event
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := domain.DeserializeEvent(line)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize event at line %d: %w", lineNum, err)
		}

		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading ledger: %w", err)
	}

	return events, nil
}

// Close closes the ledger file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
