package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger is an append-only metered-usage store. Entries are never mutated
// or deleted.
type Ledger interface {
	// Insert appends a usage record.
	Insert(ctx context.Context, entry Entry) error

	// SumRange sums quantities for the user inside [from, until). A nil
	// until means an open window, queried as "up to now".
	SumRange(ctx context.Context, userID uuid.UUID, from time.Time, until *time.Time) (int, error)
}

// InMemLedger is a mutex-guarded Ledger for tests and local development.
// SumCalls counts range queries so tests can assert the unlimited fast path
// skips the ledger entirely.
type InMemLedger struct {
	mu       sync.RWMutex
	entries  []Entry
	sumCalls int
}

// NewInMemLedger returns an empty in-memory ledger.
func NewInMemLedger() *InMemLedger {
	return &InMemLedger{}
}

func (l *InMemLedger) Insert(_ context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *InMemLedger) SumRange(_ context.Context, userID uuid.UUID, from time.Time, until *time.Time) (int, error) {
	l.mu.Lock()
	l.sumCalls++
	l.mu.Unlock()

	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0
	for _, e := range l.entries {
		if e.UserID != userID || e.CreatedAt.Before(from) {
			continue
		}
		if until != nil && !e.CreatedAt.Before(*until) {
			continue
		}
		total += e.Quantity
	}
	return total, nil
}

// SumCalls reports how many range queries were made.
func (l *InMemLedger) SumCalls() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sumCalls
}
