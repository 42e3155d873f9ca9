package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements TransactionRepository and FormatStore in process memory.
// It backs the CLI's offline mode and the service tests.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions []Transaction
	batches      []ImportBatch
	formats      map[string]SavedCustomFormat
	now          func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		formats: make(map[string]SavedCustomFormat),
		now:     time.Now,
	}
}

func (m *MemoryStore) ListInRange(_ context.Context, from, to time.Time) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Transaction
	for _, t := range m.transactions {
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *MemoryStore) InsertImport(_ context.Context, batch ImportBatch, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = m.now()
	}
	m.batches = append(m.batches, batch)
	for _, t := range txs {
		t.ImportBatchID = batch.ID
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.CreatedAt = batch.CreatedAt
		m.transactions = append(m.transactions, t)
	}
	return nil
}

// Transactions returns a copy of every stored transaction.
func (m *MemoryStore) Transactions() []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transaction(nil), m.transactions...)
}

// Batches returns a copy of every recorded import batch.
func (m *MemoryStore) Batches() []ImportBatch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ImportBatch(nil), m.batches...)
}

func (m *MemoryStore) List(_ context.Context) ([]SavedCustomFormat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SavedCustomFormat, 0, len(m.formats))
	for _, f := range m.formats {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UseCount != out[j].UseCount {
			return out[i].UseCount > out[j].UseCount
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) GetByName(_ context.Context, name string) (*SavedCustomFormat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.formats[name]
	if !ok {
		return nil, ErrFormatNotFound
	}
	return &f, nil
}

func (m *MemoryStore) Save(_ context.Context, format SavedCustomFormat) (*SavedCustomFormat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.formats[format.Name]; ok {
		format.ID = existing.ID
		format.UseCount = existing.UseCount
		format.CreatedAt = existing.CreatedAt
	} else {
		format.ID = uuid.New()
		format.UseCount = 0
		format.CreatedAt = now
	}
	format.UpdatedAt = now
	m.formats[format.Name] = format
	return &format, nil
}

func (m *MemoryStore) IncrementUseCount(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.formats[name]
	if !ok {
		return ErrFormatNotFound
	}
	f.UseCount++
	f.UpdatedAt = m.now()
	m.formats[name] = f
	return nil
}
