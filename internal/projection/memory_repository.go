package projection

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]ProjectedTransaction
	// failNext simulates a query failure for degradation tests.
	failNext error
}

// NewMemoryRepository creates an in-memory repository for unit tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{items: make(map[uuid.UUID]ProjectedTransaction)}
}

func (r *memoryRepository) Create(_ context.Context, pt ProjectedTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pt.ID == uuid.Nil {
		pt.ID = uuid.New()
	}
	if pt.Status == "" {
		pt.Status = StatusPending
	}
	pt.CreatedAt = time.Now().UTC()
	r.items[pt.ID] = pt
	return nil
}

func (r *memoryRepository) PendingThrough(_ context.Context, ledgerID uuid.UUID, horizon time.Time) ([]ProjectedTransaction, error) {
	r.mu.Lock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []ProjectedTransaction
	for _, pt := range r.items {
		if pt.LedgerID == ledgerID && pt.Status == StatusPending && !pt.ExpectedDate.After(horizon) {
			items = append(items, pt)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ExpectedDate.Before(items[j].ExpectedDate) })
	return items, nil
}

func (r *memoryRepository) SetStatus(_ context.Context, ledgerID, id uuid.UUID, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pt, ok := r.items[id]
	if !ok || pt.LedgerID != ledgerID {
		return ErrObligationNotFound
	}
	pt.Status = status
	r.items[id] = pt
	return nil
}

// FailNextQuery arms a one-shot query failure on the in-memory repository.
func FailNextQuery(r Repository, err error) {
	if mem, ok := r.(*memoryRepository); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failNext = err
	}
}
