package authorization

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type decisionKey struct {
	ledger uuid.UUID
	key    string
}

type memoryRepository struct {
	mu          sync.Mutex
	decisions   map[decisionKey]Decision
	policies    []Policy
	instruments map[uuid.UUID]Instrument
}

// NewMemoryRepository creates an in-memory repository for unit tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		decisions:   make(map[decisionKey]Decision),
		instruments: make(map[uuid.UUID]Instrument),
	}
}

func (r *memoryRepository) FindDecision(_ context.Context, ledgerID uuid.UUID, key string) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[decisionKey{ledger: ledgerID, key: key}]
	if !ok {
		return Decision{}, ErrDecisionNotFound
	}
	return d, nil
}

func (r *memoryRepository) DeleteDecision(_ context.Context, ledgerID uuid.UUID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.decisions, decisionKey{ledger: ledgerID, key: key})
	return nil
}

func (r *memoryRepository) SaveDecision(_ context.Context, d Decision) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := decisionKey{ledger: d.LedgerID, key: d.IdempotencyKey}
	if winner, ok := r.decisions[k]; ok {
		winner.Cached = true
		return winner, nil
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now().UTC()
	r.decisions[k] = d
	return d, nil
}

func (r *memoryRepository) ActivePolicies(_ context.Context, ledgerID uuid.UUID) ([]Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Policy
	for _, p := range r.policies {
		if p.LedgerID == ledgerID && p.Active {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (r *memoryRepository) CreatePolicy(_ context.Context, p Policy) (Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	r.policies = append(r.policies, p)
	return p, nil
}

func (r *memoryRepository) CreateInstrument(_ context.Context, ins Instrument) (Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ins.ID == uuid.Nil {
		ins.ID = uuid.New()
	}
	if ins.Status == "" {
		ins.Status = InstrumentActive
	}
	ins.CreatedAt = time.Now().UTC()
	r.instruments[ins.ID] = ins
	return ins, nil
}

func (r *memoryRepository) GetInstrument(_ context.Context, ledgerID, id uuid.UUID) (Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ins, ok := r.instruments[id]
	if !ok || ins.LedgerID != ledgerID {
		return Instrument{}, ErrInstrumentNotFound
	}
	return ins, nil
}

func (r *memoryRepository) InvalidateInstrument(_ context.Context, ledgerID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ins, ok := r.instruments[id]
	if !ok || ins.LedgerID != ledgerID {
		return ErrInstrumentNotFound
	}
	ins.Status = InstrumentInvalidated
	r.instruments[id] = ins
	return nil
}

// DeactivatePolicies is a test helper that flips every policy of the ledger
// inactive, simulating an operator editing rules between retries.
func DeactivatePolicies(r Repository, ledgerID uuid.UUID) {
	mem, ok := r.(*memoryRepository)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	for i := range mem.policies {
		if mem.policies[i].LedgerID == ledgerID {
			mem.policies[i].Active = false
		}
	}
}
