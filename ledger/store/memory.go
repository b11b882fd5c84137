// Package store provides an in-memory ledger.Store implementation for tests
// and development. It enforces the same uniqueness invariants as the SQL
// stores: one disbursement per loan, one interest movement per loan per day.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/lending-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	loans     []ledger.Loan
	movements []ledger.Movement
	events    []ledger.Event
	outbox    []ledger.OutboxEntry
	gateway   []ledger.GatewayTransaction

	nextLoanID     int64
	nextMovementID int64
	nextEventID    int64
	nextOutboxID   int64
	nextGatewayID  int64
}

func NewMemory() *Memory {
	return &Memory{}
}

// WithTx runs fn against the same store. The in-memory store has no
// transactional isolation; tests that need rollback semantics use SQLite.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(m)
}

// =============================================================================
// MOVEMENT STORE
// =============================================================================

func (m *Memory) AppendMovement(_ context.Context, mv *ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mv.Type.IsInterest() {
		for i := range m.movements {
			e := &m.movements[i]
			if e.LoanID == mv.LoanID && e.Type.IsInterest() && e.At.Equal(mv.At) {
				return &ledger.DuplicateInterestDayError{LoanID: mv.LoanID, Day: mv.At}
			}
		}
	}

	m.nextMovementID++
	mv.ID = m.nextMovementID
	if mv.UID == "" {
		mv.UID = ledger.NewUID()
	}
	mv.CreatedAt = time.Now().UTC()
	m.movements = append(m.movements, *mv)
	return nil
}

func (m *Memory) SumMovements(_ context.Context, loanID int64, f ledger.MovementFilter) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for i := range m.movements {
		mv := &m.movements[i]
		if mv.LoanID != loanID || !matchFilter(mv, f) {
			continue
		}
		sum = sum.Add(mv.Amount)
	}
	return sum, nil
}

func (m *Memory) FindLastMovement(_ context.Context, loanID int64, typeIn []ledger.MovementTypeCode) (*ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *ledger.Movement
	for i := range m.movements {
		mv := &m.movements[i]
		if mv.LoanID != loanID || !typeMatches(mv.Type, typeIn) {
			continue
		}
		if last == nil || mv.At.After(last.At) || (mv.At.Equal(last.At) && mv.ID > last.ID) {
			last = mv
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (m *Memory) FindMovementAt(_ context.Context, loanID int64, typeIn []ledger.MovementTypeCode, at ledger.Date) (*ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.movements {
		mv := &m.movements[i]
		if mv.LoanID == loanID && typeMatches(mv.Type, typeIn) && mv.At.Equal(at) {
			cp := *mv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindMovementByUID(_ context.Context, uid string) (*ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.movements {
		if m.movements[i].UID == uid {
			cp := m.movements[i]
			return &cp, nil
		}
	}
	return nil, ledger.ErrMovementNotFound
}

func (m *Memory) ListMovements(_ context.Context, loanID int64, q ledger.MovementQuery) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Movement
	for i := range m.movements {
		mv := &m.movements[i]
		if mv.LoanID != loanID {
			continue
		}
		if len(q.TypeIn) > 0 && !typeMatches(mv.Type, q.TypeIn) {
			continue
		}
		if q.StartDate != nil && mv.At.Before(*q.StartDate) {
			continue
		}
		if q.EndDate != nil && mv.At.After(*q.EndDate) {
			continue
		}
		out = append(out, *mv)
	}

	// Newest first, matching the SQL stores.
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID > out[j].ID
		}
		return out[i].At.After(out[j].At)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// =============================================================================
// LOAN STORE
// =============================================================================

func (m *Memory) CreateLoan(_ context.Context, l *ledger.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLoanID++
	l.ID = m.nextLoanID
	if l.UID == "" {
		l.UID = ledger.NewUID()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	m.loans = append(m.loans, *l)
	return nil
}

func (m *Memory) GetLoanByUID(_ context.Context, uid string) (*ledger.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.loans {
		if m.loans[i].UID == uid {
			cp := m.loans[i]
			return &cp, nil
		}
	}
	return nil, ledger.ErrLoanNotFound
}

func (m *Memory) GetLoanByID(_ context.Context, id int64) (*ledger.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.loans {
		if m.loans[i].ID == id {
			cp := m.loans[i]
			return &cp, nil
		}
	}
	return nil, ledger.ErrLoanNotFound
}

func (m *Memory) ListUnpaidLoans(_ context.Context) ([]ledger.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Loan
	for i := range m.loans {
		if !m.loans[i].Paid {
			out = append(out, m.loans[i])
		}
	}
	return out, nil
}

func (m *Memory) MarkLoanPaid(_ context.Context, loanID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.loans {
		if m.loans[i].ID == loanID {
			m.loans[i].Paid = true
			m.loans[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ledger.ErrLoanNotFound
}

// =============================================================================
// EVENT STORE
// =============================================================================

func (m *Memory) RecordEvent(_ context.Context, e *ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEventID++
	e.ID = m.nextEventID
	e.CreatedAt = time.Now().UTC()
	m.events = append(m.events, *e)
	return nil
}

func (m *Memory) RecordEventError(_ context.Context, eventID int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.events {
		if m.events[i].ID == eventID {
			m.events[i].Error = errMsg
			return nil
		}
	}
	return nil
}

// Events returns recorded events (test helper).
func (m *Memory) Events() []ledger.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Event, len(m.events))
	copy(out, m.events)
	return out
}

// =============================================================================
// OUTBOX STORE
// =============================================================================

func (m *Memory) EnqueueOutbox(_ context.Context, e *ledger.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOutboxID++
	e.ID = m.nextOutboxID
	e.CreatedAt = time.Now().UTC()
	m.outbox = append(m.outbox, *e)
	return nil
}

func (m *Memory) PendingOutbox(_ context.Context, limit int) ([]ledger.OutboxEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.OutboxEntry
	for i := range m.outbox {
		if m.outbox[i].DeliveredAt == nil {
			out = append(out, m.outbox[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkOutboxDelivered(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outbox {
		if m.outbox[i].ID == id {
			now := time.Now().UTC()
			m.outbox[i].DeliveredAt = &now
			return nil
		}
	}
	return nil
}

func (m *Memory) MarkOutboxFailed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outbox {
		if m.outbox[i].ID == id {
			m.outbox[i].Attempts++
			return nil
		}
	}
	return nil
}

// OutboxEntries returns every outbox row (test helper).
func (m *Memory) OutboxEntries() []ledger.OutboxEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.OutboxEntry, len(m.outbox))
	copy(out, m.outbox)
	return out
}

// =============================================================================
// GATEWAY STORE
// =============================================================================

func (m *Memory) CreateGatewayTransaction(_ context.Context, t *ledger.GatewayTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextGatewayID++
	t.ID = m.nextGatewayID
	if t.UID == "" {
		t.UID = ledger.NewUID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	m.gateway = append(m.gateway, *t)
	return nil
}

func (m *Memory) GetGatewayTransactionByUID(_ context.Context, uid string) (*ledger.GatewayTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.gateway {
		if m.gateway[i].UID == uid {
			cp := m.gateway[i]
			return &cp, nil
		}
	}
	return nil, ledger.ErrGatewayTransactionNotFound
}

func (m *Memory) UpdateGatewayTransaction(_ context.Context, t *ledger.GatewayTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.gateway {
		if m.gateway[i].ID == t.ID {
			t.UpdatedAt = time.Now().UTC()
			m.gateway[i] = *t
			return nil
		}
	}
	return ledger.ErrGatewayTransactionNotFound
}

// =============================================================================
// FILTER MATCHING
// =============================================================================

func typeMatches(code ledger.MovementTypeCode, in []ledger.MovementTypeCode) bool {
	for _, c := range in {
		if c == code {
			return true
		}
	}
	return false
}

func matchFilter(mv *ledger.Movement, f ledger.MovementFilter) bool {
	if len(f.TypeIn) > 0 && !typeMatches(mv.Type, f.TypeIn) {
		return false
	}
	if len(f.TypeNotIn) > 0 && typeMatches(mv.Type, f.TypeNotIn) {
		return false
	}
	if f.AtEquals != nil && !mv.At.Equal(*f.AtEquals) {
		return false
	}
	if f.AtAfter != nil && !mv.At.After(*f.AtAfter) {
		return false
	}
	if f.AtBefore != nil && mv.At.After(*f.AtBefore) {
		return false
	}
	return true
}
