// Package store provides an in-memory leave.TxStore.
package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	nextID   int64
	balances map[leave.BalanceKey]leave.LeaveBalance // without Changes
	changes  map[int64][]leave.BalanceChange        // by balance id
	requests map[int64]leave.LeaveRequest           // by request id
	dates    map[int64]int64                        // request date id -> request id
}

func NewMemory() *Memory {
	return &Memory{state: state{
		balances: make(map[leave.BalanceKey]leave.LeaveBalance),
		changes:  make(map[int64][]leave.BalanceChange),
		requests: make(map[int64]leave.LeaveRequest),
		dates:    make(map[int64]int64),
	}}
}

func (m *Memory) FindBalance(_ context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.find(key), nil
}

func (m *Memory) DeleteBalance(_ context.Context, key leave.BalanceKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.delete(key)
	return nil
}

func (m *Memory) CreateBalance(_ context.Context, b *leave.LeaveBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.createBalance(b)
	return nil
}

func (m *Memory) AppendChange(_ context.Context, c *leave.BalanceChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.appendChange(c)
	return nil
}

func (m *Memory) CreateLeaveRequest(_ context.Context, r *leave.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.createRequest(r)
	return nil
}

func (m *Memory) ExpiredCandidates(_ context.Context, asOf leave.Date) ([]leave.ExpiryCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.expiredCandidates(asOf), nil
}

// SetRequestStatus changes the status of a stored request.
func (m *Memory) SetRequestStatus(_ context.Context, requestID int64, status leave.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.requests[requestID]
	if !ok {
		return leave.ErrNotFound
	}
	r.Status = status
	m.state.requests[requestID] = r
	return nil
}

// BalanceCount returns the number of stored balances.
func (m *Memory) BalanceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.balances)
}

// RequestCount returns the number of stored leave requests.
func (m *Memory) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.requests)
}

// =============================================================================
// STATE - Unlocked operations shared by Memory and transactions
// =============================================================================

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) find(key leave.BalanceKey) *leave.LeaveBalance {
	b, ok := s.balances[key]
	if !ok {
		return nil
	}
	for _, c := range s.changes[b.ID] {
		if c.SourceID != nil {
			if reqID, ok := s.dates[*c.SourceID]; ok {
				c.SourceStatus = s.requests[reqID].Status
			}
		}
		b.Changes = append(b.Changes, c)
	}
	return &b
}

func (s *state) delete(key leave.BalanceKey) {
	b, ok := s.balances[key]
	if !ok {
		return
	}
	for id, r := range s.requests {
		if r.BalanceID != b.ID {
			continue
		}
		for _, d := range r.Dates {
			delete(s.dates, d.ID)
		}
		delete(s.requests, id)
	}
	delete(s.changes, b.ID)
	delete(s.balances, key)
}

func (s *state) createBalance(b *leave.LeaveBalance) {
	b.ID = s.id()
	stored := *b
	stored.Changes = nil
	s.balances[b.Key] = stored
}

func (s *state) appendChange(c *leave.BalanceChange) {
	c.ID = s.id()
	s.changes[c.BalanceID] = append(s.changes[c.BalanceID], *c)
}

func (s *state) createRequest(r *leave.LeaveRequest) {
	r.ID = s.id()
	r.Dates = nil
	for _, day := range r.Days() {
		d := leave.LeaveRequestDate{ID: s.id(), LeaveRequestID: r.ID, Date: day}
		r.Dates = append(r.Dates, d)
		s.dates[d.ID] = r.ID
	}
	stored := *r
	stored.Dates = append([]leave.LeaveRequestDate(nil), r.Dates...)
	s.requests[r.ID] = stored
}

func (s *state) expiredCandidates(asOf leave.Date) []leave.ExpiryCandidate {
	var out []leave.ExpiryCandidate
	for key := range s.balances {
		b := s.find(key)
		expired := make(map[int64]bool)
		for _, c := range b.Changes {
			if c.ExpiredBalanceChangeID != nil {
				expired[*c.ExpiredBalanceChangeID] = true
			}
		}
		for _, c := range b.Changes {
			if c.Type != leave.ChangeBroughtForward || c.IsExpiry() || c.ExpiryDate == nil {
				continue
			}
			if expired[c.ID] || c.ExpiryDate.After(asOf) {
				continue
			}
			out = append(out, leave.ExpiryCandidate{Change: c, Key: key, Balance: b.Balance()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Change.ID < out[j].Change.ID })
	return out
}

func (s *state) clone() state {
	c := state{
		nextID:   s.nextID,
		balances: maps.Clone(s.balances),
		changes:  make(map[int64][]leave.BalanceChange, len(s.changes)),
		requests: maps.Clone(s.requests),
		dates:    maps.Clone(s.dates),
	}
	for k, v := range s.changes {
		c.changes[k] = append([]leave.BalanceChange(nil), v...)
	}
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction, simulated with a snapshot that
// is restored when fn fails.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	if err := fn(&txView{s: &tm.state}); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

type txView struct {
	s *state
}

func (v *txView) FindBalance(_ context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return v.s.find(key), nil
}

func (v *txView) DeleteBalance(_ context.Context, key leave.BalanceKey) error {
	v.s.delete(key)
	return nil
}

func (v *txView) CreateBalance(_ context.Context, b *leave.LeaveBalance) error {
	v.s.createBalance(b)
	return nil
}

func (v *txView) AppendChange(_ context.Context, c *leave.BalanceChange) error {
	v.s.appendChange(c)
	return nil
}

func (v *txView) CreateLeaveRequest(_ context.Context, r *leave.LeaveRequest) error {
	v.s.createRequest(r)
	return nil
}

func (v *txView) ExpiredCandidates(_ context.Context, asOf leave.Date) ([]leave.ExpiryCandidate, error) {
	return v.s.expiredCandidates(asOf), nil
}
