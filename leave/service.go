/*
service.go - Persisting calculations as balances

PURPOSE:
  Turns a Calculation into a LeaveBalance and its ledger, atomically.
  Recalculating a triple replaces the previous snapshot: the old balance,
  its changes and its public holiday requests are deleted first.

SAVE SEQUENCE (one transaction):
  1. Delete the triple's balance (cascades to changes, requests, dates)
  2. Create the balance (overridden, comment)
  3. Leave entry: the override, or the pro-rata
  4. Not overridden only:
     a. Brought forward entry with its expiry date, when > 0
     b. Public holiday entry (+N), and per holiday an admin-approved
        all-day request plus a -1 debit pointing at the request date

  Any failure rolls the whole sequence back and is returned to the caller.

CONCURRENCY:
  Saves for the same triple are serialised in-process. Different triples
  run in parallel.

SEE ALSO:
  - calculation.go: where the numbers come from
  - expiry.go: brought-forward expiry
*/
package leave

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Service persists calculations and answers balance queries.
type Service struct {
	store TxStore
	clock Clock
	log   logrus.FieldLogger
	locks *keyedMutex
}

// NewService creates a service. A nil clock means the system clock and a
// nil logger means the logrus standard logger.
func NewService(store TxStore, clock Clock, log logrus.FieldLogger) *Service {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: store, clock: clock, log: log, locks: newKeyedMutex()}
}

// amountPlaces is the precision of a stored ledger amount.
const amountPlaces = 2

// SaveInput is what a save needs besides the calculation.
type SaveInput struct {
	Calculation *Calculation

	// Override replaces the calculated entitlement. nil = not overridden.
	Override *decimal.Decimal

	Comment         string
	CommentAuthorID int64
}

// SaveFromCalculation replaces the triple's balance with the result of the
// calculation and returns the new balance with its ledger.
func (s *Service) SaveFromCalculation(ctx context.Context, in SaveInput) (*LeaveBalance, error) {
	calc := in.Calculation
	key := calc.Key()
	if err := key.Validate(); err != nil {
		return nil, err
	}

	// Ledger amounts are stored with two decimal places.
	if in.Override != nil && !in.Override.Equal(in.Override.Round(amountPlaces)) {
		return nil, &ValidationError{Field: "override", Message: "must have at most two decimal places"}
	}

	balance := &LeaveBalance{Key: key, Overridden: in.Override != nil}
	if in.Comment != "" {
		today := s.clock.Today()
		balance.Comment = in.Comment
		balance.CommentAuthorID = in.CommentAuthorID
		balance.CommentDate = &today
	}
	if err := balance.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	// Everything the ledger needs is read before the transaction opens.
	plan, err := s.plan(ctx, calc, in.Override)
	if err != nil {
		return nil, fmt.Errorf("calculate %s: %w", keyString(key), err)
	}

	err = s.store.WithTx(ctx, func(st Store) error {
		balance.Changes = nil
		if err := st.DeleteBalance(ctx, key); err != nil {
			return fmt.Errorf("delete balance: %w", err)
		}
		if err := st.CreateBalance(ctx, balance); err != nil {
			return fmt.Errorf("create balance: %w", err)
		}
		if err := appendChange(ctx, st, balance, BalanceChange{Type: ChangeLeave, Amount: plan.leave}); err != nil {
			return err
		}
		if balance.Overridden {
			return nil
		}
		if plan.broughtForward.Sign() > 0 {
			bf := BalanceChange{Type: ChangeBroughtForward, Amount: plan.broughtForward, ExpiryDate: plan.expiry}
			if err := appendChange(ctx, st, balance, bf); err != nil {
				return err
			}
		}
		return savePublicHolidays(ctx, st, balance, plan.holidays)
	})
	if err != nil {
		s.fields(key).WithError(err).Error("Failed to save leave balance")
		return nil, fmt.Errorf("%w: save %s: %w", ErrTransactionFailed, keyString(key), err)
	}

	s.fields(key).WithFields(logrus.Fields{
		"balance_id": balance.ID,
		"overridden": balance.Overridden,
		"changes":    len(balance.Changes),
	}).Info("Saved leave balance")
	return balance, nil
}

type savePlan struct {
	leave          decimal.Decimal
	broughtForward decimal.Decimal
	expiry         *Date
	holidays       []PublicHoliday
}

func (s *Service) plan(ctx context.Context, calc *Calculation, override *decimal.Decimal) (savePlan, error) {
	var p savePlan
	var err error
	if override != nil {
		p.leave = *override
		return p, nil
	}
	if p.leave, err = calc.ProRata(ctx); err != nil {
		return p, err
	}
	if p.broughtForward, err = calc.BroughtForward(ctx); err != nil {
		return p, err
	}
	p.expiry = calc.BroughtForwardExpirationDate()
	if p.holidays, err = calc.PublicHolidaysInEntitlement(ctx); err != nil {
		return p, err
	}
	return p, nil
}

func savePublicHolidays(ctx context.Context, st Store, balance *LeaveBalance, holidays []PublicHoliday) error {
	if len(holidays) == 0 {
		return nil
	}
	ph := BalanceChange{Type: ChangePublicHoliday, Amount: decimal.NewFromInt(int64(len(holidays)))}
	if err := appendChange(ctx, st, balance, ph); err != nil {
		return err
	}

	for _, h := range holidays {
		req := &LeaveRequest{
			BalanceID:    balance.ID,
			Status:       StatusAdminApproved,
			FromDate:     h.Date,
			FromDateType: DateAllDay,
			ToDate:       h.Date,
			ToDateType:   DateAllDay,
		}
		if err := st.CreateLeaveRequest(ctx, req); err != nil {
			return fmt.Errorf("create public holiday request for %s: %w", h.Date, err)
		}
		if len(req.Dates) == 0 {
			return fmt.Errorf("public holiday request for %s has no dates", h.Date)
		}
		dateID := req.Dates[0].ID
		debit := BalanceChange{
			Type:         ChangeDebit,
			Amount:       decimal.NewFromInt(-1),
			SourceID:     &dateID,
			SourceType:   SourceLeaveRequestDay,
			SourceStatus: req.Status,
		}
		if err := appendChange(ctx, st, balance, debit); err != nil {
			return err
		}
	}
	return nil
}

func appendChange(ctx context.Context, st Store, balance *LeaveBalance, c BalanceChange) error {
	c.BalanceID = balance.ID
	if err := st.AppendChange(ctx, &c); err != nil {
		return fmt.Errorf("append %s change: %w", c.Type, err)
	}
	balance.Changes = append(balance.Changes, c)
	return nil
}

// Balance loads the triple's balance with its ledger.
func (s *Service) Balance(ctx context.Context, key BalanceKey) (*LeaveBalance, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	b, err := s.store.FindBalance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find balance %s: %w", keyString(key), err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBalanceNotFound, keyString(key))
	}
	return b, nil
}

func (s *Service) fields(key BalanceKey) logrus.FieldLogger {
	return s.log.WithFields(logrus.Fields{
		"contract_id":     key.ContractID,
		"period_id":       key.PeriodID,
		"absence_type_id": key.AbsenceTypeID,
	})
}

func keyString(k BalanceKey) string {
	return fmt.Sprintf("contract %d, period %d, absence type %d", k.ContractID, k.PeriodID, k.AbsenceTypeID)
}

// =============================================================================
// KEYED MUTEX - One lock per balance key
// =============================================================================

type keyedMutex struct {
	mu    sync.Mutex
	locks map[BalanceKey]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[BalanceKey]*refLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key BalanceKey) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
