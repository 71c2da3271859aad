package leave

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROVIDERS - Reference data owned by the surrounding CRM
// =============================================================================
//
// The engine never writes reference data. Lookups that find nothing return
// a nil pointer (or zero) and a nil error; an error means the lookup itself
// failed. The crm package implements all of these on top of GORM.

// PeriodProvider resolves absence periods and their working-day counts.
type PeriodProvider interface {
	Period(ctx context.Context, id int64) (*AbsencePeriod, error)

	// PreviousPeriod returns the period immediately before p, or nil.
	PreviousPeriod(ctx context.Context, p AbsencePeriod) (*AbsencePeriod, error)

	// WorkingDays counts the working days in the whole period.
	WorkingDays(ctx context.Context, p AbsencePeriod) (int, error)

	// WorkingDaysToWork counts the working days of [start, end] after
	// clipping the range to the period.
	WorkingDaysToWork(ctx context.Context, p AbsencePeriod, start, end Date) (int, error)
}

// HolidayProvider lists public holidays.
type HolidayProvider interface {
	CountInRange(ctx context.Context, start, end Date) (int, error)
	ListInRange(ctx context.Context, start, end Date) ([]PublicHoliday, error)
}

// JobLeaveProvider returns the leave configured on a contract, or nil.
type JobLeaveProvider interface {
	JobLeave(ctx context.Context, contractID, absenceTypeID int64) (*JobLeave, error)
}

// ContractProvider returns a contract's dates, or nil.
type ContractProvider interface {
	ContractDetails(ctx context.Context, contractID int64) (*ContractDetails, error)
}

// BalanceReader loads persisted balances. Returns nil when absent.
type BalanceReader interface {
	FindBalance(ctx context.Context, key BalanceKey) (*LeaveBalance, error)
}

// Dependencies bundles everything a Calculation reads.
type Dependencies struct {
	Periods   PeriodProvider
	Holidays  HolidayProvider
	JobLeaves JobLeaveProvider
	Contracts ContractProvider
	Balances  BalanceReader
	Clock     Clock
}

func (d Dependencies) clock() Clock {
	if d.Clock == nil {
		return SystemClock()
	}
	return d.Clock
}

// =============================================================================
// STORE - Ledger persistence
// =============================================================================

// Store persists balances, their ledger and leave requests.
type Store interface {
	BalanceReader

	// DeleteBalance removes the triple's balance along with its changes,
	// leave requests and request dates. Deleting nothing is not an error.
	DeleteBalance(ctx context.Context, key BalanceKey) error

	// CreateBalance inserts b and sets b.ID.
	CreateBalance(ctx context.Context, b *LeaveBalance) error

	// AppendChange inserts c and sets c.ID.
	AppendChange(ctx context.Context, c *BalanceChange) error

	// CreateLeaveRequest inserts r and one LeaveRequestDate per day,
	// setting all ids.
	CreateLeaveRequest(ctx context.Context, r *LeaveRequest) error

	// ExpiredCandidates returns brought-forward entries expiring on or
	// before asOf that have no expiry entry yet.
	ExpiredCandidates(ctx context.Context, asOf Date) ([]ExpiryCandidate, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// ExpiryCandidate is a brought-forward entry due to expire, along with the
// current balance of the balance it belongs to.
type ExpiryCandidate struct {
	Change  BalanceChange
	Key     BalanceKey
	Balance decimal.Decimal
}
