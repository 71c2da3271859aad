/*
Package leave provides the leave entitlement calculation and balance
accounting engine.

PURPOSE:
  Given an absence period, a job contract and an absence type, the engine
  computes how many days of leave the contract holder is entitled to and
  persists that entitlement as a LeaveBalance plus an append-only set of
  BalanceChange entries (the ledger).

KEY CONCEPTS IN THIS FILE (types.go):
  - AbsenceType: carry-forward rules for a kind of leave
  - AbsencePeriod: the date range entitlements are calculated for
  - LeaveBalance: one row per (contract, period, absence type)
  - BalanceChange: a signed, immutable ledger entry
  - LeaveRequest: the requests that debit a balance

DESIGN PRINCIPLES:
  1. Precision: amounts use decimal.Decimal, never float64
  2. Replace, don't merge: recalculating a triple rebuilds its snapshot
  3. Closed enums: option values from the CRM are mapped once at startup
  4. Soft zero: missing configuration degrades to zero, it never fails

SEE ALSO:
  - calculation.go: the entitlement algorithm
  - balance.go: balance queries over the ledger
  - service.go: atomic persistence of a calculation
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// BalanceKey identifies the single live LeaveBalance of a triple.
type BalanceKey struct {
	ContractID    int64
	PeriodID      int64
	AbsenceTypeID int64
}

// Validate rejects keys with missing identifiers.
func (k BalanceKey) Validate() error {
	switch {
	case k.ContractID <= 0:
		return &MissingIdentifierError{Field: "contract"}
	case k.PeriodID <= 0:
		return &MissingIdentifierError{Field: "absence period"}
	case k.AbsenceTypeID <= 0:
		return &MissingIdentifierError{Field: "absence type"}
	}
	return nil
}

// =============================================================================
// ABSENCE TYPE - Reference data
// =============================================================================

// AbsenceType carries the carry-forward rules for one kind of leave.
type AbsenceType struct {
	ID                  int64
	Title               string
	AllowCarryForward   bool
	MaxDaysCarryForward *decimal.Decimal // nil = no cap
	CarryForwardExpiry  CarryForwardExpiry
}

// CarryForwardNeverExpires reports whether brought-forward days last forever.
func (a AbsenceType) CarryForwardNeverExpires() bool {
	return a.CarryForwardExpiry.Rule == ExpiryNever || a.CarryForwardExpiry.Rule == ""
}

// CarryForwardExpiry describes when brought-forward days expire.
//
//	ExpiryNever:     they don't
//	ExpiryFixedDate: on Month/Day, first occurrence on or after period start
//	ExpiryDuration:  Duration x Unit after the period start
type CarryForwardExpiry struct {
	Rule     ExpiryRule
	Month    int
	Day      int
	Duration int
	Unit     DurationUnit
}

// =============================================================================
// ABSENCE PERIOD
// =============================================================================

// AbsencePeriod is a date range (usually a leave year). Periods are chained
// by Weight: the previous period is the one with the next lower weight.
type AbsencePeriod struct {
	ID        int64
	Title     string
	StartDate Date
	EndDate   Date
	Weight    int
}

// Contains returns true if d is within [StartDate, EndDate].
func (p AbsencePeriod) Contains(d Date) bool {
	return d.AfterOrEqual(p.StartDate) && d.BeforeOrEqual(p.EndDate)
}

// Clip restricts [start, end] to the period boundaries. A zero end means
// open-ended and is clipped to the period end.
func (p AbsencePeriod) Clip(start, end Date) (Date, Date) {
	if start.IsZero() || start.Before(p.StartDate) {
		start = p.StartDate
	}
	if end.IsZero() || end.After(p.EndDate) {
		end = p.EndDate
	}
	return start, end
}

// ExpirationDateFor returns the date brought-forward days expire in this
// period, or nil when they never expire or the rule can't be resolved.
func (p AbsencePeriod) ExpirationDateFor(t AbsenceType) *Date {
	exp := t.CarryForwardExpiry
	switch exp.Rule {
	case ExpiryFixedDate:
		if exp.Month < 1 || exp.Month > 12 || exp.Day < 1 {
			return nil
		}
		d := fixedDateInYear(p.StartDate.Year(), exp.Month, exp.Day)
		if d.Before(p.StartDate) {
			d = fixedDateInYear(p.StartDate.Year()+1, exp.Month, exp.Day)
		}
		return &d
	case ExpiryDuration:
		if exp.Duration <= 0 {
			return nil
		}
		var d Date
		switch exp.Unit {
		case UnitDay:
			d = p.StartDate.AddDays(exp.Duration)
		case UnitMonth:
			d = p.StartDate.AddMonths(exp.Duration)
		case UnitYear:
			d = p.StartDate.AddYears(exp.Duration)
		default:
			return nil
		}
		return &d
	default:
		return nil
	}
}

func fixedDateInYear(year, month, day int) Date {
	d := NewDate(year, time.Month(month), day)
	// Feb 29 on a non-leap year rolls into March; pin it to the last day of the month.
	if int(d.Month()) != month {
		d = NewDate(year, time.Month(month)+1, 1).AddDays(-1)
	}
	return d
}

// =============================================================================
// CONTRACT - External, only what the calculation needs
// =============================================================================

// Contract identifies the job contract a calculation runs against.
type Contract struct {
	ID        int64
	ContactID int64
}

// ContractDetails holds the contract's dates. EndDate is zero when the
// contract is open-ended.
type ContractDetails struct {
	ContractID int64
	StartDate  Date
	EndDate    Date
}

// JobLeave is the leave configured on a contract for one absence type.
type JobLeave struct {
	ContractID            int64
	AbsenceTypeID         int64
	LeaveAmount           decimal.Decimal
	IncludePublicHolidays bool
}

// PublicHoliday is a single non-working day.
type PublicHoliday struct {
	ID    int64
	Title string
	Date  Date
}

// =============================================================================
// LEAVE BALANCE + LEDGER
// =============================================================================

// LeaveBalance is the persisted entitlement of a triple.
type LeaveBalance struct {
	ID              int64
	Key             BalanceKey
	Overridden      bool
	Comment         string
	CommentAuthorID int64
	CommentDate     *Date

	// Changes is the ledger of this balance, loaded by the store.
	Changes []BalanceChange
}

// BalanceChange is an immutable, signed ledger entry.
type BalanceChange struct {
	ID         int64
	BalanceID  int64
	Type       BalanceChangeType
	Amount     decimal.Decimal
	SourceID   *int64
	SourceType SourceType
	ExpiryDate *Date

	// ExpiredBalanceChangeID links an expiry entry to the entry it expires.
	ExpiredBalanceChangeID *int64

	// SourceStatus is the status of the leave request behind SourceID.
	// Read-only: resolved by the store when loading, never persisted.
	SourceStatus RequestStatus
}

// HasSource reports whether the entry was caused by a request.
func (c BalanceChange) HasSource() bool { return c.SourceID != nil }

// IsExpiry reports whether the entry expires another entry.
func (c BalanceChange) IsExpiry() bool { return c.ExpiredBalanceChangeID != nil }

// =============================================================================
// LEAVE REQUEST
// =============================================================================

// LeaveRequest is a request for time off debited from a balance.
type LeaveRequest struct {
	ID           int64
	BalanceID    int64
	Status       RequestStatus
	FromDate     Date
	FromDateType DateType
	ToDate       Date // zero = single day
	ToDateType   DateType
	Dates        []LeaveRequestDate
}

// LeaveRequestDate is one day of a request. Debit entries point at these.
type LeaveRequestDate struct {
	ID             int64
	LeaveRequestID int64
	Date           Date
}

// Days expands the request into its calendar days.
func (r LeaveRequest) Days() []Date {
	end := r.ToDate
	if end.IsZero() || end.Before(r.FromDate) {
		end = r.FromDate
	}
	var days []Date
	for d := r.FromDate; d.BeforeOrEqual(end); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}
