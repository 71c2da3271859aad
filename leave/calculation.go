/*
calculation.go - Entitlement calculation for one (period, contract, absence type)

PURPOSE:
  Computes how many days a contract is entitled to in an absence period.
  A Calculation is read-only: it never writes, it only looks things up
  through its Dependencies and memoizes what it found.

FORMULA:
  ContractualEntitlement (CE) = JobLeave.LeaveAmount
                                + public holidays in the period (if enabled)
  ProRata (PR)                = ceil((WDTW / WD) * CE * 2) / 2
  BroughtForward (BF)         = previous period balance, capped by the
                                absence type maximum, 0 when not allowed
                                or expired
  ProposedEntitlement (PE)    = existing override, or PR + BF

  WDTW is the number of working days the contract covers inside the period,
  WD the number of working days in the whole period.

EXAMPLE:
  WDTW = 212, WD = 253, CE = 28
  (212 / 253) * 28 = 23.46... rounded up to the half day = 23.5

MEMOIZATION:
  Every collaborator lookup runs at most once per Calculation, including
  lookups that found nothing. Each memo has an explicit "loaded" flag so a
  nil result is cached too.

SEE ALSO:
  - service.go: persists a Calculation
  - providers.go: the collaborators
*/
package leave

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Calculation computes the entitlement of one triple.
type Calculation struct {
	deps        Dependencies
	period      AbsencePeriod
	contract    Contract
	absenceType AbsenceType

	jobLeave       *JobLeave
	jobLeaveLoaded bool

	details       *ContractDetails
	detailsLoaded bool

	holidayCount       int
	holidayCountLoaded bool

	workingDays       int
	workingDaysLoaded bool

	workingDaysToWork       int
	workingDaysToWorkLoaded bool

	currentBalance       *LeaveBalance
	currentBalanceLoaded bool

	previousPeriod       *AbsencePeriod
	previousPeriodLoaded bool

	previousBalance       *LeaveBalance
	previousBalanceLoaded bool
}

// NewCalculation creates a calculation. Nothing is looked up until asked for.
func NewCalculation(deps Dependencies, period AbsencePeriod, contract Contract, absenceType AbsenceType) *Calculation {
	return &Calculation{
		deps:        deps,
		period:      period,
		contract:    contract,
		absenceType: absenceType,
	}
}

func (c *Calculation) Period() AbsencePeriod    { return c.period }
func (c *Calculation) Contract() Contract       { return c.contract }
func (c *Calculation) AbsenceType() AbsenceType { return c.absenceType }

// Key returns the balance key this calculation is for.
func (c *Calculation) Key() BalanceKey {
	return BalanceKey{ContractID: c.contract.ID, PeriodID: c.period.ID, AbsenceTypeID: c.absenceType.ID}
}

// =============================================================================
// ENTITLEMENT
// =============================================================================

// ContractualEntitlement returns the contract's leave amount for the absence
// type, plus the period's public holidays when the job leave includes them.
// Zero when the contract has no job leave for the type.
func (c *Calculation) ContractualEntitlement(ctx context.Context) (decimal.Decimal, error) {
	jl, err := c.loadJobLeave(ctx)
	if err != nil || jl == nil {
		return decimal.Zero, err
	}
	ce := jl.LeaveAmount
	if jl.IncludePublicHolidays {
		n, err := c.publicHolidaysInPeriod(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		ce = ce.Add(decimal.NewFromInt(int64(n)))
	}
	return ce, nil
}

// NumberOfWorkingDaysToWork returns the working days the contract covers in
// the period. Zero when the contract has no details.
func (c *Calculation) NumberOfWorkingDaysToWork(ctx context.Context) (int, error) {
	if c.workingDaysToWorkLoaded {
		return c.workingDaysToWork, nil
	}
	start, end, ok, err := c.contractDates(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	if ok {
		n, err = c.deps.Periods.WorkingDaysToWork(ctx, c.period, start, end)
		if err != nil {
			return 0, fmt.Errorf("count working days to work: %w", err)
		}
	}
	c.workingDaysToWork, c.workingDaysToWorkLoaded = n, true
	return n, nil
}

// NumberOfWorkingDays returns the working days in the whole period.
func (c *Calculation) NumberOfWorkingDays(ctx context.Context) (int, error) {
	if c.workingDaysLoaded {
		return c.workingDays, nil
	}
	n, err := c.deps.Periods.WorkingDays(ctx, c.period)
	if err != nil {
		return 0, fmt.Errorf("count working days: %w", err)
	}
	c.workingDays, c.workingDaysLoaded = n, true
	return n, nil
}

// ProRata returns (WDTW / WD) * CE rounded up to the next half day.
// The division is exact: the result is ceil(2*WDTW*CE / WD) / 2.
func (c *Calculation) ProRata(ctx context.Context) (decimal.Decimal, error) {
	wdtw, err := c.NumberOfWorkingDaysToWork(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	wd, err := c.NumberOfWorkingDays(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if wd <= 0 {
		return decimal.Zero, &NoWorkingDaysError{PeriodID: c.period.ID}
	}
	ce, err := c.ContractualEntitlement(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return roundUpToHalfDay(decimal.NewFromInt(int64(wdtw)).Mul(ce), decimal.NewFromInt(int64(wd))), nil
}

// roundUpToHalfDay returns ceil(num / den * 2) / 2 without intermediate rounding.
func roundUpToHalfDay(num, den decimal.Decimal) decimal.Decimal {
	q, r := num.Mul(two).QuoRem(den, 0)
	if r.Sign() > 0 {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.Div(two)
}

// BroughtForward returns the days carried from the previous period.
// Zero when the absence type doesn't allow carry forward, when it has
// expired, or when there's nothing left. Capped by MaxDaysCarryForward.
func (c *Calculation) BroughtForward(ctx context.Context) (decimal.Decimal, error) {
	if !c.absenceType.AllowCarryForward || c.broughtForwardHasExpired() {
		return decimal.Zero, nil
	}
	remaining, err := c.NumberOfDaysRemainingInThePreviousPeriod(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if remaining.Sign() < 0 {
		return decimal.Zero, nil
	}
	if limit := c.absenceType.MaxDaysCarryForward; limit != nil && remaining.GreaterThan(*limit) {
		return *limit, nil
	}
	return remaining, nil
}

// BroughtForwardExpirationDate returns when days brought into this period
// expire, or nil.
func (c *Calculation) BroughtForwardExpirationDate() *Date {
	return c.period.ExpirationDateFor(c.absenceType)
}

func (c *Calculation) broughtForwardHasExpired() bool {
	if c.absenceType.CarryForwardNeverExpires() {
		return false
	}
	exp := c.BroughtForwardExpirationDate()
	if exp == nil {
		return true
	}
	return !exp.After(c.deps.clock().Today())
}

// ProposedEntitlement returns the override stored on the current balance
// if there is one, otherwise ProRata + BroughtForward.
func (c *Calculation) ProposedEntitlement(ctx context.Context) (decimal.Decimal, error) {
	current, err := c.loadCurrentBalance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if current != nil && current.Overridden {
		return current.Entitlement(), nil
	}
	pr, err := c.ProRata(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	bf, err := c.BroughtForward(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return pr.Add(bf), nil
}

// PublicHolidaysInEntitlement lists the holidays between the contract dates,
// clipped to the period. Empty unless the job leave includes public holidays.
func (c *Calculation) PublicHolidaysInEntitlement(ctx context.Context) ([]PublicHoliday, error) {
	jl, err := c.loadJobLeave(ctx)
	if err != nil || jl == nil || !jl.IncludePublicHolidays {
		return nil, err
	}
	start, end, _, err := c.contractDates(ctx)
	if err != nil {
		return nil, err
	}
	start, end = c.period.Clip(start, end)
	hs, err := c.deps.Holidays.ListInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list public holidays: %w", err)
	}
	return hs, nil
}

// =============================================================================
// CURRENT PERIOD
// =============================================================================

// IsCurrentPeriodEntitlementOverridden reports whether the stored balance
// for this triple carries an override.
func (c *Calculation) IsCurrentPeriodEntitlementOverridden(ctx context.Context) (bool, error) {
	current, err := c.loadCurrentBalance(ctx)
	if err != nil {
		return false, err
	}
	return current != nil && current.Overridden, nil
}

// CurrentPeriodEntitlementComment returns the stored balance's comment, or "".
func (c *Calculation) CurrentPeriodEntitlementComment(ctx context.Context) (string, error) {
	current, err := c.loadCurrentBalance(ctx)
	if err != nil || current == nil {
		return "", err
	}
	return current.Comment, nil
}

// =============================================================================
// PREVIOUS PERIOD
// =============================================================================

// PreviousPeriodProposedEntitlement returns the previous balance's entitlement.
func (c *Calculation) PreviousPeriodProposedEntitlement(ctx context.Context) (decimal.Decimal, error) {
	prev, err := c.loadPreviousBalance(ctx)
	if err != nil || prev == nil {
		return decimal.Zero, err
	}
	return prev.Entitlement(), nil
}

// NumberOfDaysTakenOnThePreviousPeriod returns the approved request days of
// the previous balance as a positive number.
func (c *Calculation) NumberOfDaysTakenOnThePreviousPeriod(ctx context.Context) (decimal.Decimal, error) {
	prev, err := c.loadPreviousBalance(ctx)
	if err != nil || prev == nil {
		return decimal.Zero, err
	}
	return prev.LeaveRequestBalance().Neg(), nil
}

// NumberOfDaysRemainingInThePreviousPeriod returns the previous balance.
func (c *Calculation) NumberOfDaysRemainingInThePreviousPeriod(ctx context.Context) (decimal.Decimal, error) {
	prev, err := c.loadPreviousBalance(ctx)
	if err != nil || prev == nil {
		return decimal.Zero, err
	}
	return prev.Balance(), nil
}

// =============================================================================
// BREAKDOWN
// =============================================================================

// Breakdown holds every figure of a calculation.
type Breakdown struct {
	ContractualEntitlement decimal.Decimal // CE, without public holidays
	PublicHolidays         int             // PH
	WorkingDaysToWork      int             // WDTW
	WorkingDays            int             // WD
	ProRata                decimal.Decimal // PR
	BroughtForward         decimal.Decimal // BF
	ProposedEntitlement    decimal.Decimal // PE
}

// String renders ((CE + PH) * (WDTW / WD)) = (PR) + (BF) = PE days.
func (b Breakdown) String() string {
	return fmt.Sprintf("((%s + %d) * (%d / %d)) = (%s) + (%s) = %s days",
		b.ContractualEntitlement, b.PublicHolidays,
		b.WorkingDaysToWork, b.WorkingDays,
		b.ProRata, b.BroughtForward, b.ProposedEntitlement)
}

// Breakdown evaluates the whole calculation.
func (c *Calculation) Breakdown(ctx context.Context) (Breakdown, error) {
	var b Breakdown

	ce, err := c.ContractualEntitlement(ctx)
	if err != nil {
		return b, err
	}
	if jl, _ := c.loadJobLeave(ctx); jl != nil && jl.IncludePublicHolidays {
		if b.PublicHolidays, err = c.publicHolidaysInPeriod(ctx); err != nil {
			return b, err
		}
	}
	b.ContractualEntitlement = ce.Sub(decimal.NewFromInt(int64(b.PublicHolidays)))

	if b.WorkingDaysToWork, err = c.NumberOfWorkingDaysToWork(ctx); err != nil {
		return b, err
	}
	if b.WorkingDays, err = c.NumberOfWorkingDays(ctx); err != nil {
		return b, err
	}
	if b.ProRata, err = c.ProRata(ctx); err != nil {
		return b, err
	}
	if b.BroughtForward, err = c.BroughtForward(ctx); err != nil {
		return b, err
	}
	if b.ProposedEntitlement, err = c.ProposedEntitlement(ctx); err != nil {
		return b, err
	}
	return b, nil
}

// =============================================================================
// MEMOIZED LOOKUPS
// =============================================================================

func (c *Calculation) loadJobLeave(ctx context.Context) (*JobLeave, error) {
	if c.jobLeaveLoaded {
		return c.jobLeave, nil
	}
	jl, err := c.deps.JobLeaves.JobLeave(ctx, c.contract.ID, c.absenceType.ID)
	if err != nil {
		return nil, fmt.Errorf("load job leave: %w", err)
	}
	c.jobLeave, c.jobLeaveLoaded = jl, true
	return jl, nil
}

func (c *Calculation) loadContractDetails(ctx context.Context) (*ContractDetails, error) {
	if c.detailsLoaded {
		return c.details, nil
	}
	d, err := c.deps.Contracts.ContractDetails(ctx, c.contract.ID)
	if err != nil {
		return nil, fmt.Errorf("load contract details: %w", err)
	}
	c.details, c.detailsLoaded = d, true
	return d, nil
}

// contractDates returns the contract's start and end. An open-ended
// contract ends with the period. ok is false when there are no details.
func (c *Calculation) contractDates(ctx context.Context) (start, end Date, ok bool, err error) {
	d, err := c.loadContractDetails(ctx)
	if err != nil || d == nil {
		return Date{}, Date{}, false, err
	}
	end = d.EndDate
	if end.IsZero() {
		end = c.period.EndDate
	}
	return d.StartDate, end, true, nil
}

func (c *Calculation) publicHolidaysInPeriod(ctx context.Context) (int, error) {
	if c.holidayCountLoaded {
		return c.holidayCount, nil
	}
	n, err := c.deps.Holidays.CountInRange(ctx, c.period.StartDate, c.period.EndDate)
	if err != nil {
		return 0, fmt.Errorf("count public holidays: %w", err)
	}
	c.holidayCount, c.holidayCountLoaded = n, true
	return n, nil
}

func (c *Calculation) loadCurrentBalance(ctx context.Context) (*LeaveBalance, error) {
	if c.currentBalanceLoaded {
		return c.currentBalance, nil
	}
	b, err := c.findBalance(ctx, c.Key())
	if err != nil {
		return nil, err
	}
	c.currentBalance, c.currentBalanceLoaded = b, true
	return b, nil
}

func (c *Calculation) loadPreviousPeriod(ctx context.Context) (*AbsencePeriod, error) {
	if c.previousPeriodLoaded {
		return c.previousPeriod, nil
	}
	p, err := c.deps.Periods.PreviousPeriod(ctx, c.period)
	if err != nil {
		return nil, fmt.Errorf("load previous period: %w", err)
	}
	c.previousPeriod, c.previousPeriodLoaded = p, true
	return p, nil
}

func (c *Calculation) loadPreviousBalance(ctx context.Context) (*LeaveBalance, error) {
	if c.previousBalanceLoaded {
		return c.previousBalance, nil
	}
	prev, err := c.loadPreviousPeriod(ctx)
	if err != nil {
		return nil, err
	}
	var b *LeaveBalance
	if prev != nil {
		key := c.Key()
		key.PeriodID = prev.ID
		if b, err = c.findBalance(ctx, key); err != nil {
			return nil, err
		}
	}
	c.previousBalance, c.previousBalanceLoaded = b, true
	return b, nil
}

func (c *Calculation) findBalance(ctx context.Context, key BalanceKey) (*LeaveBalance, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	b, err := c.deps.Balances.FindBalance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find balance: %w", err)
	}
	return b, nil
}
