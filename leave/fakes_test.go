package leave_test

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// TEST FAKES - Providers with call counters
// =============================================================================

type fakePeriods struct {
	previous          *leave.AbsencePeriod
	workingDays       int
	workingDaysToWork int
	err               error

	previousCalls    int
	workingDaysCalls int
	toWorkCalls      int
	lastStart        leave.Date
	lastEnd          leave.Date
}

func (f *fakePeriods) Period(_ context.Context, id int64) (*leave.AbsencePeriod, error) {
	return nil, nil
}

func (f *fakePeriods) PreviousPeriod(_ context.Context, _ leave.AbsencePeriod) (*leave.AbsencePeriod, error) {
	f.previousCalls++
	return f.previous, f.err
}

func (f *fakePeriods) WorkingDays(_ context.Context, _ leave.AbsencePeriod) (int, error) {
	f.workingDaysCalls++
	return f.workingDays, f.err
}

func (f *fakePeriods) WorkingDaysToWork(_ context.Context, _ leave.AbsencePeriod, start, end leave.Date) (int, error) {
	f.toWorkCalls++
	f.lastStart, f.lastEnd = start, end
	return f.workingDaysToWork, f.err
}

type fakeHolidays struct {
	holidays []leave.PublicHoliday

	countCalls int
	listCalls  int
	listStart  leave.Date
	listEnd    leave.Date
}

func (f *fakeHolidays) CountInRange(_ context.Context, start, end leave.Date) (int, error) {
	f.countCalls++
	n := 0
	for _, h := range f.holidays {
		if h.Date.AfterOrEqual(start) && h.Date.BeforeOrEqual(end) {
			n++
		}
	}
	return n, nil
}

func (f *fakeHolidays) ListInRange(_ context.Context, start, end leave.Date) ([]leave.PublicHoliday, error) {
	f.listCalls++
	f.listStart, f.listEnd = start, end
	var out []leave.PublicHoliday
	for _, h := range f.holidays {
		if h.Date.AfterOrEqual(start) && h.Date.BeforeOrEqual(end) {
			out = append(out, h)
		}
	}
	return out, nil
}

type fakeJobLeaves struct {
	jobLeave *leave.JobLeave
	calls    int
}

func (f *fakeJobLeaves) JobLeave(_ context.Context, _, _ int64) (*leave.JobLeave, error) {
	f.calls++
	return f.jobLeave, nil
}

type fakeContracts struct {
	details *leave.ContractDetails
	calls   int
}

func (f *fakeContracts) ContractDetails(_ context.Context, _ int64) (*leave.ContractDetails, error) {
	f.calls++
	return f.details, nil
}

type fakeBalances struct {
	balances map[leave.BalanceKey]*leave.LeaveBalance
	calls    map[leave.BalanceKey]int
}

func newFakeBalances() *fakeBalances {
	return &fakeBalances{
		balances: make(map[leave.BalanceKey]*leave.LeaveBalance),
		calls:    make(map[leave.BalanceKey]int),
	}
}

func (f *fakeBalances) FindBalance(_ context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	f.calls[key]++
	return f.balances[key], nil
}

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	periods   *fakePeriods
	holidays  *fakeHolidays
	jobLeaves *fakeJobLeaves
	contracts *fakeContracts
	balances  *fakeBalances

	period      leave.AbsencePeriod
	previous    leave.AbsencePeriod
	contract    leave.Contract
	absenceType leave.AbsenceType
	today       leave.Date
}

// newFixture builds the 212 / 253 / 28 example: a contract starting in
// March 2016 in a 2016 leave year with 253 working days.
func newFixture() *fixture {
	previous := leave.AbsencePeriod{
		ID:        1,
		Title:     "2015",
		StartDate: leave.MustParseDate("2015-01-01"),
		EndDate:   leave.MustParseDate("2015-12-31"),
		Weight:    1,
	}
	period := leave.AbsencePeriod{
		ID:        2,
		Title:     "2016",
		StartDate: leave.MustParseDate("2016-01-01"),
		EndDate:   leave.MustParseDate("2016-12-31"),
		Weight:    2,
	}
	jobLeave := &leave.JobLeave{ContractID: 10, AbsenceTypeID: 3, LeaveAmount: decimal.NewFromInt(28)}
	details := &leave.ContractDetails{ContractID: 10, StartDate: leave.MustParseDate("2016-03-01")}

	return &fixture{
		periods:     &fakePeriods{previous: &previous, workingDays: 253, workingDaysToWork: 212},
		holidays:    &fakeHolidays{},
		jobLeaves:   &fakeJobLeaves{jobLeave: jobLeave},
		contracts:   &fakeContracts{details: details},
		balances:    newFakeBalances(),
		period:      period,
		previous:    previous,
		contract:    leave.Contract{ID: 10, ContactID: 100},
		absenceType: leave.AbsenceType{ID: 3, Title: "Annual Leave"},
		today:       leave.MustParseDate("2016-06-15"),
	}
}

func (f *fixture) deps() leave.Dependencies {
	return leave.Dependencies{
		Periods:   f.periods,
		Holidays:  f.holidays,
		JobLeaves: f.jobLeaves,
		Contracts: f.contracts,
		Balances:  f.balances,
		Clock:     leave.FixedClock(f.today),
	}
}

func (f *fixture) calculation() *leave.Calculation {
	return leave.NewCalculation(f.deps(), f.period, f.contract, f.absenceType)
}

func (f *fixture) currentKey() leave.BalanceKey {
	return leave.BalanceKey{ContractID: f.contract.ID, PeriodID: f.period.ID, AbsenceTypeID: f.absenceType.ID}
}

func (f *fixture) previousKey() leave.BalanceKey {
	return leave.BalanceKey{ContractID: f.contract.ID, PeriodID: f.previous.ID, AbsenceTypeID: f.absenceType.ID}
}

// withPreviousBalance stores a previous-period balance made of an
// entitlement and approved days taken.
func (f *fixture) withPreviousBalance(entitlement, taken int64) {
	b := &leave.LeaveBalance{ID: 50, Key: f.previousKey()}
	b.Changes = append(b.Changes, leave.BalanceChange{
		ID:        1,
		BalanceID: 50,
		Type:      leave.ChangeLeave,
		Amount:    decimal.NewFromInt(entitlement),
	})
	for i := int64(0); i < taken; i++ {
		src := 1000 + i
		b.Changes = append(b.Changes, leave.BalanceChange{
			ID:           2 + i,
			BalanceID:    50,
			Type:         leave.ChangeDebit,
			Amount:       decimal.NewFromInt(-1),
			SourceID:     &src,
			SourceType:   leave.SourceLeaveRequestDay,
			SourceStatus: leave.StatusApproved,
		})
	}
	f.balances.balances[f.previousKey()] = b
}

func (f *fixture) allowCarryForward(limit *decimal.Decimal) {
	f.absenceType.AllowCarryForward = true
	f.absenceType.MaxDaysCarryForward = limit
	f.absenceType.CarryForwardExpiry = leave.CarryForwardExpiry{Rule: leave.ExpiryNever}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func holiday(id int64, s string) leave.PublicHoliday {
	return leave.PublicHoliday{ID: id, Title: "Holiday " + s, Date: leave.MustParseDate(s)}
}

var ctx = context.Background()
