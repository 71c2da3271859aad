package batch_test

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/warp/leave-engine/batch"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

var ctx = context.Background()

var errCRM = errors.New("crm unavailable")

// fakeCRM serves one period, a list of contracts and absence types. Every
// contract gets 28 days of leave unless it is listed in broken.
type fakeCRM struct {
	mu sync.Mutex

	period    leave.AbsencePeriod
	contracts []leave.Contract
	types     []leave.AbsenceType
	broken    map[int64]bool

	currentCalls int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		period: leave.AbsencePeriod{
			ID:        2,
			Title:     "2016",
			StartDate: leave.MustParseDate("2016-01-01"),
			EndDate:   leave.MustParseDate("2016-12-31"),
		},
		contracts: []leave.Contract{{ID: 10, ContactID: 100}, {ID: 11, ContactID: 101}},
		types:     []leave.AbsenceType{{ID: 3, Title: "Annual Leave"}},
		broken:    make(map[int64]bool),
	}
}

func (f *fakeCRM) Period(_ context.Context, id int64) (*leave.AbsencePeriod, error) {
	if id != f.period.ID {
		return nil, nil
	}
	p := f.period
	return &p, nil
}

func (f *fakeCRM) CurrentPeriod(_ context.Context, on leave.Date) (*leave.AbsencePeriod, error) {
	f.mu.Lock()
	f.currentCalls++
	f.mu.Unlock()
	if !f.period.Contains(on) {
		return nil, nil
	}
	p := f.period
	return &p, nil
}

func (f *fakeCRM) ContractsInPeriod(_ context.Context, _ leave.AbsencePeriod) ([]leave.Contract, error) {
	return f.contracts, nil
}

func (f *fakeCRM) AbsenceTypes(_ context.Context) ([]leave.AbsenceType, error) {
	return f.types, nil
}

func (f *fakeCRM) PreviousPeriod(_ context.Context, _ leave.AbsencePeriod) (*leave.AbsencePeriod, error) {
	return nil, nil
}

func (f *fakeCRM) WorkingDays(_ context.Context, _ leave.AbsencePeriod) (int, error) {
	return 253, nil
}

func (f *fakeCRM) WorkingDaysToWork(_ context.Context, _ leave.AbsencePeriod, _, _ leave.Date) (int, error) {
	return 212, nil
}

func (f *fakeCRM) CountInRange(_ context.Context, _, _ leave.Date) (int, error) {
	return 0, nil
}

func (f *fakeCRM) ListInRange(_ context.Context, _, _ leave.Date) ([]leave.PublicHoliday, error) {
	return nil, nil
}

func (f *fakeCRM) JobLeave(_ context.Context, contractID, absenceTypeID int64) (*leave.JobLeave, error) {
	if f.broken[contractID] {
		return nil, errCRM
	}
	return &leave.JobLeave{ContractID: contractID, AbsenceTypeID: absenceTypeID, LeaveAmount: decimal.NewFromInt(28)}, nil
}

func (f *fakeCRM) ContractDetails(_ context.Context, contractID int64) (*leave.ContractDetails, error) {
	return &leave.ContractDetails{ContractID: contractID, StartDate: leave.MustParseDate("2016-03-01")}, nil
}

type fixture struct {
	crm     *fakeCRM
	store   *store.TxMemory
	runs    *batch.MemoryRunStore
	service *leave.Service
	runner  *batch.Runner
	hook    *test.Hook
	clock   leave.Clock
}

func newFixture() *fixture {
	crm := newFakeCRM()
	st := store.NewTxMemory()
	clock := leave.FixedClock(leave.MustParseDate("2016-06-15"))
	logger, hook := test.NewNullLogger()

	deps := leave.Dependencies{
		Periods:   crm,
		Holidays:  crm,
		JobLeaves: crm,
		Contracts: crm,
		Balances:  st,
		Clock:     clock,
	}
	service := leave.NewService(st, clock, logger)
	runs := batch.NewMemoryRunStore()

	return &fixture{
		crm:     crm,
		store:   st,
		runs:    runs,
		service: service,
		runner:  batch.NewRunner(service, deps, crm, runs, logger),
		hook:    hook,
		clock:   clock,
	}
}

func (f *fixture) key(contractID int64) leave.BalanceKey {
	return leave.BalanceKey{ContractID: contractID, PeriodID: f.crm.period.ID, AbsenceTypeID: 3}
}
