package crm_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/batch"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

type engine struct {
	*seeded
	store   *sqlite.Store
	service *leave.Service
	runner  *batch.Runner
}

func newEngine(t *testing.T, today string) *engine {
	t.Helper()
	s := seed(t)
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := leave.FixedClock(leave.MustParseDate(today))
	logger, _ := test.NewNullLogger()
	service := leave.NewService(st, clock, logger)
	return &engine{
		seeded:  s,
		store:   st,
		service: service,
		runner:  batch.NewRunner(service, s.crm.Dependencies(st, clock), s.crm, st, logger),
	}
}

func (e *engine) balance(t *testing.T, contractID, periodID, typeID int64) *leave.LeaveBalance {
	t.Helper()
	b, err := e.store.FindBalance(ctx, leave.BalanceKey{ContractID: contractID, PeriodID: periodID, AbsenceTypeID: typeID})
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func TestEngine_RecalculatePeriod(t *testing.T) {
	t.Parallel()
	e := newEngine(t, "2016-06-15")

	// GIVEN: One contract from March with 28 days, one full-year contract
	// with 28 days plus public holidays
	march := e.contract(t, 100, "2016-03-01", "")
	fullYear := e.contract(t, 101, "2016-01-01", "")
	require.NoError(t, e.crm.Contracts.SaveJobLeave(ctx, leave.JobLeave{ContractID: march.ID, AbsenceTypeID: e.annual.ID, LeaveAmount: decimal.NewFromInt(28)}))
	require.NoError(t, e.crm.Contracts.SaveJobLeave(ctx, leave.JobLeave{ContractID: fullYear.ID, AbsenceTypeID: e.annual.ID, LeaveAmount: decimal.NewFromInt(28), IncludePublicHolidays: true}))

	// WHEN: Recalculating 2016
	run, err := e.runner.RecalculatePeriod(ctx, e.p2016.ID)

	// THEN: Every contract and type gets a balance
	require.NoError(t, err)
	assert.Equal(t, batch.RunCompleted, run.Status)
	assert.Equal(t, 4, run.Saved)

	// 212 of 253 working days, 28 days: ceil(2*212*28/253)/2
	b := e.balance(t, march.ID, e.p2016.ID, e.annual.ID)
	assert.Equal(t, "23.5", b.Balance().String())

	// 28 + 8 holidays over the whole year, each holiday booked as a request
	b = e.balance(t, fullYear.ID, e.p2016.ID, e.annual.ID)
	assert.Equal(t, "36", b.Balance().String())
	assert.Equal(t, "44", b.Entitlement().String())
	assert.Len(t, b.ChangesOfType(leave.ChangeDebit), 8)

	// No job leave for TOIL
	b = e.balance(t, march.ID, e.p2016.ID, e.toil.ID)
	assert.True(t, b.Balance().IsZero())

	runs, err := e.store.ListRuns(ctx, e.p2016.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestEngine_CarryForwardAndExpiry(t *testing.T) {
	t.Parallel()
	e := newEngine(t, "2016-02-01")

	// GIVEN: A contract started mid-2015 with 20 days, carry forward capped at 5
	c := e.contract(t, 100, "2015-06-01", "")
	require.NoError(t, e.crm.Contracts.SaveJobLeave(ctx, leave.JobLeave{ContractID: c.ID, AbsenceTypeID: e.annual.ID, LeaveAmount: decimal.NewFromInt(20)}))
	_, err := e.runner.RecalculatePeriod(ctx, e.p2015.ID)
	require.NoError(t, err)

	// WHEN: Recalculating 2016
	_, err = e.runner.RecalculatePeriod(ctx, e.p2016.ID)
	require.NoError(t, err)

	// THEN: 20 days plus 5 brought forward, expiring three months in
	b := e.balance(t, c.ID, e.p2016.ID, e.annual.ID)
	assert.Equal(t, "25", b.Entitlement().String())
	bf := b.ChangesOfType(leave.ChangeBroughtForward)
	require.Len(t, bf, 1)
	require.NotNil(t, bf[0].ExpiryDate)
	assert.Equal(t, "2016-04-01", bf[0].ExpiryDate.String())

	// WHEN: Expiring in June, twice
	n, err := e.service.ExpireBroughtForward(ctx, leave.MustParseDate("2016-06-15"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = e.service.ExpireBroughtForward(ctx, leave.MustParseDate("2016-06-15"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// THEN: The unused days are gone, the entitlement is unchanged
	b = e.balance(t, c.ID, e.p2016.ID, e.annual.ID)
	assert.Equal(t, "20", b.Balance().String())
	assert.Equal(t, "25", b.Entitlement().String())
}
