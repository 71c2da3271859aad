package scenario_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/batch"
	"github.com/warp/leave-engine/crm"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
	"github.com/warp/leave-engine/scenario"
)

var ctx = context.Background()

type demo struct {
	crm    *crm.CRM
	store  *store.TxMemory
	runner *batch.Runner
	loaded map[string]int64
	types  map[string]int64
	first  int64 // first contract id
}

func loadDemo(t *testing.T, id string) *demo {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := crm.Open("sqlite", ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s, loaded, err := scenario.Load(ctx, c, id)
	require.NoError(t, err)
	clock, err := s.Clock()
	require.NoError(t, err)

	st := store.NewTxMemory()
	service := leave.NewService(st, clock, logger)
	return &demo{
		crm:    c,
		store:  st,
		runner: batch.NewRunner(service, c.Dependencies(st, clock), c, batch.NewMemoryRunStore(), logger),
		loaded: loaded.Periods,
		types:  loaded.AbsenceTypes,
		first:  loaded.Contracts[0].ID,
	}
}

func (d *demo) recalculate(t *testing.T, period string) {
	t.Helper()
	run, err := d.runner.RecalculatePeriod(ctx, d.loaded[period])
	require.NoError(t, err)
	require.Equal(t, batch.RunCompleted, run.Status, run.Error)
}

func (d *demo) balance(t *testing.T, period, absenceType string) *leave.LeaveBalance {
	t.Helper()
	b, err := d.store.FindBalance(ctx, leave.BalanceKey{
		ContractID:    d.first,
		PeriodID:      d.loaded[period],
		AbsenceTypeID: d.types[absenceType],
	})
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func TestList(t *testing.T) {
	list := scenario.List()
	require.Len(t, list, 4)
	assert.Equal(t, "bank-holidays", list[0].ID)

	_, err := scenario.Get("nope")
	assert.True(t, leave.IsNotFound(err))
}

func TestScenario_NewEmployee(t *testing.T) {
	d := loadDemo(t, "new-employee")

	d.recalculate(t, "2016")

	// 212 of 253 working days of 28
	assert.Equal(t, "23.5", d.balance(t, "2016", "Annual Leave").Balance().String())
}

func TestScenario_BankHolidays(t *testing.T) {
	d := loadDemo(t, "bank-holidays")

	d.recalculate(t, "2016")

	b := d.balance(t, "2016", "Annual Leave")
	assert.Equal(t, "28", b.Balance().String())
	assert.Equal(t, "36", b.Entitlement().String())
}

func TestScenario_CarryForward(t *testing.T) {
	d := loadDemo(t, "carry-forward")

	// GIVEN: 2015 fully unused
	d.recalculate(t, "2015")
	assert.Equal(t, "25", d.balance(t, "2015", "Annual Leave").Balance().String())

	// WHEN: Recalculating 2016
	d.recalculate(t, "2016")

	// THEN: 5 days brought forward, sick leave doesn't carry
	annual := d.balance(t, "2016", "Annual Leave")
	assert.Equal(t, "30", annual.Entitlement().String())
	bf := annual.ChangesOfType(leave.ChangeBroughtForward)
	require.Len(t, bf, 1)
	assert.Equal(t, "2016-03-31", bf[0].ExpiryDate.String())
	assert.Equal(t, "10", d.balance(t, "2016", "Sick").Entitlement().String())
}

func TestScenario_Leaver(t *testing.T) {
	d := loadDemo(t, "leaver")

	d.recalculate(t, "2016")

	// 125 of 253 working days of 28
	assert.Equal(t, "14", d.balance(t, "2016", "Annual Leave").Balance().String())
}
