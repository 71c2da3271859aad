package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

var ctx = context.Background()

var key = leave.BalanceKey{ContractID: 1, PeriodID: 2, AbsenceTypeID: 3}

func seedBalance(t *testing.T, s leave.Store) *leave.LeaveBalance {
	t.Helper()
	b := &leave.LeaveBalance{Key: key}
	require.NoError(t, s.CreateBalance(ctx, b))
	require.NoError(t, s.AppendChange(ctx, &leave.BalanceChange{
		BalanceID: b.ID, Type: leave.ChangeLeave, Amount: decimal.NewFromInt(20),
	}))
	return b
}

func TestMemory_RequestStatusFlowsIntoLedger(t *testing.T) {
	// GIVEN: A balance with a one-day request debit
	m := store.NewTxMemory()
	b := seedBalance(t, m)
	req := &leave.LeaveRequest{
		BalanceID:    b.ID,
		Status:       leave.StatusWaitingApproval,
		FromDate:     leave.MustParseDate("2016-05-02"),
		FromDateType: leave.DateAllDay,
	}
	require.NoError(t, m.CreateLeaveRequest(ctx, req))
	require.Len(t, req.Dates, 1)
	dateID := req.Dates[0].ID
	require.NoError(t, m.AppendChange(ctx, &leave.BalanceChange{
		BalanceID:  b.ID,
		Type:       leave.ChangeDebit,
		Amount:     decimal.NewFromInt(-1),
		SourceID:   &dateID,
		SourceType: leave.SourceLeaveRequestDay,
	}))

	// WHEN: The request is still waiting
	got, err := m.FindBalance(ctx, key)
	require.NoError(t, err)

	// THEN: The debit does not count
	assert.True(t, decimal.NewFromInt(20).Equal(got.Balance()))

	// WHEN: The request is approved
	require.NoError(t, m.SetRequestStatus(ctx, req.ID, leave.StatusApproved))
	got, err = m.FindBalance(ctx, key)
	require.NoError(t, err)

	// THEN: The debit counts
	assert.True(t, decimal.NewFromInt(19).Equal(got.Balance()))
	assert.True(t, decimal.NewFromInt(-1).Equal(got.LeaveRequestBalance()))
	assert.ErrorIs(t, m.SetRequestStatus(ctx, 999, leave.StatusApproved), leave.ErrNotFound)
}

func TestMemory_DeleteCascades(t *testing.T) {
	m := store.NewTxMemory()
	b := seedBalance(t, m)
	require.NoError(t, m.CreateLeaveRequest(ctx, &leave.LeaveRequest{
		BalanceID: b.ID,
		Status:    leave.StatusAdminApproved,
		FromDate:  leave.MustParseDate("2016-12-26"),
		ToDate:    leave.MustParseDate("2016-12-27"),
	}))
	require.Equal(t, 1, m.RequestCount())

	require.NoError(t, m.DeleteBalance(ctx, key))

	got, err := m.FindBalance(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, m.BalanceCount())
	assert.Zero(t, m.RequestCount())
	assert.NoError(t, m.DeleteBalance(ctx, key))
}

func TestTxMemory_RollbackRestoresState(t *testing.T) {
	// GIVEN: An existing balance
	m := store.NewTxMemory()
	original := seedBalance(t, m)
	boom := errors.New("boom")

	// WHEN: A transaction replaces it and then fails
	err := m.WithTx(ctx, func(s leave.Store) error {
		require.NoError(t, s.DeleteBalance(ctx, key))
		require.NoError(t, s.CreateBalance(ctx, &leave.LeaveBalance{Key: key}))
		return boom
	})

	// THEN: The original balance and its ledger are back
	assert.ErrorIs(t, err, boom)
	got, err := m.FindBalance(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, original.ID, got.ID)
	require.Len(t, got.Changes, 1)
	assert.True(t, decimal.NewFromInt(20).Equal(got.Entitlement()))
}

func TestMemory_ExpiredCandidates(t *testing.T) {
	// GIVEN: Two brought forward entries, one already expired
	m := store.NewTxMemory()
	b := seedBalance(t, m)
	march := leave.MustParseDate("2016-03-31")
	june := leave.MustParseDate("2016-06-30")
	first := &leave.BalanceChange{BalanceID: b.ID, Type: leave.ChangeBroughtForward, Amount: decimal.NewFromInt(3), ExpiryDate: &march}
	second := &leave.BalanceChange{BalanceID: b.ID, Type: leave.ChangeBroughtForward, Amount: decimal.NewFromInt(2), ExpiryDate: &june}
	require.NoError(t, m.AppendChange(ctx, first))
	require.NoError(t, m.AppendChange(ctx, second))
	require.NoError(t, m.AppendChange(ctx, &leave.BalanceChange{
		BalanceID:              b.ID,
		Type:                   leave.ChangeBroughtForward,
		Amount:                 decimal.NewFromInt(-3),
		ExpiredBalanceChangeID: &first.ID,
	}))

	// WHEN: Looking for entries expiring before the end of the year
	candidates, err := m.ExpiredCandidates(ctx, leave.MustParseDate("2016-12-31"))

	// THEN: Only the second one is due
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, second.ID, candidates[0].Change.ID)
	assert.Equal(t, key, candidates[0].Key)
	assert.True(t, decimal.NewFromInt(22).Equal(candidates[0].Balance))

	// AND: An entry is due on its expiry day, not the day before
	candidates, err = m.ExpiredCandidates(ctx, june)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, second.ID, candidates[0].Change.ID)

	candidates, err = m.ExpiredCandidates(ctx, june.AddDays(-1))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
