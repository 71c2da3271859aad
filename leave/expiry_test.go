package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
)

func broughtForwardBalance(f *serviceFixture, bf string, approvedDays int) *leave.LeaveBalance {
	expiry := leave.MustParseDate("2016-03-31")
	b := &leave.LeaveBalance{Key: f.currentKey(), Changes: []leave.BalanceChange{
		unsourced(0, leave.ChangeLeave, "0"),
		{Type: leave.ChangeBroughtForward, Amount: dec(bf), ExpiryDate: &expiry},
	}}
	for i := 0; i < approvedDays; i++ {
		b.Changes = append(b.Changes, sourced(int64(i+1), leave.ChangeDebit, "-1", leave.StatusApproved))
	}
	return b
}

func TestExpireBroughtForward_ExpiresUnusedDays(t *testing.T) {
	// GIVEN: 5 days brought forward, expiring on 31 March
	f := newServiceFixture()
	seedBalance(t, f.store, broughtForwardBalance(f, "5", 0))

	// WHEN: Running expiry on 1 April
	n, err := f.service.ExpireBroughtForward(ctx, leave.MustParseDate("2016-04-01"))

	// THEN: All 5 days are taken back, linked to the original entry
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := f.service.Balance(ctx, f.currentKey())
	require.NoError(t, err)
	entries := b.ChangesOfType(leave.ChangeBroughtForward)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[1].ExpiredBalanceChangeID)
	assert.Equal(t, entries[0].ID, *entries[1].ExpiredBalanceChangeID)
	assert.True(t, dec("-5").Equal(entries[1].Amount))
	assert.True(t, b.Balance().IsZero())
	assert.True(t, dec("5").Equal(b.Entitlement()), "expiry doesn't change the entitlement")
}

func TestExpireBroughtForward_UsedDaysStayUsed(t *testing.T) {
	// GIVEN: 5 days brought forward, 3 already taken
	f := newServiceFixture()
	seedBalance(t, f.store, broughtForwardBalance(f, "5", 3))

	// WHEN: Expiring
	_, err := f.service.ExpireBroughtForward(ctx, leave.MustParseDate("2016-04-01"))
	require.NoError(t, err)

	// THEN: Only the 2 remaining days expire
	b, err := f.service.Balance(ctx, f.currentKey())
	require.NoError(t, err)
	entries := b.ChangesOfType(leave.ChangeBroughtForward)
	require.Len(t, entries, 2)
	assert.True(t, dec("-2").Equal(entries[1].Amount))
	assert.True(t, b.Balance().IsZero())
}

func TestExpireBroughtForward_RunsOncePerEntry(t *testing.T) {
	f := newServiceFixture()
	seedBalance(t, f.store, broughtForwardBalance(f, "5", 0))
	asOf := leave.MustParseDate("2016-04-01")

	first, err := f.service.ExpireBroughtForward(ctx, asOf)
	require.NoError(t, err)
	second, err := f.service.ExpireBroughtForward(ctx, asOf)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
}

func TestExpireBroughtForward_NotYetExpired(t *testing.T) {
	f := newServiceFixture()
	seedBalance(t, f.store, broughtForwardBalance(f, "5", 0))

	// The day before the expiry date the days are still valid.
	n, err := f.service.ExpireBroughtForward(ctx, leave.MustParseDate("2016-03-30"))

	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestExpireBroughtForward_OnTheExpiryDate(t *testing.T) {
	// GIVEN: 5 days brought forward, expiring on 31 March
	f := newServiceFixture()
	seedBalance(t, f.store, broughtForwardBalance(f, "5", 0))

	// WHEN: Running expiry on 31 March
	n, err := f.service.ExpireBroughtForward(ctx, leave.MustParseDate("2016-03-31"))

	// THEN: The days are gone
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	b, err := f.service.Balance(ctx, f.currentKey())
	require.NoError(t, err)
	assert.True(t, b.Balance().IsZero())
}
