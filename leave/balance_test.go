package leave_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// COMMENT VALIDATION
// =============================================================================

func TestLeaveBalance_Validate(t *testing.T) {
	today := leave.MustParseDate("2016-06-15")

	tests := []struct {
		name    string
		balance leave.LeaveBalance
		reason  string
	}{
		{"no comment at all", leave.LeaveBalance{}, ""},
		{"complete comment", leave.LeaveBalance{Comment: "ok", CommentAuthorID: 7, CommentDate: &today}, ""},
		{"comment without author", leave.LeaveBalance{Comment: "ok", CommentDate: &today}, "The author of the comment cannot be null"},
		{"comment without date", leave.LeaveBalance{Comment: "ok", CommentAuthorID: 7}, "The date of the comment cannot be null"},
		{"author without comment", leave.LeaveBalance{CommentAuthorID: 7}, "The author of the comment should be null if the comment is empty"},
		{"date without comment", leave.LeaveBalance{CommentDate: &today}, "The date of the comment should be null if the comment is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.balance.Validate()

			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, leave.ErrInvalidLeaveBalance))
			var invalid *leave.InvalidLeaveBalanceError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tt.reason, invalid.Reason)
		})
	}
}

// =============================================================================
// LEDGER QUERIES
// =============================================================================

func sourced(id int64, typ leave.BalanceChangeType, amount string, status leave.RequestStatus) leave.BalanceChange {
	src := id
	return leave.BalanceChange{
		ID:           id,
		Type:         typ,
		Amount:       dec(amount),
		SourceID:     &src,
		SourceType:   leave.SourceLeaveRequestDay,
		SourceStatus: status,
	}
}

func unsourced(id int64, typ leave.BalanceChangeType, amount string) leave.BalanceChange {
	return leave.BalanceChange{ID: id, Type: typ, Amount: dec(amount)}
}

func TestLeaveBalance_Balance_ExcludesPendingDebits(t *testing.T) {
	// GIVEN: BF +5, PH +2, an approved debit and a pending 3-day debit
	b := leave.LeaveBalance{Changes: []leave.BalanceChange{
		unsourced(1, leave.ChangeBroughtForward, "5"),
		unsourced(2, leave.ChangePublicHoliday, "2"),
		sourced(3, leave.ChangeDebit, "-1", leave.StatusApproved),
		sourced(4, leave.ChangeDebit, "-3", leave.StatusWaitingApproval),
	}}

	// WHEN: Computing the balance
	balance := b.Balance()

	// THEN: Only the approved debit counts: 5 + 2 - 1
	assert.True(t, dec("6").Equal(balance), "got %s", balance)
}

func TestLeaveBalance_Entitlement_OnlyUnsourcedBreakdownEntries(t *testing.T) {
	// GIVEN: The same ledger plus a 20-day leave entry
	b := leave.LeaveBalance{Changes: []leave.BalanceChange{
		unsourced(1, leave.ChangeBroughtForward, "5"),
		unsourced(2, leave.ChangePublicHoliday, "2"),
		sourced(3, leave.ChangeDebit, "-1", leave.StatusApproved),
		sourced(4, leave.ChangeDebit, "-3", leave.StatusWaitingApproval),
		unsourced(5, leave.ChangeLeave, "20"),
	}}

	// THEN: 20 + 5 + 2
	assert.True(t, dec("27").Equal(b.Entitlement()))
	assert.True(t, dec("26").Equal(b.Balance()))
}

func TestLeaveBalance_StatusesCountingAgainstBalance(t *testing.T) {
	tests := []struct {
		status leave.RequestStatus
		counts bool
	}{
		{leave.StatusApproved, true},
		{leave.StatusAdminApproved, true},
		{leave.StatusWaitingApproval, false},
		{leave.StatusMoreInformationRequired, false},
		{leave.StatusRejected, false},
		{leave.StatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			b := leave.LeaveBalance{Changes: []leave.BalanceChange{
				unsourced(1, leave.ChangeLeave, "10"),
				sourced(2, leave.ChangeDebit, "-1", tt.status),
			}}

			if tt.counts {
				assert.True(t, dec("9").Equal(b.Balance()))
				assert.True(t, dec("-1").Equal(b.LeaveRequestBalance()))
			} else {
				assert.True(t, dec("10").Equal(b.Balance()))
				assert.True(t, b.LeaveRequestBalance().IsZero())
			}
		})
	}
}

func TestLeaveBalance_ExpiryEntries(t *testing.T) {
	// GIVEN: 5 brought forward days, 3 of which expired
	original := int64(2)
	b := leave.LeaveBalance{Changes: []leave.BalanceChange{
		unsourced(1, leave.ChangeLeave, "20"),
		unsourced(2, leave.ChangeBroughtForward, "5"),
		{ID: 3, Type: leave.ChangeBroughtForward, Amount: dec("-3"), ExpiredBalanceChangeID: &original},
	}}

	// THEN: The expiry lowers the balance but not the entitlement
	assert.True(t, dec("22").Equal(b.Balance()))
	assert.True(t, dec("25").Equal(b.Entitlement()))
	assert.Len(t, b.ChangesOfType(leave.ChangeBroughtForward), 2)
}

func TestLeaveBalance_EmptyLedger(t *testing.T) {
	var b leave.LeaveBalance

	assert.True(t, b.Balance().IsZero())
	assert.True(t, b.Entitlement().IsZero())
	assert.True(t, b.LeaveRequestBalance().IsZero())
}

// =============================================================================
// KEYS
// =============================================================================

func TestBalanceKey_Validate(t *testing.T) {
	assert.NoError(t, leave.BalanceKey{ContractID: 1, PeriodID: 2, AbsenceTypeID: 3}.Validate())

	for _, k := range []leave.BalanceKey{
		{PeriodID: 2, AbsenceTypeID: 3},
		{ContractID: 1, AbsenceTypeID: 3},
		{ContractID: 1, PeriodID: 2},
	} {
		err := k.Validate()
		assert.True(t, errors.Is(err, leave.ErrMissingIdentifier), "%+v", k)
	}
}
