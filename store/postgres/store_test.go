package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/batch"
	"github.com/warp/leave-engine/leave"
)

var (
	ctx        = context.Background()
	key        = leave.BalanceKey{ContractID: 10, PeriodID: 2, AbsenceTypeID: 3}
	balanceCol = []string{"id", "overridden", "comment", "comment_author_id", "comment_date"}
	changeCol  = []string{"id", "type", "amount", "source_id", "source_type", "expiry_date", "expired_balance_change_id", "status"}
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewStore(mock)
}

func TestStore_FindBalance_ResolvesRequestStatus(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	// GIVEN: A balance with an entitlement, one approved and one pending day
	mock.ExpectBeginTx(snapshotOptions)
	mock.ExpectQuery(`FROM leave_balances`).
		WithArgs(int64(10), int64(2), int64(3)).
		WillReturnRows(pgxmock.NewRows(balanceCol).AddRow(int64(7), false, "Checked", int64(5), "2016-06-15"))
	mock.ExpectQuery(`FROM leave_balance_changes c`).
		WithArgs(int64(7), "leave_request_day").
		WillReturnRows(pgxmock.NewRows(changeCol).
			AddRow(int64(1), "leave", "20.00", nil, nil, nil, nil, nil).
			AddRow(int64(2), "brought_forward", "3.50", nil, nil, "2016-03-31", nil, nil).
			AddRow(int64(3), "debit", "-1.00", int64(100), "leave_request_day", nil, nil, "approved").
			AddRow(int64(4), "debit", "-1.00", int64(101), "leave_request_day", nil, nil, "waiting_approval"))
	mock.ExpectCommit()

	// WHEN: Loading it
	b, err := store.FindBalance(ctx, key)

	// THEN: Only the approved day counts
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, int64(7), b.ID)
	assert.Equal(t, "Checked", b.Comment)
	assert.Equal(t, int64(5), b.CommentAuthorID)
	require.NotNil(t, b.CommentDate)
	assert.Equal(t, "2016-06-15", b.CommentDate.String())

	require.Len(t, b.Changes, 4)
	require.NotNil(t, b.Changes[1].ExpiryDate)
	assert.Equal(t, "2016-03-31", b.Changes[1].ExpiryDate.String())
	assert.Equal(t, leave.StatusApproved, b.Changes[2].SourceStatus)
	require.NotNil(t, b.Changes[3].SourceID)
	assert.Equal(t, int64(101), *b.Changes[3].SourceID)
	assert.Equal(t, "22.5", b.Balance().String())
	assert.Equal(t, "23.5", b.Entitlement().String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindBalance_Missing(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	mock.ExpectBeginTx(snapshotOptions)
	mock.ExpectQuery(`FROM leave_balances`).
		WithArgs(int64(10), int64(2), int64(3)).
		WillReturnRows(pgxmock.NewRows(balanceCol))
	mock.ExpectCommit()

	b, err := store.FindBalance(ctx, key)

	require.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindBalance_ReadsOneSnapshot(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	// GIVEN: The ledger read fails after the balance row was found
	boom := errors.New("connection reset")
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`FROM leave_balances`).
		WithArgs(int64(10), int64(2), int64(3)).
		WillReturnRows(pgxmock.NewRows(balanceCol).AddRow(int64(7), false, "", int64(0), nil))
	mock.ExpectQuery(`FROM leave_balance_changes c`).
		WithArgs(int64(7), "leave_request_day").
		WillReturnError(boom)
	mock.ExpectRollback()

	// WHEN: Loading it
	b, err := store.FindBalance(ctx, key)

	// THEN: Both statements ran in one snapshot that was rolled back and no
	// partial balance is returned
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindBalance_JoinsCallerTransaction(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	// GIVEN: A read-write transaction is already open
	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectQuery(`FROM leave_balances`).
		WithArgs(int64(10), int64(2), int64(3)).
		WillReturnRows(pgxmock.NewRows(balanceCol))
	mock.ExpectCommit()

	// WHEN: Reading a balance inside it
	err := store.tm.Write(ctx, func(txCtx context.Context) error {
		b, err := store.FindBalance(txCtx, key)
		assert.Nil(t, b)
		return err
	})

	// THEN: No second transaction is opened
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateLeaveRequest_OneDatePerDay(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectQuery(`INSERT INTO leave_requests`).
		WithArgs(int64(7), "admin_approved", "2016-12-26", "all_day", "2016-12-27", "all_day").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(40)))
	mock.ExpectQuery(`INSERT INTO leave_request_dates`).
		WithArgs(int64(40), "2016-12-26").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(400)))
	mock.ExpectQuery(`INSERT INTO leave_request_dates`).
		WithArgs(int64(40), "2016-12-27").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(401)))
	mock.ExpectCommit()

	r := &leave.LeaveRequest{
		BalanceID:    7,
		Status:       leave.StatusAdminApproved,
		FromDate:     leave.MustParseDate("2016-12-26"),
		FromDateType: leave.DateAllDay,
		ToDate:       leave.MustParseDate("2016-12-27"),
		ToDateType:   leave.DateAllDay,
	}
	err := store.CreateLeaveRequest(ctx, r)

	require.NoError(t, err)
	assert.Equal(t, int64(40), r.ID)
	require.Len(t, r.Dates, 2)
	assert.Equal(t, int64(401), r.Dates[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx_SaveOverride(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)
	logger, _ := test.NewNullLogger()
	service := leave.NewService(store, leave.FixedClock(leave.MustParseDate("2016-06-15")), logger)

	// GIVEN: The save of an overridden entitlement
	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectExec(`DELETE FROM leave_balances`).
		WithArgs(int64(10), int64(2), int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(`INSERT INTO leave_balances`).
		WithArgs(int64(10), int64(2), int64(3), true, nil, nil, nil).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(`INSERT INTO leave_balance_changes`).
		WithArgs(int64(7), "leave", "30", pgxmock.AnyArg(), nil, nil, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(70)))
	mock.ExpectCommit()

	override := decimal.NewFromInt(30)
	calc := leave.NewCalculation(leave.Dependencies{},
		leave.AbsencePeriod{ID: 2}, leave.Contract{ID: 10}, leave.AbsenceType{ID: 3})

	// WHEN: Saving
	b, err := service.SaveFromCalculation(ctx, leave.SaveInput{Calculation: calc, Override: &override})

	// THEN: The balance and its single entry are written in one transaction
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.ID)
	require.Len(t, b.Changes, 1)
	assert.Equal(t, int64(70), b.Changes[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx_RollsBackOnFailure(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadWrite})
	mock.ExpectExec(`DELETE FROM leave_balances`).
		WithArgs(int64(10), int64(2), int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`INSERT INTO leave_balances`).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(st leave.Store) error {
		if err := st.DeleteBalance(ctx, key); err != nil {
			return err
		}
		return st.CreateBalance(ctx, &leave.LeaveBalance{Key: key})
	})

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Contains(t, err.Error(), "already exists")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ExpiredCandidates(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	mock.ExpectBeginTx(snapshotOptions)
	mock.ExpectQuery(`c.expiry_date <= \$2::date`).
		WithArgs("brought_forward", "2016-06-15").
		WillReturnRows(pgxmock.NewRows([]string{"id", "balance_id", "amount", "expiry_date", "contract_id", "period_id", "type_id"}).
			AddRow(int64(2), int64(7), "5.00", "2016-03-31", int64(10), int64(2), int64(3)))
	mock.ExpectQuery(`FROM leave_balance_changes c`).
		WithArgs(int64(7), "leave_request_day").
		WillReturnRows(pgxmock.NewRows(changeCol).
			AddRow(int64(1), "leave", "20.00", nil, nil, nil, nil, nil).
			AddRow(int64(2), "brought_forward", "5.00", nil, nil, "2016-03-31", nil, nil).
			AddRow(int64(3), "debit", "-22.00", nil, nil, nil, nil, nil))
	mock.ExpectCommit()

	got, err := store.ExpiredCandidates(ctx, leave.MustParseDate("2016-06-15"))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, key, got[0].Key)
	assert.Equal(t, "5", got[0].Change.Amount.String())
	assert.Equal(t, "3", got[0].Balance.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveRun(t *testing.T) {
	t.Parallel()
	mock, store := newMock(t)

	started := time.Date(2016, 6, 15, 9, 0, 0, 0, time.UTC)
	run := batch.Run{ID: "0b6c9d4e-1f0a-4c55-9b8e-0d5f3c1a2b3c", PeriodID: 2, Status: batch.RunRunning, StartedAt: started}

	mock.ExpectExec(`INSERT INTO calculation_runs`).
		WithArgs(run.ID, int64(2), "running", 0, 0, 0, nil, started, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveRun(ctx, run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTranslatePgError(t *testing.T) {
	t.Parallel()

	err := translatePgError(&pgconn.PgError{Code: uniqueViolationCode})
	assert.Contains(t, err.Error(), "already exists")

	other := errors.New("random")
	assert.Equal(t, other, translatePgError(other))
}
