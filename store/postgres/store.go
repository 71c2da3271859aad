/*
Package postgres provides the PostgreSQL ledger store.

PURPOSE:
  Same contract as store/sqlite (leave.TxStore plus batch.RunStore) on
  pgx/v5. Transactions go through TransactionManager, which carries the
  pgx.Tx in the context; Store methods called with such a context join the
  transaction. Reads outside a transaction run on a read-only
  repeatable-read snapshot so a balance never mixes two ledger states.

SCHEMA:
  Managed by golang-migrate from the embedded migrations/ directory, see
  Migrate. Amounts are NUMERIC and read back as text so decimal precision
  survives the round trip.

SEE ALSO:
  - store/sqlite: the embedded single-file equivalent
  - leave/providers.go: Store and TxStore
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/batch"
	"github.com/warp/leave-engine/leave"
)

const uniqueViolationCode = "23505"

var (
	_ leave.TxStore  = (*Store)(nil)
	_ batch.RunStore = (*Store)(nil)
)

// Store implements leave.TxStore and batch.RunStore on PostgreSQL.
type Store struct {
	pool Queryer
	tm   *TransactionManager
}

// NewStore creates a Store. pool is usually a *pgxpool.Pool.
func NewStore(pool Pool) *Store {
	return &Store{pool: pool, tm: NewTransactionManager(pool)}
}

func (s *Store) q(ctx context.Context) Queryer {
	return QueryerFromContext(ctx, s.pool)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// FindBalance reads the balance row and its ledger from one snapshot.
func (s *Store) FindBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	var b *leave.LeaveBalance
	err := s.tm.Snapshot(ctx, func(txCtx context.Context) error {
		var err error
		b, err = findBalance(txCtx, s.q(txCtx), key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) DeleteBalance(ctx context.Context, key leave.BalanceKey) error {
	return deleteBalance(ctx, s.q(ctx), key)
}

func (s *Store) CreateBalance(ctx context.Context, b *leave.LeaveBalance) error {
	return createBalance(ctx, s.q(ctx), b)
}

func (s *Store) AppendChange(ctx context.Context, c *leave.BalanceChange) error {
	return appendChange(ctx, s.q(ctx), c)
}

// CreateLeaveRequest inserts the request and its dates in one transaction.
func (s *Store) CreateLeaveRequest(ctx context.Context, r *leave.LeaveRequest) error {
	return s.tm.Write(ctx, func(txCtx context.Context) error {
		return createLeaveRequest(txCtx, s.q(txCtx), r)
	})
}

// ExpiredCandidates computes every candidate balance from one snapshot.
func (s *Store) ExpiredCandidates(ctx context.Context, asOf leave.Date) ([]leave.ExpiryCandidate, error) {
	var out []leave.ExpiryCandidate
	err := s.tm.Snapshot(ctx, func(txCtx context.Context) error {
		var err error
		out, err = expiredCandidates(txCtx, s.q(txCtx), asOf)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WithTx executes fn within a read-write transaction.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	return s.tm.Write(ctx, func(txCtx context.Context) error {
		return fn(&txStore{q: s.q(txCtx)})
	})
}

// txStore pins every call to one transaction whatever context the caller
// passes.
type txStore struct {
	q Queryer
}

func (ts *txStore) FindBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return findBalance(ctx, ts.q, key)
}

func (ts *txStore) DeleteBalance(ctx context.Context, key leave.BalanceKey) error {
	return deleteBalance(ctx, ts.q, key)
}

func (ts *txStore) CreateBalance(ctx context.Context, b *leave.LeaveBalance) error {
	return createBalance(ctx, ts.q, b)
}

func (ts *txStore) AppendChange(ctx context.Context, c *leave.BalanceChange) error {
	return appendChange(ctx, ts.q, c)
}

func (ts *txStore) CreateLeaveRequest(ctx context.Context, r *leave.LeaveRequest) error {
	return createLeaveRequest(ctx, ts.q, r)
}

func (ts *txStore) ExpiredCandidates(ctx context.Context, asOf leave.Date) ([]leave.ExpiryCandidate, error) {
	return expiredCandidates(ctx, ts.q, asOf)
}

// =============================================================================
// QUERIES
// =============================================================================

func findBalance(ctx context.Context, q Queryer, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	row := q.QueryRow(ctx, `
        SELECT id, overridden, comment, comment_author_id, comment_date::text
          FROM leave_balances
         WHERE contract_id = $1 AND period_id = $2 AND type_id = $3
    `, key.ContractID, key.PeriodID, key.AbsenceTypeID)

	b, err := scanBalance(row, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find balance: %w", err)
	}

	if b.Changes, err = loadChanges(ctx, q, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

func scanBalance(row pgx.Row, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	var (
		b           = leave.LeaveBalance{Key: key}
		comment     sql.NullString
		authorID    sql.NullInt64
		commentDate sql.NullString
	)
	if err := row.Scan(&b.ID, &b.Overridden, &comment, &authorID, &commentDate); err != nil {
		return nil, err
	}
	b.Comment = comment.String
	b.CommentAuthorID = authorID.Int64
	if commentDate.Valid {
		d, err := leave.ParseDate(commentDate.String)
		if err != nil {
			return nil, err
		}
		b.CommentDate = &d
	}
	return &b, nil
}

func loadChanges(ctx context.Context, q Queryer, balanceID int64) ([]leave.BalanceChange, error) {
	rows, err := q.Query(ctx, `
        SELECT c.id, c.type, c.amount::text, c.source_id, c.source_type, c.expiry_date::text,
               c.expired_balance_change_id, r.status
          FROM leave_balance_changes c
          LEFT JOIN leave_request_dates d ON c.source_type = $2 AND d.id = c.source_id
          LEFT JOIN leave_requests r ON r.id = d.leave_request_id
         WHERE c.balance_id = $1
         ORDER BY c.id
    `, balanceID, string(leave.SourceLeaveRequestDay))
	if err != nil {
		return nil, fmt.Errorf("postgres: load balance changes: %w", err)
	}
	defer rows.Close()

	var changes []leave.BalanceChange
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		c.BalanceID = balanceID
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func scanChange(row pgx.Row) (leave.BalanceChange, error) {
	var (
		c                      leave.BalanceChange
		changeType, amount     string
		sourceID, expiredID    sql.NullInt64
		sourceType, expiryDate sql.NullString
		status                 sql.NullString
	)
	if err := row.Scan(&c.ID, &changeType, &amount, &sourceID, &sourceType, &expiryDate, &expiredID, &status); err != nil {
		return c, err
	}

	var err error
	if c.Amount, err = decimal.NewFromString(amount); err != nil {
		return c, fmt.Errorf("postgres: amount of change %d: %w", c.ID, err)
	}
	c.Type = leave.BalanceChangeType(changeType)
	c.SourceType = leave.SourceType(sourceType.String)
	c.SourceStatus = leave.RequestStatus(status.String)
	c.SourceID = int64Ptr(sourceID)
	c.ExpiredBalanceChangeID = int64Ptr(expiredID)
	if expiryDate.Valid {
		d, err := leave.ParseDate(expiryDate.String)
		if err != nil {
			return c, err
		}
		c.ExpiryDate = &d
	}
	return c, nil
}

func deleteBalance(ctx context.Context, q Queryer, key leave.BalanceKey) error {
	_, err := q.Exec(ctx, `
        DELETE FROM leave_balances
         WHERE contract_id = $1 AND period_id = $2 AND type_id = $3
    `, key.ContractID, key.PeriodID, key.AbsenceTypeID)
	if err != nil {
		return fmt.Errorf("postgres: delete balance: %w", err)
	}
	return nil
}

func createBalance(ctx context.Context, q Queryer, b *leave.LeaveBalance) error {
	var authorID any
	if b.CommentAuthorID != 0 {
		authorID = b.CommentAuthorID
	}

	row := q.QueryRow(ctx, `
        INSERT INTO leave_balances (contract_id, period_id, type_id, overridden, comment, comment_author_id, comment_date)
        VALUES ($1, $2, $3, $4, $5, $6, $7::date)
        RETURNING id
    `, b.Key.ContractID, b.Key.PeriodID, b.Key.AbsenceTypeID, b.Overridden,
		nullableString(b.Comment), authorID, nullableDate(b.CommentDate))

	if err := row.Scan(&b.ID); err != nil {
		return translatePgError(err)
	}
	return nil
}

func appendChange(ctx context.Context, q Queryer, c *leave.BalanceChange) error {
	row := q.QueryRow(ctx, `
        INSERT INTO leave_balance_changes (balance_id, type, amount, source_id, source_type, expiry_date, expired_balance_change_id)
        VALUES ($1, $2, $3::numeric, $4, $5, $6::date, $7)
        RETURNING id
    `, c.BalanceID, string(c.Type), c.Amount.String(), c.SourceID,
		nullableString(string(c.SourceType)), nullableDate(c.ExpiryDate), c.ExpiredBalanceChangeID)

	if err := row.Scan(&c.ID); err != nil {
		return fmt.Errorf("postgres: append change: %w", translatePgError(err))
	}
	return nil
}

func createLeaveRequest(ctx context.Context, q Queryer, r *leave.LeaveRequest) error {
	var toDate *leave.Date
	if !r.ToDate.IsZero() {
		toDate = &r.ToDate
	}

	row := q.QueryRow(ctx, `
        INSERT INTO leave_requests (balance_id, status, from_date, from_date_type, to_date, to_date_type)
        VALUES ($1, $2, $3::date, $4, $5::date, $6)
        RETURNING id
    `, r.BalanceID, string(r.Status), r.FromDate.String(), string(r.FromDateType),
		nullableDate(toDate), nullableString(string(r.ToDateType)))
	if err := row.Scan(&r.ID); err != nil {
		return fmt.Errorf("postgres: create leave request: %w", err)
	}

	r.Dates = nil
	for _, day := range r.Days() {
		d := leave.LeaveRequestDate{LeaveRequestID: r.ID, Date: day}
		row := q.QueryRow(ctx, `
            INSERT INTO leave_request_dates (leave_request_id, date)
            VALUES ($1, $2::date)
            RETURNING id
        `, r.ID, day.String())
		if err := row.Scan(&d.ID); err != nil {
			return fmt.Errorf("postgres: create leave request date: %w", err)
		}
		r.Dates = append(r.Dates, d)
	}
	return nil
}

func expiredCandidates(ctx context.Context, q Queryer, asOf leave.Date) ([]leave.ExpiryCandidate, error) {
	rows, err := q.Query(ctx, `
        SELECT c.id, c.balance_id, c.amount::text, c.expiry_date::text, b.contract_id, b.period_id, b.type_id
          FROM leave_balance_changes c
          JOIN leave_balances b ON b.id = c.balance_id
         WHERE c.type = $1
           AND c.expired_balance_change_id IS NULL
           AND c.expiry_date IS NOT NULL
           AND c.expiry_date <= $2::date
           AND NOT EXISTS (
               SELECT 1 FROM leave_balance_changes e WHERE e.expired_balance_change_id = c.id
           )
         ORDER BY c.id
    `, string(leave.ChangeBroughtForward), asOf.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: load expiry candidates: %w", err)
	}

	candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (leave.ExpiryCandidate, error) {
		cand := leave.ExpiryCandidate{Change: leave.BalanceChange{Type: leave.ChangeBroughtForward}}
		var amount, expiry string
		if err := row.Scan(
			&cand.Change.ID, &cand.Change.BalanceID, &amount, &expiry,
			&cand.Key.ContractID, &cand.Key.PeriodID, &cand.Key.AbsenceTypeID,
		); err != nil {
			return cand, err
		}
		var err error
		if cand.Change.Amount, err = decimal.NewFromString(amount); err != nil {
			return cand, err
		}
		d, err := leave.ParseDate(expiry)
		if err != nil {
			return cand, err
		}
		cand.Change.ExpiryDate = &d
		return cand, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expiry candidates: %w", err)
	}

	// One connection cannot run a query while another is still streaming.
	for i := range candidates {
		changes, err := loadChanges(ctx, q, candidates[i].Change.BalanceID)
		if err != nil {
			return nil, err
		}
		b := leave.LeaveBalance{Changes: changes}
		candidates[i].Balance = b.Balance()
	}
	return candidates, nil
}

// =============================================================================
// RUN STORE
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r batch.Run) error {
	_, err := s.q(ctx).Exec(ctx, `
        INSERT INTO calculation_runs (id, period_id, status, saved, skipped, failed, error, started_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            saved = EXCLUDED.saved,
            skipped = EXCLUDED.skipped,
            failed = EXCLUDED.failed,
            error = EXCLUDED.error,
            completed_at = EXCLUDED.completed_at
    `, r.ID, r.PeriodID, string(r.Status), r.Saved, r.Skipped, r.Failed,
		nullableString(r.Error), r.StartedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: save run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, periodID int64) ([]batch.Run, error) {
	rows, err := s.q(ctx).Query(ctx, `
        SELECT id::text, period_id, status, saved, skipped, failed, error, started_at, completed_at
          FROM calculation_runs
         WHERE $1::bigint = 0 OR period_id = $1::bigint
         ORDER BY started_at DESC
    `, periodID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []batch.Run
	for rows.Next() {
		var (
			r           batch.Run
			status      string
			runErr      sql.NullString
			completedAt *time.Time
		)
		if err := rows.Scan(&r.ID, &r.PeriodID, &status, &r.Saved, &r.Skipped, &r.Failed, &runErr, &r.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Status = batch.RunStatus(status)
		r.Error = runErr.String
		r.CompletedAt = completedAt
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Helper functions

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("postgres: balance already exists: %w", err)
	}
	return err
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableDate(d *leave.Date) any {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.String()
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
