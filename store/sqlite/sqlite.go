/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements leave.TxStore (balances, balance changes, leave requests) and
  batch.RunStore (recalculation runs) using SQLite. The postgres package
  implements the same interfaces for production deployments.

KEY TABLES:
  leave_balances:        One row per (contract, period, absence type)
  leave_balance_changes: The ledger, append-only except for whole-balance
                         deletes when a triple is recalculated
  leave_requests:        Requests debiting a balance (public holidays here)
  leave_request_dates:   One row per requested day; debits point at these
  calculation_runs:      Period-wide recalculation history

DELETION:
  Deleting a balance cascades (foreign keys are enabled on open) to its
  changes, its requests and their dates.

STORAGE FORMATS:
  Amounts are TEXT decimals so no precision is lost. Dates are TEXT in
  2006-01-02 form, which sorts and compares correctly as strings.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, like the in-memory store. An
  in-memory database is pinned to a single connection, so a transaction
  must never call back into the Store's own methods.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  service := leave.NewService(store, nil, logger)

SEE ALSO:
  - leave/providers.go: Store and TxStore
  - leave/store/memory.go: in-memory implementation for tests
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/leave-engine/batch"
	"github.com/warp/leave-engine/leave"
)

var (
	_ leave.TxStore  = (*Store)(nil)
	_ batch.RunStore = (*Store)(nil)
)

// Store implements leave.TxStore and batch.RunStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_balances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contract_id INTEGER NOT NULL,
		period_id INTEGER NOT NULL,
		type_id INTEGER NOT NULL,
		overridden BOOLEAN NOT NULL DEFAULT FALSE,
		comment TEXT,
		comment_author_id INTEGER,
		comment_date TEXT,
		UNIQUE(contract_id, period_id, type_id)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		balance_id INTEGER NOT NULL REFERENCES leave_balances(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		from_date TEXT NOT NULL,
		from_date_type TEXT NOT NULL,
		to_date TEXT,
		to_date_type TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_balance
		ON leave_requests(balance_id);

	CREATE TABLE IF NOT EXISTS leave_request_dates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		leave_request_id INTEGER NOT NULL REFERENCES leave_requests(id) ON DELETE CASCADE,
		date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_request_dates_request
		ON leave_request_dates(leave_request_id);

	CREATE TABLE IF NOT EXISTS leave_balance_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		balance_id INTEGER NOT NULL REFERENCES leave_balances(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		source_id INTEGER,
		source_type TEXT,
		expiry_date TEXT,
		expired_balance_change_id INTEGER REFERENCES leave_balance_changes(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_leave_balance_changes_balance
		ON leave_balance_changes(balance_id);

	-- Brought-forward expiry scans (hot path for the scheduler)
	CREATE INDEX IF NOT EXISTS idx_leave_balance_changes_expiry
		ON leave_balance_changes(type, expiry_date) WHERE expiry_date IS NOT NULL;

	-- An entry can only be expired once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_leave_balance_changes_expired_once
		ON leave_balance_changes(expired_balance_change_id)
		WHERE expired_balance_change_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS calculation_runs (
		id TEXT PRIMARY KEY,
		period_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		saved INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_calculation_runs_period
		ON calculation_runs(period_id, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE (leave.Store interface)
// =============================================================================

// FindBalance loads a balance with its changes. Changes sourced from a
// request date carry the status of that request.
func (s *Store) FindBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBalance(ctx, s.db, key)
}

// DeleteBalance removes a balance and everything hanging off it.
func (s *Store) DeleteBalance(ctx context.Context, key leave.BalanceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteBalance(ctx, s.db, key)
}

// CreateBalance inserts a balance and sets its ID.
func (s *Store) CreateBalance(ctx context.Context, b *leave.LeaveBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createBalance(ctx, s.db, b)
}

// AppendChange inserts a balance change and sets its ID.
func (s *Store) AppendChange(ctx context.Context, c *leave.BalanceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendChange(ctx, s.db, c)
}

// CreateLeaveRequest inserts a request and one row per day.
func (s *Store) CreateLeaveRequest(ctx context.Context, r *leave.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := createLeaveRequest(ctx, sqlTx, r); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// ExpiredCandidates returns brought-forward entries whose expiry date is on
// or before asOf and that have not been expired yet.
func (s *Store) ExpiredCandidates(ctx context.Context, asOf leave.Date) ([]leave.ExpiryCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expiredCandidates(ctx, s.db, asOf)
}

// SetRequestStatus changes the status of a leave request.
func (s *Store) SetRequestStatus(ctx context.Context, requestID int64, status leave.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE leave_requests SET status = ? WHERE id = ?", string(status), requestID)
	if err != nil {
		return fmt.Errorf("failed to update leave request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: leave request %d", leave.ErrNotFound, requestID)
	}
	return nil
}

// RequestsForBalance lists the requests of a balance with their dates.
func (s *Store) RequestsForBalance(ctx context.Context, balanceID int64) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.status, r.from_date, r.from_date_type, r.to_date, r.to_date_type, d.id, d.date
		FROM leave_requests r
		LEFT JOIN leave_request_dates d ON d.leave_request_id = r.id
		WHERE r.balance_id = ?
		ORDER BY r.id, d.date
	`, balanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
	}
	defer rows.Close()

	var requests []leave.LeaveRequest
	for rows.Next() {
		var (
			id                     int64
			status, from, fromType string
			to, toType, dateStr    sql.NullString
			dateID                 sql.NullInt64
		)
		if err := rows.Scan(&id, &status, &from, &fromType, &to, &toType, &dateID, &dateStr); err != nil {
			return nil, err
		}
		if len(requests) == 0 || requests[len(requests)-1].ID != id {
			r := leave.LeaveRequest{
				ID:           id,
				BalanceID:    balanceID,
				Status:       leave.RequestStatus(status),
				FromDateType: leave.DateType(fromType),
				ToDateType:   leave.DateType(toType.String),
			}
			if r.FromDate, err = leave.ParseDate(from); err != nil {
				return nil, err
			}
			if r.ToDate, err = parseNullDate(to); err != nil {
				return nil, err
			}
			requests = append(requests, r)
		}
		if dateID.Valid {
			d, err := leave.ParseDate(dateStr.String)
			if err != nil {
				return nil, err
			}
			last := &requests[len(requests)-1]
			last.Dates = append(last.Dates, leave.LeaveRequestDate{ID: dateID.Int64, LeaveRequestID: id, Date: d})
		}
	}
	return requests, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) FindBalance(ctx context.Context, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	return findBalance(ctx, ts.tx, key)
}

func (ts *txStore) DeleteBalance(ctx context.Context, key leave.BalanceKey) error {
	return deleteBalance(ctx, ts.tx, key)
}

func (ts *txStore) CreateBalance(ctx context.Context, b *leave.LeaveBalance) error {
	return createBalance(ctx, ts.tx, b)
}

func (ts *txStore) AppendChange(ctx context.Context, c *leave.BalanceChange) error {
	return appendChange(ctx, ts.tx, c)
}

func (ts *txStore) CreateLeaveRequest(ctx context.Context, r *leave.LeaveRequest) error {
	return createLeaveRequest(ctx, ts.tx, r)
}

func (ts *txStore) ExpiredCandidates(ctx context.Context, asOf leave.Date) ([]leave.ExpiryCandidate, error) {
	return expiredCandidates(ctx, ts.tx, asOf)
}

// =============================================================================
// QUERIES - Shared by Store and txStore
// =============================================================================

func findBalance(ctx context.Context, q querier, key leave.BalanceKey) (*leave.LeaveBalance, error) {
	b := leave.LeaveBalance{Key: key}
	var (
		comment     sql.NullString
		authorID    sql.NullInt64
		commentDate sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, overridden, comment, comment_author_id, comment_date
		FROM leave_balances
		WHERE contract_id = ? AND period_id = ? AND type_id = ?
	`, key.ContractID, key.PeriodID, key.AbsenceTypeID).Scan(&b.ID, &b.Overridden, &comment, &authorID, &commentDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query leave balance: %w", err)
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

	b.Changes, err = loadChanges(ctx, q, b.ID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func loadChanges(ctx context.Context, q querier, balanceID int64) ([]leave.BalanceChange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.id, c.type, c.amount, c.source_id, c.source_type, c.expiry_date,
		       c.expired_balance_change_id, r.status
		FROM leave_balance_changes c
		LEFT JOIN leave_request_dates d ON c.source_type = ? AND d.id = c.source_id
		LEFT JOIN leave_requests r ON r.id = d.leave_request_id
		WHERE c.balance_id = ?
		ORDER BY c.id
	`, string(leave.SourceLeaveRequestDay), balanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance changes: %w", err)
	}
	defer rows.Close()

	var changes []leave.BalanceChange
	for rows.Next() {
		c := leave.BalanceChange{BalanceID: balanceID}
		var (
			changeType             string
			sourceID, expiredID    sql.NullInt64
			sourceType, expiryDate sql.NullString
			status                 sql.NullString
		)
		if err := rows.Scan(&c.ID, &changeType, &c.Amount, &sourceID, &sourceType, &expiryDate, &expiredID, &status); err != nil {
			return nil, err
		}
		c.Type = leave.BalanceChangeType(changeType)
		c.SourceType = leave.SourceType(sourceType.String)
		c.SourceStatus = leave.RequestStatus(status.String)
		c.SourceID = nullInt64Ptr(sourceID)
		c.ExpiredBalanceChangeID = nullInt64Ptr(expiredID)
		if expiryDate.Valid {
			d, err := leave.ParseDate(expiryDate.String)
			if err != nil {
				return nil, err
			}
			c.ExpiryDate = &d
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func deleteBalance(ctx context.Context, q querier, key leave.BalanceKey) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM leave_balances WHERE contract_id = ? AND period_id = ? AND type_id = ?",
		key.ContractID, key.PeriodID, key.AbsenceTypeID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete leave balance: %w", err)
	}
	return nil
}

func createBalance(ctx context.Context, q querier, b *leave.LeaveBalance) error {
	var commentDate sql.NullString
	if b.CommentDate != nil {
		commentDate = nullString(b.CommentDate.String())
	}
	var authorID sql.NullInt64
	if b.CommentAuthorID != 0 {
		authorID = sql.NullInt64{Int64: b.CommentAuthorID, Valid: true}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO leave_balances
		(contract_id, period_id, type_id, overridden, comment, comment_author_id, comment_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		b.Key.ContractID, b.Key.PeriodID, b.Key.AbsenceTypeID,
		b.Overridden, nullString(b.Comment), authorID, commentDate,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("leave balance already exists for contract %d, period %d, absence type %d: %w",
				b.Key.ContractID, b.Key.PeriodID, b.Key.AbsenceTypeID, err)
		}
		return fmt.Errorf("failed to insert leave balance: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func appendChange(ctx context.Context, q querier, c *leave.BalanceChange) error {
	var expiryDate sql.NullString
	if c.ExpiryDate != nil {
		expiryDate = nullString(c.ExpiryDate.String())
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO leave_balance_changes
		(balance_id, type, amount, source_id, source_type, expiry_date, expired_balance_change_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		c.BalanceID, string(c.Type), c.Amount.String(),
		c.SourceID, nullString(string(c.SourceType)), expiryDate, c.ExpiredBalanceChangeID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert balance change: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func createLeaveRequest(ctx context.Context, q querier, r *leave.LeaveRequest) error {
	var toDate sql.NullString
	if !r.ToDate.IsZero() {
		toDate = nullString(r.ToDate.String())
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO leave_requests
		(balance_id, status, from_date, from_date_type, to_date, to_date_type)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		r.BalanceID, string(r.Status), r.FromDate.String(), string(r.FromDateType),
		toDate, nullString(string(r.ToDateType)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert leave request: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	r.Dates = nil
	for _, day := range r.Days() {
		res, err := q.ExecContext(ctx,
			"INSERT INTO leave_request_dates (leave_request_id, date) VALUES (?, ?)",
			r.ID, day.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert leave request date: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r.Dates = append(r.Dates, leave.LeaveRequestDate{ID: id, LeaveRequestID: r.ID, Date: day})
	}
	return nil
}

func expiredCandidates(ctx context.Context, q querier, asOf leave.Date) ([]leave.ExpiryCandidate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.id, c.balance_id, c.amount, c.expiry_date, b.contract_id, b.period_id, b.type_id
		FROM leave_balance_changes c
		JOIN leave_balances b ON b.id = c.balance_id
		WHERE c.type = ?
		  AND c.expired_balance_change_id IS NULL
		  AND c.expiry_date IS NOT NULL
		  AND c.expiry_date <= ?
		  AND NOT EXISTS (
		      SELECT 1 FROM leave_balance_changes e WHERE e.expired_balance_change_id = c.id
		  )
		ORDER BY c.id
	`, string(leave.ChangeBroughtForward), asOf.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query expiry candidates: %w", err)
	}

	var candidates []leave.ExpiryCandidate
	for rows.Next() {
		cand := leave.ExpiryCandidate{Change: leave.BalanceChange{Type: leave.ChangeBroughtForward}}
		var expiry string
		if err := rows.Scan(
			&cand.Change.ID, &cand.Change.BalanceID, &cand.Change.Amount, &expiry,
			&cand.Key.ContractID, &cand.Key.PeriodID, &cand.Key.AbsenceTypeID,
		); err != nil {
			rows.Close()
			return nil, err
		}
		d, err := leave.ParseDate(expiry)
		if err != nil {
			rows.Close()
			return nil, err
		}
		cand.Change.ExpiryDate = &d
		candidates = append(candidates, cand)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Balances are loaded once the cursor is closed: an in-memory database
	// has a single connection.
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
// RUN STORE (batch.RunStore interface)
// =============================================================================

// SaveRun inserts or updates a recalculation run.
func (s *Store) SaveRun(ctx context.Context, r batch.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO calculation_runs (id, period_id, status, saved, skipped, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			saved = excluded.saved,
			skipped = excluded.skipped,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		v := r.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &v
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.PeriodID, string(r.Status), r.Saved, r.Skipped, r.Failed, nullString(r.Error),
		r.StartedAt.UTC().Format(time.RFC3339Nano), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save calculation run: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first. periodID 0 lists every period.
func (s *Store) ListRuns(ctx context.Context, periodID int64) ([]batch.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, period_id, status, saved, skipped, failed, error, started_at, completed_at
		FROM calculation_runs
		WHERE ? = 0 OR period_id = ?
		ORDER BY started_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, periodID, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calculation runs: %w", err)
	}
	defer rows.Close()

	var runs []batch.Run
	for rows.Next() {
		var r batch.Run
		var status, startedAt string
		var runErr, completedAt sql.NullString
		if err := rows.Scan(
			&r.ID, &r.PeriodID, &status, &r.Saved, &r.Skipped, &r.Failed, &runErr, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}

		r.Status = batch.RunStatus(status)
		r.Error = runErr.String
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
			r.CompletedAt = &t
		}

		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func parseNullDate(s sql.NullString) (leave.Date, error) {
	if !s.Valid || s.String == "" {
		return leave.Date{}, nil
	}
	return leave.ParseDate(s.String)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
