/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces.

PURPOSE:
  Production store. Same schema shape as store/sqlite with native types:
  NUMERIC(14,3) for amounts, DATE for economic dates, TIMESTAMPTZ for audit
  timestamps. Concurrency control is left to the database; there is no
  store-level mutex.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite: SQLite implementation (development and tests)
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/ledger"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.Store and ledger.TxStore using PostgreSQL.
type Store struct {
	db *sql.DB
	q  querier
}

// New opens a PostgreSQL connection and migrates the schema.
func New(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, q: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS movement_type (
		id BIGINT PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loan (
		id BIGSERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		description TEXT,
		amount NUMERIC(14,3) NOT NULL,
		monthly_interest_rate NUMERIC(10,6) NOT NULL,
		annual_interest_rate NUMERIC(10,6) NOT NULL,
		monthly_interest_overdue_rate NUMERIC(10,6) NOT NULL,
		annual_interest_overdue_rate NUMERIC(10,6) NOT NULL,
		start_date DATE NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS movement (
		id BIGSERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		loan_id BIGINT NOT NULL REFERENCES loan(id),
		movement_type_id BIGINT NOT NULL REFERENCES movement_type(id),
		amount NUMERIC(14,3) NOT NULL,
		at DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_interest_day
		ON movement(loan_id, at)
		WHERE movement_type_id IN (2, 3);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_disbursement
		ON movement(loan_id)
		WHERE movement_type_id = 1;

	CREATE INDEX IF NOT EXISTS idx_movement_loan_at
		ON movement(loan_id, at DESC);

	CREATE TABLE IF NOT EXISTS event_message (
		id BIGSERIAL PRIMARY KEY,
		hash TEXT NOT NULL,
		routing_key TEXT NOT NULL,
		function_name TEXT NOT NULL,
		payload TEXT NOT NULL,
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_event_routing_key
		ON event_message(routing_key);

	CREATE TABLE IF NOT EXISTS outbox (
		id BIGSERIAL PRIMARY KEY,
		topic TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		delivered_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox(created_at) WHERE delivered_at IS NULL;

	CREATE TABLE IF NOT EXISTS gateway_transaction (
		id BIGSERIAL PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		loan_id BIGINT NOT NULL REFERENCES loan(id),
		amount NUMERIC(14,3) NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		reference TEXT,
		comment TEXT,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		testing BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	for _, mt := range ledger.Catalog() {
		_, err := s.db.Exec(
			`INSERT INTO movement_type (id, uid, code, name) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			mt.ID, mt.UID, string(mt.Code), mt.Name,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// MOVEMENT STORE
// =============================================================================

func (s *Store) AppendMovement(ctx context.Context, m *ledger.Movement) error {
	if m.UID == "" {
		m.UID = ledger.NewUID()
	}
	m.CreatedAt = time.Now().UTC()

	err := s.q.QueryRowContext(ctx,
		`INSERT INTO movement (uid, loan_id, movement_type_id, amount, at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		m.UID, m.LoanID, typeIDByCode(m.Type), m.Amount.String(),
		m.At.Time(), m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		if isUniqueViolation(err) && m.Type.IsInterest() {
			return &ledger.DuplicateInterestDayError{LoanID: m.LoanID, Day: m.At}
		}
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

func (s *Store) SumMovements(ctx context.Context, loanID int64, f ledger.MovementFilter) (decimal.Decimal, error) {
	where, args := movementFilterSQL(loanID, f)

	var sum string
	err := s.q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM movement WHERE "+where, args...,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum movements: %w", err)
	}
	return decimal.NewFromString(sum)
}

func (s *Store) FindLastMovement(ctx context.Context, loanID int64, typeIn []ledger.MovementTypeCode) (*ledger.Movement, error) {
	where, args := movementFilterSQL(loanID, ledger.MovementFilter{TypeIn: typeIn})
	row := s.q.QueryRowContext(ctx,
		selectMovement+" WHERE "+where+" ORDER BY at DESC, id DESC LIMIT 1", args...)

	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) FindMovementAt(ctx context.Context, loanID int64, typeIn []ledger.MovementTypeCode, at ledger.Date) (*ledger.Movement, error) {
	where, args := movementFilterSQL(loanID, ledger.MovementFilter{TypeIn: typeIn, AtEquals: &at})
	row := s.q.QueryRowContext(ctx, selectMovement+" WHERE "+where+" LIMIT 1", args...)

	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) FindMovementByUID(ctx context.Context, uid string) (*ledger.Movement, error) {
	row := s.q.QueryRowContext(ctx, selectMovement+" WHERE uid = $1", uid)
	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrMovementNotFound
	}
	return m, err
}

func (s *Store) ListMovements(ctx context.Context, loanID int64, q ledger.MovementQuery) ([]ledger.Movement, error) {
	where := []string{"loan_id = $1"}
	args := []any{loanID}
	if len(q.TypeIn) > 0 {
		args = append(args, pq.Array(typeIDs(q.TypeIn)))
		where = append(where, fmt.Sprintf("movement_type_id = ANY($%d)", len(args)))
	}
	if q.StartDate != nil {
		args = append(args, q.StartDate.Time())
		where = append(where, fmt.Sprintf("at >= $%d", len(args)))
	}
	if q.EndDate != nil {
		args = append(args, q.EndDate.Time())
		where = append(where, fmt.Sprintf("at <= $%d", len(args)))
	}

	query := selectMovement + " WHERE " + strings.Join(where, " AND ") + " ORDER BY at DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *m)
	}
	return movements, rows.Err()
}

const selectMovement = `
	SELECT m.id, m.uid, m.loan_id, t.code, m.amount, m.at, m.created_at
	FROM movement m JOIN movement_type t ON t.id = m.movement_type_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (*ledger.Movement, error) {
	var (
		m      ledger.Movement
		code   string
		amount string
		at     time.Time
	)
	if err := row.Scan(&m.ID, &m.UID, &m.LoanID, &code, &amount, &at, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.Type = ledger.MovementTypeCode(code)
	var err error
	if m.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	m.At = ledger.DateOf(at)
	return &m, nil
}

func movementFilterSQL(loanID int64, f ledger.MovementFilter) (string, []any) {
	where := []string{"loan_id = $1"}
	args := []any{loanID}

	if len(f.TypeIn) > 0 {
		args = append(args, pq.Array(typeIDs(f.TypeIn)))
		where = append(where, fmt.Sprintf("movement_type_id = ANY($%d)", len(args)))
	}
	if len(f.TypeNotIn) > 0 {
		args = append(args, pq.Array(typeIDs(f.TypeNotIn)))
		where = append(where, fmt.Sprintf("movement_type_id <> ALL($%d)", len(args)))
	}
	if f.AtEquals != nil {
		args = append(args, f.AtEquals.Time())
		where = append(where, fmt.Sprintf("at = $%d", len(args)))
	}
	if f.AtAfter != nil {
		args = append(args, f.AtAfter.Time())
		where = append(where, fmt.Sprintf("at > $%d", len(args)))
	}
	if f.AtBefore != nil {
		args = append(args, f.AtBefore.Time())
		where = append(where, fmt.Sprintf("at <= $%d", len(args)))
	}
	return strings.Join(where, " AND "), args
}

func typeIDs(codes []ledger.MovementTypeCode) []int64 {
	ids := make([]int64, 0, len(codes))
	for _, c := range codes {
		ids = append(ids, typeIDByCode(c))
	}
	return ids
}

func typeIDByCode(code ledger.MovementTypeCode) int64 {
	if mt, ok := ledger.TypeByCode(code); ok {
		return mt.ID
	}
	return 0
}

// =============================================================================
// LOAN STORE
// =============================================================================

func (s *Store) CreateLoan(ctx context.Context, l *ledger.Loan) error {
	if l.UID == "" {
		l.UID = ledger.NewUID()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	err := s.q.QueryRowContext(ctx,
		`INSERT INTO loan
		 (uid, description, amount, monthly_interest_rate, annual_interest_rate,
		  monthly_interest_overdue_rate, annual_interest_overdue_rate,
		  start_date, paid, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10) RETURNING id`,
		l.UID, l.Description, l.Amount.String(),
		l.MonthlyInterestRate.String(), l.AnnualInterestRate.String(),
		l.MonthlyInterestOverdueRate.String(), l.AnnualInterestOverdueRate.String(),
		l.StartDate.Time(), now, now,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

const selectLoan = `
	SELECT id, uid, description, amount, monthly_interest_rate, annual_interest_rate,
	       monthly_interest_overdue_rate, annual_interest_overdue_rate,
	       start_date, paid, created_at, updated_at
	FROM loan
`

func (s *Store) GetLoanByUID(ctx context.Context, uid string) (*ledger.Loan, error) {
	l, err := scanLoan(s.q.QueryRowContext(ctx, selectLoan+" WHERE uid = $1", uid))
	if err == sql.ErrNoRows {
		return nil, ledger.ErrLoanNotFound
	}
	return l, err
}

func (s *Store) GetLoanByID(ctx context.Context, id int64) (*ledger.Loan, error) {
	l, err := scanLoan(s.q.QueryRowContext(ctx, selectLoan+" WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, ledger.ErrLoanNotFound
	}
	return l, err
}

func (s *Store) ListUnpaidLoans(ctx context.Context) ([]ledger.Loan, error) {
	rows, err := s.q.QueryContext(ctx, selectLoan+" WHERE paid = FALSE ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid loans: %w", err)
	}
	defer rows.Close()

	var loans []ledger.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *l)
	}
	return loans, rows.Err()
}

func (s *Store) MarkLoanPaid(ctx context.Context, loanID int64) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE loan SET paid = TRUE, updated_at = $1 WHERE id = $2",
		time.Now().UTC(), loanID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark loan paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrLoanNotFound
	}
	return nil
}

func scanLoan(row rowScanner) (*ledger.Loan, error) {
	var (
		l                                     ledger.Loan
		description                           sql.NullString
		amount, monthlyRate, annualRate       string
		monthlyOverdueRate, annualOverdueRate string
		startDate                             time.Time
	)
	err := row.Scan(
		&l.ID, &l.UID, &description, &amount, &monthlyRate, &annualRate,
		&monthlyOverdueRate, &annualOverdueRate, &startDate, &l.Paid,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Description = description.String
	if l.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	l.MonthlyInterestRate, _ = decimal.NewFromString(monthlyRate)
	l.AnnualInterestRate, _ = decimal.NewFromString(annualRate)
	l.MonthlyInterestOverdueRate, _ = decimal.NewFromString(monthlyOverdueRate)
	l.AnnualInterestOverdueRate, _ = decimal.NewFromString(annualOverdueRate)
	l.StartDate = ledger.DateOf(startDate)
	return &l, nil
}

// =============================================================================
// EVENT STORE
// =============================================================================

func (s *Store) RecordEvent(ctx context.Context, e *ledger.Event) error {
	e.CreatedAt = time.Now().UTC()
	err := s.q.QueryRowContext(ctx,
		`INSERT INTO event_message (hash, routing_key, function_name, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		e.Hash, e.RoutingKey, e.FunctionName, e.Payload, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func (s *Store) RecordEventError(ctx context.Context, eventID int64, errMsg string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE event_message SET error = $1 WHERE id = $2", errMsg, eventID)
	return err
}

// =============================================================================
// OUTBOX STORE
// =============================================================================

func (s *Store) EnqueueOutbox(ctx context.Context, e *ledger.OutboxEntry) error {
	e.CreatedAt = time.Now().UTC()
	err := s.q.QueryRowContext(ctx,
		"INSERT INTO outbox (topic, payload, created_at) VALUES ($1, $2, $3) RETURNING id",
		e.Topic, e.Payload, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	return nil
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]ledger.OutboxEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, topic, payload, attempts, created_at FROM outbox
		 WHERE delivered_at IS NULL ORDER BY created_at ASC, id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending outbox: %w", err)
	}
	defer rows.Close()

	var entries []ledger.OutboxEntry
	for rows.Next() {
		var e ledger.OutboxEntry
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) MarkOutboxDelivered(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE outbox SET delivered_at = $1 WHERE id = $2", time.Now().UTC(), id)
	return err
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE outbox SET attempts = attempts + 1 WHERE id = $1", id)
	return err
}

// =============================================================================
// GATEWAY STORE
// =============================================================================

func (s *Store) CreateGatewayTransaction(ctx context.Context, t *ledger.GatewayTransaction) error {
	if t.UID == "" {
		t.UID = ledger.NewUID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err := s.q.QueryRowContext(ctx,
		`INSERT INTO gateway_transaction
		 (uid, loan_id, amount, status, reference, comment, used, testing, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		t.UID, t.LoanID, t.Amount.String(), t.Status, t.Reference, t.Comment,
		t.Used, t.Testing, now, now,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create gateway transaction: %w", err)
	}
	return nil
}

func (s *Store) GetGatewayTransactionByUID(ctx context.Context, uid string) (*ledger.GatewayTransaction, error) {
	var (
		t                  ledger.GatewayTransaction
		amount             string
		reference, comment sql.NullString
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, uid, loan_id, amount, status, reference, comment, used, testing, created_at, updated_at
		 FROM gateway_transaction WHERE uid = $1`, uid,
	).Scan(&t.ID, &t.UID, &t.LoanID, &amount, &t.Status, &reference, &comment,
		&t.Used, &t.Testing, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrGatewayTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	t.Reference = reference.String
	t.Comment = comment.String
	return &t, nil
}

func (s *Store) UpdateGatewayTransaction(ctx context.Context, t *ledger.GatewayTransaction) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE gateway_transaction
		 SET status = $1, reference = $2, comment = $3, used = $4, updated_at = $5
		 WHERE id = $6`,
		t.Status, t.Reference, t.Comment, t.Used, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update gateway transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrGatewayTransactionNotFound
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn against a transaction-scoped clone of the store.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	clone := &Store{db: s.db, q: sqlTx}
	if err := fn(clone); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

// 23505 is unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
