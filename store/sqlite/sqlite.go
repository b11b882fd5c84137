/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the full ledger.Store plus ledger.TxStore using SQLite. The same
  schema and patterns apply to PostgreSQL - only placeholder and type dialect
  differences (see store/postgres).

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch the movement table. Loan rows mutate
  only through the one-way paid flag.

KEY TABLES:
  movement_type:       Fixed catalog of the four movement kinds (seeded)
  loan:                Loan terms, immutable after creation
  movement:            Immutable ledger of disbursements, interest, payments
  event_message:       Audit log of dispatched invocations
  outbox:              Pending notifications awaiting delivery
  gateway_transaction: Payment-gateway checkout records

INDEXES:
  - idx_unique_interest_day: one interest movement per loan per day; the
    database-level backstop for the settlement idempotence probe
  - idx_unique_disbursement: one disbursement per loan
  - idx_movement_loan_at: balance and last-movement queries (hot path)

CONCURRENCY:
  Uses a mutex for thread-safety on top of WAL mode. Transaction-scoped
  clones skip the lock; the enclosing WithTx already holds it.

USAGE:
  store, err := sqlite.New("./data/lending.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/postgres: PostgreSQL implementation
  - ledger/store/memory.go: In-memory implementation for testing
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
	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/ledger"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.Store and ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	q  querier
	mu *sync.Mutex

	// Set on transaction-scoped clones so nested calls skip the lock the
	// enclosing WithTx already holds.
	inTx bool
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: writes are serialized by the mutex anyway, and an
	// in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db, mu: &sync.Mutex{}}
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

func (s *Store) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *Store) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

// migrate creates the database schema and seeds the movement-type catalog.
func (s *Store) migrate() error {
	schema := `
	-- Movement type catalog (fixed, seeded below)
	CREATE TABLE IF NOT EXISTS movement_type (
		id INTEGER PRIMARY KEY,
		uid TEXT NOT NULL UNIQUE,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL
	);

	-- Loans (terms immutable after creation, paid flag is one-way)
	CREATE TABLE IF NOT EXISTS loan (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		description TEXT,
		amount TEXT NOT NULL,
		monthly_interest_rate TEXT NOT NULL,
		annual_interest_rate TEXT NOT NULL,
		monthly_interest_overdue_rate TEXT NOT NULL,
		annual_interest_overdue_rate TEXT NOT NULL,
		start_date TEXT NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Movements (append-only ledger)
	CREATE TABLE IF NOT EXISTS movement (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		loan_id INTEGER NOT NULL REFERENCES loan(id),
		movement_type_id INTEGER NOT NULL REFERENCES movement_type(id),
		amount TEXT NOT NULL,
		at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one interest movement per loan per day. The settlement engine
	-- probes before inserting; this index closes the race window.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_interest_day
		ON movement(loan_id, at)
		WHERE movement_type_id IN (2, 3);

	-- One disbursement per loan
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_disbursement
		ON movement(loan_id)
		WHERE movement_type_id = 1;

	-- Balance and last-movement queries (hot path)
	CREATE INDEX IF NOT EXISTS idx_movement_loan_at
		ON movement(loan_id, at DESC);

	-- Audit log of dispatched invocations
	CREATE TABLE IF NOT EXISTS event_message (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash TEXT NOT NULL,
		routing_key TEXT NOT NULL,
		function_name TEXT NOT NULL,
		payload TEXT NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_event_routing_key
		ON event_message(routing_key);

	-- Transactional outbox
	CREATE TABLE IF NOT EXISTS outbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		delivered_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox(created_at) WHERE delivered_at IS NULL;

	-- Payment-gateway checkouts
	CREATE TABLE IF NOT EXISTS gateway_transaction (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		loan_id INTEGER NOT NULL REFERENCES loan(id),
		amount TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		reference TEXT,
		comment TEXT,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		testing BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	for _, mt := range ledger.Catalog() {
		_, err := s.db.Exec(
			`INSERT INTO movement_type (id, uid, code, name) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			mt.ID, mt.UID, string(mt.Code), mt.Name,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// MOVEMENT STORE (ledger.MovementStore interface)
// =============================================================================

func (s *Store) AppendMovement(ctx context.Context, m *ledger.Movement) error {
	s.lock()
	defer s.unlock()

	if m.UID == "" {
		m.UID = ledger.NewUID()
	}
	m.CreatedAt = time.Now().UTC()

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO movement (uid, loan_id, movement_type_id, amount, at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.UID,
		m.LoanID,
		typeIDByCode(m.Type),
		m.Amount.String(),
		m.At.String(),
		m.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) && m.Type.IsInterest() {
			return &ledger.DuplicateInterestDayError{LoanID: m.LoanID, Day: m.At}
		}
		return fmt.Errorf("failed to append movement: %w", err)
	}

	m.ID, _ = res.LastInsertId()
	return nil
}

// SumMovements totals amounts in Go with decimal arithmetic; the amount
// column is TEXT, so SQL SUM would go through floats.
func (s *Store) SumMovements(ctx context.Context, loanID int64, f ledger.MovementFilter) (decimal.Decimal, error) {
	s.lock()
	defer s.unlock()

	where, args := movementFilterSQL(loanID, f)
	rows, err := s.q.QueryContext(ctx, "SELECT amount FROM movement WHERE "+where, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum movements: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", amount, err)
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}

func (s *Store) FindLastMovement(ctx context.Context, loanID int64, typeIn []ledger.MovementTypeCode) (*ledger.Movement, error) {
	s.lock()
	defer s.unlock()

	where, args := movementFilterSQL(loanID, ledger.MovementFilter{TypeIn: typeIn})
	row := s.q.QueryRowContext(ctx,
		selectMovement+" WHERE "+where+" ORDER BY at DESC, m.id DESC LIMIT 1", args...)

	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) FindMovementAt(ctx context.Context, loanID int64, typeIn []ledger.MovementTypeCode, at ledger.Date) (*ledger.Movement, error) {
	s.lock()
	defer s.unlock()

	where, args := movementFilterSQL(loanID, ledger.MovementFilter{TypeIn: typeIn, AtEquals: &at})
	row := s.q.QueryRowContext(ctx, selectMovement+" WHERE "+where+" LIMIT 1", args...)

	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *Store) FindMovementByUID(ctx context.Context, uid string) (*ledger.Movement, error) {
	s.lock()
	defer s.unlock()

	row := s.q.QueryRowContext(ctx, selectMovement+" WHERE uid = ?", uid)
	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrMovementNotFound
	}
	return m, err
}

func (s *Store) ListMovements(ctx context.Context, loanID int64, q ledger.MovementQuery) ([]ledger.Movement, error) {
	s.lock()
	defer s.unlock()

	where := []string{"loan_id = ?"}
	args := []any{loanID}
	if len(q.TypeIn) > 0 {
		where = append(where, "movement_type_id IN ("+typeIDPlaceholders(len(q.TypeIn))+")")
		for _, c := range q.TypeIn {
			args = append(args, typeIDByCode(c))
		}
	}
	if q.StartDate != nil {
		where = append(where, "at >= ?")
		args = append(args, q.StartDate.String())
	}
	if q.EndDate != nil {
		where = append(where, "at <= ?")
		args = append(args, q.EndDate.String())
	}

	query := selectMovement + " WHERE " + strings.Join(where, " AND ") + " ORDER BY at DESC, m.id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		m, err := scanMovementRows(rows)
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
		m         ledger.Movement
		code      string
		amount    string
		at        string
		createdAt string
	)
	if err := row.Scan(&m.ID, &m.UID, &m.LoanID, &code, &amount, &at, &createdAt); err != nil {
		return nil, err
	}

	m.Type = ledger.MovementTypeCode(code)
	var err error
	if m.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	if m.At, err = ledger.ParseDate(at); err != nil {
		return nil, fmt.Errorf("corrupt date %q: %w", at, err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

func scanMovementRows(rows *sql.Rows) (*ledger.Movement, error) {
	return scanMovement(rows)
}

// movementFilterSQL renders a MovementFilter into a WHERE clause. The
// selectMovement query aliases the movement table as m, but unqualified
// column names resolve the same in both aggregate and select contexts.
func movementFilterSQL(loanID int64, f ledger.MovementFilter) (string, []any) {
	where := []string{"loan_id = ?"}
	args := []any{loanID}

	if len(f.TypeIn) > 0 {
		where = append(where, "movement_type_id IN ("+typeIDPlaceholders(len(f.TypeIn))+")")
		for _, c := range f.TypeIn {
			args = append(args, typeIDByCode(c))
		}
	}
	if len(f.TypeNotIn) > 0 {
		where = append(where, "movement_type_id NOT IN ("+typeIDPlaceholders(len(f.TypeNotIn))+")")
		for _, c := range f.TypeNotIn {
			args = append(args, typeIDByCode(c))
		}
	}
	if f.AtEquals != nil {
		where = append(where, "at = ?")
		args = append(args, f.AtEquals.String())
	}
	if f.AtAfter != nil {
		where = append(where, "at > ?")
		args = append(args, f.AtAfter.String())
	}
	if f.AtBefore != nil {
		where = append(where, "at <= ?")
		args = append(args, f.AtBefore.String())
	}
	return strings.Join(where, " AND "), args
}

func typeIDPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func typeIDByCode(code ledger.MovementTypeCode) int64 {
	if mt, ok := ledger.TypeByCode(code); ok {
		return mt.ID
	}
	return 0
}

// =============================================================================
// LOAN STORE (ledger.LoanStore interface)
// =============================================================================

func (s *Store) CreateLoan(ctx context.Context, l *ledger.Loan) error {
	s.lock()
	defer s.unlock()

	if l.UID == "" {
		l.UID = ledger.NewUID()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO loan
		 (uid, description, amount, monthly_interest_rate, annual_interest_rate,
		  monthly_interest_overdue_rate, annual_interest_overdue_rate,
		  start_date, paid, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?)`,
		l.UID,
		l.Description,
		l.Amount.String(),
		l.MonthlyInterestRate.String(),
		l.AnnualInterestRate.String(),
		l.MonthlyInterestOverdueRate.String(),
		l.AnnualInterestOverdueRate.String(),
		l.StartDate.String(),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	l.ID, _ = res.LastInsertId()
	return nil
}

const selectLoan = `
	SELECT id, uid, description, amount, monthly_interest_rate, annual_interest_rate,
	       monthly_interest_overdue_rate, annual_interest_overdue_rate,
	       start_date, paid, created_at, updated_at
	FROM loan
`

func (s *Store) GetLoanByUID(ctx context.Context, uid string) (*ledger.Loan, error) {
	s.lock()
	defer s.unlock()

	l, err := scanLoan(s.q.QueryRowContext(ctx, selectLoan+" WHERE uid = ?", uid))
	if err == sql.ErrNoRows {
		return nil, ledger.ErrLoanNotFound
	}
	return l, err
}

func (s *Store) GetLoanByID(ctx context.Context, id int64) (*ledger.Loan, error) {
	s.lock()
	defer s.unlock()

	l, err := scanLoan(s.q.QueryRowContext(ctx, selectLoan+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ledger.ErrLoanNotFound
	}
	return l, err
}

func (s *Store) ListUnpaidLoans(ctx context.Context) ([]ledger.Loan, error) {
	s.lock()
	defer s.unlock()

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
	s.lock()
	defer s.unlock()

	res, err := s.q.ExecContext(ctx,
		"UPDATE loan SET paid = TRUE, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), loanID,
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
		l                                          ledger.Loan
		description                                sql.NullString
		amount, monthlyRate, annualRate            string
		monthlyOverdueRate, annualOverdueRate      string
		startDate, createdAt, updatedAt            string
	)
	err := row.Scan(
		&l.ID, &l.UID, &description, &amount, &monthlyRate, &annualRate,
		&monthlyOverdueRate, &annualOverdueRate, &startDate, &l.Paid,
		&createdAt, &updatedAt,
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
	if l.StartDate, err = ledger.ParseDate(startDate); err != nil {
		return nil, fmt.Errorf("corrupt date %q: %w", startDate, err)
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	l.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &l, nil
}

// =============================================================================
// EVENT STORE (ledger.EventStore interface)
// =============================================================================

func (s *Store) RecordEvent(ctx context.Context, e *ledger.Event) error {
	s.lock()
	defer s.unlock()

	e.CreatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO event_message (hash, routing_key, function_name, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Hash, e.RoutingKey, e.FunctionName, e.Payload, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) RecordEventError(ctx context.Context, eventID int64, errMsg string) error {
	s.lock()
	defer s.unlock()

	_, err := s.q.ExecContext(ctx,
		"UPDATE event_message SET error = ? WHERE id = ?", errMsg, eventID)
	return err
}

// =============================================================================
// OUTBOX STORE (ledger.OutboxStore interface)
// =============================================================================

func (s *Store) EnqueueOutbox(ctx context.Context, e *ledger.OutboxEntry) error {
	s.lock()
	defer s.unlock()

	e.CreatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		"INSERT INTO outbox (topic, payload, created_at) VALUES (?, ?, ?)",
		e.Topic, e.Payload, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]ledger.OutboxEntry, error) {
	s.lock()
	defer s.unlock()

	rows, err := s.q.QueryContext(ctx,
		`SELECT id, topic, payload, attempts, created_at FROM outbox
		 WHERE delivered_at IS NULL ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending outbox: %w", err)
	}
	defer rows.Close()

	var entries []ledger.OutboxEntry
	for rows.Next() {
		var e ledger.OutboxEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.Attempts, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) MarkOutboxDelivered(ctx context.Context, id int64) error {
	s.lock()
	defer s.unlock()

	_, err := s.q.ExecContext(ctx,
		"UPDATE outbox SET delivered_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int64) error {
	s.lock()
	defer s.unlock()

	_, err := s.q.ExecContext(ctx,
		"UPDATE outbox SET attempts = attempts + 1 WHERE id = ?", id)
	return err
}

// =============================================================================
// GATEWAY STORE (ledger.GatewayStore interface)
// =============================================================================

func (s *Store) CreateGatewayTransaction(ctx context.Context, t *ledger.GatewayTransaction) error {
	s.lock()
	defer s.unlock()

	if t.UID == "" {
		t.UID = ledger.NewUID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO gateway_transaction
		 (uid, loan_id, amount, status, reference, comment, used, testing, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UID, t.LoanID, t.Amount.String(), t.Status, t.Reference, t.Comment,
		t.Used, t.Testing, now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create gateway transaction: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetGatewayTransactionByUID(ctx context.Context, uid string) (*ledger.GatewayTransaction, error) {
	s.lock()
	defer s.unlock()

	var (
		t                    ledger.GatewayTransaction
		amount               string
		reference, comment   sql.NullString
		createdAt, updatedAt string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, uid, loan_id, amount, status, reference, comment, used, testing, created_at, updated_at
		 FROM gateway_transaction WHERE uid = ?`, uid,
	).Scan(&t.ID, &t.UID, &t.LoanID, &amount, &t.Status, &reference, &comment,
		&t.Used, &t.Testing, &createdAt, &updatedAt)
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
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

func (s *Store) UpdateGatewayTransaction(ctx context.Context, t *ledger.GatewayTransaction) error {
	s.lock()
	defer s.unlock()

	t.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE gateway_transaction
		 SET status = ?, reference = ?, comment = ?, used = ?, updated_at = ?
		 WHERE id = ?`,
		t.Status, t.Reference, t.Comment, t.Used, t.UpdatedAt.Format(time.RFC3339), t.ID,
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
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn against a transaction-scoped clone of the store.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.lock()
	defer s.unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	clone := &Store{db: s.db, q: sqlTx, mu: s.mu, inTx: true}
	if err := fn(clone); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
