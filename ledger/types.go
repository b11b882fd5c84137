/*
Package ledger provides the core movement-ledger engine for peer lending.

PURPOSE:
  This package contains the domain types and persistence contracts for an
  append-only ledger of signed monetary movements. A loan's balance is never
  stored - it is always computed by summing movements, so the ledger is the
  single source of truth.

KEY CONCEPTS IN THIS FILE (types.go):
  - MovementType: static catalog entry identifying what a movement means
  - Movement:     an immutable, signed ledger entry tied to one loan
  - Event:        audit record of an externally-triggered invocation
  - OutboxEntry:  pending domain notification awaiting delivery

INVARIANTS:
  1. APPEND-ONLY: movements are never updated or deleted
  2. One disbursement movement per loan
  3. At most one interest movement (current or overdue) per loan per day
  4. Payment movements always carry a negative amount

SEE ALSO:
  - ledger.go: MovementLedger, the typed query surface over movements
  - store.go:  persistence interfaces
  - loan.go:   the Loan aggregate
*/
package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MOVEMENT TYPE - Static catalog, seeded by migration, never mutated
// =============================================================================

type MovementTypeCode string

const (
	CodeDisbursement    MovementTypeCode = "01P"  // principal handed to the borrower
	CodeCurrentInterest MovementTypeCode = "02IC" // daily interest, loan current
	CodeOverdueInterest MovementTypeCode = "03IM" // daily interest, loan overdue
	CodePayment         MovementTypeCode = "04P"  // borrower payment (negative)
)

// IsInterest reports whether the code belongs to the interest class.
// The one-per-day uniqueness invariant applies to this class as a whole.
func (c MovementTypeCode) IsInterest() bool {
	return c == CodeCurrentInterest || c == CodeOverdueInterest
}

// InterestCodes is the interest class used in type filters.
func InterestCodes() []MovementTypeCode {
	return []MovementTypeCode{CodeCurrentInterest, CodeOverdueInterest}
}

// MovementType is a catalog entry. IDs are fixed by the seed migration and
// shared by every store implementation.
type MovementType struct {
	ID   int64
	UID  string
	Code MovementTypeCode
	Name string
}

// Catalog returns the full movement-type catalog in seed order.
// Store migrations insert these rows with exactly these IDs.
func Catalog() []MovementType {
	return []MovementType{
		{ID: 1, UID: "9a1f7a9e0c6b4f1d8a2e5b3c7d9f1a01", Code: CodeDisbursement, Name: "loan disbursement"},
		{ID: 2, UID: "9a1f7a9e0c6b4f1d8a2e5b3c7d9f1a02", Code: CodeCurrentInterest, Name: "current interest"},
		{ID: 3, UID: "9a1f7a9e0c6b4f1d8a2e5b3c7d9f1a03", Code: CodeOverdueInterest, Name: "overdue interest"},
		{ID: 4, UID: "9a1f7a9e0c6b4f1d8a2e5b3c7d9f1a04", Code: CodePayment, Name: "payment"},
	}
}

// TypeByCode looks up a catalog entry by code.
func TypeByCode(code MovementTypeCode) (MovementType, bool) {
	for _, mt := range Catalog() {
		if mt.Code == code {
			return mt, true
		}
	}
	return MovementType{}, false
}

// =============================================================================
// MOVEMENT - Signed monetary ledger entry
// =============================================================================

// Movement is one row of the append-only ledger. Amount sign convention:
// positive increases the amount owed, negative reduces it. At is the economic
// date the movement is effective, not the row creation time.
type Movement struct {
	ID        int64
	UID       string
	LoanID    int64
	Type      MovementTypeCode
	Amount    decimal.Decimal
	At        Date
	CreatedAt time.Time
}

func (m *Movement) IsDisbursement() bool { return m.Type == CodeDisbursement }
func (m *Movement) IsInterest() bool     { return m.Type.IsInterest() }
func (m *Movement) IsPayment() bool      { return m.Type == CodePayment }

// =============================================================================
// EVENT - Audit record for dispatched operations
// =============================================================================

// Event records an externally-triggered invocation (input payload plus the
// eventual error, if any) before the operation runs, for replay and audit.
type Event struct {
	ID           int64
	Hash         string
	RoutingKey   string
	FunctionName string
	Payload      string
	Error        string
	CreatedAt    time.Time
}

// =============================================================================
// OUTBOX - Pending domain notifications
// =============================================================================

// Outbox topics. Delivery is at-least-once; consumers must tolerate replays.
const (
	TopicOverdueLoan     = "overdue_loan"
	TopicReceivedPayment = "received_payment"
)

// OutboxEntry is a domain notification enqueued in the same store transaction
// as the ledger write that caused it. A separate dispatcher delivers it.
type OutboxEntry struct {
	ID          int64
	Topic       string
	Payload     string
	Attempts    int
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// =============================================================================
// GATEWAY TRANSACTION - Payment gateway checkout record
// =============================================================================

// GatewayTransaction tracks one gateway checkout for a loan. Status follows
// the gateway convention: 0 pending, 1 accepted, negative values rejected.
// These rows (status, comment, reference, used) are the only non-append
// writes in the system.
type GatewayTransaction struct {
	ID        int64
	UID       string
	LoanID    int64
	Amount    decimal.Decimal
	Status    int
	Reference string
	Comment   string
	Used      bool
	Testing   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewUID returns a random 128-bit identifier in hex. Used for the externally
// stable uid columns on loans, movements and gateway transactions.
func NewUID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to time
		return hex.EncodeToString([]byte(time.Now().UTC().Format("20060102150405.000000000")))[:32]
	}
	return hex.EncodeToString(b[:])
}
