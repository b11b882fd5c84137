/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and domain services, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/lending-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// LoanDTO represents a loan in API responses.
type LoanDTO struct {
	UID                        string `json:"uid"`
	Description                string `json:"description,omitempty"`
	Amount                     string `json:"amount"`
	MonthlyInterestRate        string `json:"monthlyInterestRate"`
	AnnualInterestRate         string `json:"annualInterestRate"`
	MonthlyInterestOverdueRate string `json:"monthlyInterestOverdueRate"`
	AnnualInterestOverdueRate  string `json:"annualInterestOverdueRate"`
	StartDate                  string `json:"startDate"`
	Paid                       bool   `json:"paid"`
	CreatedAt                  string `json:"createdAt"`
}

func toLoanDTO(l *ledger.Loan) LoanDTO {
	return LoanDTO{
		UID:                        l.UID,
		Description:                l.Description,
		Amount:                     l.Amount.String(),
		MonthlyInterestRate:        l.MonthlyInterestRate.String(),
		AnnualInterestRate:         l.AnnualInterestRate.String(),
		MonthlyInterestOverdueRate: l.MonthlyInterestOverdueRate.String(),
		AnnualInterestOverdueRate:  l.AnnualInterestOverdueRate.String(),
		StartDate:                  l.StartDate.String(),
		Paid:                       l.Paid,
		CreatedAt:                  l.CreatedAt.Format(time.RFC3339),
	}
}

// CreateLoanRequest is the body for POST /api/loans.
type CreateLoanRequest struct {
	Amount                     string `json:"amount"`
	MonthlyInterestRate        string `json:"monthlyInterestRate"`
	MonthlyInterestOverdueRate string `json:"monthlyInterestOverdueRate"`
	StartDate                  string `json:"startDate"`
	Description                string `json:"description"`
}

// MovementDTO represents a ledger movement in API responses.
type MovementDTO struct {
	UID       string `json:"uid"`
	TypeCode  string `json:"typeCode"`
	TypeName  string `json:"typeName"`
	Amount    string `json:"amount"`
	At        string `json:"at"`
	CreatedAt string `json:"createdAt"`
}

func toMovementDTO(m *ledger.Movement) MovementDTO {
	name := ""
	if mt, ok := ledger.TypeByCode(m.Type); ok {
		name = mt.Name
	}
	return MovementDTO{
		UID:       m.UID,
		TypeCode:  string(m.Type),
		TypeName:  name,
		Amount:    m.Amount.String(),
		At:        m.At.String(),
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func toMovementDTOs(movements []ledger.Movement) []MovementDTO {
	dtos := make([]MovementDTO, len(movements))
	for i := range movements {
		dtos[i] = toMovementDTO(&movements[i])
	}
	return dtos
}

// CreatePaymentRequest is the body for POST /api/loans/{uid}/payments.
type CreatePaymentRequest struct {
	Amount      string `json:"amount"`
	PaymentDate string `json:"paymentDate"`
}

// AmountDTO wraps single-value money responses.
type AmountDTO struct {
	Amount string `json:"amount"`
}

// DateDTO wraps single-value date responses.
type DateDTO struct {
	Date string `json:"date"`
}

// PaymentStatusDTO is the response for the payment-status endpoint.
type PaymentStatusDTO struct {
	Status string `json:"status"`
}

// CreateGatewayTransactionRequest is the body for POST /api/gateway/transactions.
type CreateGatewayTransactionRequest struct {
	LoanUID string `json:"loanUid"`
	Amount  string `json:"amount"`
	Testing bool   `json:"testing"`
}

// GatewayTransactionDTO represents a gateway checkout in API responses.
type GatewayTransactionDTO struct {
	UID       string `json:"uid"`
	Amount    string `json:"amount"`
	Status    int    `json:"status"`
	Reference string `json:"reference,omitempty"`
	Comment   string `json:"comment,omitempty"`
	Used      bool   `json:"used"`
	Testing   bool   `json:"testing"`
	CreatedAt string `json:"createdAt"`
}

func toGatewayTransactionDTO(t *ledger.GatewayTransaction) GatewayTransactionDTO {
	return GatewayTransactionDTO{
		UID:       t.UID,
		Amount:    t.Amount.String(),
		Status:    t.Status,
		Reference: t.Reference,
		Comment:   t.Comment,
		Used:      t.Used,
		Testing:   t.Testing,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
