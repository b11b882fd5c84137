/*
handlers.go - HTTP API handlers for the lending engine

PURPOSE:
  Exposes the lending engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Loans:
    POST   /api/loans                          Create loan (privileged)
    GET    /api/loans/{uid}                    Loan details
    GET    /api/loans/{uid}/movements          Movement history
    GET    /api/loans/{uid}/payments           Payment history
    GET    /api/loans/{uid}/minimum-payment    Minimum acceptable payment
    GET    /api/loans/{uid}/payment-date       Next payment due date
    GET    /api/loans/{uid}/payment-status     current/overdue/undefined/paid
    GET    /api/loans/{uid}/total              Outstanding balance
    POST   /api/loans/{uid}/payments           Record a payment
    POST   /api/loans/{uid}/settlements        Settle one loan (privileged)

  Admin:
    POST   /api/admin/settlements              Settle all unpaid loans (privileged)

  Gateway:
    POST   /api/gateway/transactions           Register a checkout
    POST   /api/gateway/confirmation           Confirmation webhook

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (services, dispatcher)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with the status derived from the domain error
  class:
  - 400: Validation errors, invalid input
  - 401: Missing or wrong API key
  - 404: Loan, movement or transaction not found
  - 409: Conflict (below minimum, duplicate day, used transaction)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/ledger"
	"github.com/warp/lending-engine/lending"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      ledger.Store
	Loans      *lending.LoanService
	Payments   *lending.PaymentService
	Calculator *lending.Calculator
	Gateway    *lending.GatewayService
	Dispatcher *lending.Dispatcher
	Log        *logrus.Logger
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// CreateLoan creates a loan and its disbursement movement.
// POST /api/loans
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input, err := parseLoanInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid loan terms", err)
		return
	}

	loan, err := h.Loans.Create(r.Context(), input)
	if err != nil {
		writeDomainError(w, "Failed to create loan", err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoanDTO(loan))
}

func parseLoanInput(req CreateLoanRequest) (lending.CreateLoanInput, error) {
	var input lending.CreateLoanInput
	var err error

	if input.Amount, err = decimal.NewFromString(req.Amount); err != nil {
		return input, fmt.Errorf("unparseable amount %q", req.Amount)
	}
	if input.MonthlyInterestRate, err = decimal.NewFromString(req.MonthlyInterestRate); err != nil {
		return input, fmt.Errorf("unparseable monthlyInterestRate %q", req.MonthlyInterestRate)
	}
	if input.MonthlyInterestOverdueRate, err = decimal.NewFromString(req.MonthlyInterestOverdueRate); err != nil {
		return input, fmt.Errorf("unparseable monthlyInterestOverdueRate %q", req.MonthlyInterestOverdueRate)
	}
	if input.StartDate, err = ledger.ParseDate(req.StartDate); err != nil {
		return input, fmt.Errorf("unparseable startDate %q", req.StartDate)
	}
	input.Description = req.Description
	return input, nil
}

// GetLoan returns a single loan.
// GET /api/loans/{uid}
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	loan, err := h.Store.GetLoanByUID(r.Context(), uid)
	if err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanDTO(loan))
}

// GetMovements returns the movement history of a loan.
// GET /api/loans/{uid}/movements?start-date&end-date&limit
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	q, err := parseMovementQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	movements, err := h.Calculator.Movements(r.Context(), uid, q)
	if err != nil {
		writeDomainError(w, "Failed to list movements", err)
		return
	}

	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

func parseMovementQuery(r *http.Request) (ledger.MovementQuery, error) {
	var q ledger.MovementQuery

	if v := r.URL.Query().Get("start-date"); v != "" {
		d, err := ledger.ParseDate(v)
		if err != nil {
			return q, fmt.Errorf("unparseable start-date %q", v)
		}
		q.StartDate = &d
	}
	if v := r.URL.Query().Get("end-date"); v != "" {
		d, err := ledger.ParseDate(v)
		if err != nil {
			return q, fmt.Errorf("unparseable end-date %q", v)
		}
		q.EndDate = &d
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("unparseable limit %q", v)
		}
		q.Limit = n
	}
	return q, nil
}

// GetPayments returns the payment history of a loan.
// GET /api/loans/{uid}/payments?limit
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid query", fmt.Errorf("unparseable limit %q", v))
			return
		}
		limit = n
	}

	payments, err := h.Calculator.Payments(r.Context(), uid, limit)
	if err != nil {
		writeDomainError(w, "Failed to list payments", err)
		return
	}

	writeJSON(w, http.StatusOK, toMovementDTOs(payments))
}

// GetMinimumPayment returns the smallest acceptable payment.
// GET /api/loans/{uid}/minimum-payment
func (h *Handler) GetMinimumPayment(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	amount, err := h.Calculator.MinimumPaymentAmount(r.Context(), uid)
	if err != nil {
		writeDomainError(w, "Failed to calculate minimum payment", err)
		return
	}

	writeJSON(w, http.StatusOK, AmountDTO{Amount: amount.String()})
}

// GetPaymentDate returns the next payment due date.
// GET /api/loans/{uid}/payment-date
func (h *Handler) GetPaymentDate(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	date, err := h.Calculator.NextPaymentDueDate(r.Context(), uid)
	if err != nil {
		writeDomainError(w, "Failed to calculate payment date", err)
		return
	}

	writeJSON(w, http.StatusOK, DateDTO{Date: date.String()})
}

// GetPaymentStatus returns the loan's standing.
// GET /api/loans/{uid}/payment-status
func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	status, err := h.Calculator.PaymentStatus(r.Context(), uid)
	if err != nil {
		writeDomainError(w, "Failed to calculate payment status", err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentStatusDTO{Status: string(status)})
}

// GetTotal returns the outstanding balance.
// GET /api/loans/{uid}/total
func (h *Handler) GetTotal(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	total, err := h.Calculator.TotalOutstandingAmount(r.Context(), uid)
	if err != nil {
		writeDomainError(w, "Failed to calculate total", err)
		return
	}

	writeJSON(w, http.StatusOK, AmountDTO{Amount: total.String()})
}

// CreatePayment records a payment against a loan.
// POST /api/loans/{uid}/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment", fmt.Errorf("unparseable amount %q", req.Amount))
		return
	}
	paymentDate := ledger.Today()
	if req.PaymentDate != "" {
		if paymentDate, err = ledger.ParseDate(req.PaymentDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment", fmt.Errorf("unparseable paymentDate %q", req.PaymentDate))
			return
		}
	}

	payment, err := h.Payments.CreatePayment(r.Context(), uid, amount, paymentDate)
	if err != nil {
		writeDomainError(w, "Failed to create payment", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMovementDTO(payment))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// SettleLoan runs interest settlement for one loan via the dispatcher.
// POST /api/loans/{uid}/settlements
func (h *Handler) SettleLoan(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	result := h.Dispatcher.Dispatch(r.Context(), lending.KeySettleLoanInterests,
		map[string]string{"loanUid": uid})
	writeJSON(w, result.Status, result)
}

// SettleAll runs interest settlement for every unpaid loan.
// POST /api/admin/settlements
func (h *Handler) SettleAll(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Store.ListUnpaidLoans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list unpaid loans", err)
		return
	}

	results := make([]lending.Result, 0, len(loans))
	for _, loan := range loans {
		results = append(results, h.Dispatcher.Dispatch(r.Context(),
			lending.KeySettleLoanInterests, map[string]string{"loanUid": loan.UID}))
	}

	writeJSON(w, http.StatusOK, results)
}

// =============================================================================
// GATEWAY HANDLERS
// =============================================================================

// CreateGatewayTransaction registers a checkout with the payment gateway.
// POST /api/gateway/transactions
func (h *Handler) CreateGatewayTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateGatewayTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", fmt.Errorf("unparseable amount %q", req.Amount))
		return
	}

	tx, err := h.Gateway.CreateTransaction(r.Context(), req.LoanUID, amount, req.Testing)
	if err != nil {
		writeDomainError(w, "Failed to create gateway transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, toGatewayTransactionDTO(tx))
}

// ConfirmGatewayTransaction processes the gateway's confirmation webhook via
// the dispatcher, so the invocation lands in the audit log.
// POST /api/gateway/confirmation
func (h *Handler) ConfirmGatewayTransaction(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result := h.Dispatcher.Dispatch(r.Context(), lending.KeyPaymentConfirmation, payload)
	writeJSON(w, result.Status, result)
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case ledger.IsConflict(err):
		status = http.StatusConflict
	case ledger.IsUnauthorized(err):
		status = http.StatusUnauthorized
	case ledger.IsInvalidInput(err):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err)
}
