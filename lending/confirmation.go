/*
confirmation.go - Payment gateway confirmation flow

PURPOSE:
  Tracks payment intents handed to the external card gateway and processes
  the asynchronous confirmation callback: replay protection, amount
  verification, signature verification, and on success the actual ledger
  payment.

TRANSACTION STATES:
  0  pending (created, awaiting gateway callback)
  1  approved
  -1 rejected (amount mismatch or gateway decline)
*/
package lending

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/ledger"
)

// GatewayConfig carries the merchant credentials used to verify callbacks.
type GatewayConfig struct {
	CustID string
	Key    string
}

// GatewayService manages gateway payment intents and confirmations.
type GatewayService struct {
	store    ledger.Store
	payments *PaymentService
	cfg      GatewayConfig
	log      *logrus.Logger
}

func NewGatewayService(store ledger.Store, payments *PaymentService, cfg GatewayConfig, log *logrus.Logger) *GatewayService {
	return &GatewayService{store: store, payments: payments, cfg: cfg, log: log}
}

// CreateTransaction registers a pending payment intent for a loan.
func (g *GatewayService) CreateTransaction(ctx context.Context, loanUID string, amount decimal.Decimal, testing bool) (*ledger.GatewayTransaction, error) {
	loan, err := g.store.GetLoanByUID(ctx, loanUID)
	if err != nil {
		return nil, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidInput)
	}

	tx := &ledger.GatewayTransaction{
		UID:     ledger.NewUID(),
		LoanID:  loan.ID,
		Amount:  amount.Round(3),
		Status:  0,
		Testing: testing,
	}
	if err := g.store.CreateGatewayTransaction(ctx, tx); err != nil {
		return nil, err
	}

	g.log.WithFields(logrus.Fields{
		"loanUid":        loanUID,
		"transactionUid": tx.UID,
		"amount":         tx.Amount.String(),
	}).Info("gateway transaction created")
	return tx, nil
}

// ConfirmationInput is the payload of the gateway's asynchronous callback.
type ConfirmationInput struct {
	Reference            string `json:"reference"`
	TransactionUID       string `json:"transactionUid"`
	Amount               string `json:"amount"`
	Signature            string `json:"signature"`
	GatewayTransactionID string `json:"gatewayTransactionId"`
	CurrencyCode         string `json:"currencyCode"`
	StateCode            string `json:"stateCode"`
}

func (in ConfirmationInput) validate() error {
	switch {
	case in.Reference == "":
		return fmt.Errorf("%w: missing reference", ledger.ErrInvalidInput)
	case in.TransactionUID == "":
		return fmt.Errorf("%w: missing transactionUid", ledger.ErrInvalidInput)
	case in.Amount == "":
		return fmt.Errorf("%w: missing amount", ledger.ErrInvalidInput)
	case in.Signature == "":
		return fmt.Errorf("%w: missing signature", ledger.ErrInvalidInput)
	case in.GatewayTransactionID == "":
		return fmt.Errorf("%w: missing gatewayTransactionId", ledger.ErrInvalidInput)
	case in.CurrencyCode == "":
		return fmt.Errorf("%w: missing currencyCode", ledger.ErrInvalidInput)
	case in.StateCode == "":
		return fmt.Errorf("%w: missing stateCode", ledger.ErrInvalidInput)
	}
	return nil
}

// Confirm processes a gateway callback end to end.
func (g *GatewayService) Confirm(ctx context.Context, in ConfirmationInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	tx, err := g.store.GetGatewayTransactionByUID(ctx, in.TransactionUID)
	if err != nil {
		return err
	}
	if tx.Used {
		return fmt.Errorf("%w: transaction %s", ledger.ErrGatewayTransactionUsed, tx.UID)
	}

	// The callback is consumed exactly once regardless of outcome, so the
	// used flag and reference are persisted before any further checks.
	tx.Used = true
	tx.Reference = in.Reference
	if err := g.store.UpdateGatewayTransaction(ctx, tx); err != nil {
		return err
	}

	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		return fmt.Errorf("%w: unparseable amount %q", ledger.ErrInvalidInput, in.Amount)
	}

	if !amount.Equal(tx.Amount) {
		tx.Status = -1
		tx.Comment = fmt.Sprintf("amount mismatch: expected %s, got %s", tx.Amount.String(), amount.String())
		if updErr := g.store.UpdateGatewayTransaction(ctx, tx); updErr != nil {
			return updErr
		}
		return fmt.Errorf("%w: transaction %s", ledger.ErrAmountMismatch, tx.UID)
	}

	if !g.verifySignature(in) {
		tx.Status = -1
		tx.Comment = "invalid signature"
		if updErr := g.store.UpdateGatewayTransaction(ctx, tx); updErr != nil {
			return updErr
		}
		return fmt.Errorf("%w: transaction %s", ledger.ErrInvalidSignature, tx.UID)
	}

	if in.StateCode != "1" {
		tx.Status = -1
		tx.Comment = fmt.Sprintf("gateway declined with state %s", in.StateCode)
		if updErr := g.store.UpdateGatewayTransaction(ctx, tx); updErr != nil {
			return updErr
		}
		g.log.WithField("transactionUid", tx.UID).Info("gateway transaction declined")
		return nil
	}

	tx.Status = 1
	if err := g.store.UpdateGatewayTransaction(ctx, tx); err != nil {
		return err
	}

	// Testing-mode transactions go through the full approval flow but never
	// touch the ledger.
	if tx.Testing {
		g.log.WithField("transactionUid", tx.UID).Info("testing gateway transaction approved, no payment recorded")
		return nil
	}

	loan, err := g.store.GetLoanByID(ctx, tx.LoanID)
	if err != nil {
		return err
	}
	if _, err := g.payments.CreatePayment(ctx, loan.UID, tx.Amount, ledger.Today()); err != nil {
		return err
	}

	g.log.WithFields(logrus.Fields{
		"transactionUid": tx.UID,
		"loanUid":        loan.UID,
		"amount":         tx.Amount.String(),
	}).Info("gateway payment confirmed")
	return nil
}

// verifySignature checks the gateway's SHA-256 digest over the caret-joined
// merchant credentials and transaction fields.
func (g *GatewayService) verifySignature(in ConfirmationInput) bool {
	material := fmt.Sprintf("%s^%s^%s^%s^%s^%s",
		g.cfg.CustID, g.cfg.Key, in.Reference, in.GatewayTransactionID, in.Amount, in.CurrencyCode)
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:]) == in.Signature
}
