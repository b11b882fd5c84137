/*
payments.go - Payment processing

A payment is a negative movement. The minimum-payment check happens before
the write; the paid-flag transition and the received-payment notification
enqueue share the ledger write's transaction.
*/
package lending

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/ledger"
)

// PaymentService records borrower payments against the ledger.
type PaymentService struct {
	store     ledger.Store
	movements *ledger.MovementLedger
	calc      *Calculator
	cfg       Config
	log       *logrus.Logger
}

func NewPaymentService(store ledger.Store, cfg Config, log *logrus.Logger) *PaymentService {
	return &PaymentService{
		store:     store,
		movements: ledger.NewMovementLedger(store),
		calc:      NewCalculator(store),
		cfg:       cfg,
		log:       log,
	}
}

// CreatePayment validates the amount against the minimum payment, appends
// the negative movement, and marks the loan paid when the outstanding total
// falls under the forgiveness threshold.
func (s *PaymentService) CreatePayment(ctx context.Context, loanUID string, amount decimal.Decimal, paymentDate ledger.Date) (*ledger.Movement, error) {
	loan, err := s.store.GetLoanByUID(ctx, loanUID)
	if err != nil {
		return nil, err
	}
	if _, err := s.movements.Disbursement(ctx, loan.ID); err != nil {
		return nil, err
	}

	minimum, err := s.calc.MinimumPaymentAmount(ctx, loanUID)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(minimum) {
		return nil, &ledger.BelowMinimumError{LoanUID: loanUID, Amount: amount, Minimum: minimum}
	}

	var payment *ledger.Movement
	err = inTx(ctx, s.store, func(st ledger.Store) error {
		movements := ledger.NewMovementLedger(st)

		payment, err = movements.Append(ctx, loan.ID, ledger.CodePayment, amount.Neg(), paymentDate)
		if err != nil {
			return err
		}

		total, err := movements.Total(ctx, loan.ID)
		if err != nil {
			return err
		}
		// Forgive the residue: a near-zero balance after a payment means
		// the loan is settled in full.
		if total.LessThan(s.cfg.ForgivenessThreshold) {
			if err := st.MarkLoanPaid(ctx, loan.ID); err != nil {
				return err
			}
		}

		payload, err := json.Marshal(map[string]string{"movementUid": payment.UID})
		if err != nil {
			return err
		}
		return st.EnqueueOutbox(ctx, &ledger.OutboxEntry{
			Topic:   ledger.TopicReceivedPayment,
			Payload: string(payload),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"loan":    loanUID,
		"amount":  amount.String(),
		"at":      paymentDate.String(),
		"payment": payment.UID,
	}).Info("payment recorded")

	return payment, nil
}
