/*
Package lending implements the loan services on top of the movement ledger:
the day-stepping interest-settlement engine, loan origination, payment
processing, derived-state calculators, the typed event dispatcher and the
notification outbox.

settlement.go - The interest-settlement engine

PURPOSE:
  Brings a loan's interest series up to date with the present day: one
  interest movement per elapsed calendar day, each tagged current or overdue
  depending on how long ago the last payment happened.

ALGORITHM:
  startDate  = date of last interest movement, else disbursement date
  refDate    = date of last payment movement, else disbursement date
  basis      = sum of movements with at <= refDate (fixed for the whole run)
  for each day from startDate+1 to today:
      skip when an interest movement already exists for that day
      overdue  = days since refDate > grace period
      append movement: basis x (annualRate/dayCountBasis), typed accordingly
      overdue movement dated today -> enqueue overdue notification

  The engine is stateless between invocations: everything above is
  re-derived from ledger contents, so a crashed or partial run is repaired
  by simply invoking Settle again (the per-day existence check plus the
  store's interest-day unique index make re-invocation safe).

FAILURE SEMANTICS:
  An error inside the loop aborts remaining iterations; movements appended
  for earlier days stay committed. Cancellation is honored between
  iterations, never mid-day.
*/
package lending

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/ledger"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config carries the tunables the original system hardcoded.
type Config struct {
	// GracePeriodDays is how many days past the reference date a loan stays
	// current before daily interest switches to the overdue rate.
	GracePeriodDays int

	// DayCountBasis divides the annual rate into a daily rate (360 by
	// banking convention).
	DayCountBasis int

	// ForgivenessThreshold is the outstanding amount under which a loan is
	// considered fully paid, absorbing rounding residue.
	ForgivenessThreshold decimal.Decimal
}

// DefaultConfig mirrors the source system's constants.
func DefaultConfig() Config {
	return Config{
		GracePeriodDays:      30,
		DayCountBasis:        360,
		ForgivenessThreshold: decimal.NewFromInt(100),
	}
}

// =============================================================================
// SETTLEMENT ENGINE
// =============================================================================

// SettlementEngine creates missing daily interest movements for a loan.
type SettlementEngine struct {
	store     ledger.Store
	movements *ledger.MovementLedger
	cfg       Config
	log       *logrus.Logger

	// now is swappable for tests; production uses time.Now.
	now func() time.Time
}

// NewSettlementEngine wires the engine.
func NewSettlementEngine(store ledger.Store, cfg Config, log *logrus.Logger) *SettlementEngine {
	return &SettlementEngine{
		store:     store,
		movements: ledger.NewMovementLedger(store),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// SettlementResult summarizes one settlement run.
type SettlementResult struct {
	LoanUID string      `json:"loanUid"`
	Created int         `json:"created"`
	Skipped int         `json:"skipped"`
	UpTo    ledger.Date `json:"upTo"`
}

// Settle walks forward from the last known movement to today, appending one
// interest movement per elapsed day. Safe to re-invoke at any time.
func (e *SettlementEngine) Settle(ctx context.Context, loanUID string) (*SettlementResult, error) {
	loan, err := e.store.GetLoanByUID(ctx, loanUID)
	if err != nil {
		return nil, err
	}

	disbursement, err := e.movements.Disbursement(ctx, loan.ID)
	if err != nil {
		return nil, err
	}

	lastInterest, err := e.movements.LastInterest(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	lastPayment, err := e.movements.LastPayment(ctx, loan.ID)
	if err != nil {
		return nil, err
	}

	startDate := disbursement.At
	if lastInterest != nil {
		startDate = lastInterest.At
	}

	// Anchor for "days since last payment", which decides overdue status.
	refDate := disbursement.At
	if lastPayment != nil {
		refDate = lastPayment.At
	}

	// The balance as of the reference date is the base for every day's
	// interest in this run; it is deliberately not recomputed per day.
	basis, err := e.movements.BalanceAsOf(ctx, loan.ID, refDate)
	if err != nil {
		return nil, err
	}

	today := ledger.DateOf(e.now())
	numberOfDays := ledger.DaysBetween(startDate, today)

	result := &SettlementResult{LoanUID: loanUID, UpTo: today}

	log := e.log.WithFields(logrus.Fields{
		"loan":      loanUID,
		"startDate": startDate.String(),
		"refDate":   refDate.String(),
		"days":      numberOfDays,
	})
	log.Info("settling loan interests")

	if numberOfDays <= 0 {
		return result, nil
	}

	basisDivisor := decimal.NewFromInt(int64(e.cfg.DayCountBasis))
	currentDaily := basis.Mul(loan.AnnualInterestRate.Div(basisDivisor)).Round(3)
	overdueDaily := basis.Mul(loan.AnnualInterestOverdueRate.Div(basisDivisor)).Round(3)

	for i := 0; i < numberOfDays; i++ {
		// Each day commits independently; stop between days, never mid-day.
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		day := startDate.AddDays(i + 1)

		existing, err := e.movements.InterestOn(ctx, loan.ID, day)
		if err != nil {
			return result, err
		}
		if existing != nil {
			log.WithField("day", day.String()).Warn("interest movement already exists")
			result.Skipped++
			continue
		}

		daysSinceRef := ledger.DaysBetween(refDate, day)
		overdue := daysSinceRef > e.cfg.GracePeriodDays

		code := ledger.CodeCurrentInterest
		amount := currentDaily
		if overdue {
			code = ledger.CodeOverdueInterest
			amount = overdueDaily
		}

		if _, err := e.movements.Append(ctx, loan.ID, code, amount, day); err != nil {
			// A concurrent settlement won the insert race for this day; the
			// day is settled either way.
			if errors.Is(err, ledger.ErrDuplicateInterestDay) {
				log.WithField("day", day.String()).Warn("interest movement already exists")
				result.Skipped++
				continue
			}
			return result, err
		}
		result.Created++

		// The loan crossed into overdue on the real current date: notify.
		// Best-effort by contract; a failed enqueue must not fail the loop.
		if overdue && day.Equal(today) {
			if err := e.enqueueOverdue(ctx, loan.UID); err != nil {
				log.WithError(err).Error("failed to enqueue overdue notification")
			}
		}
	}

	log.WithFields(logrus.Fields{
		"created": result.Created,
		"skipped": result.Skipped,
	}).Info("settlement complete")

	return result, nil
}

func (e *SettlementEngine) enqueueOverdue(ctx context.Context, loanUID string) error {
	payload, err := json.Marshal(map[string]string{"loanUid": loanUID})
	if err != nil {
		return err
	}
	return e.store.EnqueueOutbox(ctx, &ledger.OutboxEntry{
		Topic:   ledger.TopicOverdueLoan,
		Payload: string(payload),
	})
}
