/*
scheduler.go - Automated settlement scheduler

PURPOSE:
  Runs interest settlement for every unpaid loan on a cron schedule,
  dispatching each loan through the same code path as the admin endpoint so
  every scheduled run lands in the audit log.

DESIGN:
  - robfig/cron with a standard 5-field expression (SETTLEMENT_SCHEDULE)
  - Loans are settled sequentially; one failing loan does not stop the rest
  - Each loan gets a bounded per-loan timeout

USAGE:
  scheduler, err := NewSettlementScheduler(h, "0 2 * * *", log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SettleAll endpoint (manual trigger, same path)
  - lending/settlement.go: SettlementEngine
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/lending"
)

// SettlementScheduler triggers daily interest settlement.
type SettlementScheduler struct {
	handler *Handler
	log     *logrus.Logger
	cron    *cron.Cron

	// Bounds one loan's settlement run.
	perLoanTimeout time.Duration
}

// NewSettlementScheduler creates a scheduler with the given cron expression.
func NewSettlementScheduler(h *Handler, schedule string, log *logrus.Logger) (*SettlementScheduler, error) {
	s := &SettlementScheduler{
		handler:        h,
		log:            log,
		cron:           cron.New(),
		perLoanTimeout: 5 * time.Minute,
	}

	if _, err := s.cron.AddFunc(schedule, s.runAll); err != nil {
		return nil, fmt.Errorf("invalid settlement schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the scheduler.
func (s *SettlementScheduler) Start() {
	s.cron.Start()
	s.log.Info("settlement scheduler started")
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *SettlementScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("settlement scheduler stopped")
}

func (s *SettlementScheduler) runAll() {
	ctx := context.Background()

	loans, err := s.handler.Store.ListUnpaidLoans(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduled settlement: failed to list unpaid loans")
		return
	}

	s.log.WithField("loans", len(loans)).Info("scheduled settlement started")

	failed := 0
	for _, loan := range loans {
		loanCtx, cancel := context.WithTimeout(ctx, s.perLoanTimeout)
		result := s.handler.Dispatcher.Dispatch(loanCtx, lending.KeySettleLoanInterests,
			map[string]string{"loanUid": loan.UID})
		cancel()

		if result.Status != 200 {
			failed++
			s.log.WithFields(logrus.Fields{
				"loanUid": loan.UID,
				"status":  result.Status,
				"message": result.Message,
			}).Warn("scheduled settlement: loan failed")
		}
	}

	s.log.WithFields(logrus.Fields{
		"loans":  len(loans),
		"failed": failed,
	}).Info("scheduled settlement finished")
}
