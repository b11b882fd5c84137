/*
outbox.go - Transactional outbox delivery

PURPOSE:
  Domain operations enqueue notifications inside the same transaction that
  records the triggering movement; this dispatcher drains the queue out of
  band, so a slow or failing notification channel never blocks or rolls
  back a settlement or payment.

DELIVERY:
  At-least-once. Entries stay pending until a publisher accepts them;
  consumers must tolerate duplicates.
*/
package lending

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/ledger"
)

// Publisher delivers drained outbox notifications to an external channel.
type Publisher interface {
	PublishOverdueLoan(ctx context.Context, loanUID string) error
	PublishReceivedPayment(ctx context.Context, movementUID string) error
}

// OutboxDispatcher polls the outbox and hands pending entries to a Publisher.
type OutboxDispatcher struct {
	store     ledger.OutboxStore
	publisher Publisher
	log       *logrus.Logger
	interval  time.Duration
	batchSize int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewOutboxDispatcher(store ledger.OutboxStore, publisher Publisher, log *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		store:     store,
		publisher: publisher,
		log:       log,
		interval:  5 * time.Second,
		batchSize: 50,
	}
}

// Start launches the polling loop. Stop waits for the in-flight batch.
func (o *OutboxDispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := o.RunOnce(ctx); err != nil {
					o.log.WithError(err).Error("outbox drain failed")
				}
			}
		}
	}()
}

func (o *OutboxDispatcher) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
}

// RunOnce drains one batch of pending entries.
func (o *OutboxDispatcher) RunOnce(ctx context.Context) error {
	pending, err := o.store.PendingOutbox(ctx, o.batchSize)
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if err := o.deliver(ctx, entry); err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"outboxId": entry.ID,
				"topic":    entry.Topic,
			}).Warn("outbox delivery failed")
			if markErr := o.store.MarkOutboxFailed(ctx, entry.ID); markErr != nil {
				return markErr
			}
			continue
		}
		if err := o.store.MarkOutboxDelivered(ctx, entry.ID); err != nil {
			return err
		}
	}
	return nil
}

func (o *OutboxDispatcher) deliver(ctx context.Context, entry ledger.OutboxEntry) error {
	var payload map[string]string
	if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil {
		return err
	}

	switch entry.Topic {
	case ledger.TopicOverdueLoan:
		return o.publisher.PublishOverdueLoan(ctx, payload["loanUid"])
	case ledger.TopicReceivedPayment:
		return o.publisher.PublishReceivedPayment(ctx, payload["movementUid"])
	}
	o.log.WithField("topic", entry.Topic).Warn("unknown outbox topic, dropping")
	return nil
}
