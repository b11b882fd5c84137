/*
dispatcher.go - Typed command/event dispatcher

PURPOSE:
  Maps inbound routing keys to handler functions, replacing decorator-bound
  message-queue RPC handlers. The core services stay transport-agnostic:
  tests call them directly, production invokes them through Dispatch.

AUDIT CONTRACT:
  Every dispatched invocation is durably recorded (routing key, function
  name, payload, payload hash) BEFORE the handler runs; a handler error is
  recorded against the same event afterwards.

ERROR CONVERSION:
  Dispatch never returns an error. The triggering transports are
  fire-and-forget (scheduler ticks, gateway webhooks), so handler errors are
  converted into a structured {status, message} result.
*/
package lending

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/warp/lending-engine/ledger"
)

// Routing keys for dispatched operations.
const (
	KeySettleLoanInterests = "settle_loan_interests"
	KeyPaymentConfirmation = "payment_confirmation"
)

// Result is the structured outcome of a dispatched invocation.
type Result struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// HandlerFunc processes one dispatched payload.
type HandlerFunc func(ctx context.Context, payload []byte) (any, error)

type registration struct {
	functionName string
	handler      HandlerFunc
}

// Dispatcher routes inbound events to handlers with audit recording.
type Dispatcher struct {
	events ledger.EventStore
	log    *logrus.Logger

	mu       sync.RWMutex
	handlers map[string]registration
}

func NewDispatcher(events ledger.EventStore, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		events:   events,
		log:      log,
		handlers: make(map[string]registration),
	}
}

// Register binds a routing key to a handler. Last registration wins.
func (d *Dispatcher) Register(routingKey, functionName string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[routingKey] = registration{functionName: functionName, handler: h}
}

// Dispatch records the event, runs the handler, and converts the outcome
// into a Result.
func (d *Dispatcher) Dispatch(ctx context.Context, routingKey string, payload any) Result {
	d.mu.RLock()
	reg, ok := d.handlers[routingKey]
	d.mu.RUnlock()

	if !ok {
		return Result{Status: 404, Message: fmt.Sprintf("no handler for routing key %s", routingKey)}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{Status: 400, Message: fmt.Sprintf("unencodable payload: %v", err)}
	}

	event := &ledger.Event{
		Hash:         payloadHash(routingKey, reg.functionName, raw),
		RoutingKey:   routingKey,
		FunctionName: reg.functionName,
		Payload:      string(raw),
	}
	if err := d.events.RecordEvent(ctx, event); err != nil {
		// Audit-before-processing is the contract; refuse to run unrecorded.
		d.log.WithError(err).WithField("routingKey", routingKey).Error("failed to record event")
		return Result{Status: 500, Message: "failed to record event"}
	}

	data, err := reg.handler(ctx, raw)
	if err != nil {
		if recErr := d.events.RecordEventError(ctx, event.ID, err.Error()); recErr != nil {
			d.log.WithError(recErr).Error("failed to record event error")
		}
		d.log.WithError(err).WithField("routingKey", routingKey).Warn("dispatched handler failed")
		return Result{Status: statusOf(err), Message: err.Error()}
	}

	return Result{Status: 200, Message: "success", Data: data}
}

// statusOf maps the error taxonomy onto HTTP-equivalent status codes.
func statusOf(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return 404
	case ledger.IsConflict(err):
		return 409
	case ledger.IsUnauthorized(err):
		return 401
	case ledger.IsInvalidInput(err):
		return 400
	}
	return 500
}

func payloadHash(routingKey, functionName string, payload []byte) string {
	sum := md5.Sum([]byte(routingKey + "-" + functionName + "-" + string(payload)))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// HANDLER WIRING
// =============================================================================

type settlePayload struct {
	LoanUID string `json:"loanUid"`
}

// RegisterHandlers binds the production routing keys to the core services.
func RegisterHandlers(d *Dispatcher, engine *SettlementEngine, gateway *GatewayService) {
	d.Register(KeySettleLoanInterests, "settleLoanInterests", func(ctx context.Context, payload []byte) (any, error) {
		var p settlePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
		}
		return engine.Settle(ctx, p.LoanUID)
	})

	d.Register(KeyPaymentConfirmation, "paymentConfirmation", func(ctx context.Context, payload []byte) (any, error) {
		var input ConfirmationInput
		if err := json.Unmarshal(payload, &input); err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
		}
		return nil, gateway.Confirm(ctx, input)
	})
}
