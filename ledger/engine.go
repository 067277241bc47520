/*
engine.go - Ledger engine construction and shared plumbing

PURPOSE:
  Engine is the single entry point for every ledger operation. It holds
  the transactional store and the ambient collaborators (clock, ID
  generator, event publisher, logger). Operations live in:

    workflow.go  RequestGrant, Verify, Approve, DeleteGrant
    redeem.go    Redeem
    balance.go   Summarize, Reconcile
    queries.go   Read-only listings and counts

OPERATION SHAPE:
  1. Resolve the kind descriptor and check the actor is present
  2. Run every check, then the single write, inside one WithTx
  3. Refresh the affected person's cached balance in the same transaction
  4. After commit: log, count, publish the event

  A failure at any step returns a classified *Error. Unclassified errors
  (driver failures) become CodeStorage with a generic message; the
  detail is logged here and never returned.

EXAMPLE:
  engine := ledger.NewEngine(store, ledger.WithLogger(log))
  grant, err := engine.RequestGrant(ctx, actor, ledger.GrantRequest{
      Kind: ledger.KindPoints, Giver: "17-71001", Value: 5, Reason: "kitchen duty",
  })

SEE ALSO:
  - store.go: TxStore contract
  - errors.go: Error codes
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/merit-ledger/logging"
	"github.com/warp/merit-ledger/metrics"
)

// Engine runs ledger operations against a transactional store.
type Engine struct {
	store     TxStore
	now       func() time.Time
	newID     func() string
	publisher Publisher
	log       *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides how grant, redemption and event IDs are made.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// WithPublisher sets the committed-event publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l.WithComponent(logging.ComponentLedger) }
}

// NewEngine creates an engine over store.
func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		publisher: NopPublisher{},
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() TxStore {
	return e.store
}

// =============================================================================
// SHARED CHECKS
// =============================================================================

func (e *Engine) kind(id KindID) (Kind, error) {
	k, ok := LookupKind(string(id))
	if !ok {
		return Kind{}, Errorf(CodeValidation, "unknown ledger kind %q", id)
	}
	return k, nil
}

func requireActor(actor Actor) error {
	if actor.ID == "" {
		return Errorf(CodeUnauthenticated, "please log in again")
	}
	return nil
}

func requireReason(reason, what string) error {
	if strings.TrimSpace(reason) == "" {
		return Errorf(CodeValidation, "please enter a reason for the %s", what)
	}
	return nil
}

// loadActive returns the person or a NotFound naming their part in the operation.
func loadActive(ctx context.Context, s Store, id PersonID, part string) (*Person, error) {
	p, err := s.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Active() {
		return nil, Errorf(CodeNotFound, "%s does not exist", part)
	}
	return p, nil
}

// =============================================================================
// OUTCOME RECORDING
// =============================================================================

const opRedeem = "redeem"

// fail classifies err, logs it, and counts the failed operation.
func (e *Engine) fail(ctx context.Context, op string, kind KindID, actor Actor, err error) error {
	code := CodeOf(err)
	if code == CodeStorage {
		var classified *Error
		if !errors.As(err, &classified) {
			err = (&Error{Code: CodeStorage, Message: MsgUnknown}).Wrap(err)
		}
		e.log.ErrorContext(ctx, "ledger operation failed",
			logging.FieldOperation, op,
			logging.FieldKind, kind,
			logging.FieldActorID, actor.ID,
			logging.FieldError, err,
		)
	} else {
		e.log.DebugContext(ctx, "ledger operation rejected",
			logging.FieldOperation, op,
			logging.FieldKind, kind,
			logging.FieldActorID, actor.ID,
			logging.FieldCode, code,
			logging.FieldError, err,
		)
	}
	e.count(op, kind, string(code))
	return err
}

func (e *Engine) succeed(ctx context.Context, op string, kind KindID, actor Actor, args ...any) {
	e.log.InfoContext(ctx, "ledger operation committed", append([]any{
		logging.FieldOperation, op,
		logging.FieldKind, kind,
		logging.FieldActorID, actor.ID,
	}, args...)...)
	e.count(op, kind, metrics.OutcomeOK)
}

// count records an operation outcome. Kinds outside the registry come
// straight from request paths and share the "unknown" label.
func (e *Engine) count(op string, kind KindID, outcome string) {
	label := string(kind)
	if _, ok := LookupKind(label); !ok {
		label = metrics.UnknownKind
	}
	if op == opRedeem {
		metrics.Redemptions.WithLabelValues(label, outcome).Inc()
		return
	}
	metrics.GrantOperations.WithLabelValues(label, op, outcome).Inc()
}

// publish hands a committed event to the publisher. Errors are logged only.
func (e *Engine) publish(ctx context.Context, ev Event) {
	ev.ID = e.newID()
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	outcome := metrics.OutcomeOK
	if err := e.publisher.Publish(ctx, ev); err != nil {
		outcome = "error"
		e.log.WarnContext(ctx, "event publish failed",
			logging.FieldEvent, ev.Type,
			logging.FieldKind, ev.Kind,
			logging.FieldError, err,
		)
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type), outcome).Inc()
}
