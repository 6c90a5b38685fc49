// Package transaction stages document writes and deletes under explicit,
// time-bounded transaction ids and drains them on commit, rollback or
// re-identification.
//
// Staging never touches committed content. It takes the document's lock
// pointer, records the change in the staged table and refreshes the
// transaction lease. Completion removes the transaction record first and
// then hands every staged change of the id to a per-entry handler.
package transaction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodoc/core/codec"
	"github.com/sushant-115/gojodoc/core/document"
	"github.com/sushant-115/gojodoc/core/storage"
	"github.com/sushant-115/gojodoc/core/uuidgen"
	internaltelemetry "github.com/sushant-115/gojodoc/internal/telemetry"
)

const instrumentationName = "github.com/sushant-115/gojodoc/core/transaction"

// Operation names used in errors and metric attributes.
const (
	opPut    = "PUT"
	opDelete = "DELETE"
)

// Information identifies the transaction a staging call runs under.
// Timeout is the lease length; each staging call extends the lease to
// now+Timeout.
type Information struct {
	ID      uuid.UUID
	Timeout time.Duration
}

// DocumentInTransactionData is one drained staged change as handed to a
// completion handler. Metadata and Data are nil for deletes.
type DocumentInTransactionData struct {
	Key      string
	Etag     uuid.UUID
	Delete   bool
	Metadata document.Document
	Data     document.Document
}

// Actions implements the transaction operations on top of a storage.Storage.
// It keeps no state of its own beyond its dependencies. Each operation is a
// sequence of single-row table calls with no lock around them, so concurrent
// callers must not operate on the same document key at the same time; the
// conditional UpdateKey only turns a lost lock race into ErrWriteConflict.
type Actions struct {
	store   storage.Storage
	gen     uuidgen.Generator
	codecs  codec.Pipeline
	locks   LockChecker
	logger  *zap.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *internaltelemetry.TxnMetrics
	now     func() time.Time
}

// Option configures Actions.
type Option func(*Actions)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Actions) { a.logger = logger }
}

// WithTracer sets the tracer used for one span per operation.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Actions) { a.tracer = tracer }
}

// WithMeter sets the meter the transaction metrics are registered on.
func WithMeter(meter metric.Meter) Option {
	return func(a *Actions) { a.meter = meter }
}

// WithClock replaces time.Now for lease computation and liveness checks.
func WithClock(now func() time.Time) Option {
	return func(a *Actions) { a.now = now }
}

// WithLockChecker replaces the default LeaseLockChecker.
func WithLockChecker(locks LockChecker) Option {
	return func(a *Actions) { a.locks = locks }
}

// NewActions wires the staging service. Tracer and meter default to the
// global OpenTelemetry providers.
func NewActions(store storage.Storage, gen uuidgen.Generator, codecs codec.Pipeline, opts ...Option) (*Actions, error) {
	a := &Actions{
		store:  store,
		gen:    gen,
		codecs: codecs,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(instrumentationName)
	}
	if a.meter == nil {
		a.meter = otel.Meter(instrumentationName)
	}
	if a.locks == nil {
		a.locks = &LeaseLockChecker{Now: a.now}
	}

	metrics, err := internaltelemetry.NewTxnMetrics(a.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction metrics: %w", err)
	}
	a.metrics = metrics
	return a, nil
}
