package internaltelemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Completion policies recorded on the completions counter.
const (
	PolicyCommit     = "commit"
	PolicyRollback   = "rollback"
	PolicyReidentify = "reidentify"
	PolicyCustom     = "custom"
)

// TxnMetrics holds all the metric instruments for the transaction staging layer.
type TxnMetrics struct {
	StagedWritesCounter          metric.Int64Counter
	StagedDeletesCounter         metric.Int64Counter
	LockConflictsCounter         metric.Int64Counter
	ConcurrencyViolationsCounter metric.Int64Counter
	CompletionsCounter           metric.Int64Counter
	ReplayedChangesCounter       metric.Int64Counter
	CompletionLatencyHistogram   metric.Int64Histogram
}

// NewTxnMetrics creates and registers all the metrics for the transaction layer.
func NewTxnMetrics(meter metric.Meter) (*TxnMetrics, error) {
	stagedWrites, err := meter.Int64Counter(
		"gojodoc.txn.staged_writes_total",
		metric.WithDescription("Total number of document writes staged in a transaction."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	stagedDeletes, err := meter.Int64Counter(
		"gojodoc.txn.staged_deletes_total",
		metric.WithDescription("Total number of document deletes staged in a transaction."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	lockConflicts, err := meter.Int64Counter(
		"gojodoc.txn.lock_conflicts_total",
		metric.WithDescription("Total number of operations rejected because another transaction holds the document."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	concurrencyViolations, err := meter.Int64Counter(
		"gojodoc.txn.concurrency_violations_total",
		metric.WithDescription("Total number of etag mismatches and lost write races."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	completions, err := meter.Int64Counter(
		"gojodoc.txn.completions_total",
		metric.WithDescription("Total number of completed transactions, by completion policy."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	replayed, err := meter.Int64Counter(
		"gojodoc.txn.replayed_changes_total",
		metric.WithDescription("Total number of staged changes handed to a completion callback."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Int64Histogram(
		"gojodoc.txn.completion.duration",
		metric.WithDescription("The latency of draining a transaction."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &TxnMetrics{
		StagedWritesCounter:          stagedWrites,
		StagedDeletesCounter:         stagedDeletes,
		LockConflictsCounter:         lockConflicts,
		ConcurrencyViolationsCounter: concurrencyViolations,
		CompletionsCounter:           completions,
		ReplayedChangesCounter:       replayed,
		CompletionLatencyHistogram:   latency,
	}, nil
}

// The record helpers accept a nil receiver so callers can run without metrics.

func (m *TxnMetrics) StagedWrite(ctx context.Context) {
	if m != nil {
		m.StagedWritesCounter.Add(ctx, 1)
	}
}

func (m *TxnMetrics) StagedDelete(ctx context.Context) {
	if m != nil {
		m.StagedDeletesCounter.Add(ctx, 1)
	}
}

func (m *TxnMetrics) LockConflict(ctx context.Context, op string) {
	if m != nil {
		m.LockConflictsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

func (m *TxnMetrics) ConcurrencyViolation(ctx context.Context, op string) {
	if m != nil {
		m.ConcurrencyViolationsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// Completed records one drained transaction.
func (m *TxnMetrics) Completed(ctx context.Context, policy string, changes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("policy", policy))
	m.CompletionsCounter.Add(ctx, 1, attrs)
	m.ReplayedChangesCounter.Add(ctx, int64(changes), attrs)
	m.CompletionLatencyHistogram.Record(ctx, elapsed.Milliseconds(), attrs)
}
