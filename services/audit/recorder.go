package audit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authaudit/internal/observability"
	"github.com/upb/authaudit/models"
	"github.com/upb/authaudit/services"
	"go.uber.org/zap"
)

// DefaultAppendTimeout bounds a sink append when RecorderOptions leaves it unset
const DefaultAppendTimeout = 2 * time.Second

// RecorderOptions configures a Recorder
type RecorderOptions struct {
	AppendTimeout time.Duration
	SequenceStart int64
	RecorderID    uuid.UUID        // generated when zero
	Clock         func() time.Time // time.Now when nil
}

// RecorderStats is a point-in-time snapshot of recorder counters
type RecorderStats struct {
	RecorderID   uuid.UUID `json:"recorder_id"`
	NextSequence int64     `json:"next_sequence"`
	Accepted     int64     `json:"accepted"`
	Failed       int64     `json:"failed"`
	TimedOut     int64     `json:"timed_out"`
	Pending      bool      `json:"pending"`
}

// abandonedAppend is a sink append the recorder stopped waiting for.
// err is written before done is closed.
type abandonedAppend struct {
	record *models.AuditRecord
	done   chan struct{}
	err    error
}

// Recorder assigns sequence numbers and timestamps to audit events and appends
// them to a Sink one at a time. Lock order, sequence order and append order
// are the same.
type Recorder struct {
	sink      Sink
	formatter EventFormatter
	logger    *zap.Logger
	metrics   observability.Metrics
	timeout   time.Duration
	now       func() time.Time
	id        uuid.UUID

	// sem is the ordering lock. Everything below it up to closed is only
	// touched while holding it.
	sem     chan struct{}
	last    time.Time
	pending *abandonedAppend

	next     atomic.Int64
	closed   atomic.Bool
	accepted atomic.Int64
	failed   atomic.Int64
	timedOut atomic.Int64
	stalled  atomic.Bool
}

// NewRecorder creates a Recorder writing to sink
func NewRecorder(sink Sink, logger *zap.Logger, metrics observability.Metrics, opts RecorderOptions) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if opts.AppendTimeout <= 0 {
		opts.AppendTimeout = DefaultAppendTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.RecorderID == uuid.Nil {
		opts.RecorderID = uuid.New()
	}

	r := &Recorder{
		sink:      sink,
		formatter: NewEventFormatter(),
		logger:    logger.With(zap.String("recorder_id", opts.RecorderID.String())),
		metrics:   metrics,
		timeout:   opts.AppendTimeout,
		now:       opts.Clock,
		id:        opts.RecorderID,
		sem:       make(chan struct{}, 1),
	}
	r.next.Store(opts.SequenceStart)
	return r
}

// ID returns the recorder identity stamped on every record
func (r *Recorder) ID() uuid.UUID {
	return r.id
}

// RecordAuthFailure records a failed login attempt for principal.
// An empty principal is recorded as models.UnknownPrincipal.
func (r *Recorder) RecordAuthFailure(ctx context.Context, principal string) (models.Ack, error) {
	return r.record(ctx, r.formatter.FormatAuthFailure(principal))
}

// Record records an event of the given kind. Unknown kinds are rejected as
// malformed before the ordering lock is taken.
func (r *Recorder) Record(ctx context.Context, kind models.EventKind, principal string) (models.Ack, error) {
	event, err := r.formatter.Format(kind, principal)
	if err != nil {
		r.metrics.ObserveAppend(observability.OutcomeMalformed, 0)
		return models.Ack{}, err
	}
	return r.record(ctx, event)
}

func (r *Recorder) record(ctx context.Context, event FormattedEvent) (models.Ack, error) {
	if r.closed.Load() {
		return models.Ack{}, services.ErrRecorderClosed
	}

	if err := r.lock(ctx); err != nil {
		r.timedOut.Add(1)
		r.metrics.ObserveAppend(observability.OutcomeTimeout, 0)
		return models.Ack{}, err
	}
	defer r.unlock()

	// Close may have won the lock first
	if r.closed.Load() {
		return models.Ack{}, services.ErrRecorderClosed
	}

	start := time.Now()
	ack, outcome, err := r.appendLocked(ctx, event)
	r.metrics.ObserveAppend(outcome, time.Since(start))
	return ack, err
}

func (r *Recorder) lock(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return services.NewDomainError(services.ErrorTypeTimeout,
			"gave up waiting for the audit recorder", ctx.Err())
	}
}

func (r *Recorder) unlock() {
	<-r.sem
}

// appendLocked runs the critical section. The caller holds sem.
func (r *Recorder) appendLocked(ctx context.Context, event FormattedEvent) (models.Ack, string, error) {
	// One deadline covers settling an abandoned append and this call's appends
	deadline, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.settlePending(ctx, deadline); err != nil {
		if services.IsTimeoutError(err) {
			r.timedOut.Add(1)
			return models.Ack{}, observability.OutcomeTimeout, err
		}
		r.failed.Add(1)
		return models.Ack{}, observability.OutcomeSinkUnavailable, err
	}

	for {
		if err := deadline.Err(); err != nil {
			r.timedOut.Add(1)
			return models.Ack{}, observability.OutcomeTimeout,
				services.NewDomainError(services.ErrorTypeTimeout, "audit sink did not acknowledge in time", err).
					WithDetail("sequence", r.next.Load())
		}

		record := &models.AuditRecord{
			ID:         uuid.New(),
			RecorderID: r.id,
			Sequence:   r.next.Load(),
			Timestamp:  r.timestamp(),
			EventKind:  event.Kind,
			Principal:  event.Principal,
			Message:    event.Message,
		}

		inflight := &abandonedAppend{record: record, done: make(chan struct{})}
		go func() {
			inflight.err = r.safeAppend(deadline, record)
			close(inflight.done)
		}()

		select {
		case <-inflight.done:
		case <-deadline.Done():
			// The sink may still accept the record; the next critical section
			// settles it before assigning another sequence.
			r.pending = inflight
			r.stalled.Store(true)
			r.timedOut.Add(1)
			r.logger.Warn("Audit sink did not acknowledge in time",
				zap.Int64("sequence", record.Sequence),
				zap.Duration("timeout", r.timeout),
				zap.Error(deadline.Err()))
			return models.Ack{}, observability.OutcomeTimeout,
				services.NewDomainError(services.ErrorTypeTimeout, "audit sink did not acknowledge in time", deadline.Err()).
					WithDetail("sequence", record.Sequence)
		}

		err := inflight.err
		switch {
		case err == nil:
			r.accept(record)
			r.logger.Debug("Audit record appended",
				zap.Int64("sequence", record.Sequence),
				zap.String("event_kind", string(record.EventKind)),
				zap.String("principal", record.Principal))
			return record.Ack(), observability.OutcomeSuccess, nil

		case errors.Is(err, services.ErrRecordExists):
			// An earlier attempt stored this sequence but was reported as
			// failed. The sequence is taken; retry with the next one.
			r.accept(record)
			r.logger.Warn("Audit sequence already stored; retrying with the next",
				zap.Int64("sequence", record.Sequence),
				zap.Error(err))
			continue

		case errors.Is(err, context.DeadlineExceeded):
			r.timedOut.Add(1)
			r.logger.Warn("Audit sink gave up at deadline",
				zap.Int64("sequence", record.Sequence),
				zap.Error(err))
			return models.Ack{}, observability.OutcomeTimeout,
				services.NewDomainError(services.ErrorTypeTimeout, "audit sink did not acknowledge in time", err).
					WithDetail("sequence", record.Sequence)

		default:
			r.failed.Add(1)
			r.logger.Error("Audit sink rejected record",
				zap.Int64("sequence", record.Sequence),
				zap.String("principal", record.Principal),
				zap.Error(err))
			return models.Ack{}, observability.OutcomeSinkUnavailable,
				services.WrapSinkUnavailable("audit sink rejected record", err).
					WithDetail("sequence", record.Sequence)
		}
	}
}

// settlePending waits for an abandoned append to resolve, until deadline is
// done. If the sink accepted it after all, its sequence is consumed so the
// next record does not reuse it. ctx is the caller's context; deadline is
// derived from it.
func (r *Recorder) settlePending(ctx, deadline context.Context) error {
	p := r.pending
	if p == nil {
		return nil
	}

	select {
	case <-p.done:
	case <-deadline.Done():
		if ctx.Err() != nil {
			return services.NewDomainError(services.ErrorTypeTimeout,
				"gave up waiting for a previous audit append", ctx.Err())
		}
		return services.ErrAppendPending
	}

	r.pending = nil
	r.stalled.Store(false)

	if p.err != nil && !errors.Is(p.err, services.ErrRecordExists) {
		r.logger.Info("Abandoned audit append failed; sequence not consumed",
			zap.Int64("sequence", p.record.Sequence),
			zap.Error(p.err))
		return nil
	}

	r.accept(p.record)
	r.logger.Warn("Abandoned audit append was accepted late",
		zap.Int64("sequence", p.record.Sequence),
		zap.String("record_id", p.record.ID.String()))
	return nil
}

func (r *Recorder) accept(record *models.AuditRecord) {
	r.last = record.Timestamp
	r.next.Store(record.Sequence + 1)
	r.accepted.Add(1)
	r.metrics.SetLastSequence(record.Sequence)
}

// timestamp never goes backwards relative to the last accepted record
func (r *Recorder) timestamp() time.Time {
	ts := r.now().UTC()
	if ts.Before(r.last) {
		return r.last
	}
	return ts
}

func (r *Recorder) safeAppend(ctx context.Context, record *models.AuditRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("audit sink panicked: %v", p)
		}
	}()
	return r.sink.Append(ctx, record)
}

// Stats returns a snapshot of the recorder counters
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		RecorderID:   r.id,
		NextSequence: r.next.Load(),
		Accepted:     r.accepted.Load(),
		Failed:       r.failed.Load(),
		TimedOut:     r.timedOut.Load(),
		Pending:      r.stalled.Load(),
	}
}

// Close stops accepting events. It waits for an in-progress append and, for
// at most one append timeout, for an abandoned one.
func (r *Recorder) Close(ctx context.Context) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.unlock()

	if r.closed.Swap(true) {
		return nil
	}

	deadline, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.settlePending(ctx, deadline); err != nil {
		r.logger.Warn("Closing with an unresolved audit append", zap.Error(err))
		return err
	}

	r.logger.Info("Audit recorder closed",
		zap.Int64("next_sequence", r.next.Load()),
		zap.Int64("accepted", r.accepted.Load()))
	return nil
}
