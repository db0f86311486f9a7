package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/authaudit/internal/observability"
	"github.com/upb/authaudit/models"
	"github.com/upb/authaudit/services"
	"go.uber.org/zap"
)

// AuthFailureRecorder is the synchronous recording call the dispatcher drives
type AuthFailureRecorder interface {
	RecordAuthFailure(ctx context.Context, principal string) (models.Ack, error)
}

// Completion is delivered to the submitter once the recorder has answered
type Completion struct {
	Principal string
	Ack       models.Ack
	Err       error
}

// CompletionFunc observes the outcome of a submitted event. It runs on a
// dispatcher worker and must not block.
type CompletionFunc func(Completion)

type dispatchEvent struct {
	principal string
	done      CompletionFunc
}

// Dispatcher keeps audit recording off the authentication path. Events are
// buffered and handed to the recorder by background workers.
type Dispatcher struct {
	recorder    AuthFailureRecorder
	logger      *zap.Logger
	metrics     observability.Metrics
	eventChan   chan dispatchEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// DispatcherConfig holds configuration for the Dispatcher
type DispatcherConfig struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // One keeps submission order into the recorder
}

// DefaultDispatcherConfig returns the default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BufferSize:  10000,
		WorkerCount: 1,
	}
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(recorder AuthFailureRecorder, logger *zap.Logger, metrics observability.Metrics, config DispatcherConfig) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultDispatcherConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		recorder:    recorder,
		logger:      logger,
		metrics:     metrics,
		eventChan:   make(chan dispatchEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("audit dispatcher already started")
	}

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started audit dispatcher",
		zap.Int("worker_count", d.workerCount),
		zap.Int("buffer_size", d.bufferSize))

	return nil
}

// Stop stops accepting events and waits for queued ones to be recorded
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return services.ErrDispatcherNotStarted
	}
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	// Submitters hold the read lock while sending, so closing here is safe
	close(d.eventChan)
	d.mu.Unlock()

	d.logger.Info("stopping audit dispatcher", zap.Int("pending_events", len(d.eventChan)))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		d.logger.Info("audit dispatcher stopped gracefully")
		d.cancel()
		return nil
	case <-timer.C:
		// Cancels the in-flight recorder calls; the remaining events fail with
		// a timeout and their callbacks still run.
		d.cancel()
		return fmt.Errorf("audit dispatcher stop timeout after %v", timeout)
	}
}

// Submit queues a failed login attempt without blocking.
// It returns services.ErrQueueFull when the buffer is full; the event is
// not recorded in that case and the caller decides what to do with it.
func (d *Dispatcher) Submit(principal string, done CompletionFunc) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.acceptingLocked(); err != nil {
		return err
	}

	select {
	case d.eventChan <- dispatchEvent{principal: principal, done: done}:
		d.metrics.SetQueueDepth(len(d.eventChan))
		return nil
	default:
		d.metrics.IncDispatchRejected("queue_full")
		d.logger.Warn("audit event channel full, rejecting event",
			zap.String("principal", SanitizePrincipal(principal)))
		return services.ErrQueueFull
	}
}

// SubmitBlocking queues a failed login attempt, waiting for buffer space
// until ctx is done or the dispatcher stops.
func (d *Dispatcher) SubmitBlocking(ctx context.Context, principal string, done CompletionFunc) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.acceptingLocked(); err != nil {
		return err
	}

	select {
	case d.eventChan <- dispatchEvent{principal: principal, done: done}:
		d.metrics.SetQueueDepth(len(d.eventChan))
		return nil
	case <-ctx.Done():
		d.metrics.IncDispatchRejected("context_done")
		return ctx.Err()
	case <-d.ctx.Done():
		return services.ErrDispatcherStopped
	}
}

func (d *Dispatcher) acceptingLocked() error {
	if !d.started {
		return services.ErrDispatcherNotStarted
	}
	if d.stopped {
		return services.ErrDispatcherStopped
	}
	return nil
}

// worker processes events from the channel
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range d.eventChan {
		d.metrics.SetQueueDepth(len(d.eventChan))
		d.process(id, event)
	}

	d.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (d *Dispatcher) process(workerID int, event dispatchEvent) {
	ack, err := d.recorder.RecordAuthFailure(d.ctx, event.principal)
	if err != nil {
		d.logger.Error("failed to record audit event",
			zap.Int("worker_id", workerID),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
	}

	if event.done == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("audit completion callback panicked",
				zap.Int("worker_id", workerID),
				zap.Any("panic", p))
		}
	}()
	event.done(Completion{Principal: event.principal, Ack: ack, Err: err})
}

// GetStats returns statistics about the dispatcher
func (d *Dispatcher) GetStats() DispatcherStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DispatcherStats{
		BufferSize:    d.bufferSize,
		PendingEvents: len(d.eventChan),
		WorkerCount:   d.workerCount,
		Started:       d.started,
		Stopped:       d.stopped,
	}
}

// DispatcherStats represents dispatcher statistics
type DispatcherStats struct {
	BufferSize    int  `json:"buffer_size"`
	PendingEvents int  `json:"pending_events"`
	WorkerCount   int  `json:"worker_count"`
	Started       bool `json:"started"`
	Stopped       bool `json:"stopped"`
}
