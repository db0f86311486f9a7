package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/upb/authaudit/models"
	"github.com/upb/authaudit/repositories"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink is the append-only destination of audit records.
// Append must not return until the record is durably accepted or rejected.
// The recorder calls Append from one goroutine at a time, in sequence order.
type Sink interface {
	Append(ctx context.Context, record *models.AuditRecord) error
}

// MemorySink keeps records in memory
type MemorySink struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

// NewMemorySink creates an empty MemorySink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(ctx context.Context, record *models.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

// Records returns a copy of the stored records in append order
func (s *MemorySink) Records() []models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of stored records
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// LineFormat selects how WriterSink serializes a record
type LineFormat string

const (
	FormatText LineFormat = "text"
	FormatJSON LineFormat = "json"
)

// jsonLine is the JSON-lines form: the structured record plus identifiers
type jsonLine struct {
	models.StructuredRecord
	ID         string `json:"id"`
	RecorderID string `json:"recorder_id"`
	Message    string `json:"message"`
}

// WriterSink writes one line per record and syncs after each write
type WriterSink struct {
	mu     sync.Mutex
	out    zapcore.WriteSyncer
	format LineFormat
	closer func() error
}

// NewWriterSink wraps an existing WriteSyncer (os.Stdout, a file, a buffer via zapcore.AddSync)
func NewWriterSink(out zapcore.WriteSyncer, format LineFormat) *WriterSink {
	if format != FormatText {
		format = FormatJSON
	}
	return &WriterSink{out: out, format: format}
}

// OpenFileSink opens path for appending, creating it if needed
func OpenFileSink(path string, format LineFormat) (*WriterSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
	}
	s := NewWriterSink(f, format)
	s.closer = f.Close
	return s, nil
}

func (s *WriterSink) Append(ctx context.Context, record *models.AuditRecord) error {
	line, err := s.encode(record)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.out.Write(line); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	if err := syncErr(s.out.Sync()); err != nil {
		return fmt.Errorf("failed to sync audit record: %w", err)
	}
	return nil
}

// syncErr drops the error fsync returns for outputs that cannot be synced.
// Pipes, terminals and character devices such as /dev/stderr report EINVAL or
// ENOTTY; the write itself already went through.
func syncErr(err error) error {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

func (s *WriterSink) encode(record *models.AuditRecord) ([]byte, error) {
	if s.format == FormatText {
		return []byte(record.Message + "\n"), nil
	}
	data, err := json.Marshal(jsonLine{
		StructuredRecord: record.Structured(),
		ID:               record.ID.String(),
		RecorderID:       record.RecorderID.String(),
		Message:          record.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit record: %w", err)
	}
	return append(data, '\n'), nil
}

// Close closes the underlying file when the sink owns it
func (s *WriterSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// LoggerSink writes the human-readable line through a zap logger with the
// structured fields attached. Sync is called after every record; outputs that
// cannot be synced (stderr on a pipe or terminal) are not an error.
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink creates a LoggerSink
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger.Named("audit")}
}

func (s *LoggerSink) Append(ctx context.Context, record *models.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Warn(record.Message,
		zap.Int64("sequence", record.Sequence),
		zap.Time("event_time", record.Timestamp),
		zap.String("event_kind", string(record.EventKind)),
		zap.String("principal", record.Principal),
		zap.String("record_id", record.ID.String()))
	if err := syncErr(s.logger.Sync()); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

// TeeSink appends to every sink in order and stops at the first failure.
// A failure after the first sink leaves the earlier sinks with the record.
type TeeSink struct {
	sinks []Sink
}

// NewTeeSink creates a TeeSink
func NewTeeSink(sinks ...Sink) *TeeSink {
	return &TeeSink{sinks: sinks}
}

func (s *TeeSink) Append(ctx context.Context, record *models.AuditRecord) error {
	for i, sink := range s.sinks {
		if err := sink.Append(ctx, record); err != nil {
			return fmt.Errorf("tee sink %d: %w", i, err)
		}
	}
	return nil
}

// RepositorySink appends through an AuditRepository (postgres, redis stream)
type RepositorySink struct {
	repo repositories.AuditRepository
}

// NewRepositorySink creates a RepositorySink
func NewRepositorySink(repo repositories.AuditRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Append(ctx context.Context, record *models.AuditRecord) error {
	return s.repo.Append(ctx, record)
}

// Repository exposes the backing repository for the read API
func (s *RepositorySink) Repository() repositories.AuditRepository {
	return s.repo
}
