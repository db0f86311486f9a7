// Package redisstream stores audit records in a Redis stream.
//
// Each record is one XADD entry. A hash next to the stream maps record IDs to
// entry IDs so single records can be fetched without scanning.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/upb/authaudit/models"
	"github.com/upb/authaudit/repositories"
	"github.com/upb/authaudit/services"
	"go.uber.org/zap"
)

const scanBatch = 500

// Stream entry fields
const (
	fieldID         = "id"
	fieldRecorderID = "recorder_id"
	fieldSequence   = "sequence"
	fieldTimestamp  = "timestamp"
	fieldEventKind  = "event_kind"
	fieldPrincipal  = "principal"
	fieldMessage    = "message"
)

// AuditStream implements repositories.AuditRepository on a Redis stream
type AuditStream struct {
	redis  *redis.Client
	stream string
	index  string
	logger *zap.Logger
}

// NewAuditStream creates an AuditStream writing to stream
func NewAuditStream(client *redis.Client, stream string, logger *zap.Logger) *AuditStream {
	return &AuditStream{
		redis:  client,
		stream: stream,
		index:  stream + ":ids",
		logger: logger,
	}
}

var _ repositories.AuditRepository = (*AuditStream)(nil)

// Append adds the record to the stream, then indexes its ID
func (s *AuditStream) Append(ctx context.Context, record *models.AuditRecord) error {
	entryID, err := s.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: encodeRecord(record),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to append audit record to stream %s: %w", s.stream, err)
	}

	// The entry is durable once XADD succeeded; a missing index only slows GetByID
	if err := s.redis.HSet(ctx, s.index, record.ID.String(), entryID).Err(); err != nil {
		s.logger.Warn("failed to index audit stream entry",
			zap.String("record_id", record.ID.String()),
			zap.String("entry_id", entryID),
			zap.Error(err))
	}

	s.logger.Debug("audit record added to stream",
		zap.String("entry_id", entryID),
		zap.Int64("sequence", record.Sequence))
	return nil
}

// GetByID retrieves a record by ID
func (s *AuditStream) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	entryID, err := s.redis.HGet(ctx, s.index, id.String()).Result()
	if err == nil {
		msgs, err := s.redis.XRange(ctx, s.stream, entryID, entryID).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read audit stream: %w", err)
		}
		if len(msgs) == 1 {
			return decodeRecord(msgs[0])
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read audit stream index: %w", err)
	}

	// Not indexed: fall back to a scan
	var found *models.AuditRecord
	err = s.scan(ctx, func(record *models.AuditRecord) bool {
		if record.ID == id {
			found = record
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, services.NewDomainError(services.ErrorTypeNotFound,
			fmt.Sprintf("audit record not found: %s", id), nil)
	}
	return found, nil
}

// List retrieves records in stream order
func (s *AuditStream) List(ctx context.Context, q repositories.RecordQuery) ([]*models.AuditRecord, error) {
	q = q.Normalize()

	records := []*models.AuditRecord{}
	skipped := 0
	err := s.scan(ctx, func(record *models.AuditRecord) bool {
		if q.Principal != "" && record.Principal != q.Principal {
			return true
		}
		if skipped < q.Offset {
			skipped++
			return true
		}
		records = append(records, record)
		return len(records) < q.Limit
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Ping checks the Redis connection
func (s *AuditStream) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// scan walks the stream from the start in batches until fn returns false
func (s *AuditStream) scan(ctx context.Context, fn func(*models.AuditRecord) bool) error {
	start := "-"
	for {
		msgs, err := s.redis.XRangeN(ctx, s.stream, start, "+", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to read audit stream: %w", err)
		}
		for _, msg := range msgs {
			record, err := decodeRecord(msg)
			if err != nil {
				return err
			}
			if !fn(record) {
				return nil
			}
		}
		if len(msgs) < scanBatch {
			return nil
		}
		next, err := nextEntryID(msgs[len(msgs)-1].ID)
		if err != nil {
			return err
		}
		start = next
	}
}

func encodeRecord(record *models.AuditRecord) map[string]interface{} {
	return map[string]interface{}{
		fieldID:         record.ID.String(),
		fieldRecorderID: record.RecorderID.String(),
		fieldSequence:   strconv.FormatInt(record.Sequence, 10),
		fieldTimestamp:  record.Timestamp.UTC().Format(time.RFC3339Nano),
		fieldEventKind:  string(record.EventKind),
		fieldPrincipal:  record.Principal,
		fieldMessage:    record.Message,
	}
}

func decodeRecord(msg redis.XMessage) (*models.AuditRecord, error) {
	str := func(key string) string {
		v, _ := msg.Values[key].(string)
		return v
	}

	id, err := uuid.Parse(str(fieldID))
	if err != nil {
		return nil, fmt.Errorf("audit stream entry %s: invalid id: %w", msg.ID, err)
	}
	recorderID, err := uuid.Parse(str(fieldRecorderID))
	if err != nil {
		return nil, fmt.Errorf("audit stream entry %s: invalid recorder id: %w", msg.ID, err)
	}
	seq, err := strconv.ParseInt(str(fieldSequence), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("audit stream entry %s: invalid sequence: %w", msg.ID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, str(fieldTimestamp))
	if err != nil {
		return nil, fmt.Errorf("audit stream entry %s: invalid timestamp: %w", msg.ID, err)
	}

	return &models.AuditRecord{
		ID:         id,
		RecorderID: recorderID,
		Sequence:   seq,
		Timestamp:  ts,
		EventKind:  models.EventKind(str(fieldEventKind)),
		Principal:  str(fieldPrincipal),
		Message:    str(fieldMessage),
	}, nil
}

// nextEntryID returns the smallest stream ID greater than id ("ms-seq")
func nextEntryID(id string) (string, error) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return "", fmt.Errorf("invalid stream entry id %q", id)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid stream entry id %q: %w", id, err)
	}
	return ms + "-" + strconv.FormatUint(n+1, 10), nil
}
