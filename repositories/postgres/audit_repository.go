package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/authaudit/models"
	"github.com/upb/authaudit/repositories"
	"github.com/upb/authaudit/services"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint violation
const uniqueViolation = "23505"

const selectAuditRecord = `
		SELECT id, recorder_id, sequence, timestamp, event_kind, principal, message
		FROM auth_audit_records
	`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

var _ repositories.AuditRepository = (*AuditRepository)(nil)

// Append inserts a new audit record
func (r *AuditRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	query := `
		INSERT INTO auth_audit_records (
			id, recorder_id, sequence, timestamp, event_kind, principal, message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.RecorderID,
		record.Sequence,
		record.Timestamp,
		record.EventKind,
		record.Principal,
		record.Message,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return services.WrapError(services.ErrorTypeConflict,
				fmt.Sprintf("audit sequence %d already stored for recorder %s", record.Sequence, record.RecorderID), err)
		}
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	r.logger.Debug("audit record inserted",
		zap.String("id", record.ID.String()),
		zap.Int64("sequence", record.Sequence))
	return nil
}

// GetByID retrieves an audit record by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	query := selectAuditRecord + `WHERE id = $1`

	record := &models.AuditRecord{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.RecorderID,
		&record.Sequence,
		&record.Timestamp,
		&record.EventKind,
		&record.Principal,
		&record.Message,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound,
				fmt.Sprintf("audit record not found: %s", id), nil)
		}
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}

	return record, nil
}

// List retrieves audit records in recorder and sequence order
func (r *AuditRepository) List(ctx context.Context, q repositories.RecordQuery) ([]*models.AuditRecord, error) {
	q = q.Normalize()

	if q.Principal != "" {
		query := selectAuditRecord + `
		WHERE principal = $1
		ORDER BY recorder_id, sequence
		LIMIT $2 OFFSET $3
	`
		return r.queryAuditRecords(ctx, query, q.Principal, q.Limit, q.Offset)
	}

	query := selectAuditRecord + `
		ORDER BY recorder_id, sequence
		LIMIT $1 OFFSET $2
	`
	return r.queryAuditRecords(ctx, query, q.Limit, q.Offset)
}

// Ping checks the database connection
func (r *AuditRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// queryAuditRecords is a helper method to query multiple audit records
func (r *AuditRepository) queryAuditRecords(ctx context.Context, query string, args ...interface{}) ([]*models.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := []*models.AuditRecord{}
	for rows.Next() {
		record := &models.AuditRecord{}
		err := rows.Scan(
			&record.ID,
			&record.RecorderID,
			&record.Sequence,
			&record.Timestamp,
			&record.EventKind,
			&record.Principal,
			&record.Message,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit record rows: %w", err)
	}

	return records, nil
}
