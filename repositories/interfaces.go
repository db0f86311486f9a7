package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/authaudit/models"
)

// DefaultListLimit is applied when a RecordQuery leaves Limit unset
const DefaultListLimit = 100

// MaxListLimit caps a single page of records
const MaxListLimit = 1000

// RecordQuery filters and pages audit records. Within one recorder, results
// are in ascending sequence order.
type RecordQuery struct {
	Principal string // exact match when set
	Limit     int
	Offset    int
}

// Normalize applies the default and maximum page size
func (q RecordQuery) Normalize() RecordQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// AuditRepository handles audit record persistence
type AuditRepository interface {
	// Append stores a record. Records are never updated or deleted.
	Append(ctx context.Context, record *models.AuditRecord) error

	// GetByID retrieves a record by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error)

	// List retrieves records matching the query
	List(ctx context.Context, query RecordQuery) ([]*models.AuditRecord, error)

	// Ping checks that the backing store is reachable
	Ping(ctx context.Context) error
}
