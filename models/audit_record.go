package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies an audit record
type EventKind string

const (
	// EventKindAuthFail is a failed login attempt
	EventKindAuthFail EventKind = "auth_fail"
)

// UnknownPrincipal replaces an empty principal so the event is still recorded
const UnknownPrincipal = "<unknown>"

// Valid reports whether the kind is one the recorder knows how to format
func (k EventKind) Valid() bool {
	switch k {
	case EventKindAuthFail:
		return true
	default:
		return false
	}
}

// AuditRecord is one immutable entry of the audit trail.
// Sequence and Timestamp are assigned by the recorder at acceptance.
type AuditRecord struct {
	ID         uuid.UUID `json:"id" db:"id"`
	RecorderID uuid.UUID `json:"recorder_id" db:"recorder_id"`
	Sequence   int64     `json:"sequence" db:"sequence"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	EventKind  EventKind `json:"event_kind" db:"event_kind"`
	Principal  string    `json:"principal" db:"principal"`
	Message    string    `json:"message" db:"message"`
}

// TableName returns the table name for the AuditRecord model
func (AuditRecord) TableName() string {
	return "auth_audit_records"
}

// StructuredRecord is the machine-readable form handed to structured sinks
type StructuredRecord struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	EventKind EventKind `json:"event_kind"`
	Principal string    `json:"principal"`
}

// Structured returns the {sequence, timestamp, eventKind, principal} form
func (r *AuditRecord) Structured() StructuredRecord {
	return StructuredRecord{
		Sequence:  r.Sequence,
		Timestamp: r.Timestamp,
		EventKind: r.EventKind,
		Principal: r.Principal,
	}
}

// Ack builds the acknowledgment returned to the caller once the sink accepted the record
func (r *AuditRecord) Ack() Ack {
	return Ack{
		RecordID:   r.ID,
		RecorderID: r.RecorderID,
		Sequence:   r.Sequence,
		Timestamp:  r.Timestamp,
	}
}

// Ack confirms a record was durably accepted by the sink
type Ack struct {
	RecordID   uuid.UUID `json:"record_id"`
	RecorderID uuid.UUID `json:"recorder_id"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}
