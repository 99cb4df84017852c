package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditOperation is the closed set of mutating session operations.
type AuditOperation string

const (
	OperationCreate        AuditOperation = "CREATE"
	OperationLoad          AuditOperation = "LOAD"
	OperationUpdate        AuditOperation = "UPDATE"
	OperationSwitchView    AuditOperation = "SWITCH_VIEW"
	OperationRestore       AuditOperation = "RESTORE"
	OperationDelete        AuditOperation = "DELETE"
	OperationSync          AuditOperation = "SYNC"
	OperationRegenerate    AuditOperation = "REGENERATE"
	OperationEdit          AuditOperation = "EDIT"
	OperationVersionCreate AuditOperation = "VERSION_CREATE"
)

// AuditRecord is the caller-supplied part of an audit entry; id and
// timestamp are assigned at log time.
type AuditRecord struct {
	Operation     AuditOperation
	ReportID      string
	Success       bool
	DurationMs    float64
	CorrelationID string
	Error         string
	SessionID     string
	UserID        string
	Metadata      map[string]any
}

// AuditEntry is one immutable record of an operation attempt. Metadata is
// value-frozen when the entry is appended; consumers receive copies.
type AuditEntry struct {
	ID            uuid.UUID      `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Operation     AuditOperation `json:"operation"`
	ReportID      string         `json:"reportId"`
	Success       bool           `json:"success"`
	DurationMs    float64        `json:"durationMs"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Error         string         `json:"error,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	UserID        string         `json:"userId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy whose metadata shares nothing with the original.
func (e AuditEntry) Clone() AuditEntry {
	out := e
	out.Metadata = CopyMetadata(e.Metadata)
	return out
}

// CopyMetadata deep-copies a metadata mapping, descending into nested
// maps and slices so no mutable reference escapes into history.
func CopyMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = copyMetadataValue(value)
	}
	return out
}

func copyMetadataValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CopyMetadata(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = copyMetadataValue(item)
		}
		return out
	default:
		return typed
	}
}
