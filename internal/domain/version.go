package domain

import (
	"time"

	"github.com/google/uuid"
)

// AnonymousUser marks versions created without an authenticated user.
const AnonymousUser = "anonymous"

// ValuationVersion is an immutable snapshot of valuation input and result
// at a point in time. Metadata updates go through the With* constructors,
// which build a replacement value; existing values are never mutated.
type ValuationVersion struct {
	ID             uuid.UUID        `json:"id"`
	ReportID       string           `json:"reportId"`
	VersionNumber  int              `json:"versionNumber"`
	Label          string           `json:"label"`
	Notes          string           `json:"notes,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	CreatedBy      string           `json:"createdBy"`
	InputSnapshot  ValuationInputs  `json:"inputSnapshot"`
	ResultSnapshot *ValuationResult `json:"resultSnapshot,omitempty"`
	ChangesSummary VersionChanges   `json:"changesSummary"`
	IsPinned       bool             `json:"isPinned"`
	Tags           []string         `json:"tags,omitempty"`
}

// CreateVersionRequest carries the caller-supplied parts of a new version.
type CreateVersionRequest struct {
	ReportID       string           `json:"reportId"`
	InputSnapshot  ValuationInputs  `json:"inputSnapshot"`
	ResultSnapshot *ValuationResult `json:"resultSnapshot,omitempty"`
	Label          string           `json:"label,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
	CreatedBy      string           `json:"createdBy,omitempty"`
	IdempotencyKey string           `json:"-"`
}

// VersionMetadataPatch is a partial update of user-settable version metadata.
// Nil fields are left unchanged.
type VersionMetadataPatch struct {
	Label    *string  `json:"label,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
	IsPinned *bool    `json:"isPinned,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// VersionListResponse is the wire shape returned to version list consumers.
type VersionListResponse struct {
	ReportID      string             `json:"reportId"`
	Versions      []ValuationVersion `json:"versions"`
	TotalVersions int                `json:"totalVersions"`
	ActiveVersion int                `json:"activeVersion"`
	HasMore       bool               `json:"hasMore"`
	NextCursor    *string            `json:"nextCursor,omitempty"`
}

// NewValuationVersion builds an immutable version snapshot. The label falls
// back to an auto-generated one when the request does not supply it, and
// the creator falls back to the anonymous marker.
func NewValuationVersion(req CreateVersionRequest, versionNumber int, changes VersionChanges, createdAt time.Time) ValuationVersion {
	label := req.Label
	if label == "" {
		label = GenerateAutoLabel(versionNumber, changes)
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = AnonymousUser
	}
	return ValuationVersion{
		ID:             uuid.New(),
		ReportID:       req.ReportID,
		VersionNumber:  versionNumber,
		Label:          label,
		Notes:          req.Notes,
		CreatedAt:      createdAt,
		CreatedBy:      createdBy,
		InputSnapshot:  req.InputSnapshot.Clone(),
		ResultSnapshot: req.ResultSnapshot.Clone(),
		ChangesSummary: changes.Clone(),
		Tags:           copyStrings(req.Tags),
	}
}

// WithMetadata returns a new version with the patch applied. The id,
// numbering, snapshots and timestamps are carried over untouched.
func (v ValuationVersion) WithMetadata(patch VersionMetadataPatch) ValuationVersion {
	next := v.cloned()
	if patch.Label != nil {
		next.Label = *patch.Label
	}
	if patch.Notes != nil {
		next.Notes = *patch.Notes
	}
	if patch.IsPinned != nil {
		next.IsPinned = *patch.IsPinned
	}
	if patch.Tags != nil {
		next.Tags = copyStrings(patch.Tags)
	}
	return next
}

// WithResult returns a new version carrying the completed calculation result.
func (v ValuationVersion) WithResult(result *ValuationResult) ValuationVersion {
	next := v.cloned()
	next.ResultSnapshot = result.Clone()
	return next
}

func (v ValuationVersion) cloned() ValuationVersion {
	next := v
	next.InputSnapshot = v.InputSnapshot.Clone()
	next.ResultSnapshot = v.ResultSnapshot.Clone()
	next.ChangesSummary = v.ChangesSummary.Clone()
	next.Tags = copyStrings(v.Tags)
	return next
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
