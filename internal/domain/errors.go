package domain

import (
	"errors"
	"fmt"
)

// ErrVersionNotFound signals a lookup of a (reportId, versionNumber)
// pair that does not exist.
var ErrVersionNotFound = errors.New("valuation version not found")

// ErrReportNotFound signals a report with no versions at all.
var ErrReportNotFound = errors.New("report not found")

// SyncError wraps a failed remote persistence call. Local state remains
// valid when one of these is returned.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
