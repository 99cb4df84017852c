// Package syncer reconciles an optimistic local valuation session with
// the remote store: it tracks save status, coalesces concurrent saves
// and surfaces background-sync state to callers.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/UpswitchEU/valuation-history/internal/audit"
	"github.com/UpswitchEU/valuation-history/internal/domain"
	"github.com/UpswitchEU/valuation-history/internal/idempotency"
	"github.com/UpswitchEU/valuation-history/internal/version"
)

// Status is the session's background persistence state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// State is the read-only sync surface consumed by presentation layers.
type State struct {
	Status    Status     `json:"status"`
	LastSaved *time.Time `json:"lastSaved,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Coordinator drives one session's edits through validation, diffing,
// versioning and auditing. Only one save is logically in flight at a
// time; a save requested while syncing queues at most one follow-up run.
type Coordinator struct {
	reportID  string
	sessionID string
	userID    string

	versions *version.Store
	keys     *idempotency.Manager
	trail    *audit.Trail
	now      func() time.Time

	mu          sync.Mutex
	status      Status
	lastSaved   time.Time
	lastErr     error
	dirty       bool
	editGen     uint64
	pendingSave bool
	inputs      domain.ValuationInputs
	result      *domain.ValuationResult
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithSessionID tags audit entries with the session identifier.
func WithSessionID(sessionID string) Option {
	return func(c *Coordinator) { c.sessionID = sessionID }
}

// WithUserID attributes versions and audit entries to a user.
func WithUserID(userID string) Option {
	return func(c *Coordinator) { c.userID = userID }
}

// WithClock injects a time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a coordinator for one report's session.
func New(reportID string, versions *version.Store, keys *idempotency.Manager, trail *audit.Trail, opts ...Option) *Coordinator {
	c := &Coordinator{
		reportID: reportID,
		versions: versions,
		keys:     keys,
		trail:    trail,
		now:      time.Now,
		status:   StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load pulls the report's versions from the remote store and seeds the
// session from the active version.
func (c *Coordinator) Load(ctx context.Context) error {
	start := c.now()
	_, err := c.versions.Refresh(ctx, c.reportID)
	if err != nil {
		c.logOutcome(domain.OperationLoad, false, start, "", err.Error(), nil)
		return err
	}

	c.mu.Lock()
	if active, ok := c.versions.Active(c.reportID); ok {
		c.inputs = active.InputSnapshot.Clone()
		c.result = active.ResultSnapshot.Clone()
		c.dirty = false
	}
	c.mu.Unlock()

	c.logOutcome(domain.OperationLoad, true, start, "", "", nil)
	return nil
}

// ApplyEdit validates and applies a new input snapshot. An invalid
// snapshot is rejected before any diffing or versioning happens, so a
// broken version can never be persisted.
func (c *Coordinator) ApplyEdit(inputs domain.ValuationInputs) error {
	start := c.now()
	if err := domain.ValidateInputs(inputs, c.now()); err != nil {
		c.logOutcome(domain.OperationEdit, false, start, "", err.Error(), nil)
		return err
	}

	c.mu.Lock()
	c.inputs = inputs.Clone()
	c.dirty = true
	c.editGen++
	c.mu.Unlock()

	c.logOutcome(domain.OperationEdit, true, start, "", "", nil)
	return nil
}

// AttachResult records a completed calculation from the external engine.
func (c *Coordinator) AttachResult(result *domain.ValuationResult) {
	start := c.now()

	c.mu.Lock()
	c.result = result.Clone()
	c.dirty = true
	c.editGen++
	c.mu.Unlock()

	c.logOutcome(domain.OperationRegenerate, true, start, "", "", nil)
}

// SwitchView changes the active version the session is looking at.
func (c *Coordinator) SwitchView(versionNumber int) error {
	start := c.now()
	err := c.versions.SetActive(c.reportID, versionNumber)
	meta := map[string]any{"versionNumber": versionNumber}
	if err != nil {
		c.logOutcome(domain.OperationSwitchView, false, start, "", err.Error(), meta)
		return err
	}
	c.logOutcome(domain.OperationSwitchView, true, start, "", "", meta)
	return nil
}

// Restore loads an older version's input snapshot back into the session
// as unsaved working state. Saving afterwards materializes it as a new
// version; history itself is never rewritten.
func (c *Coordinator) Restore(versionNumber int) error {
	start := c.now()
	restored, err := c.versions.Get(c.reportID, versionNumber)
	meta := map[string]any{"versionNumber": versionNumber}
	if err != nil {
		c.logOutcome(domain.OperationRestore, false, start, "", err.Error(), meta)
		return err
	}

	c.mu.Lock()
	c.inputs = restored.InputSnapshot.Clone()
	c.result = restored.ResultSnapshot.Clone()
	c.dirty = true
	c.editGen++
	c.mu.Unlock()

	c.logOutcome(domain.OperationRestore, true, start, "", "", meta)
	return nil
}

// Save pushes unsaved session state to the remote store. A save issued
// while one is in flight is coalesced into a single follow-up run, and
// an edit that lands mid-flight keeps the session dirty until a run has
// persisted it. There is no automatic retry: a failed save stays failed
// until a caller decides to Save again.
func (c *Coordinator) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusSyncing {
		c.pendingSave = true
		c.mu.Unlock()
		return nil
	}
	c.status = StatusSyncing
	c.mu.Unlock()

	gen, err := c.runSave(ctx)
	for {
		c.mu.Lock()
		if err != nil {
			c.status = StatusFailed
			c.lastErr = err
		} else {
			c.status = StatusSynced
			c.lastSaved = c.now()
			c.lastErr = nil
			if gen == c.editGen {
				c.dirty = false
			} else {
				// The snapshot this run persisted predates an edit;
				// run again rather than report it saved.
				c.pendingSave = true
			}
		}
		if !c.pendingSave {
			c.mu.Unlock()
			return err
		}
		c.pendingSave = false
		c.status = StatusSyncing
		c.mu.Unlock()
		gen, err = c.runSave(ctx)
	}
}

// runSave returns the edit generation its snapshot was taken at, so the
// caller can tell whether the session moved on while it ran.
func (c *Coordinator) runSave(ctx context.Context) (uint64, error) {
	key := c.keys.GetOrCreate(c.reportID, string(domain.OperationSync))
	start := c.now()

	c.mu.Lock()
	inputs := c.inputs.Clone()
	result := c.result.Clone()
	dirty := c.dirty
	gen := c.editGen
	c.mu.Unlock()

	if !dirty {
		c.logOutcome(domain.OperationSync, true, start, key, "", map[string]any{"versionCreated": false})
		c.keys.Clear(c.reportID, string(domain.OperationSync))
		return gen, nil
	}

	needVersion := true
	if active, ok := c.versions.Active(c.reportID); ok {
		changes := domain.DiffAt(active.InputSnapshot, inputs, c.now())
		needVersion = changes.AreSignificant()
	}

	if needVersion {
		created, err := c.versions.Create(ctx, domain.CreateVersionRequest{
			ReportID:       c.reportID,
			InputSnapshot:  inputs,
			ResultSnapshot: result,
			CreatedBy:      c.userID,
			IdempotencyKey: key,
		})
		if err != nil {
			c.logOutcome(domain.OperationSync, false, start, key, err.Error(), map[string]any{"versionCreated": false})
			return gen, err
		}
		c.logOutcome(domain.OperationVersionCreate, true, start, key, "", map[string]any{
			"versionNumber": created.VersionNumber,
			"label":         created.Label,
		})
	}

	c.logOutcome(domain.OperationSync, true, start, key, "", map[string]any{"versionCreated": needVersion})
	c.keys.Clear(c.reportID, string(domain.OperationSync))
	return gen, nil
}

// Status reports the current sync status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastSaved reports when the last successful save completed.
func (c *Coordinator) LastSaved() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSaved, !c.lastSaved.IsZero()
}

// Err returns the retained failure from the last save, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// HasUnsavedChanges reports whether local state is ahead of the remote store.
func (c *Coordinator) HasUnsavedChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Inputs returns a copy of the session's current input snapshot.
func (c *Coordinator) Inputs() domain.ValuationInputs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs.Clone()
}

// SyncState assembles the read-only status surface.
func (c *Coordinator) SyncState() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := State{Status: c.status}
	if !c.lastSaved.IsZero() {
		saved := c.lastSaved
		state.LastSaved = &saved
	}
	if c.lastErr != nil {
		state.Error = c.lastErr.Error()
	}
	return state
}

func (c *Coordinator) logOutcome(op domain.AuditOperation, success bool, start time.Time, correlationID, errMsg string, metadata map[string]any) {
	c.trail.Log(domain.AuditRecord{
		Operation:     op,
		ReportID:      c.reportID,
		Success:       success,
		DurationMs:    float64(c.now().Sub(start)) / float64(time.Millisecond),
		CorrelationID: correlationID,
		Error:         errMsg,
		SessionID:     c.sessionID,
		UserID:        c.userID,
		Metadata:      metadata,
	})
}
