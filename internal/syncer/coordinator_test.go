package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UpswitchEU/valuation-history/internal/audit"
	"github.com/UpswitchEU/valuation-history/internal/domain"
	"github.com/UpswitchEU/valuation-history/internal/idempotency"
	"github.com/UpswitchEU/valuation-history/internal/version"
)

type fakeRepo struct {
	mu      sync.Mutex
	fail    bool
	creates []string // idempotency keys, in call order
	listed  []domain.ValuationVersion

	// When set, Create signals started and then waits for release.
	started chan struct{}
	release chan struct{}
}

func (r *fakeRepo) Create(ctx context.Context, v domain.ValuationVersion, idempotencyKey string) (domain.ValuationVersion, error) {
	if r.started != nil {
		r.started <- struct{}{}
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return domain.ValuationVersion{}, errors.New("remote store unavailable")
	}
	r.creates = append(r.creates, idempotencyKey)
	return v, nil
}

func (r *fakeRepo) Update(ctx context.Context, v domain.ValuationVersion) error { return nil }

func (r *fakeRepo) List(ctx context.Context, reportID string) ([]domain.ValuationVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("remote store unavailable")
	}
	return r.listed, nil
}

func (r *fakeRepo) createCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creates)
}

func validInputs() domain.ValuationInputs {
	return domain.ValuationInputs{
		Revenue:        2_000_000,
		EBITDA:         400_000,
		TotalAssets:    1_500_000,
		TotalDebt:      300_000,
		Cash:           150_000,
		CompanyName:    "Acme Trading BV",
		FoundingYear:   2010,
		EmployeeCount:  12,
		OwnerCount:     2,
		BusinessTypeID: "wholesale",
		CountryCode:    "BE",
	}
}

func newTestCoordinator(repo *fakeRepo) (*Coordinator, *audit.Trail, *version.Store) {
	store := version.NewStore(repo)
	keys := idempotency.NewManager()
	trail := audit.NewTrail()
	coord := New("rep-1", store, keys, trail, WithSessionID("sess-1"), WithUserID("user-1"))
	return coord, trail, store
}

func TestApplyEditRejectsInvalidInputs(t *testing.T) {
	coord, trail, _ := newTestCoordinator(&fakeRepo{})

	bad := validInputs()
	bad.EBITDA = bad.Revenue * 2

	err := coord.ApplyEdit(bad)
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "ebitda")

	assert.False(t, coord.HasUnsavedChanges(), "a rejected edit leaves the session clean")

	edits := trail.ByOperation(domain.OperationEdit)
	require.Len(t, edits, 1)
	assert.False(t, edits[0].Success)
}

func TestApplyEditMarksDirty(t *testing.T) {
	coord, trail, _ := newTestCoordinator(&fakeRepo{})

	require.NoError(t, coord.ApplyEdit(validInputs()))

	assert.True(t, coord.HasUnsavedChanges())
	assert.Equal(t, validInputs(), coord.Inputs())

	edits := trail.ByOperation(domain.OperationEdit)
	require.Len(t, edits, 1)
	assert.True(t, edits[0].Success)
	assert.Equal(t, "sess-1", edits[0].SessionID)
}

func TestSaveCreatesFirstVersion(t *testing.T) {
	repo := &fakeRepo{}
	coord, trail, store := newTestCoordinator(repo)

	require.NoError(t, coord.ApplyEdit(validInputs()))
	require.NoError(t, coord.Save(context.Background()))

	assert.Equal(t, StatusSynced, coord.Status())
	assert.False(t, coord.HasUnsavedChanges())
	_, saved := coord.LastSaved()
	assert.True(t, saved)

	created, err := store.Get("rep-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "user-1", created.CreatedBy)

	require.Equal(t, 1, repo.createCount())
	assert.NotEmpty(t, repo.creates[0], "the create carries an idempotency key")

	require.Len(t, trail.ByOperation(domain.OperationVersionCreate), 1)
	syncs := trail.ByOperation(domain.OperationSync)
	require.Len(t, syncs, 1)
	assert.Equal(t, true, syncs[0].Metadata["versionCreated"])
}

func TestSaveFailureRetainsErrorUntilRetry(t *testing.T) {
	repo := &fakeRepo{fail: true}
	coord, trail, store := newTestCoordinator(repo)

	require.NoError(t, coord.ApplyEdit(validInputs()))

	err := coord.Save(context.Background())
	var syncErr *domain.SyncError
	require.ErrorAs(t, err, &syncErr)

	assert.Equal(t, StatusFailed, coord.Status())
	assert.Error(t, coord.Err())
	assert.True(t, coord.HasUnsavedChanges(), "failed saves keep the session dirty")
	assert.Empty(t, store.List("rep-1", version.NewestFirst))

	failures := trail.FailuresOnly()
	require.NotEmpty(t, failures)
	assert.Equal(t, domain.OperationSync, failures[len(failures)-1].Operation)

	repo.mu.Lock()
	repo.fail = false
	repo.mu.Unlock()

	require.NoError(t, coord.Save(context.Background()))
	assert.Equal(t, StatusSynced, coord.Status())
	assert.NoError(t, coord.Err())
	assert.False(t, coord.HasUnsavedChanges())
}

func TestSaveSkipsVersionForInsignificantDelta(t *testing.T) {
	repo := &fakeRepo{}
	coord, trail, store := newTestCoordinator(repo)

	require.NoError(t, coord.ApplyEdit(validInputs()))
	require.NoError(t, coord.Save(context.Background()))

	tweaked := validInputs()
	tweaked.TotalAssets *= 1.02
	require.NoError(t, coord.ApplyEdit(tweaked))
	require.NoError(t, coord.Save(context.Background()))

	assert.Equal(t, StatusSynced, coord.Status())
	assert.False(t, coord.HasUnsavedChanges())
	assert.Len(t, store.List("rep-1", version.NewestFirst), 1, "a minor tweak does not mint a version")

	syncs := trail.ByOperation(domain.OperationSync)
	require.Len(t, syncs, 2)
	assert.Equal(t, false, syncs[1].Metadata["versionCreated"])
}

func TestSaveWithoutChangesIsANoOp(t *testing.T) {
	repo := &fakeRepo{}
	coord, _, store := newTestCoordinator(repo)

	require.NoError(t, coord.Save(context.Background()))

	assert.Equal(t, StatusSynced, coord.Status())
	assert.Empty(t, store.List("rep-1", version.NewestFirst))
	assert.Zero(t, repo.createCount())
}

func TestSaveCoalescesConcurrentRequests(t *testing.T) {
	repo := &fakeRepo{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	coord, trail, _ := newTestCoordinator(repo)

	require.NoError(t, coord.ApplyEdit(validInputs()))

	done := make(chan error, 1)
	go func() { done <- coord.Save(context.Background()) }()

	<-repo.started
	assert.Equal(t, StatusSyncing, coord.Status())

	// Issued mid-flight, this save queues instead of running concurrently.
	require.NoError(t, coord.Save(context.Background()))

	close(repo.release)
	require.NoError(t, <-done)

	assert.Equal(t, StatusSynced, coord.Status())
	assert.Equal(t, 1, repo.createCount(), "the queued save found nothing new to persist")
	assert.Len(t, trail.ByOperation(domain.OperationSync), 2)
}

func TestEditDuringSaveIsNotLost(t *testing.T) {
	repo := &fakeRepo{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	coord, _, store := newTestCoordinator(repo)

	require.NoError(t, coord.ApplyEdit(validInputs()))

	done := make(chan error, 1)
	go func() { done <- coord.Save(context.Background()) }()

	<-repo.started

	// This edit lands while the first snapshot is being persisted.
	grown := validInputs()
	grown.Revenue = 3_000_000
	require.NoError(t, coord.ApplyEdit(grown))

	close(repo.release)
	require.NoError(t, <-done)

	assert.False(t, coord.HasUnsavedChanges(), "the follow-up run persisted the edit")
	versions := store.List("rep-1", version.OldestFirst)
	require.Len(t, versions, 2)
	assert.Equal(t, validInputs().Revenue, versions[0].InputSnapshot.Revenue)
	assert.Equal(t, grown.Revenue, versions[1].InputSnapshot.Revenue, "the mid-flight edit reached the store")
}

func TestAttachResultIsSavedWithTheVersion(t *testing.T) {
	repo := &fakeRepo{}
	coord, trail, store := newTestCoordinator(repo)

	require.NoError(t, coord.ApplyEdit(validInputs()))
	coord.AttachResult(&domain.ValuationResult{
		ValuationLow:  1_200_000,
		ValuationMid:  1_500_000,
		ValuationHigh: 1_900_000,
		Methodology:   "ebitda-multiple",
	})
	require.NoError(t, coord.Save(context.Background()))

	created, err := store.Get("rep-1", 1)
	require.NoError(t, err)
	require.NotNil(t, created.ResultSnapshot)
	assert.Equal(t, 1_500_000.0, created.ResultSnapshot.ValuationMid)

	require.Len(t, trail.ByOperation(domain.OperationRegenerate), 1)
}

func TestSwitchViewAndRestore(t *testing.T) {
	repo := &fakeRepo{}
	coord, trail, store := newTestCoordinator(repo)

	require.NoError(t, coord.ApplyEdit(validInputs()))
	require.NoError(t, coord.Save(context.Background()))

	grown := validInputs()
	grown.Revenue = 3_000_000
	require.NoError(t, coord.ApplyEdit(grown))
	require.NoError(t, coord.Save(context.Background()))
	require.Len(t, store.List("rep-1", version.NewestFirst), 2)

	require.NoError(t, coord.SwitchView(1))
	active, ok := store.Active("rep-1")
	require.True(t, ok)
	assert.Equal(t, 1, active.VersionNumber)

	assert.ErrorIs(t, coord.SwitchView(99), domain.ErrVersionNotFound)

	require.NoError(t, coord.Restore(1))
	assert.True(t, coord.HasUnsavedChanges(), "a restore is unsaved working state")
	assert.Equal(t, validInputs(), coord.Inputs())

	require.Len(t, trail.ByOperation(domain.OperationSwitchView), 2)
	require.Len(t, trail.ByOperation(domain.OperationRestore), 1)
}

func TestRestoreDoesNotRewriteHistory(t *testing.T) {
	repo := &fakeRepo{}
	coord, _, store := newTestCoordinator(repo)

	require.NoError(t, coord.ApplyEdit(validInputs()))
	require.NoError(t, coord.Save(context.Background()))

	grown := validInputs()
	grown.Revenue = 3_000_000
	require.NoError(t, coord.ApplyEdit(grown))
	require.NoError(t, coord.Save(context.Background()))

	require.NoError(t, coord.Restore(1))
	require.NoError(t, coord.Save(context.Background()))

	versions := store.List("rep-1", version.OldestFirst)
	require.Len(t, versions, 3, "restoring then saving appends a version")
	assert.Equal(t, validInputs().Revenue, versions[2].InputSnapshot.Revenue)
	assert.Equal(t, grown.Revenue, versions[1].InputSnapshot.Revenue)
}

func TestLoadSeedsSessionFromActiveVersion(t *testing.T) {
	seeded := validInputs()
	repo := &fakeRepo{listed: []domain.ValuationVersion{{
		ID:            uuid.New(),
		ReportID:      "rep-1",
		VersionNumber: 1,
		Label:         "Version 1",
		CreatedAt:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		CreatedBy:     "user-1",
		InputSnapshot: seeded,
	}}}
	coord, trail, _ := newTestCoordinator(repo)

	require.NoError(t, coord.Load(context.Background()))

	assert.Equal(t, seeded, coord.Inputs())
	assert.False(t, coord.HasUnsavedChanges())

	loads := trail.ByOperation(domain.OperationLoad)
	require.Len(t, loads, 1)
	assert.True(t, loads[0].Success)
}

func TestLoadFailureIsAudited(t *testing.T) {
	repo := &fakeRepo{fail: true}
	coord, trail, _ := newTestCoordinator(repo)

	err := coord.Load(context.Background())
	var syncErr *domain.SyncError
	require.ErrorAs(t, err, &syncErr)

	loads := trail.ByOperation(domain.OperationLoad)
	require.Len(t, loads, 1)
	assert.False(t, loads[0].Success)
}

func TestSyncStateSurface(t *testing.T) {
	repo := &fakeRepo{}
	coord, _, _ := newTestCoordinator(repo)

	state := coord.SyncState()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.LastSaved)
	assert.Empty(t, state.Error)

	require.NoError(t, coord.ApplyEdit(validInputs()))
	require.NoError(t, coord.Save(context.Background()))

	state = coord.SyncState()
	assert.Equal(t, StatusSynced, state.Status)
	require.NotNil(t, state.LastSaved)
}
