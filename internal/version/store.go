// Package version owns the ordered collection of immutable version
// snapshots per report: numbering, deduplication of remote batches and
// active-version resolution.
package version

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UpswitchEU/valuation-history/internal/domain"
	"github.com/UpswitchEU/valuation-history/internal/repository"
)

// Order selects the display ordering of a version listing.
type Order int

const (
	// NewestFirst sorts by versionNumber descending (default display order).
	NewestFirst Order = iota
	// OldestFirst sorts chronologically, versionNumber ascending.
	OldestFirst
)

// Store keeps versions in an arena keyed by id with a secondary index by
// (reportID, versionNumber). A repository, when present, is the
// persistence collaborator: a failed persistence call leaves the arena
// untouched. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	repo     repository.VersionRepository
	versions map[uuid.UUID]domain.ValuationVersion
	byReport map[string]map[int]uuid.UUID
	byKey    map[string]uuid.UUID
	active   map[string]int
	now      func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects a time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a version store. A nil repository keeps the store
// memory-only, which is how tests and offline sessions run.
func NewStore(repo repository.VersionRepository, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		versions: make(map[uuid.UUID]domain.ValuationVersion),
		byReport: make(map[string]map[int]uuid.UUID),
		byKey:    make(map[string]uuid.UUID),
		active:   make(map[string]int),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create materializes a new immutable version. The number is one past
// the highest existing number for the report, the change summary is
// computed against the previous version (empty for version 1), and
// createdAt never moves backwards within a report. When the persistence
// call fails nothing is added to the store. A retried create carrying
// an idempotency key already seen returns the version the first attempt
// produced; no new number is minted.
func (s *Store) Create(ctx context.Context, req domain.CreateVersionRequest) (domain.ValuationVersion, error) {
	s.mu.Lock()
	if req.IdempotencyKey != "" {
		if id, ok := s.byKey[req.IdempotencyKey]; ok {
			if existing, live := s.versions[id]; live {
				s.mu.Unlock()
				return existing, nil
			}
		}
	}
	number := 1
	createdAt := s.now()
	changes := domain.VersionChanges{Fields: map[string]domain.FieldChange{}}
	if prev, ok := s.latestLocked(req.ReportID); ok {
		number = prev.VersionNumber + 1
		if createdAt.Before(prev.CreatedAt) {
			createdAt = prev.CreatedAt
		}
		changes = domain.DiffAt(prev.InputSnapshot, req.InputSnapshot, createdAt)
	}
	version := domain.NewValuationVersion(req, number, changes, createdAt)
	s.mu.Unlock()

	if s.repo != nil {
		stored, err := s.repo.Create(ctx, version, req.IdempotencyKey)
		if err != nil {
			return domain.ValuationVersion{}, &domain.SyncError{Op: "create version", Err: err}
		}
		// On a deduplicated insert the repository hands back the row
		// the first attempt stored; inserting it again is a no-op.
		version = stored
	}

	s.mu.Lock()
	s.insertLocked(version)
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = version.ID
	}
	s.mu.Unlock()
	return version, nil
}

// Get returns the version for the pair. A report with no versions at
// all yields ErrReportNotFound; a known report missing the number
// yields ErrVersionNotFound.
func (s *Store) Get(reportID string, versionNumber int) (domain.ValuationVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := s.byReport[reportID]
	if len(index) == 0 {
		return domain.ValuationVersion{}, domain.ErrReportNotFound
	}
	id, ok := index[versionNumber]
	if !ok {
		return domain.ValuationVersion{}, domain.ErrVersionNotFound
	}
	return s.versions[id], nil
}

// Update applies a metadata patch by building a replacement value. The
// previous value is discarded, not retained as history.
func (s *Store) Update(ctx context.Context, reportID string, versionNumber int, patch domain.VersionMetadataPatch) (domain.ValuationVersion, error) {
	s.mu.RLock()
	index := s.byReport[reportID]
	if len(index) == 0 {
		s.mu.RUnlock()
		return domain.ValuationVersion{}, domain.ErrReportNotFound
	}
	id, ok := index[versionNumber]
	if !ok {
		s.mu.RUnlock()
		return domain.ValuationVersion{}, domain.ErrVersionNotFound
	}
	updated := s.versions[id].WithMetadata(patch)
	s.mu.RUnlock()

	if s.repo != nil {
		if err := s.repo.Update(ctx, updated); err != nil {
			return domain.ValuationVersion{}, &domain.SyncError{Op: "update version", Err: err}
		}
	}

	s.mu.Lock()
	s.versions[id] = updated
	s.mu.Unlock()
	return updated, nil
}

// SetActive marks the version the session is viewing.
func (s *Store) SetActive(reportID string, versionNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.byReport[reportID]
	if len(index) == 0 {
		return domain.ErrReportNotFound
	}
	if _, ok := index[versionNumber]; !ok {
		return domain.ErrVersionNotFound
	}
	s.active[reportID] = versionNumber
	return nil
}

// Active resolves the active version: the explicitly chosen one, or the
// highest-numbered version when none was chosen.
func (s *Store) Active(reportID string) (domain.ValuationVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if number, ok := s.active[reportID]; ok {
		if id, exists := s.byReport[reportID][number]; exists {
			return s.versions[id], true
		}
	}
	return s.latestLocked(reportID)
}

// List returns the report's versions in the requested display order.
func (s *Store) List(reportID string, order Order) []domain.ValuationVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(reportID, order)
}

// ListResponse assembles the wire response for version list consumers.
func (s *Store) ListResponse(reportID string, order Order) domain.VersionListResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.listLocked(reportID, order)
	response := domain.VersionListResponse{
		ReportID:      reportID,
		Versions:      versions,
		TotalVersions: len(versions),
	}
	if number, ok := s.active[reportID]; ok {
		response.ActiveVersion = number
	} else if latest, ok := s.latestLocked(reportID); ok {
		response.ActiveVersion = latest.VersionNumber
	}
	return response
}

// Refresh pulls the report's versions from the repository and replaces
// the locally held set after deduplication.
func (s *Store) Refresh(ctx context.Context, reportID string) ([]domain.ValuationVersion, error) {
	if s.repo == nil {
		return s.List(reportID, NewestFirst), nil
	}

	fetched, err := s.repo.List(ctx, reportID)
	if err != nil {
		return nil, &domain.SyncError{Op: "fetch versions", Err: err}
	}
	return s.ReplaceFromRemote(reportID, fetched), nil
}

// ReplaceFromRemote replaces the report's version set with a remote
// batch, deduplicated in two passes: first exact duplicate ids (first
// occurrence wins), then per versionNumber keeping the entry with the
// latest createdAt. Unique ids alone are not enough: the same logical
// version can arrive from different fetches under different ids when
// upstream retried the create.
func (s *Store) ReplaceFromRemote(reportID string, incoming []domain.ValuationVersion) []domain.ValuationVersion {
	deduped := dedupeVersions(incoming)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byReport[reportID] {
		delete(s.versions, id)
	}
	s.byReport[reportID] = make(map[int]uuid.UUID, len(deduped))
	for _, version := range deduped {
		s.insertLocked(version)
	}
	if number, ok := s.active[reportID]; ok {
		if _, exists := s.byReport[reportID][number]; !exists {
			delete(s.active, reportID)
		}
	}

	return s.listLocked(reportID, NewestFirst)
}

func dedupeVersions(incoming []domain.ValuationVersion) []domain.ValuationVersion {
	seenIDs := make(map[uuid.UUID]struct{}, len(incoming))
	uniqueByID := make([]domain.ValuationVersion, 0, len(incoming))
	for _, version := range incoming {
		if _, dup := seenIDs[version.ID]; dup {
			continue
		}
		seenIDs[version.ID] = struct{}{}
		uniqueByID = append(uniqueByID, version)
	}

	// Ties on createdAt, including both missing, keep the earliest-encountered entry.
	winners := make(map[int]domain.ValuationVersion, len(uniqueByID))
	numbers := []int{}
	for _, version := range uniqueByID {
		current, ok := winners[version.VersionNumber]
		if !ok {
			winners[version.VersionNumber] = version
			numbers = append(numbers, version.VersionNumber)
			continue
		}
		if version.CreatedAt.After(current.CreatedAt) {
			winners[version.VersionNumber] = version
		}
	}

	sort.Ints(numbers)
	out := make([]domain.ValuationVersion, 0, len(numbers))
	for _, number := range numbers {
		out = append(out, winners[number])
	}
	return out
}

func (s *Store) insertLocked(version domain.ValuationVersion) {
	s.versions[version.ID] = version
	index, ok := s.byReport[version.ReportID]
	if !ok {
		index = make(map[int]uuid.UUID)
		s.byReport[version.ReportID] = index
	}
	index[version.VersionNumber] = version.ID
}

func (s *Store) latestLocked(reportID string) (domain.ValuationVersion, bool) {
	best := -1
	for number := range s.byReport[reportID] {
		if number > best {
			best = number
		}
	}
	if best < 0 {
		return domain.ValuationVersion{}, false
	}
	return s.versions[s.byReport[reportID][best]], true
}

func (s *Store) listLocked(reportID string, order Order) []domain.ValuationVersion {
	index := s.byReport[reportID]
	out := make([]domain.ValuationVersion, 0, len(index))
	for _, id := range index {
		out = append(out, s.versions[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if order == OldestFirst {
			return out[i].VersionNumber < out[j].VersionNumber
		}
		return out[i].VersionNumber > out[j].VersionNumber
	})
	return out
}
