// Package idempotency tracks per-(subject, operation) deduplication keys
// so retried client requests collapse to a single server-side effect.
package idempotency

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultExpiry is how long a pending key stays valid before a new one
// is minted for the same pair.
const DefaultExpiry = 24 * time.Hour

type pairKey struct {
	subjectID string
	operation string
}

// Manager mints and tracks idempotency keys. Expiry is evaluated lazily
// on access; there are no background timers. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	keys   map[pairKey]string
	minted map[pairKey]int64
	expiry time.Duration
	now    func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithExpiry overrides the pending-key validity window.
func WithExpiry(expiry time.Duration) Option {
	return func(m *Manager) {
		if expiry > 0 {
			m.expiry = expiry
		}
	}
}

// WithClock injects a time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a key manager with the default 24 hour expiry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		keys:   make(map[pairKey]string),
		minted: make(map[pairKey]int64),
		expiry: DefaultExpiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the pending key for the pair, minting a new one
// when none exists or the existing key has expired. Two calls for the
// same pair before expiry return the identical string, so a transport
// layer attaching it as a header sees retries as the same operation.
func (m *Manager) GetOrCreate(subjectID, operation string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair := pairKey{subjectID: subjectID, operation: operation}
	if existing, ok := m.keys[pair]; ok && !m.expired(existing) {
		return existing
	}

	// Mint timestamps strictly increase per pair, so a key minted right
	// after Clear never repeats the cleared string.
	millis := m.now().UnixMilli()
	if last, ok := m.minted[pair]; ok && millis <= last {
		millis = last + 1
	}
	m.minted[pair] = millis

	key := fmt.Sprintf("%s-%s-%d", subjectID, operation, millis)
	m.keys[pair] = key
	return key
}

// Clear drops the pending key for the pair, forcing the next GetOrCreate
// to mint a fresh one.
func (m *Manager) Clear(subjectID, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, pairKey{subjectID: subjectID, operation: operation})
}

// ClearAll drops every tracked key.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = make(map[pairKey]string)
}

// CleanupExpired removes expired keys and reports how many were dropped.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for pair, key := range m.keys {
		if m.expired(key) {
			delete(m.keys, pair)
			removed++
		}
	}
	return removed
}

// Stats reports how many tracked keys are still pending and how many
// have expired but not yet been cleaned up.
func (m *Manager) Stats() (active, expired int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range m.keys {
		if m.expired(key) {
			expired++
		} else {
			active++
		}
	}
	return active, expired
}

func (m *Manager) expired(key string) bool {
	_, _, minted, err := ParseKey(key)
	if err != nil {
		return true
	}
	return m.now().Sub(minted) > m.expiry
}

// ParseKey splits a key back into its parts. The subject id may itself
// contain hyphens, so parsing works from the right: the last two
// segments are the operation and the mint timestamp.
func ParseKey(key string) (subjectID, operation string, minted time.Time, err error) {
	tsSep := strings.LastIndex(key, "-")
	if tsSep <= 0 {
		return "", "", time.Time{}, fmt.Errorf("malformed idempotency key %q", key)
	}
	opSep := strings.LastIndex(key[:tsSep], "-")
	if opSep <= 0 {
		return "", "", time.Time{}, fmt.Errorf("malformed idempotency key %q", key)
	}

	millis, parseErr := strconv.ParseInt(key[tsSep+1:], 10, 64)
	if parseErr != nil {
		return "", "", time.Time{}, fmt.Errorf("malformed idempotency key timestamp %q: %w", key, parseErr)
	}

	return key[:opSep], key[opSep+1 : tsSep], time.UnixMilli(millis), nil
}
