// Package memory provides in-process implementations of the vote and
// statistics stores. They back the default configuration and the tests of
// every layer above storage.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

var (
	_ ports.VoteStore  = (*VoteStore)(nil)
	_ ports.StatsStore = (*StatsStore)(nil)
)

// VoteStore is an append-only, mutex-guarded event log.
type VoteStore struct {
	mu     sync.RWMutex
	events []domain.VoteEvent
	now    func() time.Time
}

// NewVoteStore creates an empty vote store.
func NewVoteStore() *VoteStore {
	return &VoteStore{now: time.Now}
}

// Append stores ev with a fresh id and the current UTC time.
func (s *VoteStore) Append(ctx context.Context, ev domain.VoteEvent) (domain.VoteID, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewStoreError(domain.ErrConnectionUnavailable, "append", err)
	}
	if ev.PromptFingerprint == "" {
		ev.PromptFingerprint = domain.Fingerprint(ev.Prompt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = domain.VoteID(uuid.NewString())
	ev.Timestamp = s.now().UTC()
	s.events = append(s.events, ev)
	return ev.ID, nil
}

// Count returns the number of stored events.
func (s *VoteStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

// Scan visits events in insertion order, which is timestamp order.
func (s *VoteStore) Scan(ctx context.Context, fn func(domain.VoteEvent) error) error {
	s.mu.RLock()
	snapshot := slices.Clone(s.events)
	s.mu.RUnlock()

	for _, ev := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

// FindByFingerprint returns up to limit events with the fingerprint, oldest
// first. A non-positive limit returns all of them.
func (s *VoteStore) FindByFingerprint(_ context.Context, fingerprint string, limit int) ([]domain.VoteEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.VoteEvent
	for _, ev := range s.events {
		if ev.PromptFingerprint != fingerprint {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Recent returns up to limit events, newest first.
func (s *VoteStore) Recent(_ context.Context, limit int) ([]domain.VoteEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.VoteEvent, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// Ping always succeeds.
func (s *VoteStore) Ping(context.Context) error { return nil }

// StatsStore keeps per-model records behind a single lock, so a vote's two
// increments land together.
type StatsStore struct {
	mu      sync.RWMutex
	records map[string]*domain.ModelStatRecord
	// missing counts records that were stored without a model key at all.
	// Only Seed can create them; they exist to mirror what document stores
	// can hold.
	missing int64
}

// NewStatsStore creates an empty stats store.
func NewStatsStore() *StatsStore {
	return &StatsStore{records: make(map[string]*domain.ModelStatRecord)}
}

// Increment upserts and increments every delta under one lock.
func (s *StatsStore) Increment(ctx context.Context, deltas ...domain.StatDelta) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStatsError("", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		rec, ok := s.records[d.Model]
		if !ok {
			rec = &domain.ModelStatRecord{Model: d.Model}
			s.records[d.Model] = rec
		}
		rec.Add(d)
	}
	return nil
}

// AtomicPairs is true: all deltas of one call are applied under one lock.
func (s *StatsStore) AtomicPairs() bool { return true }

// All returns every record sorted by model, including an empty-key record.
func (s *StatsStore) All(context.Context) ([]domain.ModelStatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ModelStatRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b domain.ModelStatRecord) int {
		switch {
		case a.Model < b.Model:
			return -1
		case a.Model > b.Model:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

// Replace swaps the whole record set.
func (s *StatsStore) Replace(_ context.Context, records []domain.ModelStatRecord) error {
	next := make(map[string]*domain.ModelStatRecord, len(records))
	for _, r := range records {
		r := r
		next[r.Model] = &r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = next
	s.missing = 0
	return nil
}

// RemoveInvalid deletes the empty-key record and any keyless records.
// A Go string cannot be null, so Null is always zero here.
func (s *StatsStore) RemoveInvalid(context.Context) (ports.CleanupCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts ports.CleanupCounts
	if _, ok := s.records[""]; ok {
		delete(s.records, "")
		counts.Empty = 1
	}
	counts.Missing = s.missing
	s.missing = 0
	return counts, nil
}

// Seed stores records verbatim, bypassing the increment path. It exists
// for tests and for importing legacy data; keyless adds a record with no
// model field at all.
func (s *StatsStore) Seed(records []domain.ModelStatRecord, keyless int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r := r
		s.records[r.Model] = &r
	}
	s.missing += int64(keyless)
}
