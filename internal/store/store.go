// Package store keeps a bounded, timestamped history of fetched
// descriptives in memory.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/strongaya/federated-data-portal/internal/vantage6"
)

// Snapshot is one fetch of collaboration descriptives.
type Snapshot struct {
	Timestamp     time.Time
	Organisations []vantage6.OrganisationDescriptives
}

// Store holds snapshots ordered by fetch time with bounded retention.
type Store struct {
	mu        sync.RWMutex
	retention int
	snapshots []Snapshot
}

// New creates a store that keeps at most retention snapshots.
func New(retention int) *Store {
	if retention <= 0 {
		retention = 1
	}
	return &Store{retention: retention}
}

// Add appends a snapshot, evicting the oldest when over retention. A zero
// timestamp is replaced with the current time.
func (s *Store) Add(snap Snapshot) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, snap)
	sort.Slice(s.snapshots, func(i, j int) bool {
		return s.snapshots[i].Timestamp.Before(s.snapshots[j].Timestamp)
	})
	if over := len(s.snapshots) - s.retention; over > 0 {
		s.snapshots = append([]Snapshot(nil), s.snapshots[over:]...)
	}
}

// Latest returns the most recent snapshot. The boolean is false when the
// store is empty.
func (s *Store) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return Snapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// At returns the snapshot taken at exactly ts.
func (s *Store) At(ts time.Time) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.snapshots {
		if snap.Timestamp.Equal(ts) {
			return snap, true
		}
	}
	return Snapshot{}, false
}

// Timestamps lists the fetch times of all retained snapshots, oldest first.
func (s *Store) Timestamps() []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]time.Time, len(s.snapshots))
	for i, snap := range s.snapshots {
		out[i] = snap.Timestamp
	}
	return out
}

// Len reports the number of retained snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
