package store

import (
	"testing"
	"time"

	"github.com/strongaya/federated-data-portal/internal/vantage6"
)

func snapshotAt(ts time.Time, org string) Snapshot {
	return Snapshot{
		Timestamp: ts,
		Organisations: []vantage6.OrganisationDescriptives{
			{Organisation: org, Country: "NL", SampleSize: 10},
		},
	}
}

func TestLatestReturnsMostRecent(t *testing.T) {
	s := New(10)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Out-of-order insertion still yields the newest snapshot.
	s.Add(snapshotAt(base.Add(2*time.Hour), "second"))
	s.Add(snapshotAt(base, "first"))

	latest, ok := s.Latest()
	if !ok {
		t.Fatalf("expected a snapshot")
	}
	if latest.Organisations[0].Organisation != "second" {
		t.Fatalf("expected newest snapshot, got %s", latest.Organisations[0].Organisation)
	}
}

func TestLatestOnEmptyStore(t *testing.T) {
	s := New(5)
	if _, ok := s.Latest(); ok {
		t.Fatalf("expected empty store to report no snapshot")
	}
}

func TestRetentionEvictsOldest(t *testing.T) {
	s := New(3)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.Add(snapshotAt(base.Add(time.Duration(i)*time.Hour), "org"))
	}

	if s.Len() != 3 {
		t.Fatalf("expected 3 retained snapshots, got %d", s.Len())
	}

	timestamps := s.Timestamps()
	if !timestamps[0].Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected oldest retained snapshot at +2h, got %s", timestamps[0])
	}
	if _, ok := s.At(base); ok {
		t.Fatalf("expected evicted snapshot to be gone")
	}
}

func TestAddFillsZeroTimestamp(t *testing.T) {
	s := New(2)
	s.Add(Snapshot{})

	latest, ok := s.Latest()
	if !ok || latest.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be filled")
	}
}

func TestAtFindsExactTimestamp(t *testing.T) {
	s := New(5)
	ts := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	s.Add(snapshotAt(ts, "clinic"))

	snap, ok := s.At(ts)
	if !ok {
		t.Fatalf("expected snapshot at %s", ts)
	}
	if snap.Organisations[0].Organisation != "clinic" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
