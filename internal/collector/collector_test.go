package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strongaya/federated-data-portal/internal/store"
	"github.com/strongaya/federated-data-portal/internal/vantage6"
)

type stubSource struct {
	fetches atomic.Int64
	err     error
}

func (s *stubSource) Fetch(context.Context) ([]vantage6.OrganisationDescriptives, error) {
	s.fetches.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []vantage6.OrganisationDescriptives{
		{Organisation: "Clinic A", Country: "NL", SampleSize: 10},
	}, nil
}

func TestRefreshNowStoresSnapshot(t *testing.T) {
	st := store.New(5)
	c := New(&stubSource{}, st, time.Hour, nil)

	if err := c.RefreshNow(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snap, ok := st.Latest()
	if !ok {
		t.Fatalf("expected stored snapshot")
	}
	if len(snap.Organisations) != 1 || snap.Organisations[0].Organisation != "Clinic A" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Timestamp.IsZero() {
		t.Fatalf("expected timestamp")
	}
}

func TestRefreshNowPropagatesSourceError(t *testing.T) {
	st := store.New(5)
	wantErr := errors.New("server unreachable")
	c := New(&stubSource{err: wantErr}, st, time.Hour, nil)

	if err := c.RefreshNow(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected source error, got %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("expected no snapshot on failure")
	}
}

func TestRunFetchesImmediatelyAndOnTrigger(t *testing.T) {
	st := store.New(5)
	source := &stubSource{}
	c := New(source, st, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for source.fetches.Load() < 1 {
		select {
		case <-deadline:
			t.Fatalf("initial fetch never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.Refresh()
	for source.fetches.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("manual refresh never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	st := store.New(5)
	c := New(&stubSource{}, st, time.Hour, nil)

	updates, cancel := c.Subscribe()
	defer cancel()

	if err := c.RefreshNow(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	select {
	case snap := <-updates:
		if len(snap.Organisations) != 1 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never notified")
	}

	cancel()
	if _, open := <-updates; open {
		t.Fatalf("expected channel closed after cancel")
	}
}

func TestFileSourceReadsMockResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mockresult.json")
	doc := `[{"organisation": "Clinic A", "country": "NL", "sample_size": "15", "variable_info": []}]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write mock result: %v", err)
	}

	source := &FileSource{Path: path}
	descriptives, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(descriptives) != 1 || descriptives[0].SampleSize.Int() != 15 {
		t.Fatalf("unexpected descriptives %+v", descriptives)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	source := &FileSource{Path: filepath.Join(t.TempDir(), "absent.json")}
	if _, err := source.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
