package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeBusinesses struct {
	ids []string
	err error
}

func (f fakeBusinesses) ReviewedBusinessIDs(context.Context) ([]string, error) {
	return f.ids, f.err
}

type fakeRecomputer struct {
	stale  map[string]bool
	broken map[string]bool
	seen   []string
}

func (f *fakeRecomputer) Recompute(_ context.Context, id string) (bool, error) {
	f.seen = append(f.seen, id)
	if f.broken[id] {
		return false, errors.New("db down")
	}
	return f.stale[id], nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceCountsRepairsAndSkipsFailures(t *testing.T) {
	rec := &fakeRecomputer{
		stale:  map[string]bool{"b-2": true, "b-3": true},
		broken: map[string]bool{"b-1": true},
	}
	r := NewRatingReconciler(fakeBusinesses{ids: []string{"b-1", "b-2", "b-3", "b-4"}}, rec, discard(), time.Second)

	repaired, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if repaired != 2 {
		t.Fatalf("expected 2 repairs, got %d", repaired)
	}
	if len(rec.seen) != 4 {
		t.Fatalf("expected every business visited, got %v", rec.seen)
	}
}

func TestRunOnceListError(t *testing.T) {
	r := NewRatingReconciler(fakeBusinesses{err: errors.New("boom")}, &fakeRecomputer{}, discard(), 0)
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	r := NewRatingReconciler(fakeBusinesses{}, &fakeRecomputer{}, discard(), 0)
	c := NewCron(discard())
	if _, err := r.Schedule(context.Background(), c, "not a spec"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := r.Schedule(context.Background(), c, "*/15 * * * *"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Fatalf("expected one entry, got %d", len(c.Entries()))
	}
}
