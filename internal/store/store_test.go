package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "multifind.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadDelete(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if _, err := s.Load(ctx, "https://example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load missing = %v", err)
	}

	page := Page{URL: "https://example.com", Keywords: []string{"cat", "dog"}, Active: true}
	if err := s.Save(ctx, page); err != nil {
		t.Fatalf("Save: %v", err)
	}
	page.Keywords = []string{"bird"}
	page.Active = false
	if err := s.Save(ctx, page); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := s.Load(ctx, page.URL)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Keywords) != 1 || got.Keywords[0] != "bird" || got.Active {
		t.Fatalf("loaded = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt not set")
	}

	if err := s.Delete(ctx, page.URL); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, page.URL); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after delete = %v", err)
	}
}

func TestCleanup(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base.Add(-8 * 24 * time.Hour) }
	if err := s.Save(ctx, Page{URL: "old", Keywords: []string{"x"}}); err != nil {
		t.Fatalf("Save old: %v", err)
	}
	s.now = func() time.Time { return base.Add(-time.Hour) }
	if err := s.Save(ctx, Page{URL: "fresh", Keywords: []string{"y"}}); err != nil {
		t.Fatalf("Save fresh: %v", err)
	}

	s.now = func() time.Time { return base }
	n, err := s.Cleanup(ctx, DefaultRetention)
	if err != nil || n != 1 {
		t.Fatalf("Cleanup = %d, %v", n, err)
	}
	if _, err := s.Load(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old page survived: %v", err)
	}
	if _, err := s.Load(ctx, "fresh"); err != nil {
		t.Fatalf("fresh page removed: %v", err)
	}
}

func TestJanitorSweepsOnStart(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now.Add(-30 * 24 * time.Hour) }
	if err := s.Save(ctx, Page{URL: "stale"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.now = func() time.Time { return now }

	j := NewJanitor(s, time.Hour, time.Hour, nil)
	j.Start()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := s.Load(ctx, "stale"); errors.Is(err, ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not sweep")
		}
		time.Sleep(10 * time.Millisecond)
	}
	j.Stop()
	j.Stop()
}

func TestJanitorStopWithoutStart(t *testing.T) {
	j := NewJanitor(openTemp(t), time.Hour, time.Hour, nil)

	stopped := make(chan struct{})
	go func() {
		j.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop blocked on a janitor that never started")
	}

	j.Start()
	j.Stop()
}
