package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func collectPaths(t *testing.T, ch <-chan string, window time.Duration) map[string]int {
	t.Helper()
	seen := map[string]int{}
	deadline := time.After(window)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return seen
			}
			seen[p]++
		case <-deadline:
			return seen
		}
	}
}

func TestWatcherInitialScan(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "already-there.pdf")
	if err := os.WriteFile(existing, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	evCh, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{dir}, InitialScan: true}, logger)
	if err != nil {
		t.Fatal(err)
	}

	seen := collectPaths(t, evCh, 500*time.Millisecond)
	if seen[existing] != 1 {
		t.Errorf("existing pdf emitted %d times, want 1", seen[existing])
	}
	for p := range seen {
		if filepath.Ext(p) == ".txt" {
			t.Errorf("disallowed extension emitted: %s", p)
		}
	}
}

func TestWatcherCoalescesWriteBurst(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	evCh, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{dir}, Debounce: 100 * time.Millisecond}, logger)
	if err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "burst.pdf")
	for i := 0; i < 25; i++ {
		if err := os.WriteFile(target, []byte("%PDF-1.4 partial"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	seen := collectPaths(t, evCh, time.Second)
	if seen[target] != 1 {
		t.Errorf("burst emitted %d times, want 1 coalesced emission", seen[target])
	}
}

func TestWatcherRequiresRoots(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, _, err := StartWatcher(context.Background(), WatchConfig{}, logger); err == nil {
		t.Fatal("expected an error with no roots")
	}
}
