package config

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestStore(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.Snapshot(); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig, got %v", err)
	}

	first := Default()
	s.Set(first)
	got, err := s.Snapshot()
	if err != nil || got != first {
		t.Fatalf("expected first snapshot, got %p, %v", got, err)
	}

	second := Default()
	s.Set(second)
	got, _ = s.Snapshot()
	if got != second {
		t.Error("expected second snapshot after Set")
	}
	if s.Version() != 2 {
		t.Errorf("expected version 2, got %d", s.Version())
	}
}

func TestStatic(t *testing.T) {
	cfg := Default()
	got, err := Static(cfg).Snapshot()
	if err != nil || got != cfg {
		t.Fatalf("Static().Snapshot() = %p, %v", got, err)
	}
	if _, err := Static(nil).Snapshot(); !errors.Is(err, ErrNoConfig) {
		t.Errorf("expected ErrNoConfig for nil static config, got %v", err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	path := writeConfig(t, validYAML)
	initial, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	store := NewStore(initial)

	w, err := NewWatcher(path, store, nil, WithLoader(LoadConfig))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	var hooks atomic.Int32
	w.OnReload(func(*Config) { hooks.Add(1) })

	updated := validYAML + "\nlimits_storage:\n  backend: memory\n  snapshot_interval: 2m\n"
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	cfg, _ := store.Snapshot()
	if cfg.LimitsStorage.SnapshotInterval != 2*time.Minute {
		t.Errorf("expected reloaded snapshot interval 2m, got %v", cfg.LimitsStorage.SnapshotInterval)
	}
	if hooks.Load() != 1 {
		t.Errorf("expected 1 reload hook call, got %d", hooks.Load())
	}

	// An invalid file keeps the previous snapshot.
	if err := os.WriteFile(path, []byte("audit:\n  sink: kafka\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(); err == nil {
		t.Fatal("expected reload error for invalid file")
	}
	after, _ := store.Snapshot()
	if after != cfg {
		t.Error("expected previous snapshot to remain active")
	}
	if hooks.Load() != 1 {
		t.Errorf("expected hook not called on failure, got %d calls", hooks.Load())
	}
}

func TestWatcher_Watch(t *testing.T) {
	path := writeConfig(t, validYAML)
	store := NewStore(Default())

	w, err := NewWatcher(path, store, nil, WithLoader(LoadConfig), WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	reloaded := make(chan struct{}, 1)
	w.OnReload(func(*Config) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Allow the watcher to register before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(validYAML), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func TestDebouncer_CoalescesTriggers(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { calls.Add(1) })
	}
	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}

	d.Stop()
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("expected no calls after Stop, got %d", calls.Load())
	}
}
