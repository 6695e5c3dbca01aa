package retention

import (
	"context"
	"testing"

	"mercator-hq/gatekeeper/pkg/evidence/storage"
)

func TestScheduler_StartStop(t *testing.T) {
	p := NewPruner(storage.NewMemoryStore(), &Config{RetentionDays: 30, PruneSchedule: "0 3 * * *"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !p.scheduler.IsRunning() {
		t.Fatal("Expected scheduler running")
	}
	if p.NextPruning() == nil {
		t.Error("Expected next pruning time")
	}
	if err := p.Start(ctx); err == nil {
		t.Error("Expected error starting twice")
	}

	p.Stop()
	if p.scheduler.IsRunning() {
		t.Error("Expected scheduler stopped")
	}
	if p.NextPruning() != nil {
		t.Error("Expected no next run once stopped")
	}
	p.Stop()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	p := NewPruner(storage.NewMemoryStore(), &Config{RetentionDays: 30, PruneSchedule: "every day"})
	if err := p.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestScheduler_Idle(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"no schedule", &Config{RetentionDays: 30}},
		{"no policy", &Config{PruneSchedule: "0 3 * * *"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPruner(storage.NewMemoryStore(), tt.cfg)
			if err := p.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			if p.scheduler.IsRunning() {
				t.Error("Expected idle scheduler")
			}
		})
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	s := seedStore(t, 1, 40)
	p := NewPruner(s, &Config{RetentionDays: 30}, WithClock(clock))

	p.scheduler.RunOnce(context.Background())

	st := p.scheduler.Status()
	if st.Runs != 1 || st.Err != nil || !st.Last.Equal(now) {
		t.Errorf("Unexpected status %+v", st)
	}
	if remaining(t, s) != 1 {
		t.Errorf("Expected 1 remaining, got %d", remaining(t, s))
	}
}
