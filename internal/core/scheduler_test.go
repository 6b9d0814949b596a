package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePurger struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (p *fakePurger) PurgeRuns(ctx context.Context, olderThanDays int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, olderThanDays)
	return 3, p.err
}

func (p *fakePurger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestRetentionConfig_Defaults(t *testing.T) {
	cfg := RetentionConfig{}.withDefaults()
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.RetentionDays)
	}
	if cfg.CheckInterval != 24*time.Hour {
		t.Errorf("CheckInterval = %v, want 24h", cfg.CheckInterval)
	}

	custom := RetentionConfig{RetentionDays: 7, CheckInterval: time.Minute}.withDefaults()
	if custom.RetentionDays != 7 || custom.CheckInterval != time.Minute {
		t.Errorf("custom config overridden: %+v", custom)
	}
}

func TestStartRetentionScheduler(t *testing.T) {
	purger := &fakePurger{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		StartRetentionScheduler(ctx, purger, RetentionConfig{RetentionDays: 30, CheckInterval: 10 * time.Millisecond})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for purger.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("purge ran %d times, want at least 2", purger.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}

	purger.mu.Lock()
	defer purger.mu.Unlock()
	for _, days := range purger.calls {
		if days != 30 {
			t.Errorf("purge called with %d days, want 30", days)
		}
	}
}

func TestRunRetentionJob_ErrorDoesNotPanic(t *testing.T) {
	purger := &fakePurger{err: errors.New("database unavailable")}
	runRetentionJob(context.Background(), purger, RetentionConfig{RetentionDays: 1})
	if purger.count() != 1 {
		t.Errorf("purge called %d times, want 1", purger.count())
	}
}
