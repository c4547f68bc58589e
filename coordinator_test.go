package archibald

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type countingParticipant struct {
	pauseCount  atomic.Int32
	resumeCount atomic.Int32
	pauseDelay  time.Duration
	block       chan struct{}
}

func (p *countingParticipant) Pause(ctx context.Context) error {
	p.pauseCount.Add(1)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.pauseDelay > 0 {
		time.Sleep(p.pauseDelay)
	}
	return nil
}

func (p *countingParticipant) Resume() {
	p.resumeCount.Add(1)
}

func TestWithPriorityPausesAndResumesAll(t *testing.T) {
	coordinator := NewPriorityCoordinator()
	a := &countingParticipant{}
	b := &countingParticipant{}
	coordinator.Register("a", a)
	coordinator.Register("b", b)

	ran := false
	err := coordinator.WithPriority(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithPriority error: %v", err)
	}
	if !ran {
		t.Fatalf("priority fn did not run")
	}
	if a.pauseCount.Load() != 1 || b.pauseCount.Load() != 1 {
		t.Fatalf("want one pause each, got %d/%d", a.pauseCount.Load(), b.pauseCount.Load())
	}
	if a.resumeCount.Load() != 1 || b.resumeCount.Load() != 1 {
		t.Fatalf("want one resume each, got %d/%d", a.resumeCount.Load(), b.resumeCount.Load())
	}
}

func TestWithPriorityResumesOnError(t *testing.T) {
	coordinator := NewPriorityCoordinator()
	a := &countingParticipant{}
	b := &countingParticipant{}
	coordinator.Register("a", a)
	coordinator.Register("b", b)

	boom := errors.New("boom")
	err := coordinator.WithPriority(context.Background(), func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want original error back, got %v", err)
	}
	if a.pauseCount.Load() != 1 || b.pauseCount.Load() != 1 {
		t.Fatalf("want one pause each, got %d/%d", a.pauseCount.Load(), b.pauseCount.Load())
	}
	if a.resumeCount.Load() != 1 || b.resumeCount.Load() != 1 {
		t.Fatalf("resume must run despite the error, got %d/%d", a.resumeCount.Load(), b.resumeCount.Load())
	}
}

func TestWithPriorityConcurrentPause(t *testing.T) {
	coordinator := NewPriorityCoordinator()
	slow := 50 * time.Millisecond
	for _, name := range []string{"a", "b", "c", "d"} {
		coordinator.Register(name, &countingParticipant{pauseDelay: slow})
	}

	start := time.Now()
	err := coordinator.WithPriority(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("WithPriority error: %v", err)
	}
	// Sequential pauses would take 4x the delay.
	if elapsed := time.Since(start); elapsed > 3*slow {
		t.Fatalf("pauses appear sequential, took %s", elapsed)
	}
}

func TestWithPriorityHungParticipantSurfaces(t *testing.T) {
	coordinator := NewPriorityCoordinator()
	hung := &countingParticipant{block: make(chan struct{})}
	coordinator.Register("ok", &countingParticipant{})
	coordinator.Register("hung", hung)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := coordinator.WithPriority(ctx, func(ctx context.Context) error {
		t.Fatalf("fn must not run when pause fails")
		return nil
	})
	if err == nil {
		t.Fatalf("expected pause deadline error")
	}
	if got := err.Error(); !strings.Contains(got, "hung") {
		t.Fatalf("error should name the stuck participant, got %q", got)
	}
	if hung.resumeCount.Load() != 1 {
		t.Fatalf("hung participant must still be resumed")
	}
}
