package archibald

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Pausable is a background participant that can cooperatively step aside.
// Pause returns only once the participant holds no shared automation
// resource; it must be idempotent. Resume lifts the pause.
type Pausable interface {
	Pause(ctx context.Context) error
	Resume()
}

// PriorityCoordinator grants latency-sensitive foreground operations
// exclusive access to the shared automation resource by pausing every
// registered background participant first. Participants register once at
// process start; the set is static afterwards.
type PriorityCoordinator struct {
	mu           sync.Mutex
	participants map[string]Pausable
}

// NewPriorityCoordinator builds an empty registry.
func NewPriorityCoordinator() *PriorityCoordinator {
	return &PriorityCoordinator{participants: make(map[string]Pausable)}
}

// Register adds a pausable participant under name, replacing any previous
// registration with the same name.
func (c *PriorityCoordinator) Register(name string, p Pausable) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.participants[name] = p
	c.mu.Unlock()
	log.Debug().Str("participant", name).Msg("priority participant registered")
}

// Participants returns the registered names, sorted.
func (c *PriorityCoordinator) Participants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.participants))
	for name := range c.participants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type pauseResult struct {
	name string
	err  error
}

// WithPriority pauses all participants concurrently, runs fn, then resumes
// every participant on every exit path, including when fn returns an error
// or panics. Pauses run in parallel so the worst-case wait is the slowest
// single pause, not the sum. The ctx deadline bounds the pause wait: a
// participant that never reaches its safe point surfaces by name instead of
// blocking forever.
func (c *PriorityCoordinator) WithPriority(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	snapshot := make(map[string]Pausable, len(c.participants))
	for name, p := range c.participants {
		snapshot[name] = p
	}
	c.mu.Unlock()

	defer func() {
		for name, p := range snapshot {
			p.Resume()
			log.Debug().Str("participant", name).Msg("priority participant resumed")
		}
	}()

	if err := c.pauseAll(ctx, snapshot); err != nil {
		return err
	}
	start := time.Now()
	err := fn(ctx)
	log.Debug().Dur("elapsed", time.Since(start)).Msg("priority operation finished")
	return err
}

func (c *PriorityCoordinator) pauseAll(ctx context.Context, participants map[string]Pausable) error {
	if len(participants) == 0 {
		return nil
	}
	results := make(chan pauseResult, len(participants))
	for name, p := range participants {
		go func(name string, p Pausable) {
			results <- pauseResult{name: name, err: p.Pause(ctx)}
		}(name, p)
	}

	pending := make(map[string]struct{}, len(participants))
	for name := range participants {
		pending[name] = struct{}{}
	}
	var pauseErrs []string
	for range participants {
		select {
		case res := <-results:
			delete(pending, res.name)
			if res.err != nil {
				pauseErrs = append(pauseErrs, res.name+": "+res.err.Error())
			}
		case <-ctx.Done():
			stuck := make([]string, 0, len(pending))
			for name := range pending {
				stuck = append(stuck, name)
			}
			sort.Strings(stuck)
			return errors.Wrapf(ctx.Err(), "pause did not complete for: %s", strings.Join(stuck, ", "))
		}
	}
	if len(pauseErrs) > 0 {
		sort.Strings(pauseErrs)
		return errors.Errorf("pause failed: %s", strings.Join(pauseErrs, "; "))
	}
	return nil
}
