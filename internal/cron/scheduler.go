package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTickInterval is the scheduler resolution. Due-ness is computed at
// minute granularity; the sub-minute tick only bounds dispatch latency.
const DefaultTickInterval = time.Second

// Scheduler drives a Service from a single timer. On each tick it claims the
// due job set and dispatches every due job on its own goroutine, so one slow
// job never delays the due-check of the others. Store failures during a tick
// are logged and retried on the next one.
type Scheduler struct {
	svc      *Service
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	group   *errgroup.Group
}

// NewScheduler creates a scheduler loop over svc. interval <= 0 means
// DefaultTickInterval.
func NewScheduler(svc *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{svc: svc, interval: interval}
}

// SetInterval changes the tick interval; it takes effect on restart
// (the config hot-reload path stops and restarts the loop).
func (sch *Scheduler) SetInterval(interval time.Duration) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if interval > 0 {
		sch.interval = interval
	}
}

// Start launches the scheduling loop. Idempotent while running.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.running {
		return
	}

	sch.running = true
	sch.stop = make(chan struct{})
	sch.done = make(chan struct{})
	sch.group = &errgroup.Group{}
	sch.svc.markRunning(true)

	go sch.loop(ctx, sch.stop, sch.done, sch.group, sch.interval)
	slog.Info("cron scheduler started", "interval", sch.interval)
}

// Stop halts the loop and waits for in-flight runs to finish. Run records
// for attempts already started are written before Stop returns.
func (sch *Scheduler) Stop() {
	sch.mu.Lock()
	if !sch.running {
		sch.mu.Unlock()
		return
	}
	sch.running = false
	stop, done, group := sch.stop, sch.done, sch.group
	sch.mu.Unlock()

	close(stop)
	<-done
	group.Wait()
	sch.svc.markRunning(false)
	slog.Info("cron scheduler stopped")
}

func (sch *Scheduler) loop(ctx context.Context, stop, done chan struct{}, group *errgroup.Group, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			sch.tick(ctx, group)
		}
	}
}

func (sch *Scheduler) tick(ctx context.Context, group *errgroup.Group) {
	due, err := sch.svc.claimDue(ctx, nowMS())
	if err != nil {
		slog.Error("cron due scan failed", "error", err)
		return
	}

	for _, job := range due {
		id := job.ID
		group.Go(func() error {
			if err := sch.svc.Run(ctx, id, false); err != nil && !errors.Is(err, ErrNotFound) {
				slog.Error("cron scheduled run failed", "id", id, "error", err)
			}
			return nil
		})
	}
}
