package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Job is invoked once immediately and then on every tick of its interval.
type Job func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	AlignToStart bool
	StartupDelay time.Duration
}

type entry struct {
	name     string
	interval time.Duration
	job      Job
}

// Scheduler drives independent periodic jobs, one goroutine per job.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	entries []entry
	running bool
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Schedule registers job to run immediately and then every interval once Run is called.
func (s *Scheduler) Schedule(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	if job == nil {
		return fmt.Errorf("job %s: nil job", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	s.entries = append(s.entries, entry{name: name, interval: interval, job: job})
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run blocks, driving every registered job until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	if len(entries) == 0 {
		return errors.New("no jobs scheduled")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			return s.loop(gctx, e)
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e entry) error {
	logger := s.logger.With().Str("job", e.name).Dur("interval", e.interval).Logger()

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.execute(ctx, logger, e, time.Now().UTC())

	next := s.nextTick(time.Now().UTC(), e.interval)
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC(), e.interval)
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.execute(ctx, logger, e, s.bucketStart(next, e.interval))
		next = next.Add(e.interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, logger zerolog.Logger, e entry, tick time.Time) {
	started := time.Now()
	logger.Debug().Time("tick", tick).Msg("executing scheduled job")

	if err := e.job(ctx, tick); err != nil {
		logger.Error().Err(err).Time("tick", tick).Msg("job execution failed")
		return
	}
	logger.Debug().Time("tick", tick).Dur("took", time.Since(started)).Msg("job completed")
}

func (s *Scheduler) nextTick(now time.Time, interval time.Duration) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(interval)
	}
	bucket := now.Truncate(interval)
	if !bucket.After(now) {
		bucket = bucket.Add(interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time, interval time.Duration) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(interval)
}
