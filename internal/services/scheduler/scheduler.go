// Copyright (c) 2025, the seedarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler drives the periodic engine tasks. Each registered task
// runs on its own ticker and is single-flight: a tick that fires while the
// previous run is still going is skipped, not queued.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autoseed/seedarr/internal/domain"
	"github.com/autoseed/seedarr/internal/models"
	"github.com/autoseed/seedarr/internal/services/schedule"
)

const minInterval = 60 * time.Second

// TaskSpec declares one periodic task: its task class for schedule-gate
// reporting, how to pick its interval out of the settings, and the work.
type TaskSpec struct {
	Name     string
	Class    domain.TaskClass
	Interval func(*models.RefreshIntervals) int
	Run      func(context.Context) error
}

type task struct {
	spec     TaskSpec
	interval time.Duration

	mu       sync.Mutex
	inFlight bool
	lastRun  *time.Time
	nextRun  *time.Time
	lastErr  string
}

// TaskStatus is one task's slice of the status snapshot.
type TaskStatus struct {
	Name        string     `json:"name"`
	Class       string     `json:"class"`
	IntervalSec int        `json:"intervalSeconds"`
	InFlight    bool       `json:"inFlight"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	GateAllowed bool       `json:"gateAllowed"`
}

type Status struct {
	Running bool         `json:"running"`
	Tasks   []TaskStatus `json:"tasks"`
}

type Scheduler struct {
	settings *models.SettingsStore
	gate     *schedule.Gate
	specs    []TaskSpec

	mu      sync.Mutex
	tasks   []*task
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func New(settings *models.SettingsStore, gate *schedule.Gate) *Scheduler {
	return &Scheduler{
		settings: settings,
		gate:     gate,
	}
}

// Register adds a task. All registration happens before the first Start.
func (s *Scheduler) Register(spec TaskSpec) {
	s.specs = append(s.specs, spec)
}

// Start reads the current refresh intervals and launches one loop per task.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	intervals, err := s.settings.GetRefreshIntervals(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load refresh intervals")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.tasks = make([]*task, 0, len(s.specs))

	var wg sync.WaitGroup
	for _, spec := range s.specs {
		interval := time.Duration(spec.Interval(intervals)) * time.Second
		if interval < minInterval {
			interval = minInterval
		}
		t := &task{spec: spec, interval: interval}
		next := time.Now().Add(interval)
		t.nextRun = &next
		s.tasks = append(s.tasks, t)

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(runCtx, t)
		}()

		log.Info().
			Str("task", spec.Name).
			Dur("interval", interval).
			Msg("scheduled periodic task")
	}

	done := s.done
	go func() {
		wg.Wait()
		close(done)
	}()

	s.running = true
	return nil
}

// Stop cancels all task loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("scheduler stopped")
}

// Restart stops and starts the scheduler so interval or schedule changes
// take effect. In-flight runs complete before the new loops launch.
func (s *Scheduler) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t *task) {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		log.Warn().Str("task", t.spec.Name).Msg("previous run still in flight, skipping tick")
		return
	}
	t.inFlight = true
	now := time.Now()
	t.lastRun = &now
	next := now.Add(t.interval)
	t.nextRun = &next
	t.mu.Unlock()

	err := t.spec.Run(ctx)

	t.mu.Lock()
	t.inFlight = false
	if err != nil {
		t.lastErr = err.Error()
	} else {
		t.lastErr = ""
	}
	t.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("task", t.spec.Name).Msg("periodic task failed")
	}
}

// RunNow triggers one task by name outside its cadence, still single-flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *task
	for _, t := range s.tasks {
		if t.spec.Name == name {
			target = t
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return errors.Errorf("unknown task %q", name)
	}
	s.tick(ctx, target)
	return nil
}

// Status reports the running flag, per-task cadence state, and the current
// schedule-gate evaluation for each task class.
func (s *Scheduler) Status(ctx context.Context) Status {
	s.mu.Lock()
	running := s.running
	tasks := append([]*task(nil), s.tasks...)
	s.mu.Unlock()

	now := time.Now()
	status := Status{Running: running}
	for _, t := range tasks {
		allowed, err := s.gate.Allowed(ctx, t.spec.Class, now)
		if err != nil {
			log.Error().Err(err).Str("task", t.spec.Name).Msg("failed to evaluate schedule gate")
		}

		t.mu.Lock()
		status.Tasks = append(status.Tasks, TaskStatus{
			Name:        t.spec.Name,
			Class:       string(t.spec.Class),
			IntervalSec: int(t.interval / time.Second),
			InFlight:    t.inFlight,
			LastRun:     t.lastRun,
			NextRun:     t.nextRun,
			LastError:   t.lastErr,
			GateAllowed: allowed,
		})
		t.mu.Unlock()
	}
	return status
}
