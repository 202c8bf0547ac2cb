package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"socwatch/internal/metrics"
)

// Task is a recurring job. Runs of one task never overlap: a tick that fires
// while the previous run is still going is dropped.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once on Start before the first tick.
	Immediate bool
	Run       func(ctx context.Context) error
}

// TaskStatus is a snapshot of one task's history.
type TaskStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval_ns"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

type Status struct {
	Running bool         `json:"running"`
	Tasks   []TaskStatus `json:"tasks"`
}

type job struct {
	task   Task
	status TaskStatus
}

type Scheduler struct {
	jobs    map[string]*job
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Add registers a task. Tasks added after Start begin immediately.
func (s *Scheduler) Add(task Task) error {
	if task.Name == "" || task.Run == nil {
		return errors.New("scheduler: task needs a name and a run func")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("scheduler: task %s: interval must be positive", task.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return errors.New("scheduler: stopped")
	}
	if _, exists := s.jobs[task.Name]; exists {
		return fmt.Errorf("scheduler: duplicate task %s", task.Name)
	}
	j := &job{task: task, status: TaskStatus{Name: task.Name, Interval: task.Interval}}
	s.jobs[task.Name] = j
	if s.started {
		s.launch(j)
	}
	return nil
}

// Start begins ticking every registered task.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.ctx.Err() != nil {
		return
	}
	s.started = true
	for _, j := range s.jobs {
		s.launch(j)
	}
	s.logger.Info("scheduler started", "tasks", len(s.jobs))
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Running: s.started && s.ctx.Err() == nil}
	for _, j := range s.jobs {
		st.Tasks = append(st.Tasks, j.status)
	}
	sort.Slice(st.Tasks, func(a, b int) bool { return st.Tasks[a].Name < st.Tasks[b].Name })
	return st
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(j *job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if j.task.Immediate {
			s.execute(j)
		}
		s.loop(j)
	}()
}

func (s *Scheduler) loop(j *job) {
	ticker := time.NewTicker(j.task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.execute(j)
		}
	}
}

func (s *Scheduler) execute(j *job) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := s.safeRun(j)
	metrics.ObserveTaskRun(j.task.Name, err)

	s.mu.Lock()
	j.status.Runs++
	j.status.LastRun = start.UTC()
	j.status.LastError = ""
	if err != nil {
		j.status.Failures++
		j.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled task failed", "task", j.task.Name, "err", err)
		return
	}
	s.logger.Debug("scheduled task complete", "task", j.task.Name, "took", time.Since(start))
}

// safeRun turns a panic in a task into an error so one bad run does not take
// the scheduler down.
func (s *Scheduler) safeRun(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.task.Run(s.ctx)
}
