// Package scheduler turns schedule specifications into workflow activations.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Activation is emitted every time a scheduled task fires.
type Activation struct {
	TaskID     string    `json:"task_id"`
	WorkflowID string    `json:"workflow_id"`
	FireTime   time.Time `json:"fire_time"`
}

type ActivationHandler func(ctx context.Context, activation Activation)

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

type task struct {
	id         string
	workflowID string
	trigger    Trigger
	entry      cron.EntryID
}

// Scheduler owns the set of scheduled task ids. Each (task name, workflow) pair
// is registered at most once.
type Scheduler struct {
	logger   *slog.Logger
	handler  ActivationHandler
	location *time.Location
	cron     *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	state  State
	tasks  map[string]*task
	paused map[string]*task
}

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

func New(handler ActivationHandler, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   logger.With("module", "scheduler"),
		handler:  handler,
		location: time.Local,
		ctx:      context.Background(),
		state:    StateStopped,
		tasks:    make(map[string]*task),
		paused:   make(map[string]*task),
	}

	for _, opt := range opts {
		opt(s)
	}

	cronLogger := &cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)

	return s
}

func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Start begins firing activations. Handlers receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return
	}

	s.ctx = ctx
	s.state = StateRunning
	s.cron.Start()

	s.logger.InfoContext(ctx, "Scheduler started", "tasks", len(s.tasks))
}

// Stop halts the engine and waits for running handlers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()

		return
	}

	s.state = StateStopped
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	s.logger.Info("Scheduler stopped")
}

// Pause suppresses every activation until Resume. Task registrations are kept.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		s.state = StatePaused
	}
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePaused {
		s.state = StateRunning
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// ScheduleWorkflows registers taskName for every workflow and returns the new task ids.
// Pairs that are already scheduled or paused are skipped.
func (s *Scheduler) ScheduleWorkflows(taskName string, workflowIDs []string, trigger Trigger) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := make([]string, 0, len(workflowIDs))

	for _, workflowID := range workflowIDs {
		taskID := ConstructTaskID(taskName, workflowID)

		if _, exists := s.tasks[taskID]; exists {
			s.logger.Debug("Task already scheduled", "task_id", taskID)

			continue
		}

		if _, exists := s.paused[taskID]; exists {
			s.logger.Debug("Task is paused", "task_id", taskID)

			continue
		}

		if s.expired(trigger) {
			s.logger.Info("Trigger will never fire, task skipped", "task_id", taskID, "trigger", trigger.Type())

			continue
		}

		t := &task{id: taskID, workflowID: workflowID, trigger: trigger}
		t.entry = s.cron.Schedule(trigger, s.job(t))
		s.tasks[taskID] = t

		added = append(added, taskID)

		s.logger.Info("Scheduled workflow", "task_id", taskID, "workflow_id", workflowID, "trigger", trigger.Type())
	}

	return added
}

func (s *Scheduler) UnscheduleWorkflows(taskName string, workflowIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, workflowID := range workflowIDs {
		taskID := ConstructTaskID(taskName, workflowID)

		if t, ok := s.tasks[taskID]; ok {
			s.cron.Remove(t.entry)
			delete(s.tasks, taskID)
		}

		delete(s.paused, taskID)

		s.logger.Info("Unscheduled workflow", "task_id", taskID)
	}
}

// PauseTask removes the task from the scheduled set until ResumeTask.
func (s *Scheduler) PauseTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	s.cron.Remove(t.entry)
	delete(s.tasks, taskID)
	s.paused[taskID] = t

	return nil
}

func (s *Scheduler) ResumeTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.paused[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	delete(s.paused, taskID)

	if s.expired(t.trigger) {
		s.logger.Info("Task completed while paused", "task_id", taskID)

		return nil
	}

	t.entry = s.cron.Schedule(t.trigger, s.job(t))
	s.tasks[taskID] = t

	return nil
}

// ScheduledTasks lists the active task ids in sorted order.
func (s *Scheduler) ScheduledTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (s *Scheduler) job(t *task) cron.Job {
	return cron.FuncJob(func() {
		s.mu.Lock()
		state := s.state
		ctx := s.ctx
		s.mu.Unlock()

		now := time.Now().In(s.location)

		if state == StateRunning {
			s.handler(ctx, Activation{TaskID: t.id, WorkflowID: t.workflowID, FireTime: now})
		}

		if t.trigger.Next(now).IsZero() {
			s.complete(t)
		}
	})
}

func (s *Scheduler) expired(trigger Trigger) bool {
	return trigger.Next(time.Now().In(s.location)).IsZero()
}

// complete drops a task whose trigger will never fire again.
func (s *Scheduler) complete(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.tasks[t.id]; ok && current == t {
		s.cron.Remove(t.entry)
		delete(s.tasks, t.id)

		s.logger.Info("Task completed", "task_id", t.id)
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
