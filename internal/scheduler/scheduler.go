package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aristath/conductor/internal/events"
)

// DependencyPolicy decides what happens to pending tasks whose dependency failed.
type DependencyPolicy int

const (
	// DependentsFail fails pending dependents of a failed or cancelled task, transitively.
	DependentsFail DependencyPolicy = iota
	// DependentsWait leaves dependents pending until they are cancelled.
	DependentsWait
)

func (p DependencyPolicy) String() string {
	if p == DependentsWait {
		return "wait"
	}
	return "fail"
}

// ParseDependencyPolicy converts "fail" or "wait" into a DependencyPolicy.
func ParseDependencyPolicy(s string) (DependencyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return DependentsFail, nil
	case "wait":
		return DependentsWait, nil
	default:
		return DependentsFail, fmt.Errorf("unknown dependency policy %q", s)
	}
}

// Config configures a TaskScheduler.
type Config struct {
	MaxConcurrent    int           // Ceiling on simultaneously executing handlers (default 5)
	DefaultTimeout   time.Duration // Applied to tasks without a timeout (default 300s)
	KillGrace        time.Duration // Wait before Task.Kill after cancellation (default 5s)
	DependencyPolicy DependencyPolicy
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    5,
		DefaultTimeout:   DefaultTaskTimeout,
		KillGrace:        5 * time.Second,
		DependencyPolicy: DependentsFail,
	}
}

// Option customizes a TaskScheduler.
type Option func(*TaskScheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *TaskScheduler) {
		s.logger = logger.With().Str("component", "scheduler").Logger()
	}
}

// WithEventBus publishes task lifecycle events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *TaskScheduler) {
		s.bus = bus
	}
}

type pendingTask struct {
	task *Task
	seq  uint64 // Submission order, final tie-break
}

type execution struct {
	task    *Task
	started time.Time
	cancel  context.CancelCauseFunc
}

// request runs fn on the loop goroutine; done is closed afterwards.
type request struct {
	fn   func()
	done chan struct{}
}

// outcomeMsg is posted by supervisors. A task settles once and releases its
// worker slot once; both usually arrive in the same message.
type outcomeMsg struct {
	exec     *execution
	result   any
	err      error
	settled  bool
	released bool
}

type handlerResult struct {
	value any
	err   error
}

// TaskScheduler dispatches tasks respecting dependencies, priority and a
// concurrency ceiling. All bookkeeping is owned by a single loop goroutine;
// public methods post requests to it and workers post their outcomes back.
type TaskScheduler struct {
	cfg    Config
	logger zerolog.Logger
	bus    *events.EventBus

	requests  chan request
	outcomes  chan outcomeMsg
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	// Owned by the loop goroutine.
	pending   map[string]*pendingTask
	running   map[string]*execution
	completed map[string]any
	failed    map[string]error
	busy      int // Worker goroutines still executing, including abandoned ones
	seq       uint64
	listeners []func(Outcome)
}

// New creates a scheduler and starts its loop. Call Close to stop it.
func New(cfg Config, opts ...Option) *TaskScheduler {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = def.KillGrace
	}

	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	s := &TaskScheduler{
		cfg:        cfg,
		logger:     log.Logger.With().Str("component", "scheduler").Logger(),
		requests:   make(chan request),
		outcomes:   make(chan outcomeMsg),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		pending:    make(map[string]*pendingTask),
		running:    make(map[string]*execution),
		completed:  make(map[string]any),
		failed:     make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.loop()
	return s
}

// MaxConcurrent returns the concurrency ceiling.
func (s *TaskScheduler) MaxConcurrent() int {
	return s.cfg.MaxConcurrent
}

// Close cancels every in-flight task and stops the loop. Running tasks are
// recorded as failed with ErrClosed. Safe to call more than once.
func (s *TaskScheduler) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
	return nil
}

// Schedule registers a task and tries to dispatch ready work. Handler failures
// never surface here; query Status instead.
func (s *TaskScheduler) Schedule(task Task) (string, error) {
	if err := task.validate(); err != nil {
		return "", err
	}
	t := cloneTask(task)

	var err error
	if doErr := s.do(func() { err = s.schedule(t) }); doErr != nil {
		return "", doErr
	}
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// ScheduleAll registers a batch of tasks in one step, so priority ordering
// applies across the whole batch. Either every task is accepted or none is.
func (s *TaskScheduler) ScheduleAll(tasks []Task) ([]string, error) {
	batch := make([]*Task, len(tasks))
	for i := range tasks {
		if err := tasks[i].validate(); err != nil {
			return nil, err
		}
		batch[i] = cloneTask(tasks[i])
	}

	var err error
	if doErr := s.do(func() { err = s.schedule(batch...) }); doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(batch))
	for i, t := range batch {
		ids[i] = t.ID
	}
	return ids, nil
}

// Cancel stops a running task or removes a pending one. Either way the task is
// recorded as failed with ErrCancelled. Returns false for unknown or finished tasks.
func (s *TaskScheduler) Cancel(taskID string) bool {
	var ok bool
	if err := s.do(func() { ok = s.cancel(taskID) }); err != nil {
		return false
	}
	return ok
}

// Status reports where a task currently is.
func (s *TaskScheduler) Status(taskID string) TaskStatus {
	st := TaskStatus{ID: taskID, State: TaskNotFound}
	_ = s.do(func() { st = s.status(taskID) })
	return st
}

// Statuses reports several tasks from one consistent snapshot.
func (s *TaskScheduler) Statuses(taskIDs []string) []TaskStatus {
	out := make([]TaskStatus, len(taskIDs))
	for i, id := range taskIDs {
		out[i] = TaskStatus{ID: id, State: TaskNotFound}
	}
	_ = s.do(func() {
		for i, id := range taskIDs {
			out[i] = s.status(id)
		}
	})
	return out
}

// Advance dispatches every ready task that fits under the concurrency ceiling.
func (s *TaskScheduler) Advance() {
	_ = s.do(s.advance)
}

// QueueStatus returns per-pool counts.
func (s *TaskScheduler) QueueStatus() QueueStatus {
	var qs QueueStatus
	_ = s.do(func() { qs = s.queueStatus() })
	return qs
}

// ClearHistory forgets completed and failed tasks. Pending tasks that still
// depend on a forgotten completed task will never become ready.
func (s *TaskScheduler) ClearHistory() {
	_ = s.do(func() {
		s.completed = make(map[string]any)
		s.failed = make(map[string]error)
		s.logger.Debug().Msg("Cleared task history")
	})
}

// AddListener registers fn to be called on the loop goroutine whenever a task
// settles. fn must return quickly and must not call back into the scheduler.
func (s *TaskScheduler) AddListener(fn func(Outcome)) {
	_ = s.do(func() { s.listeners = append(s.listeners, fn) })
}

// do runs fn on the loop goroutine and waits for it.
func (s *TaskScheduler) do(fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case s.requests <- req:
	case <-s.done:
		return ErrClosed
	}
	<-req.done
	return nil
}

// post hands an outcome to the loop. Dropped once the loop is gone.
func (s *TaskScheduler) post(o outcomeMsg) {
	select {
	case s.outcomes <- o:
	case <-s.done:
	}
}

func (s *TaskScheduler) loop() {
	defer close(s.done)

	for {
		select {
		case req := <-s.requests:
			req.fn()
			close(req.done)
		case o := <-s.outcomes:
			s.apply(o)
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

func (s *TaskScheduler) shutdown() {
	s.baseCancel(ErrClosed)

	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		exec := s.running[id]
		delete(s.running, id)
		s.record(id, nil, ErrClosed, exec.started)
	}
	s.logger.Info().Int("pending", len(s.pending)).Msg("Scheduler stopped")
}

func (s *TaskScheduler) known(id string) bool {
	if _, ok := s.pending[id]; ok {
		return true
	}
	if _, ok := s.running[id]; ok {
		return true
	}
	if _, ok := s.completed[id]; ok {
		return true
	}
	_, ok := s.failed[id]
	return ok
}

func (s *TaskScheduler) schedule(batch ...*Task) error {
	seen := make(map[string]bool, len(batch))
	for _, t := range batch {
		if seen[t.ID] || s.known(t.ID) {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		seen[t.ID] = true
	}

	now := time.Now()
	for _, t := range batch {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.Timeout <= 0 {
			t.Timeout = s.cfg.DefaultTimeout
		}

		s.seq++
		s.pending[t.ID] = &pendingTask{task: t, seq: s.seq}
		s.logger.Info().
			Str("task_id", t.ID).
			Stringer("priority", t.Priority).
			Strs("dependencies", t.Dependencies).
			Msg("Scheduled task")
		s.publish(events.TopicTask, events.TaskScheduledEvent{
			ID:           t.ID,
			Priority:     t.Priority.String(),
			Dependencies: t.Dependencies,
			Timestamp:    now,
		})
	}

	s.failDependents()
	s.advance()
	return nil
}

func (s *TaskScheduler) cancel(id string) bool {
	if exec, ok := s.running[id]; ok {
		delete(s.running, id)
		exec.cancel(ErrCancelled)
		s.logger.Info().Str("task_id", id).Msg("Cancelled running task")
		s.settle(id, nil, ErrCancelled, exec.started)
		s.advance()
		return true
	}
	if _, ok := s.pending[id]; ok {
		delete(s.pending, id)
		s.logger.Info().Str("task_id", id).Msg("Cancelled scheduled task")
		s.settle(id, nil, ErrCancelled, time.Time{})
		s.advance()
		return true
	}
	return false
}

func (s *TaskScheduler) status(id string) TaskStatus {
	if result, ok := s.completed[id]; ok {
		return TaskStatus{ID: id, State: TaskCompleted, Result: result}
	}
	if err, ok := s.failed[id]; ok {
		return TaskStatus{ID: id, State: TaskFailed, Err: err}
	}
	if _, ok := s.running[id]; ok {
		return TaskStatus{ID: id, State: TaskRunning}
	}
	if _, ok := s.pending[id]; ok {
		return TaskStatus{ID: id, State: TaskScheduled}
	}
	return TaskStatus{ID: id, State: TaskNotFound}
}

func (s *TaskScheduler) queueStatus() QueueStatus {
	return QueueStatus{
		Scheduled: len(s.pending),
		Running:   len(s.running),
		Completed: len(s.completed),
		Failed:    len(s.failed),
	}
}

// unresolved returns the first dependency not yet completed, or nil.
func (s *TaskScheduler) unresolved(t *Task) error {
	for _, dep := range t.Dependencies {
		if _, ok := s.completed[dep]; !ok {
			return &DependencyError{TaskID: t.ID, Dependency: dep}
		}
	}
	return nil
}

// readyTasks returns pending tasks whose dependencies are all completed, ordered
// by priority (desc), creation time (asc) and submission order (asc).
func (s *TaskScheduler) readyTasks() []*pendingTask {
	ready := make([]*pendingTask, 0, len(s.pending))
	for _, p := range s.pending {
		if s.unresolved(p.task) != nil {
			continue
		}
		ready = append(ready, p)
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.task.Priority != b.task.Priority {
			return a.task.Priority > b.task.Priority
		}
		if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
			return a.task.CreatedAt.Before(b.task.CreatedAt)
		}
		return a.seq < b.seq
	})
	return ready
}

func (s *TaskScheduler) advance() {
	if s.busy >= s.cfg.MaxConcurrent {
		return
	}
	for _, p := range s.readyTasks() {
		if s.busy >= s.cfg.MaxConcurrent {
			return
		}
		s.dispatch(p.task)
	}
}

func (s *TaskScheduler) dispatch(t *Task) {
	delete(s.pending, t.ID)

	ctx, cancel := context.WithCancelCause(s.baseCtx)
	ctx, stop := context.WithTimeoutCause(ctx, t.Timeout, &TimeoutError{TaskID: t.ID, Timeout: t.Timeout})

	exec := &execution{task: t, started: time.Now(), cancel: cancel}
	s.running[t.ID] = exec
	s.busy++

	s.logger.Debug().Str("task_id", t.ID).Dur("timeout", t.Timeout).Msg("Dispatching task")
	s.publish(events.TopicTask, events.TaskStartedEvent{
		ID:        t.ID,
		Priority:  t.Priority.String(),
		Timestamp: exec.started,
	})

	go s.supervise(ctx, exec, func() {
		stop()
		cancel(nil)
	})
}

// supervise runs the handler and enforces its timeout. When the context ends
// first the task settles immediately, but the worker slot is only released once
// the handler returns; Task.Kill is tried after the kill grace period.
func (s *TaskScheduler) supervise(ctx context.Context, exec *execution, release func()) {
	defer release()
	t := exec.task

	results := make(chan handlerResult, 1)
	go func() {
		results <- invoke(ctx, t)
	}()

	select {
	case r := <-results:
		err := r.err
		if err != nil && ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		s.post(outcomeMsg{exec: exec, result: r.value, err: err, settled: true, released: true})
		return
	case <-ctx.Done():
		s.post(outcomeMsg{exec: exec, err: context.Cause(ctx), settled: true})
	}

	if t.Kill != nil {
		grace := time.NewTimer(s.cfg.KillGrace)
		defer grace.Stop()

		select {
		case <-results:
			s.post(outcomeMsg{exec: exec, released: true})
			return
		case <-grace.C:
			if err := t.Kill(); err != nil {
				s.logger.Warn().Err(err).Str("task_id", t.ID).Msg("Kill failed")
			} else {
				s.logger.Warn().Str("task_id", t.ID).Msg("Killed task that ignored cancellation")
			}
		}
	}

	<-results
	s.post(outcomeMsg{exec: exec, released: true})
}

func invoke(ctx context.Context, t *Task) (res handlerResult) {
	defer func() {
		if r := recover(); r != nil {
			res = handlerResult{err: &HandlerError{TaskID: t.ID, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()

	value, err := t.Handler(ctx)
	if err != nil {
		return handlerResult{err: &HandlerError{TaskID: t.ID, Err: err}}
	}
	return handlerResult{value: value}
}

func (s *TaskScheduler) apply(o outcomeMsg) {
	if o.released {
		s.busy--
	}
	if o.settled {
		id := o.exec.task.ID
		// Cancel and Close settle tasks themselves; their late outcomes are stale.
		if cur, ok := s.running[id]; ok && cur == o.exec {
			delete(s.running, id)
			s.settle(id, o.result, o.err, o.exec.started)
		}
	}
	s.advance()
}

// settle records a terminal outcome and applies the dependency policy.
func (s *TaskScheduler) settle(id string, result any, err error, started time.Time) {
	s.record(id, result, err, started)
	if err != nil {
		s.failDependents()
	}
}

func (s *TaskScheduler) record(id string, result any, err error, started time.Time) {
	now := time.Now()
	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = now.Sub(started)
	}

	if err == nil {
		s.completed[id] = result
		s.logger.Info().Str("task_id", id).Dur("duration", elapsed).Msg("Task completed successfully")
		s.publish(events.TopicTask, events.TaskCompletedEvent{ID: id, Result: result, Duration: elapsed, Timestamp: now})
	} else {
		s.failed[id] = err
		if errors.Is(err, ErrCancelled) {
			s.publish(events.TopicTask, events.TaskCancelledEvent{ID: id, Timestamp: now})
		} else {
			s.logger.Error().Err(err).Str("task_id", id).Dur("duration", elapsed).Msg("Task failed")
			s.publish(events.TopicTask, events.TaskFailedEvent{ID: id, Err: err, Duration: elapsed, Timestamp: now})
		}
	}

	out := Outcome{TaskID: id, Result: result, Err: err}
	for _, fn := range s.listeners {
		fn(out)
	}

	qs := s.queueStatus()
	s.publish(events.TopicQueue, events.QueueProgressEvent{
		Scheduled: qs.Scheduled,
		Running:   qs.Running,
		Completed: qs.Completed,
		Failed:    qs.Failed,
		Timestamp: now,
	})
}

// failDependents fails pending tasks that depend on a failed task, repeating
// until no more tasks are affected. No-op under DependentsWait.
func (s *TaskScheduler) failDependents() {
	if s.cfg.DependencyPolicy != DependentsFail {
		return
	}

	for {
		var victims []*DependencyError
		for id, p := range s.pending {
			for _, dep := range p.task.Dependencies {
				if _, failed := s.failed[dep]; failed {
					victims = append(victims, &DependencyError{TaskID: id, Dependency: dep, Failed: true})
					break
				}
			}
		}
		if len(victims) == 0 {
			return
		}

		sort.Slice(victims, func(i, j int) bool { return victims[i].TaskID < victims[j].TaskID })
		for _, v := range victims {
			delete(s.pending, v.TaskID)
			s.record(v.TaskID, nil, v, time.Time{})
		}
	}
}

func (s *TaskScheduler) publish(topic string, event events.Event) {
	if s.bus != nil {
		s.bus.Publish(topic, event)
	}
}
