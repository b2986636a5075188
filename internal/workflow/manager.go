package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/module"
	"github.com/aristath/conductor/internal/scheduler"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.With().Str("component", "workflow").Logger()
	}
}

// WithEventBus publishes workflow and step events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithRetryConfig sets the backoff between step attempts.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(m *Manager) {
		m.retry = cfg
	}
}

// WithBreakers runs modules through the given circuit breakers.
func WithBreakers(breakers *module.BreakerRegistry) Option {
	return func(m *Manager) {
		m.breakers = breakers
	}
}

// stepRun is the runtime bookkeeping of one step.
type stepRun struct {
	step        Step
	taskID      string // Current task id, empty before the first submission
	submissions int    // Task ids issued so far
	attempts    int    // Failed attempts counted against RetryCount
	charged     string // Task id whose failure was last counted
	settled     bool
	err         error // Last failure
	backoff     *backoff.ExponentialBackOff
	retryTimer  *time.Timer
	retryGen    int
}

// run is the runtime state of one workflow.
type run struct {
	wf    *Workflow
	graph *stepGraph
	steps map[string]*stepRun
	err   error
	done  chan struct{} // Closed on reaching a terminal state
}

type taskRef struct {
	workflowID string
	step       string
}

type liveInstance struct {
	workflowID string
	inst       *module.Instance
}

// Manager creates workflows, turns their steps into scheduler tasks and
// drives workflow lifecycle transitions. Workflow state is guarded by mu;
// task outcomes reach the manager through an unbounded mailbox drained by a
// single goroutine, so the scheduler loop never waits on the manager.
type Manager struct {
	sched    *scheduler.TaskScheduler
	registry *module.Registry
	breakers *module.BreakerRegistry
	bus      *events.EventBus
	logger   zerolog.Logger
	retry    RetryConfig

	mu        sync.Mutex
	runs      map[string]*run
	tasks     map[string]taskRef
	instances map[string]liveInstance // Task id -> running module instance

	mbMu    sync.Mutex
	mailbox []scheduler.Outcome
	signal  chan struct{}

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a manager that submits tasks to sched and resolves
// modules from reg.
func NewManager(sched *scheduler.TaskScheduler, reg *module.Registry, opts ...Option) *Manager {
	m := &Manager{
		sched:     sched,
		registry:  reg,
		logger:    log.Logger.With().Str("component", "workflow").Logger(),
		retry:     DefaultRetryConfig(),
		runs:      make(map[string]*run),
		tasks:     make(map[string]taskRef),
		instances: make(map[string]liveInstance),
		signal:    make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.breakers == nil {
		m.breakers = module.NewBreakerRegistry(module.BreakerConfig{})
	}

	sched.AddListener(m.enqueue)
	go m.drain()
	return m
}

// Close stops outcome processing and pending retries. The scheduler is not closed.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.quit)
	})
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		for _, sr := range r.steps {
			stopRetry(sr)
		}
	}
	return nil
}

// Create registers a new workflow in the created state.
func (m *Manager) Create(name, description string, steps []Step) (string, error) {
	return m.create(name, description, steps, nil)
}

// CreateFromTemplate registers a new workflow from a template, metadata included.
func (m *Manager) CreateFromTemplate(t *Template) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: nil template", ErrInvalidWorkflow)
	}
	return m.create(t.Name, t.Description, t.Steps, t.Metadata)
}

func (m *Manager) create(name, description string, steps []Step, metadata map[string]any) (string, error) {
	normalized := make([]Step, len(steps))
	for i, s := range steps {
		s = s.clone()
		if s.Timeout <= 0 {
			s.Timeout = DefaultStepTimeout
		}
		if s.RetryCount < 0 {
			s.RetryCount = 0
		}
		normalized[i] = s
	}

	graph, err := buildGraph(normalized)
	if err != nil {
		return "", err
	}

	wf := &Workflow{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Steps:       normalized,
		CreatedAt:   time.Now(),
		State:       StateCreated,
		Results:     make(map[string]any),
		Metadata:    maps.Clone(metadata),
	}
	if wf.Metadata == nil {
		wf.Metadata = make(map[string]any)
	}

	r := &run{
		wf:    wf,
		graph: graph,
		steps: make(map[string]*stepRun, len(normalized)),
		done:  make(chan struct{}),
	}
	for _, s := range normalized {
		r.steps[s.Key()] = &stepRun{step: s, backoff: m.retry.newBackOff()}
	}

	m.mu.Lock()
	m.runs[wf.ID] = r
	m.mu.Unlock()

	m.logger.Info().Str("workflow_id", wf.ID).Str("name", name).Int("steps", len(normalized)).Msg("Created workflow")
	m.publish(events.WorkflowStateEvent{
		WorkflowID:  wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		To:          string(StateCreated),
		Timestamp:   wf.CreatedAt,
	})
	return wf.ID, nil
}

// Start submits one task per step.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	if r.wf.State != StateCreated {
		return &InvalidStateError{WorkflowID: id, Op: "start", State: r.wf.State}
	}

	m.transition(r, StateRunning)
	if err := m.submit(r, r.graph.order...); err != nil {
		m.fail(r, err)
		return err
	}
	return nil
}

// Pause cancels outstanding tasks of a running workflow. Results of steps that
// already completed are kept.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	if r.wf.State != StateRunning {
		return &InvalidStateError{WorkflowID: id, Op: "pause", State: r.wf.State}
	}

	m.transition(r, StatePaused)
	m.reconcile(r, false)
	m.cancelOutstanding(r)
	return nil
}

// Resume resubmits every unsettled step of a paused workflow under fresh task ids.
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	if r.wf.State != StatePaused {
		return &InvalidStateError{WorkflowID: id, Op: "resume", State: r.wf.State}
	}

	m.transition(r, StateRunning)
	// Tasks may have finished on their own between Pause and their cancellation.
	m.reconcile(r, true)
	if r.wf.State != StateRunning {
		return nil
	}
	var keys []string
	for _, key := range r.graph.order {
		if !r.steps[key].settled {
			keys = append(keys, key)
		}
	}
	if err := m.submit(r, keys...); err != nil {
		m.fail(r, err)
		return err
	}
	m.maybeComplete(r)
	return nil
}

// Cancel stops a workflow in any non-terminal state and cleans up live module
// instances. Cleanup failures are logged.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	r, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if r.wf.State.Terminal() {
		m.mu.Unlock()
		return &InvalidStateError{WorkflowID: id, Op: "cancel", State: r.wf.State}
	}

	m.transition(r, StateCancelled)
	m.cancelOutstanding(r)

	var live []*module.Instance
	for _, li := range m.instances {
		if li.workflowID == id {
			live = append(live, li.inst)
		}
	}
	m.mu.Unlock()

	// Module cleanup may block, so it runs outside the lock.
	var g errgroup.Group
	for _, inst := range live {
		g.Go(func() error {
			if err := inst.Cleanup(); err != nil {
				m.logger.Warn().Err(err).Str("workflow_id", id).Str("module", inst.Module).Msg("Module cleanup failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// Status reports the workflow state and the scheduler status of each step's
// current task.
func (m *Manager) Status(id string) (WorkflowStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(id)
	if err != nil {
		return WorkflowStatus{}, err
	}

	keys := make([]string, 0, len(r.steps))
	taskIDs := make([]string, 0, len(r.steps))
	for _, key := range r.graph.order {
		if sr := r.steps[key]; sr.taskID != "" {
			keys = append(keys, key)
			taskIDs = append(taskIDs, sr.taskID)
		}
	}

	st := WorkflowStatus{
		ID:        r.wf.ID,
		Name:      r.wf.Name,
		State:     r.wf.State,
		Steps:     make(map[string]scheduler.TaskStatus, len(r.steps)),
		Results:   maps.Clone(r.wf.Results),
		CreatedAt: r.wf.CreatedAt,
	}
	if r.err != nil {
		st.Error = r.err.Error()
	}
	for key := range r.steps {
		st.Steps[key] = scheduler.TaskStatus{State: scheduler.TaskNotFound}
	}
	for i, ts := range m.sched.Statuses(taskIDs) {
		key := keys[i]
		sr := r.steps[key]
		if ts.State == scheduler.TaskNotFound && sr.settled {
			// Scheduler history was cleared; fall back to what the manager recorded.
			ts = settledStatus(r, sr)
		}
		if ts.State == scheduler.TaskScheduled {
			st.PendingTasks++
		}
		st.Steps[key] = ts
	}
	return st, nil
}

func settledStatus(r *run, sr *stepRun) scheduler.TaskStatus {
	if sr.err != nil {
		return scheduler.TaskStatus{ID: sr.taskID, State: scheduler.TaskFailed, Err: sr.err}
	}
	return scheduler.TaskStatus{ID: sr.taskID, State: scheduler.TaskCompleted, Result: r.wf.Results[sr.step.Key()]}
}

// Get returns a snapshot of a workflow.
func (m *Manager) Get(id string) (Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(id)
	if err != nil {
		return Workflow{}, err
	}
	return r.wf.snapshot(), nil
}

// List returns snapshots of all workflows ordered by creation time.
func (m *Manager) List() []Workflow {
	m.mu.Lock()
	out := make([]Workflow, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.wf.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove evicts a workflow in a terminal state.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !r.wf.State.Terminal() {
		return &InvalidStateError{WorkflowID: id, Op: "remove", State: r.wf.State}
	}
	for taskID, ref := range m.tasks {
		if ref.workflowID == id {
			delete(m.tasks, taskID)
		}
	}
	delete(m.runs, id)
	return nil
}

// Wait blocks until the workflow reaches a terminal state or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (WorkflowStatus, error) {
	m.mu.Lock()
	r, err := m.lookup(id)
	m.mu.Unlock()
	if err != nil {
		return WorkflowStatus{}, err
	}

	select {
	case <-r.done:
		return m.Status(id)
	case <-ctx.Done():
		return WorkflowStatus{}, ctx.Err()
	}
}

func (m *Manager) lookup(id string) (*run, error) {
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// submit hands steps to the scheduler as one batch, each under a fresh task
// id. Dependencies on steps that already settled are dropped; the rest point
// at the current task id of the dependency, so keys must be in topological
// order. Callers hold mu.
func (m *Manager) submit(r *run, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tasks := make([]scheduler.Task, len(keys))
	previous := make([]string, len(keys))
	for i, key := range keys {
		sr := r.steps[key]
		previous[i] = sr.taskID
		sr.submissions++
		taskID := r.wf.ID + "/" + key
		if sr.submissions > 1 {
			taskID = fmt.Sprintf("%s#%d", taskID, sr.submissions)
		}
		sr.taskID = taskID

		var deps []string
		for _, dep := range sr.step.Dependencies {
			if dsr := r.steps[dep]; !dsr.settled {
				deps = append(deps, dsr.taskID)
			}
		}

		tasks[i] = scheduler.Task{
			ID:           taskID,
			Handler:      m.handler(r.wf.ID, taskID, sr.step.clone()),
			Priority:     sr.step.Priority,
			Dependencies: deps,
			Timeout:      sr.step.Timeout,
			Kill:         func() error { return m.kill(taskID) },
		}
	}

	if _, err := m.sched.ScheduleAll(tasks); err != nil {
		for i, key := range keys {
			r.steps[key].taskID = previous[i]
		}
		return fmt.Errorf("submit steps of workflow %s: %w", r.wf.ID, err)
	}

	now := time.Now()
	for i, key := range keys {
		sr := r.steps[key]
		m.tasks[sr.taskID] = taskRef{workflowID: r.wf.ID, step: key}
		m.logger.Debug().
			Str("workflow_id", r.wf.ID).
			Str("step", key).
			Str("task_id", sr.taskID).
			Strs("dependencies", tasks[i].Dependencies).
			Msg("Submitted step")
		m.publish(events.StepSubmittedEvent{
			WorkflowID: r.wf.ID,
			Step:       key,
			Module:     sr.step.ModuleName,
			Task:       sr.taskID,
			Attempt:    sr.attempts + 1,
			Timestamp:  now,
		})
	}
	return nil
}

// handler configures a fresh module instance per attempt and runs it through
// the module's circuit breaker. The instance is tracked until it returns so
// that Cancel can clean it up and Kill can reach it.
func (m *Manager) handler(workflowID, taskID string, step Step) scheduler.HandlerFunc {
	return func(ctx context.Context) (any, error) {
		h, err := m.registry.Resolve(step.ModuleName, module.Config(step.Config))
		if err != nil {
			return nil, err
		}
		inst := module.NewInstance(step.ModuleName, h)

		m.mu.Lock()
		m.instances[taskID] = liveInstance{workflowID: workflowID, inst: inst}
		m.mu.Unlock()
		defer func() {
			m.mu.Lock()
			delete(m.instances, taskID)
			m.mu.Unlock()
			if err := inst.Cleanup(); err != nil {
				m.logger.Warn().Err(err).Str("task_id", taskID).Str("module", step.ModuleName).Msg("Module cleanup failed")
			}
		}()

		stop := context.AfterFunc(ctx, inst.Cancel)
		defer stop()

		return m.breakers.Run(ctx, step.ModuleName, inst)
	}
}

func (m *Manager) kill(taskID string) error {
	m.mu.Lock()
	li, ok := m.instances[taskID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return li.inst.Kill()
}

func (m *Manager) enqueue(o scheduler.Outcome) {
	m.mbMu.Lock()
	m.mailbox = append(m.mailbox, o)
	m.mbMu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *Manager) drain() {
	defer close(m.done)

	for {
		select {
		case <-m.quit:
			return
		case <-m.signal:
		}

		for {
			m.mbMu.Lock()
			batch := m.mailbox
			m.mailbox = nil
			m.mbMu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, o := range batch {
				m.handleOutcome(o)
			}
		}
	}
}

func (m *Manager) handleOutcome(o scheduler.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.tasks[o.TaskID]
	if !ok {
		return
	}
	r, ok := m.runs[ref.workflowID]
	if !ok || r.wf.State != StateRunning {
		return
	}
	sr := r.steps[ref.step]
	if sr.settled || sr.taskID != o.TaskID {
		return // Superseded by a newer submission
	}

	if o.Err == nil {
		m.succeed(r, sr, o.Result)
		m.maybeComplete(r)
		return
	}
	// The failed dependency's own retry decision governs its dependents.
	if errors.Is(o.Err, scheduler.ErrDependencyFailed) {
		return
	}
	m.stepFailed(r, sr, o.Err)
}

func (m *Manager) succeed(r *run, sr *stepRun, result any) {
	key := sr.step.Key()
	sr.settled = true
	sr.err = nil
	r.wf.Results[key] = result

	m.logger.Info().Str("workflow_id", r.wf.ID).Str("step", key).Msg("Step completed")
	m.publish(events.StepSettledEvent{
		WorkflowID: r.wf.ID,
		Step:       key,
		Task:       sr.taskID,
		Attempts:   sr.attempts + 1,
		Result:     result,
		Timestamp:  time.Now(),
	})
}

// chargeFailure counts a failure of the current task against RetryCount and
// reports whether another attempt is allowed.
func (sr *stepRun) chargeFailure(err error) bool {
	sr.attempts++
	sr.err = err
	sr.charged = sr.taskID
	return sr.attempts <= sr.step.RetryCount
}

func (m *Manager) stepFailed(r *run, sr *stepRun, err error) {
	key := sr.step.Key()
	if sr.chargeFailure(err) {
		delay := nextDelay(sr.backoff)
		m.logger.Warn().
			Err(err).
			Str("workflow_id", r.wf.ID).
			Str("step", key).
			Int("attempt", sr.attempts).
			Int("retry_count", sr.step.RetryCount).
			Dur("delay", delay).
			Msg("Step failed, retrying")
		m.scheduleRetry(r, sr, delay)
		return
	}
	m.giveUp(r, sr, err, true)
}

// giveUp settles a step whose retries are exhausted. A step that may fail
// alone settles as failed, releasing its dependents when release is set;
// otherwise the workflow fails.
func (m *Manager) giveUp(r *run, sr *stepRun, err error, release bool) {
	key := sr.step.Key()
	m.logger.Error().Err(err).Str("workflow_id", r.wf.ID).Str("step", key).Int("attempts", sr.attempts).Msg("Step failed")
	m.publish(events.StepSettledEvent{
		WorkflowID: r.wf.ID,
		Step:       key,
		Task:       sr.taskID,
		Attempts:   sr.attempts,
		Err:        err,
		Timestamp:  time.Now(),
	})

	if sr.step.ContinueOnFailure {
		sr.settled = true
		if release {
			// Dependents were blocked on the failed task; release them without it.
			if err := m.resubmit(r, key, false); err != nil {
				m.fail(r, err)
				return
			}
		}
		m.maybeComplete(r)
		return
	}
	m.fail(r, &StepError{Step: key, Attempts: sr.attempts, Err: err})
}

func (m *Manager) scheduleRetry(r *run, sr *stepRun, delay time.Duration) {
	stopRetry(sr)
	sr.retryGen++
	gen := sr.retryGen
	workflowID, key := r.wf.ID, sr.step.Key()
	sr.retryTimer = time.AfterFunc(delay, func() {
		m.retryStep(workflowID, key, gen)
	})
}

func stopRetry(sr *stepRun) {
	if sr.retryTimer != nil {
		sr.retryTimer.Stop()
		sr.retryTimer = nil
	}
}

func (m *Manager) retryStep(workflowID, key string, gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.quit:
		return
	default:
	}

	r, ok := m.runs[workflowID]
	if !ok || r.wf.State != StateRunning {
		return
	}
	sr := r.steps[key]
	if sr.settled || sr.retryGen != gen || sr.retryTimer == nil {
		return
	}
	sr.retryTimer = nil

	if err := m.resubmit(r, key, true); err != nil {
		m.fail(r, err)
	}
}

// resubmit replaces the tasks of every unsettled step that transitively
// depends on key, plus key itself when self is set, so that they point at
// current task ids.
func (m *Manager) resubmit(r *run, key string, self bool) error {
	var keys []string
	if self {
		keys = append(keys, key)
	}
	for _, dkey := range r.graph.downstream(key) {
		dsr := r.steps[dkey]
		if dsr.settled {
			continue
		}
		if dsr.taskID != "" {
			m.sched.Cancel(dsr.taskID)
		}
		keys = append(keys, dkey)
	}
	return m.submit(r, keys...)
}

// reconcile applies outcomes that have not been processed yet: results of
// completed tasks and, with failures set, failures of tasks that ended on
// their own rather than by cancellation. Failures never schedule a retry
// timer here; the caller resubmits unsettled steps itself.
func (m *Manager) reconcile(r *run, failures bool) {
	var pending []*stepRun
	var ids []string
	for _, key := range r.graph.order {
		if sr := r.steps[key]; !sr.settled && sr.taskID != "" {
			pending = append(pending, sr)
			ids = append(ids, sr.taskID)
		}
	}
	if len(ids) == 0 {
		return
	}
	for i, ts := range m.sched.Statuses(ids) {
		sr := pending[i]
		switch {
		case r.wf.State.Terminal():
			return
		case ts.State == scheduler.TaskCompleted:
			m.succeed(r, sr, ts.Result)
		case failures && ts.State == scheduler.TaskFailed && sr.charged != sr.taskID &&
			!errors.Is(ts.Err, scheduler.ErrCancelled) && !errors.Is(ts.Err, scheduler.ErrDependencyFailed):
			if !sr.chargeFailure(ts.Err) {
				m.giveUp(r, sr, ts.Err, false)
			}
		}
	}
}

func (m *Manager) maybeComplete(r *run) {
	if r.wf.State != StateRunning {
		return
	}
	for _, sr := range r.steps {
		if !sr.settled {
			return
		}
	}
	m.transition(r, StateCompleted)
}

func (m *Manager) fail(r *run, cause error) {
	r.err = cause
	m.transition(r, StateFailed)
	m.cancelOutstanding(r)
}

// cancelOutstanding cancels unsettled steps, dependents before the steps they
// depend on, so that each reports its own cancellation.
func (m *Manager) cancelOutstanding(r *run) {
	for i := len(r.graph.order) - 1; i >= 0; i-- {
		sr := r.steps[r.graph.order[i]]
		stopRetry(sr)
		if !sr.settled && sr.taskID != "" {
			m.sched.Cancel(sr.taskID)
		}
	}
}

func (m *Manager) transition(r *run, to State) {
	from := r.wf.State
	r.wf.State = to

	ev := m.logger.Info().Str("workflow_id", r.wf.ID).Str("from", string(from)).Str("to", string(to))
	if r.err != nil && to == StateFailed {
		ev = ev.Err(r.err)
	}
	ev.Msg("Workflow state changed")

	event := events.WorkflowStateEvent{
		WorkflowID:  r.wf.ID,
		Name:        r.wf.Name,
		Description: r.wf.Description,
		From:        string(from),
		To:          string(to),
		Timestamp:   time.Now(),
	}
	if to == StateFailed {
		event.Err = r.err
	}
	m.publish(event)
	if to.Terminal() {
		close(r.done)
	}
}

func (m *Manager) publish(event events.Event) {
	if m.bus != nil {
		m.bus.Publish(events.TopicWorkflow, event)
	}
}

// TaskWorkflow returns the workflow id and step key encoded in a task id
// issued by a Manager.
func TaskWorkflow(taskID string) (workflowID, step string, ok bool) {
	workflowID, rest, ok := strings.Cut(taskID, "/")
	if !ok {
		return "", "", false
	}
	step, _, _ = strings.Cut(rest, "#")
	return workflowID, step, true
}
