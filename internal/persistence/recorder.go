package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aristath/conductor/internal/events"
)

const recorderBufSize = 1024

// Recorder writes workflow, step and task events from an event bus into a
// Store. Write failures are logged and do not stop recording.
type Recorder struct {
	store  Store
	bus    *events.EventBus
	sub    <-chan events.Event
	logger zerolog.Logger
	done   chan struct{}
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the recorder logger.
func WithRecorderLogger(logger zerolog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger.With().Str("component", "recorder").Logger()
	}
}

// NewRecorder subscribes to bus and starts recording into store.
func NewRecorder(store Store, bus *events.EventBus, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		bus:    bus,
		logger: log.Logger.With().Str("component", "recorder").Logger(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sub = bus.SubscribeAll(recorderBufSize)
	go r.run()
	return r
}

// Close stops recording after every event already delivered is written.
func (r *Recorder) Close() error {
	r.bus.Unsubscribe(r.sub)
	<-r.done
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.sub {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.record(ctx, e); err != nil {
			r.logger.Warn().Err(err).Str("event", e.EventType()).Str("task_id", e.TaskID()).Msg("Failed to record event")
		}
		cancel()
	}
}

func (r *Recorder) record(ctx context.Context, e events.Event) error {
	switch ev := e.(type) {
	case events.WorkflowStateEvent:
		rec := &WorkflowRecord{
			ID:          ev.WorkflowID,
			Name:        ev.Name,
			Description: ev.Description,
			State:       ev.To,
			Error:       errString(ev.Err),
			UpdatedAt:   ev.Timestamp,
		}
		if ev.From == "" {
			rec.CreatedAt = ev.Timestamp
		}
		return r.store.SaveWorkflow(ctx, rec)

	case events.StepSubmittedEvent:
		return r.store.SaveStep(ctx, &StepRecord{
			WorkflowID: ev.WorkflowID,
			Step:       ev.Step,
			Module:     ev.Module,
			TaskID:     ev.Task,
			State:      StepSubmitted,
			Attempts:   ev.Attempt - 1,
			UpdatedAt:  ev.Timestamp,
		})

	case events.StepSettledEvent:
		st := &StepRecord{
			WorkflowID: ev.WorkflowID,
			Step:       ev.Step,
			TaskID:     ev.Task,
			State:      StepCompleted,
			Attempts:   ev.Attempts,
			UpdatedAt:  ev.Timestamp,
		}
		if ev.Err != nil {
			st.State = StepFailed
			st.Error = ev.Err.Error()
		} else {
			st.Result = encodeResult(ev.Result)
		}
		return r.store.SaveStep(ctx, st)

	case events.TaskCompletedEvent:
		return r.store.RecordTask(ctx, &TaskRecord{TaskID: ev.ID, State: TaskCompleted, Duration: ev.Duration, FinishedAt: ev.Timestamp})
	case events.TaskFailedEvent:
		return r.store.RecordTask(ctx, &TaskRecord{TaskID: ev.ID, State: TaskFailed, Error: errString(ev.Err), Duration: ev.Duration, FinishedAt: ev.Timestamp})
	case events.TaskCancelledEvent:
		return r.store.RecordTask(ctx, &TaskRecord{TaskID: ev.ID, State: TaskCancelled, FinishedAt: ev.Timestamp})
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// encodeResult stores results as JSON, falling back to their printed form.
func encodeResult(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return string(data)
}
