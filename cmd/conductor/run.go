package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aristath/conductor/internal/events"
	"github.com/aristath/conductor/internal/tui"
	"github.com/aristath/conductor/internal/workflow"
)

// shutdownTimeout bounds how long a cancelled run may take to settle.
const shutdownTimeout = 10 * time.Second

type runOptions struct {
	progress bool      // Show the live progress view
	out      io.Writer // Where the progress view renders
}

func newRunCmd(c *cli) *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "run <template>",
		Short: "Run a workflow template and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := runTemplate(ctx, c, args[0], runOptions{progress: progress, out: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			tui.RenderStatus(cmd.OutOrStdout(), st)
			if st.State != workflow.StateCompleted {
				return errWorkflowNotCompleted
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "Show live progress while the workflow runs")
	return cmd
}

// runTemplate executes the template at path until it settles or ctx is done.
// On cancellation the workflow is cancelled and every tracked subprocess killed.
func runTemplate(ctx context.Context, c *cli, path string, opts runOptions) (workflow.WorkflowStatus, error) {
	tpl, err := workflow.LoadTemplate(path)
	if err != nil {
		return workflow.WorkflowStatus{}, err
	}

	e, err := newEngine(ctx, c.cfg)
	if err != nil {
		return workflow.WorkflowStatus{}, err
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	id, err := e.manager.CreateFromTemplate(tpl)
	if err != nil {
		return workflow.WorkflowStatus{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.progress {
		wf, err := e.manager.Get(id)
		if err != nil {
			return workflow.WorkflowStatus{}, err
		}
		view := startProgress(e.bus, wf, opts.out, cancel)
		defer view.stop()
	}

	if err := e.manager.Start(id); err != nil {
		return workflow.WorkflowStatus{}, err
	}
	log.Info().Str("workflow_id", id).Str("name", tpl.Name).Int("steps", len(tpl.Steps)).Msg("Workflow started")

	st, err := e.manager.Wait(ctx, id)
	if err == nil {
		return st, nil
	}

	log.Info().Str("workflow_id", id).Msg("Shutdown signal received, cancelling workflow")
	if err := e.manager.Cancel(id); err != nil {
		log.Warn().Err(err).Str("workflow_id", id).Msg("Cancel failed")
	}
	if err := e.procs.KillAll(); err != nil {
		log.Warn().Err(err).Msg("Error killing subprocesses")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	st, err = e.manager.Wait(shutdownCtx, id)
	if err != nil {
		return workflow.WorkflowStatus{}, fmt.Errorf("workflow %s did not settle after cancellation: %w", id, err)
	}
	return st, nil
}

// progressView runs the Bubble Tea progress program next to a workflow.
type progressView struct {
	bus  *events.EventBus
	sub  <-chan events.Event
	prog *tea.Program
	done chan struct{}
}

// startProgress subscribes before the workflow starts. Quitting the view
// with q or ctrl+c calls interrupt.
func startProgress(bus *events.EventBus, wf workflow.Workflow, out io.Writer, interrupt context.CancelFunc) *progressView {
	sub := bus.SubscribeAll(256)
	v := &progressView{
		bus:  bus,
		sub:  sub,
		prog: tea.NewProgram(tui.New(sub, wf), tea.WithOutput(out)),
		done: make(chan struct{}),
	}
	go func() {
		defer close(v.done)
		final, err := v.prog.Run()
		if err != nil {
			log.Warn().Err(err).Msg("Progress view failed")
			return
		}
		if m, ok := final.(tui.Model); ok && m.Interrupted() {
			interrupt()
		}
	}()
	return v
}

func (v *progressView) stop() {
	v.prog.Quit()
	<-v.done
	v.bus.Unsubscribe(v.sub)
}
