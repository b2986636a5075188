package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/conductor/internal/module"
	"github.com/aristath/conductor/internal/persistence"
	"github.com/aristath/conductor/internal/scheduler"
	"github.com/aristath/conductor/internal/workflow"
)

// Title writes text underlined to its rendered width.
func Title(w io.Writer, text string) {
	t := StyleTitle.Render(text)
	fmt.Fprintln(w, t)
	fmt.Fprintln(w, strings.Repeat("=", lipgloss.Width(t)))
}

// Table writes rows with columns padded to their widest cell. Cells may
// carry styling; widths are measured without escape sequences.
func Table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string) {
		padded := make([]string, len(cells))
		for i, cell := range cells {
			if i == len(cells)-1 {
				padded[i] = cell
				continue
			}
			padded[i] = lipgloss.NewStyle().Width(widths[i] + 2).Render(cell)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(padded, ""), " "))
	}

	muted := make([]string, len(header))
	for i, h := range header {
		muted[i] = StyleHelp.Render(h)
	}
	line(muted)
	for _, row := range rows {
		line(row)
	}
}

// RenderStatus prints the final status of a workflow run.
func RenderStatus(w io.Writer, st workflow.WorkflowStatus) {
	Title(w, fmt.Sprintf("Workflow %s (%s)", st.Name, st.ID))
	fmt.Fprintf(w, "State: %s\n", StateStyle(string(st.State)).Render(string(st.State)))
	if st.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", StyleStatusFailed.Render(st.Error))
	}
	fmt.Fprintln(w)

	keys := make([]string, 0, len(st.Steps))
	for k := range st.Steps {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var completed, failed int
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		ts := st.Steps[k]
		state := ts.State.String()
		if ts.State == scheduler.TaskNotFound {
			state = "not submitted"
		}
		switch ts.State {
		case scheduler.TaskCompleted:
			completed++
		case scheduler.TaskFailed:
			failed++
		}
		detail := ""
		if ts.Err != nil {
			detail = ts.Err.Error()
		} else if ts.Result != nil {
			detail = summarize(ts.Result)
		}
		rows = append(rows, []string{k, StateStyle(ts.State.String()).Render(state), ts.ID, detail})
	}
	Table(w, []string{"STEP", "STATE", "TASK", "DETAIL"}, rows)

	fmt.Fprintf(w, "\nCompleted: %s  Failed: %s  Pending: %s\n",
		StyleStatusComplete.Render(fmt.Sprint(completed)),
		StyleStatusFailed.Render(fmt.Sprint(failed)),
		StyleStatusPending.Render(fmt.Sprint(st.PendingTasks)))
}

// RenderModules lists registered modules with their descriptions.
func RenderModules(w io.Writer, reg *module.Registry) {
	var rows [][]string
	for _, name := range reg.Names() {
		desc, _ := reg.Describe(name)
		rows = append(rows, []string{name, desc})
	}
	Table(w, []string{"MODULE", "DESCRIPTION"}, rows)
}

// RenderRuns lists recorded workflow runs.
func RenderRuns(w io.Writer, runs []*persistence.WorkflowRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, StyleHelp.Render("No recorded runs"))
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.Name,
			StateStyle(r.State).Render(r.State),
			r.CreatedAt.Local().Format(time.DateTime),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Millisecond).String(),
		})
	}
	Table(w, []string{"ID", "NAME", "STATE", "CREATED", "DURATION"}, rows)
}

// RenderRun prints one recorded run with its steps and task outcomes.
func RenderRun(w io.Writer, wf *persistence.WorkflowRecord, tasks []persistence.TaskRecord) {
	Title(w, fmt.Sprintf("Workflow %s (%s)", wf.Name, wf.ID))
	if wf.Description != "" {
		fmt.Fprintln(w, wf.Description)
	}
	fmt.Fprintf(w, "State: %s\n", StateStyle(wf.State).Render(wf.State))
	if wf.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", StyleStatusFailed.Render(wf.Error))
	}
	fmt.Fprintln(w)

	steps := make([][]string, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		detail := s.Error
		if detail == "" {
			detail = truncate(s.Result, 60)
		}
		steps = append(steps, []string{s.Step, s.Module, StateStyle(s.State).Render(s.State), fmt.Sprint(s.Attempts), detail})
	}
	Table(w, []string{"STEP", "MODULE", "STATE", "ATTEMPTS", "DETAIL"}, steps)

	if len(tasks) == 0 {
		return
	}
	fmt.Fprintln(w)
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{t.TaskID, StateStyle(t.State).Render(t.State), t.Duration.Round(time.Millisecond).String(), t.Error})
	}
	Table(w, []string{"TASK", "STATE", "DURATION", "ERROR"}, rows)
}

func summarize(v any) string {
	return truncate(strings.Join(strings.Fields(fmt.Sprint(v)), " "), 60)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
