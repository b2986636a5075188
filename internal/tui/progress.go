package tui

import (
	"fmt"
	"strings"
)

// progressCounts summarizes step states of one workflow.
type progressCounts struct {
	completed int
	running   int
	failed    int
	pending   int
}

func (p progressCounts) total() int {
	return p.completed + p.running + p.failed + p.pending
}

// view renders the counters and a bar of the given width.
func (p progressCounts) view(width int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Completed: %s  ", StyleStatusComplete.Render(fmt.Sprintf("%d", p.completed))))
	b.WriteString(fmt.Sprintf("Running: %s  ", StyleStatusRunning.Render(fmt.Sprintf("%d", p.running))))
	b.WriteString(fmt.Sprintf("Failed: %s  ", StyleStatusFailed.Render(fmt.Sprintf("%d", p.failed))))
	b.WriteString(fmt.Sprintf("Pending: %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", p.pending))))

	total := p.total()
	if total == 0 || width <= 2 {
		return b.String()
	}

	barWidth := width - 2
	completedWidth := barWidth * p.completed / total
	failedWidth := barWidth * p.failed / total
	runningWidth := barWidth * p.running / total
	pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
	b.WriteString("[" + bar + "]\n")
	return b.String()
}
