// Package ui renders schedules for the terminal: the task table, the
// critical path, and the summary line. Rendering is pure string building so
// the cmd layer decides where output goes.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ravenhall/lodestar/internal/engine"
	"github.com/ravenhall/lodestar/internal/task"
)

// dateLayout is how schedule dates render in tables.
const dateLayout = "Jan 02 2006"

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	criticalStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	conflictStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle      = lipgloss.NewStyle().Faint(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// Renderer produces terminal output for a schedule. The zero value renders
// with color; set Plain for pipes and tests.
type Renderer struct {
	Plain bool
}

func (r Renderer) style(s lipgloss.Style, text string) string {
	if r.Plain {
		return text
	}
	return s.Render(text)
}

// Table renders the full schedule as an aligned table in display order.
// Blank rows render as empty separators; child tasks are indented under
// their parents.
func (r Renderer) Table(tasks []*task.Task) string {
	headers := []string{"TASK", "DUR", "START", "END", "FLOAT", "STATUS"}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		if t.RowType == task.RowBlank {
			rows = append(rows, []string{"", "", "", "", "", ""})
			continue
		}
		rows = append(rows, []string{
			strings.Repeat("  ", t.Level) + t.Name,
			fmt.Sprintf("%dd", t.Duration),
			formatDate(t.Start),
			formatDate(t.End),
			fmt.Sprintf("%d", t.TotalFloat),
			r.status(t),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for i, h := range headers {
		b.WriteString(r.style(headerStyle, pad(h, widths[i])))
		if i < len(headers)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteByte('\n')
	for ri, row := range rows {
		line := make([]string, len(row))
		for i, cell := range row {
			line[i] = pad(cell, widths[i])
		}
		text := strings.TrimRight(strings.Join(line, "  "), " ")
		if t := tasks[ri]; t.Critical && t.RowType != task.RowBlank {
			text = r.style(criticalStyle, text)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

// CriticalPath renders the critical tasks in schedule order, one per line.
func (r Renderer) CriticalPath(tasks []*task.Task) string {
	var b strings.Builder
	b.WriteString(r.style(headerStyle, "Critical path"))
	b.WriteByte('\n')
	n := 0
	for _, t := range tasks {
		if !t.Critical || t.RowType != task.RowTask {
			continue
		}
		n++
		b.WriteString(fmt.Sprintf("  %s  %s → %s\n",
			r.style(criticalStyle, t.Name), formatDate(t.Start), formatDate(t.End)))
	}
	if n == 0 {
		b.WriteString(r.style(dimStyle, "  (no critical tasks)"))
		b.WriteByte('\n')
	}
	return b.String()
}

// Summary renders the one-line schedule statistics.
func (r Renderer) Summary(stats engine.Stats) string {
	parts := []string{
		fmt.Sprintf("%d tasks", stats.TaskCount),
		fmt.Sprintf("%s → %s", formatDate(stats.ProjectStart), formatDate(stats.ProjectFinish)),
		fmt.Sprintf("%d critical", stats.CriticalCount),
	}
	line := strings.Join(parts, "  ·  ")
	if stats.ConflictCount > 0 {
		line += "  ·  " + r.style(conflictStyle, fmt.Sprintf("%d conflicts", stats.ConflictCount))
	} else {
		line += "  ·  " + r.style(okStyle, "no conflicts")
	}
	return line + "\n"
}

// Conflicts renders every over-constrained task with its constraint, or an
// all-clear line.
func (r Renderer) Conflicts(tasks []*task.Task) string {
	var b strings.Builder
	n := 0
	for _, t := range tasks {
		if !t.ConstraintConflict {
			continue
		}
		n++
		detail := string(t.ConstraintType)
		if t.ConstraintDate != nil {
			detail += " " + t.ConstraintDate.Format(dateLayout)
		}
		if t.Mode == task.ModeManual {
			detail = "manual pin"
		}
		b.WriteString(fmt.Sprintf("  %s  %s\n", r.style(conflictStyle, t.Name), r.style(dimStyle, detail)))
	}
	if n == 0 {
		return r.style(okStyle, "No scheduling conflicts.") + "\n"
	}
	return r.style(headerStyle, fmt.Sprintf("%d conflicted tasks", n)) + "\n" + b.String()
}

func (r Renderer) status(t *task.Task) string {
	switch {
	case t.ConstraintConflict:
		return r.style(conflictStyle, "conflict")
	case t.Critical:
		return r.style(criticalStyle, "critical")
	case t.Health == task.HealthLate:
		return r.style(conflictStyle, "late")
	case t.Progress >= 100:
		return r.style(okStyle, "done")
	default:
		return r.style(dimStyle, "ok")
	}
}

func formatDate(d time.Time) string {
	if d.IsZero() {
		return "-"
	}
	return d.Format(dateLayout)
}

func pad(s string, w int) string {
	if n := w - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
