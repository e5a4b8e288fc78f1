// Package engine implements the Critical Path Method passes: a forward sweep
// computing earliest dates under dependency, calendar, and constraint bounds,
// a backward sweep computing latest dates, then float and the critical path.
//
// The engine is a pure function over raw task state. It never mutates its
// input: Recalculate clones the set, fills in derived fields on the clone,
// and returns the result. A cycle fails the whole pass with no partial
// state; every other condition (unsatisfiable upper-bound constraints,
// over-pinned manual tasks) degrades to a best-effort schedule with the
// affected tasks flagged.
//
// Date convention: a task occupies Duration workdays starting at Start, and
// End = AddWorkdays(Start, Duration). An FS successor with zero lag starts
// exactly at its predecessor's End.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/ravenhall/lodestar/internal/calendar"
	"github.com/ravenhall/lodestar/internal/graph"
	"github.com/ravenhall/lodestar/internal/task"
)

// Options tunes one recalculation pass.
type Options struct {
	// ProjectStart is the earliest date any unconstrained task may start.
	// Zero means "today".
	ProjectStart time.Time

	// ProjectFinishOverride, when set, replaces the derived project finish
	// as the anchor of the backward pass.
	ProjectFinishOverride *time.Time
}

// Stats aggregates one pass over the whole schedule.
type Stats struct {
	ProjectStart  time.Time `json:"projectStart"`
	ProjectFinish time.Time `json:"projectFinish"`
	TaskCount     int       `json:"taskCount"`
	CriticalCount int       `json:"criticalCount"`
	ConflictCount int       `json:"conflictCount"`
}

// Result is the output of a full pass: every task with derived fields
// populated, in display order, plus aggregate stats.
type Result struct {
	Tasks []*task.Task
	Stats Stats
}

// Recalculate runs the full CPM pass over the task set. The input set is
// never modified. Returns an error (and no result) only when the dependency
// graph is cyclic; all other conditions complete best-effort.
func Recalculate(s *task.Set, cal calendar.Calendar, opts Options) (*Result, error) {
	g := graph.Build(s)
	order, err := g.TopoOrder()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	projStart := opts.ProjectStart
	if projStart.IsZero() {
		projStart = time.Now()
	}
	projStart = cal.NextWorkday(projStart)

	work := s.Clone()
	resetDerived(work)
	forwardPass(work, g, cal, order, projStart)
	finish := projectFinish(work, g, order, opts)
	backwardPass(work, g, cal, order, finish)
	computeFloat(work, g, cal, order)

	tasks := work.Ordered()
	return &Result{Tasks: tasks, Stats: collectStats(tasks, projStart, finish)}, nil
}

// resetDerived clears every engine-owned field so rows excluded from the
// pass (blank rows in particular) never carry stale values from a previous
// calculation.
func resetDerived(work *task.Set) {
	for _, t := range work.Ordered() {
		t.Start = time.Time{}
		t.End = time.Time{}
		t.LateStart = time.Time{}
		t.LateFinish = time.Time{}
		t.TotalFloat = 0
		t.FreeFloat = 0
		t.Critical = false
		t.ConstraintConflict = false
		t.Health = task.HealthOnTrack
	}
}

// forwardPass computes Start and End in dependency order and flags
// constraint conflicts.
func forwardPass(work *task.Set, g *graph.Graph, cal calendar.Calendar, order []string, projStart time.Time) {
	for _, id := range order {
		t := work.Get(id)
		dur := effectiveDuration(t)

		// Earliest feasible start: the maximum over predecessor bounds,
		// floored at the project start.
		start := projStart
		for _, dep := range g.Predecessors(id) {
			p := work.Get(dep.PredecessorID)
			bound := startBound(cal, p, dep.Type, dep.Lag, dur)
			if bound.After(start) {
				start = bound
			}
		}
		start = cal.NextWorkday(start)

		start, end, conflict := applyOwnBounds(t, cal, start, dur)
		t.Start = start
		t.End = end
		t.ConstraintConflict = conflict
	}
}

// startBound converts one predecessor relationship into a lower bound on the
// successor's start.
func startBound(cal calendar.Calendar, pred *task.Task, link task.LinkType, lag, dur int) time.Time {
	switch link {
	case task.SS:
		return cal.AddWorkdays(pred.Start, lag)
	case task.FF:
		return cal.AddWorkdays(cal.AddWorkdays(pred.End, lag), -dur)
	case task.SF:
		return cal.AddWorkdays(cal.AddWorkdays(pred.Start, lag), -dur)
	default: // FS
		return cal.AddWorkdays(pred.End, lag)
	}
}

// applyOwnBounds applies the task's scheduling mode and date constraint to
// the predecessor-derived earliest start. It returns the settled start and
// end plus whether the task is over-constrained. Upper-bound violations
// clamp to the feasible lower bound rather than failing the pass.
func applyOwnBounds(t *task.Task, cal calendar.Calendar, start time.Time, dur int) (time.Time, time.Time, bool) {
	// Manual tasks are pinned: predecessors can flag them but never move them.
	if t.Mode == task.ModeManual && t.ManualStart != nil {
		pinned := cal.NextWorkday(*t.ManualStart)
		conflict := start.After(pinned)
		return pinned, cal.AddWorkdays(pinned, dur), conflict
	}

	ct := t.ConstraintType
	date := t.ConstraintDate
	if !ct.NeedsDate() || date == nil {
		// ASAP, or a dated constraint missing its date.
		return start, cal.AddWorkdays(start, dur), false
	}
	cd := calendar.Date(*date)

	switch ct {
	case task.SNET:
		if lower := cal.NextWorkday(cd); lower.After(start) {
			start = lower
		}
		return start, cal.AddWorkdays(start, dur), false

	case task.FNET:
		if lower := cal.AddWorkdays(cal.NextWorkday(cd), -dur); lower.After(start) {
			start = lower
		}
		return start, cal.AddWorkdays(start, dur), false

	case task.SNLT:
		return start, cal.AddWorkdays(start, dur), start.After(cd)

	case task.FNLT:
		end := cal.AddWorkdays(start, dur)
		return start, end, end.After(cd)

	case task.MFO:
		end := cal.PrevWorkday(cd)
		pinned := cal.AddWorkdays(end, -dur)
		return pinned, end, start.After(pinned)
	}
	return start, cal.AddWorkdays(start, dur), false
}

// projectFinish derives the backward-pass anchor: the latest End among tasks
// without successors, raised to the overall latest End if some interior task
// finishes later (possible under SF/FF links), or the explicit override.
func projectFinish(work *task.Set, g *graph.Graph, order []string, opts Options) time.Time {
	if opts.ProjectFinishOverride != nil {
		return calendar.Date(*opts.ProjectFinishOverride)
	}
	var finish time.Time
	for _, id := range order {
		t := work.Get(id)
		if len(g.Successors(id)) == 0 && t.End.After(finish) {
			finish = t.End
		}
	}
	for _, id := range order {
		if t := work.Get(id); t.End.After(finish) {
			finish = t.End
		}
	}
	return finish
}

// backwardPass computes LateStart and LateFinish in reverse dependency
// order, mirroring the forward rules: each successor imposes an upper bound,
// and the task takes the minimum.
func backwardPass(work *task.Set, g *graph.Graph, cal calendar.Calendar, order []string, finish time.Time) {
	for i := len(order) - 1; i >= 0; i-- {
		t := work.Get(order[i])
		dur := effectiveDuration(t)

		lateEnd := finish
		for _, e := range g.Successors(t.ID) {
			s := work.Get(e.SuccessorID)
			bound := finishBound(cal, s, e.Type, e.Lag, dur)
			if bound.Before(lateEnd) {
				lateEnd = bound
			}
		}

		// A pinned finish has no late-date freedom.
		if t.ConstraintType == task.MFO && t.ConstraintDate != nil {
			lateEnd = t.End
		}

		t.LateFinish = lateEnd
		t.LateStart = cal.AddWorkdays(lateEnd, -dur)
	}
}

// finishBound converts one successor relationship into an upper bound on the
// predecessor's finish.
func finishBound(cal calendar.Calendar, succ *task.Task, link task.LinkType, lag, dur int) time.Time {
	switch link {
	case task.SS:
		return cal.AddWorkdays(cal.AddWorkdays(succ.LateStart, -lag), dur)
	case task.FF:
		return cal.AddWorkdays(succ.LateFinish, -lag)
	case task.SF:
		return cal.AddWorkdays(cal.AddWorkdays(succ.LateFinish, -lag), dur)
	default: // FS
		return cal.AddWorkdays(succ.LateStart, -lag)
	}
}

// computeFloat fills TotalFloat, FreeFloat, Critical, and Health. Floats are
// clamped at zero: a negative value can only arise from an over-constrained
// task that the forward pass already flagged.
func computeFloat(work *task.Set, g *graph.Graph, cal calendar.Calendar, order []string) {
	for _, id := range order {
		t := work.Get(id)

		tf := cal.WorkdaysBetween(t.Start, t.LateStart)
		if tf < 0 {
			tf = 0
		}
		t.TotalFloat = tf

		ff := math.MaxInt
		for _, e := range g.Successors(id) {
			s := work.Get(e.SuccessorID)
			var gap int
			switch e.Type {
			case task.SS:
				gap = cal.WorkdaysBetween(t.Start, cal.AddWorkdays(s.Start, -e.Lag))
			case task.FF:
				gap = cal.WorkdaysBetween(t.End, cal.AddWorkdays(s.End, -e.Lag))
			case task.SF:
				gap = cal.WorkdaysBetween(t.Start, cal.AddWorkdays(s.End, -e.Lag))
			default: // FS
				gap = cal.WorkdaysBetween(t.End, cal.AddWorkdays(s.Start, -e.Lag))
			}
			if gap < ff {
				ff = gap
			}
		}
		if ff == math.MaxInt {
			ff = tf
		}
		if ff < 0 {
			ff = 0
		}
		t.FreeFloat = ff

		t.Critical = tf == 0
		t.Health = health(t)
	}
}

// health derives the coarse task indicator from conflict and baseline slip.
func health(t *task.Task) task.Health {
	if t.ConstraintConflict {
		return task.HealthAtRisk
	}
	if t.BaselineFinish != nil && t.End.After(calendar.Date(*t.BaselineFinish)) {
		return task.HealthLate
	}
	return task.HealthOnTrack
}

// effectiveDuration is the workday span a row occupies on the schedule.
// Phantom rows are structural and take zero time; negative durations are a
// caller contract violation but are floored defensively.
func effectiveDuration(t *task.Task) int {
	if t.RowType == task.RowPhantom {
		return 0
	}
	if t.Duration < 0 {
		return 0
	}
	return t.Duration
}

// collectStats aggregates the pass. Blank and phantom rows are excluded from
// the counters.
func collectStats(tasks []*task.Task, projStart, finish time.Time) Stats {
	st := Stats{ProjectStart: projStart, ProjectFinish: finish}
	for _, t := range tasks {
		if t.RowType != task.RowTask {
			continue
		}
		st.TaskCount++
		if t.Critical {
			st.CriticalCount++
		}
		if t.ConstraintConflict {
			st.ConflictCount++
		}
		if st.ProjectStart.IsZero() || t.Start.Before(st.ProjectStart) {
			st.ProjectStart = t.Start
		}
	}
	return st
}
