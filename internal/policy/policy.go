// Package policy translates raw per-field edits into validated mutations of
// the task set. Each rule produces a forward/backward event pair (the
// history and journal vocabulary), a flag saying whether the edit requires a
// recalculation, and an optional user-facing message. Rejected edits return
// a validation error with a human-readable reason and touch nothing.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/ravenhall/lodestar/internal/calendar"
	"github.com/ravenhall/lodestar/internal/graph"
	"github.com/ravenhall/lodestar/internal/task"
)

// Field names the editable task fields.
type Field string

// Editable fields. Values match the wire names used by the project file and
// the CLI.
const (
	FieldName           Field = "name"
	FieldNotes          Field = "notes"
	FieldDuration       Field = "duration"
	FieldStart          Field = "start"
	FieldEnd            Field = "end"
	FieldActualStart    Field = "actualStart"
	FieldActualFinish   Field = "actualFinish"
	FieldConstraintType Field = "constraintType"
	FieldConstraintDate Field = "constraintDate"
	FieldMode           Field = "mode"
	FieldProgress       Field = "progress"
	FieldDependencies   Field = "dependencies"
)

// ErrValidation is the family of edit rejections. All policy errors wrap it
// so callers can distinguish "bad edit" from infrastructure failures.
var ErrValidation = errors.New("invalid edit")

// ErrUnknownField is returned for a field the policy does not know.
var ErrUnknownField = fmt.Errorf("%w: unknown field", ErrValidation)

// ErrBadValue is returned when the edit value has the wrong type for the
// field.
var ErrBadValue = fmt.Errorf("%w: wrong value type", ErrValidation)

// Edit is one raw user edit: set Field of TaskID to Value. Value must carry
// the field's natural type (int for duration/progress, time.Time for dates,
// string for text, task.ConstraintType / task.Mode / []task.Dependency for
// the structured fields).
type Edit struct {
	TaskID string
	Field  Field
	Value  any
}

// Change is a validated mutation ready for the reconciling controller:
// forward events to apply, backward events that undo them, whether the
// engine must rerun, and an optional message for the user.
type Change struct {
	Forward     []task.Event
	Backward    []task.Event
	NeedsRecalc bool
	Message     string
}

// Apply validates one edit against the current task set and produces the
// resulting Change. The set itself is never modified here; applying the
// forward events is the controller's job.
func Apply(s *task.Set, cal calendar.Calendar, e Edit) (*Change, error) {
	before := s.Get(e.TaskID)
	if before == nil {
		return nil, fmt.Errorf("%w: %v", task.ErrTaskNotFound, e.TaskID)
	}
	if before.RowType == task.RowBlank {
		return nil, fmt.Errorf("%w: blank rows have no editable schedule", ErrValidation)
	}

	after := before.Clone()
	needsRecalc := true
	message := ""

	switch e.Field {
	case FieldName:
		v, ok := e.Value.(string)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		after.Name = v
		needsRecalc = false

	case FieldNotes:
		v, ok := e.Value.(string)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		after.Notes = v
		needsRecalc = false

	case FieldDuration:
		v, ok := e.Value.(int)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: duration must be >= 0, got %d", ErrValidation, v)
		}
		after.Duration = v

	case FieldStart:
		v, ok := e.Value.(time.Time)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		d := calendar.Date(v)
		if after.Mode == task.ModeManual {
			after.ManualStart = &d
		} else {
			// An explicit start on an auto task is a start-no-earlier-than
			// wish, not a pin.
			after.ConstraintType = task.SNET
			after.ConstraintDate = &d
		}

	case FieldEnd:
		v, ok := e.Value.(time.Time)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		d := calendar.Date(v)
		if after.Mode == task.ModeManual {
			start := manualStartOf(after)
			dur := cal.WorkdaysBetween(start, d)
			if dur < 0 {
				return nil, fmt.Errorf("%w: end %s is before start %s",
					ErrValidation, d.Format(calendar.DateKey), start.Format(calendar.DateKey))
			}
			after.Duration = dur
		} else {
			after.ConstraintType = task.FNLT
			after.ConstraintDate = &d
		}

	case FieldActualStart:
		v, ok := e.Value.(time.Time)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		d := calendar.Date(v)
		after.ActualStart = &d
		// Anchor the schedule at the observed start.
		after.ConstraintType = task.SNET
		after.ConstraintDate = &d
		if after.ActualFinish != nil {
			dur := cal.WorkdaysBetween(d, *after.ActualFinish)
			if dur < 0 {
				return nil, fmt.Errorf("%w: actual start %s is after actual finish %s",
					ErrValidation, d.Format(calendar.DateKey), after.ActualFinish.Format(calendar.DateKey))
			}
			after.Duration = dur
		}

	case FieldActualFinish:
		v, ok := e.Value.(time.Time)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		d := calendar.Date(v)
		after.ActualFinish = &d
		after.Progress = 100
		if after.ActualStart == nil {
			start := cal.AddWorkdays(d, -after.Duration)
			if !before.Start.IsZero() {
				start = before.Start
			}
			after.ActualStart = &start
		}
		if !before.End.IsZero() {
			if variance := cal.WorkdaysBetween(before.End, d); variance > 0 {
				message = fmt.Sprintf("finished %d workdays behind schedule", variance)
			} else if variance < 0 {
				message = fmt.Sprintf("finished %d workdays ahead of schedule", -variance)
			}
		}

	case FieldConstraintType:
		v, ok := e.Value.(task.ConstraintType)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		if _, err := task.ParseConstraintType(string(v)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		after.ConstraintType = v
		if v == task.ASAP {
			after.ConstraintDate = nil
		} else if after.ConstraintDate == nil {
			return nil, fmt.Errorf("%w: constraint %s requires a date", ErrValidation, v)
		}

	case FieldConstraintDate:
		switch v := e.Value.(type) {
		case time.Time:
			if !after.ConstraintType.NeedsDate() {
				return nil, fmt.Errorf("%w: constraint %s does not take a date",
					ErrValidation, after.ConstraintType)
			}
			d := calendar.Date(v)
			after.ConstraintDate = &d
		case nil:
			if after.ConstraintType.NeedsDate() {
				return nil, fmt.Errorf("%w: constraint %s requires a date",
					ErrValidation, after.ConstraintType)
			}
			after.ConstraintDate = nil
		default:
			return nil, badValue(e.Field, e.Value)
		}

	case FieldMode:
		v, ok := e.Value.(task.Mode)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		if v == after.Mode {
			needsRecalc = false
			break
		}
		switch v {
		case task.ModeAuto:
			// Preserve the pinned date across the flip with an SNET anchor.
			start := manualStartOf(after)
			after.ConstraintType = task.SNET
			after.ConstraintDate = &start
			after.ManualStart = nil
			after.Mode = task.ModeAuto
		case task.ModeManual:
			// Pin whatever the engine last computed.
			start := before.Start
			if start.IsZero() {
				start = calendar.Date(time.Now())
			}
			after.ManualStart = &start
			after.Mode = task.ModeManual
		default:
			return nil, fmt.Errorf("%w: unknown scheduling mode %q", ErrValidation, v)
		}

	case FieldProgress:
		v, ok := e.Value.(int)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		after.Progress = v
		needsRecalc = false

	case FieldDependencies:
		v, ok := e.Value.([]task.Dependency)
		if !ok {
			return nil, badValue(e.Field, e.Value)
		}
		if err := graph.ValidateDependencies(s, e.TaskID, v); err != nil {
			return nil, err
		}
		after.Dependencies = append([]task.Dependency(nil), v...)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, e.Field)
	}

	return &Change{
		Forward:     []task.Event{{Type: task.EventTaskUpdated, TargetID: after.ID, Task: after}},
		Backward:    []task.Event{{Type: task.EventTaskUpdated, TargetID: before.ID, Task: before.Clone()}},
		NeedsRecalc: needsRecalc,
		Message:     message,
	}, nil
}

// AddTask builds the Change for inserting a new task, validating its
// dependencies against the current set first.
func AddTask(s *task.Set, t *task.Task) (*Change, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("%w: task has no id", ErrValidation)
	}
	if s.Get(t.ID) != nil {
		return nil, fmt.Errorf("%w: %s", task.ErrDuplicateTask, t.ID)
	}
	if len(t.Dependencies) > 0 {
		scratch := s.Clone()
		bare := t.Clone()
		bare.Dependencies = nil
		if err := scratch.Add(bare); err != nil {
			return nil, err
		}
		if err := graph.ValidateDependencies(scratch, t.ID, t.Dependencies); err != nil {
			return nil, err
		}
	}
	return &Change{
		Forward:     []task.Event{{Type: task.EventTaskAdded, TargetID: t.ID, Task: t.Clone()}},
		Backward:    []task.Event{{Type: task.EventTaskRemoved, TargetID: t.ID}},
		NeedsRecalc: true,
	}, nil
}

// DeleteTask builds the Change for removing a task. Dependencies of other
// tasks that point at it are detached in the same change so the graph never
// holds dangling references; the backward events restore them.
func DeleteTask(s *task.Set, id string) (*Change, error) {
	victim := s.Get(id)
	if victim == nil {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}

	ch := &Change{NeedsRecalc: true}
	for _, t := range s.Ordered() {
		if t.ID == id || t.DependencyOn(id) == nil {
			continue
		}
		detached := t.Clone()
		kept := detached.Dependencies[:0]
		for _, dep := range detached.Dependencies {
			if dep.PredecessorID != id {
				kept = append(kept, dep)
			}
		}
		detached.Dependencies = kept
		ch.Forward = append(ch.Forward,
			task.Event{Type: task.EventTaskUpdated, TargetID: t.ID, Task: detached})
		ch.Backward = append(ch.Backward,
			task.Event{Type: task.EventTaskUpdated, TargetID: t.ID, Task: t.Clone()})
	}
	ch.Forward = append(ch.Forward, task.Event{Type: task.EventTaskRemoved, TargetID: id})
	ch.Backward = append(ch.Backward, task.Event{Type: task.EventTaskAdded, TargetID: id, Task: victim.Clone()})
	return ch, nil
}

// manualStartOf returns the pinned start of a manual task, falling back to
// the last computed start, then to today.
func manualStartOf(t *task.Task) time.Time {
	if t.ManualStart != nil {
		return *t.ManualStart
	}
	if !t.Start.IsZero() {
		return t.Start
	}
	return calendar.Date(time.Now())
}

func badValue(f Field, v any) error {
	return fmt.Errorf("%w: field %s got %T", ErrBadValue, f, v)
}
