package task

import (
	"errors"
	"fmt"

	"github.com/ravenhall/lodestar/internal/calendar"
)

// EventType identifies a mutation in the vocabulary shared by the edit
// policy, the history manager, the journal, and the calculation actor.
type EventType string

const (
	// EventTaskAdded inserts Event.Task into the set.
	EventTaskAdded EventType = "task_added"
	// EventTaskUpdated replaces the task identified by TargetID with
	// Event.Task (full raw-field replacement).
	EventTaskUpdated EventType = "task_updated"
	// EventTaskRemoved deletes the task identified by TargetID.
	EventTaskRemoved EventType = "task_removed"
	// EventTasksReplaced swaps the whole task set for Event.Tasks.
	EventTasksReplaced EventType = "tasks_replaced"
	// EventCalendarUpdated replaces the calendar with Event.Calendar.
	EventCalendarUpdated EventType = "calendar_updated"
)

// ErrUnknownEvent is returned when applying an event of an unknown type.
var ErrUnknownEvent = errors.New("unknown event type")

// Event is one atomic mutation of raw project state. Events are pure data:
// applying the same sequence to the same starting state always produces the
// same result, which is what makes history replay and journal recovery work.
type Event struct {
	Type     EventType          `json:"type"`
	TargetID string             `json:"targetId,omitempty"`
	Task     *Task              `json:"task,omitempty"`
	Tasks    []*Task            `json:"tasks,omitempty"`
	Calendar *calendar.Calendar `json:"calendar,omitempty"`
}

// State is the raw project state the mutation vocabulary operates on: the
// task set plus the calendar. The calculation actor owns the canonical State;
// the reconciling controller owns an optimistic mirror of it.
type State struct {
	Tasks    *Set
	Calendar calendar.Calendar
}

// NewState returns an empty state with the given calendar.
func NewState(cal calendar.Calendar) *State {
	return &State{Tasks: NewSet(), Calendar: cal}
}

// Clone deep-copies the state.
func (s *State) Clone() *State {
	return &State{Tasks: s.Tasks.Clone(), Calendar: s.Calendar.Clone()}
}

// Apply mutates the state with one event. On error the state is unchanged.
func (s *State) Apply(ev Event) error {
	switch ev.Type {
	case EventTaskAdded:
		if ev.Task == nil {
			return fmt.Errorf("task: %s event without task payload", ev.Type)
		}
		return s.Tasks.Add(ev.Task.Clone())

	case EventTaskUpdated:
		id := ev.TargetID
		if id == "" && ev.Task != nil {
			id = ev.Task.ID
		}
		if s.Tasks.Get(id) == nil {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		if ev.Task == nil {
			return fmt.Errorf("task: %s event without task payload", ev.Type)
		}
		s.Tasks.Put(ev.Task.Clone())
		return nil

	case EventTaskRemoved:
		return s.Tasks.Remove(ev.TargetID)

	case EventTasksReplaced:
		replacement := make([]*Task, len(ev.Tasks))
		for i, t := range ev.Tasks {
			replacement[i] = t.Clone()
		}
		s.Tasks.ReplaceAll(replacement)
		return nil

	case EventCalendarUpdated:
		if ev.Calendar == nil {
			return fmt.Errorf("task: %s event without calendar payload", ev.Type)
		}
		s.Calendar = ev.Calendar.Clone()
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
}
