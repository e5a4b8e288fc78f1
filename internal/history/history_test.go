package history

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ravenhall/lodestar/internal/calendar"
	"github.com/ravenhall/lodestar/internal/task"
)

// entryFor builds the entry recording a duration change on one task.
func entryFor(id string, from, to int) *Entry {
	mk := func(dur int) task.Event {
		return task.Event{
			Type:     task.EventTaskUpdated,
			TargetID: id,
			Task: &task.Task{
				ID: id, SortKey: "k" + id, RowType: task.RowTask,
				ConstraintType: task.ASAP, Mode: task.ModeAuto, Duration: dur,
			},
		}
	}
	return &Entry{
		Label:    fmt.Sprintf("duration %d", to),
		Forward:  []task.Event{mk(to)},
		Backward: []task.Event{mk(from)},
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	t.Parallel()
	h := New(0)

	h.Record(entryFor("a", 1, 2))
	h.Record(entryFor("a", 2, 3))

	e, err := h.Undo()
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if e.Label != "duration 3" {
		t.Errorf("undid %q, want newest entry", e.Label)
	}
	if !h.CanRedo() {
		t.Error("redo unavailable after undo")
	}

	e, err = h.Redo()
	if err != nil {
		t.Fatalf("Redo: %v", err)
	}
	if e.Label != "duration 3" {
		t.Errorf("redid %q", e.Label)
	}
	if h.CanRedo() {
		t.Error("redo still available after redoing everything")
	}
}

func TestEmptyStacks(t *testing.T) {
	t.Parallel()
	h := New(0)
	if _, err := h.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Undo on empty: %v", err)
	}
	if _, err := h.Redo(); !errors.Is(err, ErrNothingToRedo) {
		t.Errorf("Redo on empty: %v", err)
	}
}

func TestRecordClearsRedo(t *testing.T) {
	t.Parallel()
	h := New(0)
	h.Record(entryFor("a", 1, 2))
	h.Record(entryFor("a", 2, 3))
	if _, err := h.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	// A fresh edit forks history: the undone branch is gone.
	h.Record(entryFor("a", 2, 9))
	if h.CanRedo() {
		t.Error("redo survived a new record")
	}
}

func TestBoundedEviction(t *testing.T) {
	t.Parallel()
	h := New(3)
	for i := 0; i < 5; i++ {
		h.Record(entryFor("a", i, i+1))
	}
	if h.Depth() != 3 {
		t.Fatalf("depth = %d, want 3", h.Depth())
	}

	// Only the newest three survive; the oldest were evicted FIFO.
	for _, want := range []string{"duration 5", "duration 4", "duration 3"} {
		e, err := h.Undo()
		if err != nil {
			t.Fatalf("Undo: %v", err)
		}
		if e.Label != want {
			t.Errorf("undid %q, want %q", e.Label, want)
		}
	}
	if _, err := h.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("evicted entries still undoable: %v", err)
	}
}

func TestCompositeFoldsIntoOneEntry(t *testing.T) {
	t.Parallel()
	h := New(0)

	// A bulk delete: several removals recorded under one composite, undone
	// as a single step that restores every task.
	h.BeginComposite("delete 3 tasks")
	for _, id := range []string{"a", "b", "c"} {
		h.Record(&Entry{
			Forward:  []task.Event{{Type: task.EventTaskRemoved, TargetID: id}},
			Backward: []task.Event{{Type: task.EventTaskAdded, TargetID: id, Task: &task.Task{ID: id, SortKey: "k" + id, RowType: task.RowTask, ConstraintType: task.ASAP, Mode: task.ModeAuto}}},
		})
	}
	if err := h.EndComposite(); err != nil {
		t.Fatalf("EndComposite: %v", err)
	}
	if h.Depth() != 1 {
		t.Fatalf("depth = %d, want 1 composite entry", h.Depth())
	}

	e, err := h.Undo()
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if e.Label != "delete 3 tasks" {
		t.Errorf("label = %q", e.Label)
	}
	if len(e.Backward) != 3 {
		t.Fatalf("backward events = %d, want 3", len(e.Backward))
	}

	// Applying the composite's backward events restores all three tasks.
	state := &task.State{Tasks: task.NewSet(), Calendar: calendar.Default()}
	for _, ev := range e.Backward {
		if err := state.Apply(ev); err != nil {
			t.Fatalf("apply backward: %v", err)
		}
	}
	for _, id := range []string{"a", "b", "c"} {
		if state.Tasks.Get(id) == nil {
			t.Errorf("task %s not restored by composite undo", id)
		}
	}
}

func TestCompositeBackwardOrderIsNewestFirst(t *testing.T) {
	t.Parallel()
	h := New(0)
	h.BeginComposite("two edits")
	h.Record(entryFor("a", 1, 2))
	h.Record(entryFor("a", 2, 3))
	if err := h.EndComposite(); err != nil {
		t.Fatalf("EndComposite: %v", err)
	}

	e, err := h.Undo()
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	// Undo must land on the pre-composite value: last backward applied wins.
	last := e.Backward[len(e.Backward)-1]
	if last.Task.Duration != 1 {
		t.Errorf("final backward duration = %d, want original 1", last.Task.Duration)
	}
}

func TestCompositeGuards(t *testing.T) {
	t.Parallel()
	h := New(0)
	if err := h.EndComposite(); !errors.Is(err, ErrNoComposite) {
		t.Errorf("EndComposite without begin: %v", err)
	}
	if _, err := h.CancelComposite(); !errors.Is(err, ErrNoComposite) {
		t.Errorf("CancelComposite without begin: %v", err)
	}

	h.BeginComposite("open")
	if _, err := h.Undo(); !errors.Is(err, ErrCompositeOpen) {
		t.Errorf("Undo with open composite: %v", err)
	}
	if _, err := h.Redo(); !errors.Is(err, ErrCompositeOpen) {
		t.Errorf("Redo with open composite: %v", err)
	}

	rolled, err := h.CancelComposite()
	if err != nil {
		t.Fatalf("CancelComposite: %v", err)
	}
	if rolled == nil {
		t.Fatal("cancelled composite not returned")
	}
	if h.Depth() != 0 {
		t.Error("cancelled composite was recorded")
	}
}

func TestDropRemovesRejectedEntry(t *testing.T) {
	t.Parallel()
	h := New(0)
	first := entryFor("a", 1, 2)
	rejected := entryFor("a", 2, 3)
	h.Record(first)
	h.Record(rejected)

	h.Drop(rejected)
	if h.Depth() != 1 {
		t.Fatalf("depth = %d, want 1 after drop", h.Depth())
	}
	e, err := h.Undo()
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if e != first {
		t.Errorf("undid %q, want the surviving entry", e.Label)
	}

	// Dropping an unknown entry is a no-op.
	h.Drop(entryFor("b", 0, 1))
}

func TestRevertUndoRestoresStackPosition(t *testing.T) {
	t.Parallel()
	h := New(0)
	entry := entryFor("a", 1, 2)
	h.Record(entry)

	e, err := h.Undo()
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}

	// The undo's backward events were rejected: the entry goes back where it
	// was, as if Undo had never been called.
	h.RevertUndo(e)
	if h.CanRedo() {
		t.Error("reverted undo left the entry on the redo stack")
	}
	again, err := h.Undo()
	if err != nil {
		t.Fatalf("Undo after revert: %v", err)
	}
	if again != entry {
		t.Errorf("undid %q, want the reverted entry back on top", again.Label)
	}
}

func TestRevertRedoRestoresStackPosition(t *testing.T) {
	t.Parallel()
	h := New(0)
	entry := entryFor("a", 1, 2)
	h.Record(entry)
	if _, err := h.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	e, err := h.Redo()
	if err != nil {
		t.Fatalf("Redo: %v", err)
	}
	h.RevertRedo(e)
	if h.CanUndo() {
		t.Error("reverted redo left the entry on the undo stack")
	}
	again, err := h.Redo()
	if err != nil {
		t.Fatalf("Redo after revert: %v", err)
	}
	if again != entry {
		t.Errorf("redid %q, want the reverted entry back on top", again.Label)
	}
}

func TestEmptyCompositeRecordsNothing(t *testing.T) {
	t.Parallel()
	h := New(0)
	h.BeginComposite("noop")
	if err := h.EndComposite(); err != nil {
		t.Fatalf("EndComposite: %v", err)
	}
	if h.Depth() != 0 {
		t.Errorf("depth = %d, want 0 for empty composite", h.Depth())
	}
}
