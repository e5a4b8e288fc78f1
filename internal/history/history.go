// Package history implements the undo/redo stack over the mutation-event
// vocabulary. Each entry pairs the forward events that performed an edit with
// the backward events that revert it; composites fold a burst of edits (a
// bulk delete, a multi-row paste) into one entry so a single undo reverts the
// whole burst.
package history

import (
	"errors"

	"github.com/ravenhall/lodestar/internal/task"
)

// DefaultLimit bounds the undo stack when the caller does not choose one.
const DefaultLimit = 100

// ErrNothingToUndo is returned by Undo on an empty undo stack.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrNothingToRedo is returned by Redo on an empty redo stack.
var ErrNothingToRedo = errors.New("nothing to redo")

// ErrCompositeOpen is returned when Undo or Redo is called while a composite
// is being accumulated.
var ErrCompositeOpen = errors.New("composite in progress")

// ErrNoComposite is returned by EndComposite and CancelComposite without a
// matching BeginComposite.
var ErrNoComposite = errors.New("no composite in progress")

// Entry is one undoable step: forward events to reapply on redo, backward
// events to apply on undo. Both lists are ordered for direct application.
type Entry struct {
	Label    string
	Forward  []task.Event
	Backward []task.Event
}

// History is the bounded undo/redo stack. It is not safe for concurrent use;
// the reconciling controller serializes access.
type History struct {
	limit     int
	undo      []*Entry
	redo      []*Entry
	composite *Entry
}

// New returns an empty history bounded to limit entries. Non-positive limits
// fall back to DefaultLimit.
func New(limit int) *History {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &History{limit: limit}
}

// Record pushes one entry. Recording clears the redo stack; the oldest entry
// is evicted once the stack exceeds its bound. While a composite is open the
// entry is folded into it instead.
func (h *History) Record(e *Entry) {
	if len(e.Forward) == 0 && len(e.Backward) == 0 {
		return
	}
	if h.composite != nil {
		h.composite.Forward = append(h.composite.Forward, e.Forward...)
		// Undoing a composite replays the reverts newest-first, so each
		// folded entry's backward events go in front of the accumulated ones.
		h.composite.Backward = append(append([]task.Event(nil), e.Backward...), h.composite.Backward...)
		return
	}
	h.undo = append(h.undo, e)
	h.redo = nil
	if len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
}

// BeginComposite starts accumulating subsequent Record calls into a single
// entry labeled for the user. Nested calls are absorbed into the open one.
func (h *History) BeginComposite(label string) {
	if h.composite != nil {
		return
	}
	h.composite = &Entry{Label: label}
}

// EndComposite closes the open composite and records it as one entry. An
// empty composite records nothing.
func (h *History) EndComposite() error {
	if h.composite == nil {
		return ErrNoComposite
	}
	e := h.composite
	h.composite = nil
	h.Record(e)
	return nil
}

// CancelComposite discards the open composite and returns it so the caller
// can apply its backward events to roll the accumulated edits back.
func (h *History) CancelComposite() (*Entry, error) {
	if h.composite == nil {
		return nil, ErrNoComposite
	}
	e := h.composite
	h.composite = nil
	return e, nil
}

// Undo pops the newest entry, moves it to the redo stack, and returns it.
// The caller applies the entry's backward events.
func (h *History) Undo() (*Entry, error) {
	if h.composite != nil {
		return nil, ErrCompositeOpen
	}
	if len(h.undo) == 0 {
		return nil, ErrNothingToUndo
	}
	e := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, e)
	return e, nil
}

// Redo pops the newest undone entry, moves it back to the undo stack, and
// returns it. The caller applies the entry's forward events.
func (h *History) Redo() (*Entry, error) {
	if h.composite != nil {
		return nil, ErrCompositeOpen
	}
	if len(h.redo) == 0 {
		return nil, ErrNothingToRedo
	}
	e := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, e)
	return e, nil
}

// Drop removes the given entry from the undo stack, if present. The
// reconciling controller uses this when an optimistically recorded edit is
// rejected downstream and rolled back: the entry must not stay undoable.
func (h *History) Drop(e *Entry) {
	h.undo = remove(h.undo, e)
}

// RevertUndo puts an entry popped by Undo back on top of the undo stack and
// takes it off the redo stack. Used when applying the entry's backward events
// failed: the step never happened, so it must stay undoable.
func (h *History) RevertUndo(e *Entry) {
	h.redo = remove(h.redo, e)
	h.undo = append(h.undo, e)
}

// RevertRedo puts an entry popped by Redo back on top of the redo stack and
// takes it off the undo stack.
func (h *History) RevertRedo(e *Entry) {
	h.undo = remove(h.undo, e)
	h.redo = append(h.redo, e)
}

func remove(entries []*Entry, e *Entry) []*Entry {
	for i, cur := range entries {
		if cur == e {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

// CanUndo reports whether Undo would succeed.
func (h *History) CanUndo() bool { return h.composite == nil && len(h.undo) > 0 }

// CanRedo reports whether Redo would succeed.
func (h *History) CanRedo() bool { return h.composite == nil && len(h.redo) > 0 }

// Depth returns the number of entries on the undo stack.
func (h *History) Depth() int { return len(h.undo) }
