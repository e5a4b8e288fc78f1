package task

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTask(id, parent, sortKey string) *Task {
	return &Task{
		ID:             id,
		ParentID:       parent,
		SortKey:        sortKey,
		RowType:        RowTask,
		Name:           id,
		Duration:       1,
		ConstraintType: ASAP,
		Mode:           ModeAuto,
	}
}

func TestSetBasics(t *testing.T) {
	t.Parallel()
	s := NewSet()

	if err := s.Add(newTask("a", "", "i")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(newTask("a", "", "j")); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("duplicate add: got %v, want ErrDuplicateTask", err)
	}
	if err := s.Remove("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("remove missing: got %v, want ErrTaskNotFound", err)
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after removal, want 0", s.Len())
	}
}

func TestSetOrdered(t *testing.T) {
	t.Parallel()

	t.Run("hierarchy and sort keys", func(t *testing.T) {
		t.Parallel()
		s := NewSet(
			newTask("b", "", "r"),
			newTask("a", "", "i"),
			newTask("a2", "a", "r"),
			newTask("a1", "a", "i"),
			newTask("a1x", "a1", "i"),
		)
		got := s.IDs()
		want := []string{"a", "a1", "a1x", "a2", "b"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Ordered IDs mismatch (-want +got):\n%s", diff)
		}

		levels := map[string]int{}
		for _, task := range s.Ordered() {
			levels[task.ID] = task.Level
		}
		wantLevels := map[string]int{"a": 0, "a1": 1, "a1x": 2, "a2": 1, "b": 0}
		if diff := cmp.Diff(wantLevels, levels); diff != "" {
			t.Errorf("levels mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing parent becomes root", func(t *testing.T) {
		t.Parallel()
		s := NewSet(newTask("orphan", "ghost", "i"))
		ordered := s.Ordered()
		if len(ordered) != 1 || ordered[0].Level != 0 {
			t.Errorf("orphan not treated as root: %+v", ordered)
		}
	})

	t.Run("cyclic parent chain does not hang", func(t *testing.T) {
		t.Parallel()
		a := newTask("a", "b", "i")
		b := newTask("b", "a", "r")
		s := NewSet(a, b)
		if got := len(s.Ordered()); got != 2 {
			t.Errorf("Ordered returned %d tasks, want 2", got)
		}
	})
}

func TestSetCloneIsolation(t *testing.T) {
	t.Parallel()
	orig := NewSet(newTask("a", "", "i"))
	clone := orig.Clone()
	clone.Get("a").Name = "changed"
	if orig.Get("a").Name != "a" {
		t.Error("Clone shares task memory with the original")
	}
}
