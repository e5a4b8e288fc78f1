package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ravenhall/lodestar/internal/task"
)

// spec describes one task for the test set builder: id, optional row type,
// and predecessor IDs (all FS, lag 0).
type spec struct {
	id      string
	rowType task.RowType
	preds   []string
}

func buildSet(t *testing.T, specs []spec) *task.Set {
	t.Helper()
	s := task.NewSet()
	key := ""
	for _, sp := range specs {
		next, err := task.KeyAfter(key)
		if err != nil {
			t.Fatalf("KeyAfter: %v", err)
		}
		key = next
		rt := sp.rowType
		if rt == "" {
			rt = task.RowTask
		}
		tk := &task.Task{
			ID: sp.id, Name: strings.ToUpper(sp.id), SortKey: key,
			RowType: rt, Duration: 1, ConstraintType: task.ASAP, Mode: task.ModeAuto,
		}
		for _, p := range sp.preds {
			tk.Dependencies = append(tk.Dependencies, task.Dependency{PredecessorID: p, Type: task.FS})
		}
		if err := s.Add(tk); err != nil {
			t.Fatalf("Add(%q): %v", sp.id, err)
		}
	}
	return s
}

func TestValidateEdge(t *testing.T) {
	t.Parallel()

	t.Run("self edge", func(t *testing.T) {
		t.Parallel()
		g := Build(buildSet(t, []spec{{id: "a"}}))
		err := g.ValidateEdge(Edge{PredecessorID: "a", SuccessorID: "a", Type: task.FS})
		if !errors.Is(err, ErrSelfEdge) {
			t.Errorf("got %v, want ErrSelfEdge", err)
		}
	})

	t.Run("missing endpoint", func(t *testing.T) {
		t.Parallel()
		g := Build(buildSet(t, []spec{{id: "a"}}))
		err := g.ValidateEdge(Edge{PredecessorID: "ghost", SuccessorID: "a", Type: task.FS})
		if !errors.Is(err, ErrTaskNotFound) {
			t.Errorf("got %v, want ErrTaskNotFound", err)
		}
	})

	t.Run("blank row", func(t *testing.T) {
		t.Parallel()
		g := Build(buildSet(t, []spec{{id: "a"}, {id: "gap", rowType: task.RowBlank}}))
		err := g.ValidateEdge(Edge{PredecessorID: "gap", SuccessorID: "a", Type: task.FS})
		if !errors.Is(err, ErrBlankRow) {
			t.Errorf("pred blank: got %v, want ErrBlankRow", err)
		}
		err = g.ValidateEdge(Edge{PredecessorID: "a", SuccessorID: "gap", Type: task.FS})
		if !errors.Is(err, ErrBlankRow) {
			t.Errorf("succ blank: got %v, want ErrBlankRow", err)
		}
	})

	t.Run("bad link type", func(t *testing.T) {
		t.Parallel()
		g := Build(buildSet(t, []spec{{id: "a"}, {id: "b"}}))
		if err := g.ValidateEdge(Edge{PredecessorID: "a", SuccessorID: "b", Type: "XY"}); err == nil {
			t.Error("invalid link type accepted")
		}
	})

	t.Run("valid edge", func(t *testing.T) {
		t.Parallel()
		g := Build(buildSet(t, []spec{{id: "a"}, {id: "b"}}))
		if err := g.ValidateEdge(Edge{PredecessorID: "a", SuccessorID: "b", Type: task.FS}); err != nil {
			t.Errorf("valid edge rejected: %v", err)
		}
	})
}

func TestWouldCreateCycle(t *testing.T) {
	t.Parallel()

	t.Run("direct cycle", func(t *testing.T) {
		t.Parallel()
		// b depends on a; adding "a depends on b" closes the loop.
		g := Build(buildSet(t, []spec{{id: "a"}, {id: "b", preds: []string{"a"}}}))
		if !g.WouldCreateCycle(Edge{PredecessorID: "b", SuccessorID: "a", Type: task.FS}) {
			t.Error("direct cycle not detected")
		}
	})

	t.Run("transitive cycle", func(t *testing.T) {
		t.Parallel()
		g := Build(buildSet(t, []spec{
			{id: "a"},
			{id: "b", preds: []string{"a"}},
			{id: "c", preds: []string{"b"}},
		}))
		if !g.WouldCreateCycle(Edge{PredecessorID: "c", SuccessorID: "a", Type: task.FS}) {
			t.Error("transitive cycle not detected")
		}
	})

	t.Run("diamond is fine", func(t *testing.T) {
		t.Parallel()
		g := Build(buildSet(t, []spec{
			{id: "a"},
			{id: "b", preds: []string{"a"}},
			{id: "c", preds: []string{"a"}},
		}))
		if g.WouldCreateCycle(Edge{PredecessorID: "b", SuccessorID: "c", Type: task.FS}) {
			t.Error("diamond closure misreported as cycle")
		}
	})

	t.Run("rejected edge leaves graph unchanged", func(t *testing.T) {
		t.Parallel()
		s := buildSet(t, []spec{{id: "a"}, {id: "b", preds: []string{"a"}}})
		g := Build(s)
		err := g.ValidateEdge(Edge{PredecessorID: "b", SuccessorID: "a", Type: task.FS})
		if !errors.Is(err, ErrCycle) {
			t.Fatalf("got %v, want ErrCycle", err)
		}
		if len(s.Get("a").Dependencies) != 0 {
			t.Error("rejected edge mutated the task set")
		}
		order, topoErr := Build(s).TopoOrder()
		if topoErr != nil {
			t.Fatalf("TopoOrder after rejection: %v", topoErr)
		}
		if diff := cmp.Diff([]string{"a", "b"}, order); diff != "" {
			t.Errorf("order changed after rejection (-want +got):\n%s", diff)
		}
	})
}

func TestCycleMessageNamesChain(t *testing.T) {
	t.Parallel()
	g := Build(buildSet(t, []spec{{id: "a"}, {id: "b", preds: []string{"a"}}}))
	err := g.ValidateEdge(Edge{PredecessorID: "b", SuccessorID: "a", Type: task.FS})
	if err == nil {
		t.Fatal("cycle accepted")
	}
	want := "A depends on B, which depends on A"
	if !strings.Contains(err.Error(), want) {
		t.Errorf("cycle message %q does not contain %q", err.Error(), want)
	}
}

func TestTopoOrder(t *testing.T) {
	t.Parallel()

	t.Run("dependencies come first", func(t *testing.T) {
		t.Parallel()
		s := buildSet(t, []spec{
			{id: "c", preds: []string{"a", "b"}},
			{id: "b", preds: []string{"a"}},
			{id: "a"},
		})
		order, err := Build(s).TopoOrder()
		if err != nil {
			t.Fatalf("TopoOrder: %v", err)
		}
		pos := map[string]int{}
		for i, id := range order {
			pos[id] = i
		}
		if !(pos["a"] < pos["b"] && pos["b"] < pos["c"]) {
			t.Errorf("order %v violates dependencies", order)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		s := buildSet(t, []spec{
			{id: "a"}, {id: "b"}, {id: "c"}, {id: "d", preds: []string{"a", "c"}},
		})
		first, err := Build(s).TopoOrder()
		if err != nil {
			t.Fatalf("TopoOrder: %v", err)
		}
		for i := 0; i < 5; i++ {
			again, err := Build(s).TopoOrder()
			if err != nil {
				t.Fatalf("TopoOrder: %v", err)
			}
			if diff := cmp.Diff(first, again); diff != "" {
				t.Fatalf("non-deterministic order (-first +again):\n%s", diff)
			}
		}
	})

	t.Run("blank rows excluded", func(t *testing.T) {
		t.Parallel()
		s := buildSet(t, []spec{{id: "a"}, {id: "gap", rowType: task.RowBlank}, {id: "b"}})
		order, err := Build(s).TopoOrder()
		if err != nil {
			t.Fatalf("TopoOrder: %v", err)
		}
		for _, id := range order {
			if id == "gap" {
				t.Error("blank row appeared in topological order")
			}
		}
	})

	t.Run("preexisting cycle reported", func(t *testing.T) {
		t.Parallel()
		// Force a cycle through direct construction; edits could never
		// produce this, but imported data might.
		s := buildSet(t, []spec{{id: "a", preds: []string{"b"}}, {id: "b", preds: []string{"a"}}})
		if _, err := Build(s).TopoOrder(); !errors.Is(err, ErrCycle) {
			t.Errorf("got %v, want ErrCycle", err)
		}
	})
}

func TestValidateDependencies(t *testing.T) {
	t.Parallel()

	t.Run("duplicate predecessor", func(t *testing.T) {
		t.Parallel()
		s := buildSet(t, []spec{{id: "a"}, {id: "b"}})
		deps := []task.Dependency{
			{PredecessorID: "a", Type: task.FS},
			{PredecessorID: "a", Type: task.SS},
		}
		if err := ValidateDependencies(s, "b", deps); !errors.Is(err, ErrDuplicateEdge) {
			t.Errorf("got %v, want ErrDuplicateEdge", err)
		}
	})

	t.Run("reverse of an existing edge is a cycle", func(t *testing.T) {
		t.Parallel()
		// b depends on a; giving a a dependency on b closes the loop.
		s := buildSet(t, []spec{{id: "a"}, {id: "b", preds: []string{"a"}}})
		err := ValidateDependencies(s, "a", []task.Dependency{{PredecessorID: "b", Type: task.FS}})
		if !errors.Is(err, ErrCycle) {
			t.Errorf("got %v, want ErrCycle", err)
		}
	})

	t.Run("successor's own old deps do not block the new list", func(t *testing.T) {
		t.Parallel()
		// b depends on a; replacing with [c] must validate against a set
		// where b's old edge is gone.
		s := buildSet(t, []spec{{id: "a"}, {id: "b", preds: []string{"a"}}, {id: "c"}})
		err := ValidateDependencies(s, "b", []task.Dependency{{PredecessorID: "c", Type: task.FS}})
		if err != nil {
			t.Errorf("replacement list rejected: %v", err)
		}
	})
}
