// Package graph models the precedence relationships between tasks: which
// task must respect which bound from which predecessor, through which link
// type and lag. It owns cycle detection — every dependency edit is validated
// here before it can reach the task set — and produces the deterministic
// topological order the scheduling passes walk.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ravenhall/lodestar/internal/task"
)

// ErrCycle is returned when an edge would create a dependency cycle.
var ErrCycle = errors.New("circular dependency")

// ErrTaskNotFound is returned when an edge references a task that does not
// exist in the set.
var ErrTaskNotFound = errors.New("dependency references unknown task")

// ErrSelfEdge is returned when a task would depend on itself.
var ErrSelfEdge = errors.New("task cannot depend on itself")

// ErrBlankRow is returned when an edge touches a blank row. Blank rows are
// placeholders and never participate in scheduling.
var ErrBlankRow = errors.New("blank rows cannot carry dependencies")

// ErrDuplicateEdge is returned when a task already depends on the same
// predecessor.
var ErrDuplicateEdge = errors.New("duplicate dependency")

// Edge is one directed precedence link: SuccessorID cannot violate the bound
// PredecessorID imposes through Type, shifted by Lag workdays.
type Edge struct {
	PredecessorID string
	SuccessorID   string
	Type          task.LinkType
	Lag           int
}

// Graph is the dependency view over a task set. It is rebuilt from raw task
// state before each use; the task set stays the single source of truth and
// the graph never outlives the edit it serves.
type Graph struct {
	tasks *task.Set
	// preds maps successor → its dependency list, order preserved for
	// deterministic iteration.
	preds map[string][]task.Dependency
	// succs maps predecessor → outgoing edges.
	succs map[string][]Edge
	// orderIndex fixes tie-breaks to the set's display order.
	orderIndex map[string]int
}

// Build constructs the dependency graph from the raw task set. Edges whose
// endpoints are missing or blank are dropped: they can only appear through
// external data, and the engine must not trip over them.
func Build(s *task.Set) *Graph {
	g := &Graph{
		tasks:      s,
		preds:      make(map[string][]task.Dependency),
		succs:      make(map[string][]Edge),
		orderIndex: make(map[string]int, s.Len()),
	}
	for i, t := range s.Ordered() {
		g.orderIndex[t.ID] = i
	}
	for _, t := range s.Ordered() {
		if !t.Schedulable() {
			continue
		}
		for _, dep := range t.Dependencies {
			pred := s.Get(dep.PredecessorID)
			if pred == nil || !pred.Schedulable() {
				continue
			}
			g.preds[t.ID] = append(g.preds[t.ID], dep)
			g.succs[dep.PredecessorID] = append(g.succs[dep.PredecessorID], Edge{
				PredecessorID: dep.PredecessorID,
				SuccessorID:   t.ID,
				Type:          dep.Type,
				Lag:           dep.Lag,
			})
		}
	}
	return g
}

// Predecessors returns the successor's dependency list in stored order.
func (g *Graph) Predecessors(id string) []task.Dependency {
	return g.preds[id]
}

// Successors returns the outgoing edges of the given predecessor.
func (g *Graph) Successors(id string) []Edge {
	return g.succs[id]
}

// ValidateEdge checks a candidate edge against the structural rules and
// cycle-freedom. The graph and task set are left untouched.
func (g *Graph) ValidateEdge(e Edge) error {
	if e.SuccessorID == e.PredecessorID {
		return fmt.Errorf("%w: %s", ErrSelfEdge, g.name(e.SuccessorID))
	}
	succ := g.tasks.Get(e.SuccessorID)
	if succ == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, e.SuccessorID)
	}
	pred := g.tasks.Get(e.PredecessorID)
	if pred == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, e.PredecessorID)
	}
	if succ.RowType == task.RowBlank {
		return fmt.Errorf("%w: %s", ErrBlankRow, g.name(e.SuccessorID))
	}
	if pred.RowType == task.RowBlank {
		return fmt.Errorf("%w: %s", ErrBlankRow, g.name(e.PredecessorID))
	}
	if _, err := task.ParseLinkType(string(e.Type)); err != nil {
		return err
	}
	if g.WouldCreateCycle(e) {
		return fmt.Errorf("%w: %s", ErrCycle, g.cycleChain(e))
	}
	return nil
}

// WouldCreateCycle reports whether adding the candidate edge closes a cycle.
// It walks backward from the candidate's predecessor through existing edges;
// the edge is cyclic exactly when the candidate's successor shows up in that
// expanded predecessor set.
func (g *Graph) WouldCreateCycle(e Edge) bool {
	if e.PredecessorID == e.SuccessorID {
		return true
	}
	visited := make(map[string]bool)
	queue := []string{e.PredecessorID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.preds[cur] {
			if dep.PredecessorID == e.SuccessorID {
				return true
			}
			if !visited[dep.PredecessorID] {
				visited[dep.PredecessorID] = true
				queue = append(queue, dep.PredecessorID)
			}
		}
	}
	return false
}

// TopoOrder returns schedulable task IDs in dependency order: every
// predecessor appears before its successors. Tie-breaks follow the set's
// display order, so the result is deterministic for a fixed task set.
// Returns ErrCycle if not every task can be ordered.
func (g *Graph) TopoOrder() ([]string, error) {
	var nodes []string
	inDegree := make(map[string]int)
	for _, t := range g.tasks.Ordered() {
		if !t.Schedulable() {
			continue
		}
		nodes = append(nodes, t.ID)
		inDegree[t.ID] = len(g.preds[t.ID])
	}

	var queue []string
	for _, id := range nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	ordered := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, id)

		var freed []string
		for _, e := range g.succs[id] {
			inDegree[e.SuccessorID]--
			if inDegree[e.SuccessorID] == 0 {
				freed = append(freed, e.SuccessorID)
			}
		}
		if len(freed) > 0 {
			sort.Slice(freed, func(i, j int) bool {
				return g.orderIndex[freed[i]] < g.orderIndex[freed[j]]
			})
			queue = append(queue, freed...)
		}
	}

	if len(ordered) != len(nodes) {
		return nil, fmt.Errorf("%w: %d of %d tasks could not be ordered",
			ErrCycle, len(nodes)-len(ordered), len(nodes))
	}
	return ordered, nil
}

// cycleChain renders the dependency chain a candidate edge would close, as
// task names: "A depends on B, which depends on A". Used for the user-facing
// cycle message.
func (g *Graph) cycleChain(e Edge) string {
	// Walk backward from the candidate predecessor to the successor,
	// recording parents so the path can be reconstructed.
	parent := map[string]string{e.PredecessorID: ""}
	queue := []string{e.PredecessorID}
	var hit bool
	for len(queue) > 0 && !hit {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.preds[cur] {
			if _, seen := parent[dep.PredecessorID]; seen {
				continue
			}
			parent[dep.PredecessorID] = cur
			if dep.PredecessorID == e.SuccessorID {
				hit = true
				break
			}
			queue = append(queue, dep.PredecessorID)
		}
	}
	if !hit {
		return fmt.Sprintf("%s depends on %s", g.name(e.SuccessorID), g.name(e.PredecessorID))
	}

	// Reconstruct the existing path from the predecessor back to the
	// successor; the candidate edge closes the loop. chain runs successor
	// first, predecessor last.
	var chain []string
	for id := e.SuccessorID; id != ""; id = parent[id] {
		chain = append(chain, g.name(id))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s depends on %s", g.name(e.SuccessorID), g.name(e.PredecessorID))
	for i := len(chain) - 2; i >= 0; i-- {
		fmt.Fprintf(&b, ", which depends on %s", chain[i])
	}
	return b.String()
}

// name returns the task's display name, falling back to its ID.
func (g *Graph) name(id string) string {
	if t := g.tasks.Get(id); t != nil && t.Name != "" {
		return t.Name
	}
	return id
}

// ValidateDependencies checks a full replacement dependency list for one
// successor, as produced by a dependencies edit. It validates each edge
// against the task set with the successor's current dependencies removed
// (the list replaces them) and rejects duplicate predecessors.
func ValidateDependencies(s *task.Set, successorID string, deps []task.Dependency) error {
	succ := s.Get(successorID)
	if succ == nil {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, successorID)
	}

	// Validate against a copy whose successor starts with no dependencies,
	// then grow the list edge by edge so intra-list cycles are caught too.
	scratch := s.Clone()
	st := scratch.Get(successorID)
	st.Dependencies = nil

	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		if seen[dep.PredecessorID] {
			return fmt.Errorf("%w: %s", ErrDuplicateEdge, dep.PredecessorID)
		}
		seen[dep.PredecessorID] = true

		g := Build(scratch)
		if err := g.ValidateEdge(Edge{
			PredecessorID: dep.PredecessorID,
			SuccessorID:   successorID,
			Type:          dep.Type,
			Lag:           dep.Lag,
		}); err != nil {
			return err
		}
		st.Dependencies = append(st.Dependencies, dep)
	}
	return nil
}
