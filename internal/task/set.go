package task

import (
	"errors"
	"fmt"
	"sort"
)

// ErrTaskNotFound is returned when an operation references an unknown task.
var ErrTaskNotFound = errors.New("task not found")

// ErrDuplicateTask is returned when adding a task whose ID already exists.
var ErrDuplicateTask = errors.New("duplicate task")

// Set is an ordered collection of tasks keyed by ID. Display order is
// hierarchical: roots sorted by SortKey, each followed by its subtree, with
// siblings sorted by SortKey. Ordering assigns the derived Level field.
type Set struct {
	byID map[string]*Task
}

// NewSet builds a set from the given tasks. Later duplicates overwrite
// earlier ones.
func NewSet(tasks ...*Task) *Set {
	s := &Set{byID: make(map[string]*Task, len(tasks))}
	for _, t := range tasks {
		s.byID[t.ID] = t
	}
	return s
}

// Get returns the task with the given ID, or nil.
func (s *Set) Get(id string) *Task {
	return s.byID[id]
}

// Len returns the number of tasks in the set.
func (s *Set) Len() int {
	return len(s.byID)
}

// Add inserts a task. Returns ErrDuplicateTask if the ID is taken.
func (s *Set) Add(t *Task) error {
	if _, ok := s.byID[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	s.byID[t.ID] = t
	return nil
}

// Put inserts or replaces a task unconditionally.
func (s *Set) Put(t *Task) {
	s.byID[t.ID] = t
}

// Remove deletes a task. Returns ErrTaskNotFound if absent.
func (s *Set) Remove(id string) error {
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	delete(s.byID, id)
	return nil
}

// ReplaceAll swaps the entire contents of the set.
func (s *Set) ReplaceAll(tasks []*Task) {
	s.byID = make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		s.byID[t.ID] = t
	}
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	out := &Set{byID: make(map[string]*Task, len(s.byID))}
	for id, t := range s.byID {
		out.byID[id] = t.Clone()
	}
	return out
}

// Ordered returns the tasks in hierarchical display order and assigns each
// task's derived Level. Tasks whose parent chain is missing or cyclic are
// treated as roots.
func (s *Set) Ordered() []*Task {
	children := make(map[string][]*Task, len(s.byID))
	var roots []*Task
	for _, t := range s.byID {
		parent := t.ParentID
		if parent != "" {
			if _, ok := s.byID[parent]; !ok {
				parent = ""
			}
		}
		if parent == "" || s.parentChainBroken(t) {
			roots = append(roots, t)
			continue
		}
		children[parent] = append(children[parent], t)
	}

	bySortKey := func(ts []*Task) {
		sort.Slice(ts, func(i, j int) bool {
			if ts[i].SortKey != ts[j].SortKey {
				return ts[i].SortKey < ts[j].SortKey
			}
			return ts[i].ID < ts[j].ID
		})
	}
	bySortKey(roots)

	out := make([]*Task, 0, len(s.byID))
	var walk func(t *Task, level int)
	walk = func(t *Task, level int) {
		t.Level = level
		out = append(out, t)
		kids := children[t.ID]
		bySortKey(kids)
		for _, k := range kids {
			walk(k, level+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
	return out
}

// IDs returns all task IDs in display order.
func (s *Set) IDs() []string {
	ordered := s.Ordered()
	ids := make([]string, len(ordered))
	for i, t := range ordered {
		ids[i] = t.ID
	}
	return ids
}

// parentChainBroken reports whether following ParentID from t revisits a
// task, which would otherwise make Ordered loop forever.
func (s *Set) parentChainBroken(t *Task) bool {
	seen := map[string]bool{t.ID: true}
	cur := t
	for cur.ParentID != "" {
		next, ok := s.byID[cur.ParentID]
		if !ok {
			return false
		}
		if seen[next.ID] {
			return true
		}
		seen[next.ID] = true
		cur = next
	}
	return false
}
