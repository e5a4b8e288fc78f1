// Package task defines the task model shared by the scheduling engine, the
// edit policy, the calculation actor, and the persistence layer: the Task
// struct with its raw (user-owned) and derived (engine-owned) fields, the
// enum vocabulary, fractional sort keys, the ordered task Set, and the
// mutation events that history and the journal record.
//
// Raw fields are the source of truth and the only fields that serialize;
// derived fields are recomputed from scratch on every engine pass and are
// excluded from JSON so they can never leak into persisted state.
package task

import (
	"encoding/json"
	"time"
)

// Dependency is one predecessor reference on a task: the task cannot violate
// the bound its predecessor imposes through the given link type, shifted by
// Lag workdays (which may be negative for leads).
type Dependency struct {
	PredecessorID string   `json:"predecessorId"`
	Type          LinkType `json:"type"`
	Lag           int      `json:"lag"`
}

// Task is a schedulable unit. Fields above the derived marker are raw user
// state; the rest is computed by the engine and never persisted.
type Task struct {
	ID       string  `json:"id"`
	ParentID string  `json:"parentId,omitempty"`
	SortKey  string  `json:"sortKey"`
	RowType  RowType `json:"rowType"`

	Name           string         `json:"name"`
	Duration       int            `json:"duration"`
	ConstraintType ConstraintType `json:"constraintType"`
	ConstraintDate *time.Time     `json:"constraintDate,omitempty"`
	Mode           Mode           `json:"mode"`
	Progress       int            `json:"progress"`
	Notes          string         `json:"notes,omitempty"`

	// ManualStart is the pinned start date for Manual-mode tasks. It is raw
	// input: the engine reads it but never writes it.
	ManualStart *time.Time `json:"manualStart,omitempty"`

	ActualStart       *time.Time `json:"actualStart,omitempty"`
	ActualFinish      *time.Time `json:"actualFinish,omitempty"`
	RemainingDuration *int       `json:"remainingDuration,omitempty"`

	BaselineStart    *time.Time `json:"baselineStart,omitempty"`
	BaselineFinish   *time.Time `json:"baselineFinish,omitempty"`
	BaselineDuration *int       `json:"baselineDuration,omitempty"`

	Dependencies []Dependency `json:"dependencies,omitempty"`

	// Derived fields. Engine-owned, recomputed on every pass, never inputs.
	Start              time.Time `json:"-"`
	End                time.Time `json:"-"`
	Level              int       `json:"-"`
	LateStart          time.Time `json:"-"`
	LateFinish         time.Time `json:"-"`
	TotalFloat         int       `json:"-"`
	FreeFloat          int       `json:"-"`
	Critical           bool      `json:"-"`
	ConstraintConflict bool      `json:"-"`
	Health             Health    `json:"-"`
}

// Schedulable reports whether the task participates in scheduling. Blank
// rows never do; phantom rows are structural but still take zero-duration
// slots so edges through them stay well defined.
func (t *Task) Schedulable() bool {
	return t.RowType == RowTask || t.RowType == RowPhantom
}

// Clone returns a deep copy of the task, derived fields included.
func (t *Task) Clone() *Task {
	out := *t
	out.ConstraintDate = cloneTime(t.ConstraintDate)
	out.ManualStart = cloneTime(t.ManualStart)
	out.ActualStart = cloneTime(t.ActualStart)
	out.ActualFinish = cloneTime(t.ActualFinish)
	out.RemainingDuration = cloneInt(t.RemainingDuration)
	out.BaselineStart = cloneTime(t.BaselineStart)
	out.BaselineFinish = cloneTime(t.BaselineFinish)
	out.BaselineDuration = cloneInt(t.BaselineDuration)
	out.Dependencies = append([]Dependency(nil), t.Dependencies...)
	return &out
}

// RawEqual reports whether two tasks carry identical raw state. Derived
// fields are ignored: both sides are compared through their serialized form,
// which excludes everything engine-owned.
func RawEqual(a, b *Task) bool {
	if a == nil || b == nil {
		return a == b
	}
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}

// DependencyOn returns the task's dependency on the given predecessor, or
// nil if none exists.
func (t *Task) DependencyOn(predecessorID string) *Dependency {
	for i := range t.Dependencies {
		if t.Dependencies[i].PredecessorID == predecessorID {
			return &t.Dependencies[i]
		}
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
