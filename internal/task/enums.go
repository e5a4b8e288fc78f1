package task

import "fmt"

// RowType distinguishes schedulable tasks from structural placeholder rows.
type RowType string

const (
	// RowTask is a normal schedulable task.
	RowTask RowType = "task"
	// RowBlank is a placeholder row excluded from scheduling entirely.
	RowBlank RowType = "blank"
	// RowPhantom is a structural row that participates in hierarchy but
	// carries no work of its own.
	RowPhantom RowType = "phantom"
)

// ParseRowType converts a string to a RowType. The empty string defaults to
// RowTask.
func ParseRowType(s string) (RowType, error) {
	switch RowType(s) {
	case RowTask, "":
		return RowTask, nil
	case RowBlank:
		return RowBlank, nil
	case RowPhantom:
		return RowPhantom, nil
	}
	return "", fmt.Errorf("task: unknown row type %q", s)
}

// ConstraintType is a user-imposed date bound on a task, applied on top of
// whatever its predecessors dictate.
type ConstraintType string

const (
	// ASAP schedules the task as early as its predecessors allow.
	ASAP ConstraintType = "ASAP"
	// SNET (start no earlier than) imposes a lower bound on the start.
	SNET ConstraintType = "SNET"
	// SNLT (start no later than) imposes an upper bound on the start.
	SNLT ConstraintType = "SNLT"
	// FNET (finish no earlier than) imposes a lower bound on the finish.
	FNET ConstraintType = "FNET"
	// FNLT (finish no later than) imposes an upper bound on the finish.
	FNLT ConstraintType = "FNLT"
	// MFO (must finish on) pins the finish to an exact date.
	MFO ConstraintType = "MFO"
)

// NeedsDate reports whether the constraint type requires a constraint date.
func (c ConstraintType) NeedsDate() bool {
	return c != ASAP && c != ""
}

// ParseConstraintType converts a string to a ConstraintType. The empty string
// defaults to ASAP.
func ParseConstraintType(s string) (ConstraintType, error) {
	switch ConstraintType(s) {
	case ASAP, "":
		return ASAP, nil
	case SNET, SNLT, FNET, FNLT, MFO:
		return ConstraintType(s), nil
	}
	return "", fmt.Errorf("task: unknown constraint type %q", s)
}

// LinkType is the precedence relation of a dependency edge.
type LinkType string

const (
	// FS (finish-to-start): successor starts after predecessor finishes.
	FS LinkType = "FS"
	// SS (start-to-start): successor starts after predecessor starts.
	SS LinkType = "SS"
	// FF (finish-to-finish): successor finishes after predecessor finishes.
	FF LinkType = "FF"
	// SF (start-to-finish): successor finishes after predecessor starts.
	SF LinkType = "SF"
)

// ParseLinkType converts a string to a LinkType. The empty string defaults
// to FS, the overwhelmingly common case.
func ParseLinkType(s string) (LinkType, error) {
	switch LinkType(s) {
	case FS, "":
		return FS, nil
	case SS, FF, SF:
		return LinkType(s), nil
	}
	return "", fmt.Errorf("task: unknown link type %q", s)
}

// Mode selects who owns a task's dates: the engine (Auto) or the user
// (Manual, dates pinned).
type Mode string

const (
	// ModeAuto lets the engine compute the task's dates.
	ModeAuto Mode = "auto"
	// ModeManual pins the task at its stored start date. Manual tasks still
	// propagate bounds to successors but are never pushed by predecessors.
	ModeManual Mode = "manual"
)

// ParseMode converts a string to a Mode. The empty string defaults to Auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, "":
		return ModeAuto, nil
	case ModeManual:
		return ModeManual, nil
	}
	return "", fmt.Errorf("task: unknown scheduling mode %q", s)
}

// Health is a coarse derived indicator of how a task is tracking.
type Health string

const (
	// HealthOnTrack means no conflicts and no baseline slip.
	HealthOnTrack Health = "on_track"
	// HealthAtRisk means the engine flagged a constraint conflict.
	HealthAtRisk Health = "at_risk"
	// HealthLate means the computed finish has slipped past the baseline.
	HealthLate Health = "late"
)
