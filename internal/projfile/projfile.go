// Package projfile reads and writes the human-editable TOML project file:
// the calendar plus every task's raw fields. Derived scheduling output never
// appears in the file; opening a project always recomputes it. Saves are
// atomic (temp file plus rename) so a crash mid-write can never corrupt a
// project.
package projfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/ravenhall/lodestar/internal/calendar"
	"github.com/ravenhall/lodestar/internal/task"
)

// ErrInvalidProject wraps every structural problem found while loading.
var ErrInvalidProject = errors.New("invalid project file")

// File is the on-disk TOML shape.
type File struct {
	Name     string       `toml:"name,omitempty"`
	Calendar CalendarSpec `toml:"calendar"`
	Tasks    []TaskSpec   `toml:"tasks,omitempty"`
}

// CalendarSpec mirrors calendar.Calendar with TOML-friendly types: weekdays
// as integers (0 = Sunday) and exceptions keyed by date.
type CalendarSpec struct {
	Weekdays   []int           `toml:"weekdays"`
	Exceptions map[string]bool `toml:"exceptions,omitempty"`
}

// TaskSpec is one task's raw fields. Dates use the calendar date key layout.
type TaskSpec struct {
	ID             string    `toml:"id"`
	Parent         string    `toml:"parent,omitempty"`
	SortKey        string    `toml:"sort_key,omitempty"`
	RowType        string    `toml:"row_type,omitempty"`
	Name           string    `toml:"name,omitempty"`
	Duration       int       `toml:"duration,omitempty"`
	Constraint     string    `toml:"constraint,omitempty"`
	ConstraintDate string    `toml:"constraint_date,omitempty"`
	Mode           string    `toml:"mode,omitempty"`
	Progress       int       `toml:"progress,omitempty"`
	Notes          string    `toml:"notes,omitempty"`
	ManualStart    string    `toml:"manual_start,omitempty"`
	ActualStart    string    `toml:"actual_start,omitempty"`
	ActualFinish   string    `toml:"actual_finish,omitempty"`
	Remaining      *int      `toml:"remaining_duration,omitempty"`
	BaselineStart  string    `toml:"baseline_start,omitempty"`
	BaselineFinish string    `toml:"baseline_finish,omitempty"`
	BaselineDur    *int      `toml:"baseline_duration,omitempty"`
	Dependencies   []DepSpec `toml:"dependencies,omitempty"`
}

// DepSpec is one predecessor reference.
type DepSpec struct {
	Predecessor string `toml:"predecessor"`
	Type        string `toml:"type,omitempty"`
	Lag         int    `toml:"lag,omitempty"`
}

// Load parses the project file at path into raw state. Tasks without sort
// keys get sequential ones so hand-written files can omit them.
func Load(path string) (*task.State, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("projfile: read %s: %w", path, err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("projfile: parse %s: %w", path, err)
	}

	state := task.NewState(decodeCalendar(f.Calendar))

	lastKey := ""
	for i, ts := range f.Tasks {
		tk, err := decodeTask(ts)
		if err != nil {
			return nil, "", fmt.Errorf("projfile: task %d (%s): %w", i+1, ts.ID, err)
		}
		if tk.SortKey == "" {
			next, kerr := task.KeyAfter(lastKey)
			if kerr != nil {
				return nil, "", fmt.Errorf("projfile: task %d (%s): %w", i+1, ts.ID, kerr)
			}
			tk.SortKey = next
		}
		lastKey = tk.SortKey
		if err := state.Tasks.Add(tk); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidProject, err)
		}
	}

	// Dangling parent or predecessor references make a file unusable.
	for _, tk := range state.Tasks.Ordered() {
		for _, dep := range tk.Dependencies {
			if state.Tasks.Get(dep.PredecessorID) == nil {
				return nil, "", fmt.Errorf("%w: task %s depends on unknown task %s",
					ErrInvalidProject, tk.ID, dep.PredecessorID)
			}
		}
	}
	return state, f.Name, nil
}

// Save writes the project atomically: marshal to a temp file in the same
// directory, then rename over the target.
func Save(path, name string, state *task.State) error {
	f := File{Name: name, Calendar: encodeCalendar(state.Calendar)}
	for _, tk := range state.Tasks.Ordered() {
		f.Tasks = append(f.Tasks, encodeTask(tk))
	}

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("projfile: marshal: %w", err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("projfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("projfile: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("projfile: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("projfile: rename into place: %w", err)
	}
	success = true
	return nil
}

func decodeCalendar(spec CalendarSpec) calendar.Calendar {
	if len(spec.Weekdays) == 0 && len(spec.Exceptions) == 0 {
		return calendar.Default()
	}
	cal := calendar.Calendar{}
	for _, wd := range spec.Weekdays {
		cal.Weekdays = append(cal.Weekdays, time.Weekday(wd))
	}
	if len(spec.Exceptions) > 0 {
		cal.Exceptions = make(map[string]bool, len(spec.Exceptions))
		for k, v := range spec.Exceptions {
			cal.Exceptions[k] = v
		}
	}
	return cal
}

func encodeCalendar(cal calendar.Calendar) CalendarSpec {
	spec := CalendarSpec{}
	for _, wd := range cal.Weekdays {
		spec.Weekdays = append(spec.Weekdays, int(wd))
	}
	if len(cal.Exceptions) > 0 {
		spec.Exceptions = make(map[string]bool, len(cal.Exceptions))
		for _, k := range cal.ExceptionDates() {
			spec.Exceptions[k] = cal.Exceptions[k]
		}
	}
	return spec
}

func decodeTask(ts TaskSpec) (*task.Task, error) {
	if ts.ID == "" {
		return nil, fmt.Errorf("%w: task has no id", ErrInvalidProject)
	}
	rowType, err := task.ParseRowType(ts.RowType)
	if err != nil {
		return nil, err
	}
	ct, err := task.ParseConstraintType(ts.Constraint)
	if err != nil {
		return nil, err
	}
	mode, err := task.ParseMode(ts.Mode)
	if err != nil {
		return nil, err
	}

	tk := &task.Task{
		ID:             ts.ID,
		ParentID:       ts.Parent,
		SortKey:        ts.SortKey,
		RowType:        rowType,
		Name:           ts.Name,
		Duration:       ts.Duration,
		ConstraintType: ct,
		Mode:           mode,
		Progress:       ts.Progress,
		Notes:          ts.Notes,
	}
	if tk.ConstraintDate, err = parseDate(ts.ConstraintDate); err != nil {
		return nil, err
	}
	if tk.ManualStart, err = parseDate(ts.ManualStart); err != nil {
		return nil, err
	}
	if tk.ActualStart, err = parseDate(ts.ActualStart); err != nil {
		return nil, err
	}
	if tk.ActualFinish, err = parseDate(ts.ActualFinish); err != nil {
		return nil, err
	}
	if tk.BaselineStart, err = parseDate(ts.BaselineStart); err != nil {
		return nil, err
	}
	if tk.BaselineFinish, err = parseDate(ts.BaselineFinish); err != nil {
		return nil, err
	}
	tk.RemainingDuration = cloneInt(ts.Remaining)
	tk.BaselineDuration = cloneInt(ts.BaselineDur)
	if ct.NeedsDate() && tk.ConstraintDate == nil {
		return nil, fmt.Errorf("%w: constraint %s requires constraint_date", ErrInvalidProject, ct)
	}

	for _, ds := range ts.Dependencies {
		lt, err := task.ParseLinkType(ds.Type)
		if err != nil {
			return nil, err
		}
		tk.Dependencies = append(tk.Dependencies, task.Dependency{
			PredecessorID: ds.Predecessor,
			Type:          lt,
			Lag:           ds.Lag,
		})
	}
	return tk, nil
}

func encodeTask(tk *task.Task) TaskSpec {
	ts := TaskSpec{
		ID:             tk.ID,
		Parent:         tk.ParentID,
		SortKey:        tk.SortKey,
		RowType:        string(tk.RowType),
		Name:           tk.Name,
		Duration:       tk.Duration,
		Constraint:     string(tk.ConstraintType),
		ConstraintDate: formatDate(tk.ConstraintDate),
		Mode:           string(tk.Mode),
		Progress:       tk.Progress,
		Notes:          tk.Notes,
		ManualStart:    formatDate(tk.ManualStart),
		ActualStart:    formatDate(tk.ActualStart),
		ActualFinish:   formatDate(tk.ActualFinish),
		Remaining:      cloneInt(tk.RemainingDuration),
		BaselineStart:  formatDate(tk.BaselineStart),
		BaselineFinish: formatDate(tk.BaselineFinish),
		BaselineDur:    cloneInt(tk.BaselineDuration),
	}
	for _, dep := range tk.Dependencies {
		ts.Dependencies = append(ts.Dependencies, DepSpec{
			Predecessor: dep.PredecessorID,
			Type:        string(dep.Type),
			Lag:         dep.Lag,
		})
	}
	return ts
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(calendar.DateKey, s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad date %q", ErrInvalidProject, s)
	}
	d = calendar.Date(d)
	return &d, nil
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func formatDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(calendar.DateKey)
}
