package projfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ravenhall/lodestar/internal/calendar"
	"github.com/ravenhall/lodestar/internal/task"
)

const sampleProject = `
name = "Website launch"

[calendar]
weekdays = [1, 2, 3, 4, 5]

[calendar.exceptions]
"2026-12-25" = false

[[tasks]]
id = "design"
name = "Design"
duration = 5

[[tasks]]
id = "build"
name = "Build"
duration = 10

[[tasks.dependencies]]
predecessor = "design"
type = "FS"
lag = 2

[[tasks]]
id = "launch"
name = "Launch"
duration = 1
constraint = "SNET"
constraint_date = "2026-04-01"

[[tasks.dependencies]]
predecessor = "build"
`

func writeProject(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()
	state, name, err := Load(writeProject(t, sampleProject))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if name != "Website launch" {
		t.Errorf("name = %q", name)
	}
	if state.Tasks.Len() != 3 {
		t.Fatalf("loaded %d tasks, want 3", state.Tasks.Len())
	}

	build := state.Tasks.Get("build")
	if build.Duration != 10 {
		t.Errorf("build duration = %d", build.Duration)
	}
	if dep := build.DependencyOn("design"); dep == nil || dep.Type != task.FS || dep.Lag != 2 {
		t.Errorf("build dependency = %+v", build.Dependencies)
	}

	launch := state.Tasks.Get("launch")
	if launch.ConstraintType != task.SNET {
		t.Errorf("launch constraint = %s", launch.ConstraintType)
	}
	want := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	if launch.ConstraintDate == nil || !launch.ConstraintDate.Equal(want) {
		t.Errorf("launch constraint date = %v", launch.ConstraintDate)
	}

	// Omitted sort keys are assigned in file order.
	ordered := state.Tasks.Ordered()
	gotIDs := []string{ordered[0].ID, ordered[1].ID, ordered[2].ID}
	if diff := cmp.Diff([]string{"design", "build", "launch"}, gotIDs); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}

	if state.Calendar.IsWorkday(time.Date(2026, time.December, 25, 0, 0, 0, 0, time.UTC)) {
		t.Error("holiday exception not loaded")
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"missing id", "[[tasks]]\nname = \"anonymous\"\n"},
		{"duplicate id", "[[tasks]]\nid = \"a\"\n\n[[tasks]]\nid = \"a\"\n"},
		{"unknown predecessor", "[[tasks]]\nid = \"a\"\n\n[[tasks.dependencies]]\npredecessor = \"ghost\"\n"},
		{"dated constraint without date", "[[tasks]]\nid = \"a\"\nconstraint = \"MFO\"\n"},
		{"bad date", "[[tasks]]\nid = \"a\"\nconstraint = \"SNET\"\nconstraint_date = \"April 1\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := Load(writeProject(t, tc.content)); err == nil {
				t.Error("bad file accepted")
			}
		})
	}

	t.Run("unparseable toml", func(t *testing.T) {
		t.Parallel()
		if _, _, err := Load(writeProject(t, "[[tasks\n")); err == nil {
			t.Error("syntax error accepted")
		}
	})

	t.Run("unknown link type", func(t *testing.T) {
		t.Parallel()
		content := "[[tasks]]\nid = \"a\"\n\n[[tasks]]\nid = \"b\"\n\n[[tasks.dependencies]]\npredecessor = \"a\"\ntype = \"XX\"\n"
		if _, _, err := Load(writeProject(t, content)); err == nil {
			t.Error("unknown link type accepted")
		}
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	state, name, err := Load(writeProject(t, sampleProject))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Derived fields must never reach the file.
	state.Tasks.Get("design").Critical = true
	state.Tasks.Get("design").Start = time.Now()

	// Optional raw fields must survive.
	baseline := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	remaining := 2
	build := state.Tasks.Get("build")
	build.BaselineStart = &baseline
	build.BaselineDuration = &remaining
	build.RemainingDuration = &remaining

	path := filepath.Join(t.TempDir(), "saved.toml")
	if err := Save(path, name, state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved: %v", err)
	}
	if strings.Contains(strings.ToLower(string(data)), "critical") {
		t.Error("derived field leaked into the project file")
	}

	again, name2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if name2 != name {
		t.Errorf("name round-trip: %q != %q", name2, name)
	}
	if again.Tasks.Len() != state.Tasks.Len() {
		t.Fatalf("task count round-trip: %d != %d", again.Tasks.Len(), state.Tasks.Len())
	}
	for _, orig := range state.Tasks.Ordered() {
		got := again.Tasks.Get(orig.ID)
		if got == nil {
			t.Fatalf("task %s lost in round-trip", orig.ID)
		}
		if !task.RawEqual(got, orig) {
			t.Errorf("task %s raw fields changed in round-trip", orig.ID)
		}
	}
	if diff := cmp.Diff(state.Calendar, again.Calendar); diff != "" {
		t.Errorf("calendar round-trip (-want +got):\n%s", diff)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "project.toml")

	state := task.NewState(calendar.Default())
	if err := state.Tasks.Add(&task.Task{
		ID: "a", SortKey: "k0", RowType: task.RowTask,
		ConstraintType: task.ASAP, Mode: task.ModeAuto, Duration: 1,
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := Save(path, "p", state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contains %v, want only the project file", names)
	}
}

func TestLoadEmptyCalendarDefaults(t *testing.T) {
	t.Parallel()
	state, _, err := Load(writeProject(t, "[[tasks]]\nid = \"a\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(calendar.Default(), state.Calendar); diff != "" {
		t.Errorf("calendar (-want +got):\n%s", diff)
	}
}

func TestLoadErrorsWrapSentinel(t *testing.T) {
	t.Parallel()
	content := "[[tasks]]\nid = \"a\"\n\n[[tasks]]\nid = \"a\"\n"
	_, _, err := Load(writeProject(t, content))
	if !errors.Is(err, ErrInvalidProject) {
		t.Errorf("got %v, want ErrInvalidProject", err)
	}
}
