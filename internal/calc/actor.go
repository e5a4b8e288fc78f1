// Package calc runs the scheduling engine behind a single-goroutine actor.
// All mutation and recalculation flows through one FIFO command channel, so
// the canonical project state is only ever touched from one goroutine and
// results come back in submission order. Callers never block on the math:
// they submit a command and read results asynchronously.
package calc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ravenhall/lodestar/internal/engine"
	"github.com/ravenhall/lodestar/internal/task"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("calc: actor closed")

// Command is one unit of work for the actor: events to fold into the
// canonical state, then (usually) a full recalculation.
type Command struct {
	// ID correlates the eventual Result with this command. Empty IDs are
	// assigned on submission.
	ID string

	// Events are applied to the canonical state in order, atomically: if any
	// event fails, none of them stick.
	Events []task.Event

	// SkipRecalc applies the events without rerunning the engine. Used for
	// edits that cannot move dates (names, notes, progress).
	SkipRecalc bool

	// Opts tunes the engine pass.
	Opts engine.Options
}

// Result reports one completed command. On error the canonical state is
// exactly as it was before the command.
type Result struct {
	CommandID string
	Tasks     []*task.Task
	Stats     engine.Stats
	Err       error
}

// Actor owns the canonical project state. Create with New, drive with Start,
// feed with Submit, consume from Results.
type Actor struct {
	state   *task.State
	cmds    chan Command
	results chan Result

	mu     sync.Mutex
	closed bool
}

// New builds an actor around the given initial state. The actor takes its own
// deep copy; the caller's state stays independent. buffer sizes both the
// command and result channels.
func New(initial *task.State, buffer int) *Actor {
	if buffer <= 0 {
		buffer = 16
	}
	return &Actor{
		state:   initial.Clone(),
		cmds:    make(chan Command, buffer),
		results: make(chan Result, buffer),
	}
}

// Start launches the actor loop. The loop drains remaining commands after
// Close, then closes the results channel. Cancelling ctx stops the loop
// without draining.
func (a *Actor) Start(ctx context.Context) {
	go a.run(ctx)
}

// Submit queues one command. The returned ID identifies the command's Result.
func (a *Actor) Submit(ctx context.Context, cmd Command) (string, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", ErrClosed
	}
	// Holding the lock across the send keeps Close from closing the channel
	// under a pending send.
	defer a.mu.Unlock()
	select {
	case a.cmds <- cmd:
		return cmd.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Results returns the channel of completed commands, closed after the actor
// drains its queue following Close.
func (a *Actor) Results() <-chan Result {
	return a.results
}

// Close stops accepting new commands. Queued commands still complete.
func (a *Actor) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.cmds)
}

func (a *Actor) run(ctx context.Context) {
	defer close(a.results)
	for {
		select {
		case cmd, ok := <-a.cmds:
			if !ok {
				return
			}
			res := a.execute(cmd)
			select {
			case a.results <- res:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// execute applies one command to the canonical state. Events are staged on a
// clone so a failing command leaves the state untouched, including the case
// where the events themselves apply cleanly but produce a cyclic graph.
func (a *Actor) execute(cmd Command) Result {
	staged := a.state.Clone()
	for _, ev := range cmd.Events {
		if err := staged.Apply(ev); err != nil {
			return Result{CommandID: cmd.ID, Err: err}
		}
	}

	if cmd.SkipRecalc {
		a.state = staged
		// Results cross goroutines; hand out a copy, never canonical state.
		return Result{CommandID: cmd.ID, Tasks: staged.Tasks.Clone().Ordered()}
	}

	out, err := engine.Recalculate(staged.Tasks, staged.Calendar, cmd.Opts)
	if err != nil {
		return Result{CommandID: cmd.ID, Err: err}
	}
	a.state = staged
	return Result{CommandID: cmd.ID, Tasks: out.Tasks, Stats: out.Stats}
}
