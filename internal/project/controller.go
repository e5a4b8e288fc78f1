// Package project ties the pieces together: it owns the optimistic mirror of
// project state, feeds validated edits to the calculation actor, reconciles
// the actor's results back into the mirror, and keeps history and the journal
// in step with every mutation.
//
// The flow for one edit: the policy validates it against the mirror, the
// forward events apply to the mirror immediately (the caller sees the raw
// change without waiting for the math), the events go to the journal and the
// actor, and when the actor's result arrives the computed derived fields are
// merged in. A command the actor rejects is rolled back: the mirror returns
// to its pre-command state, later in-flight commands are replayed on top, the
// history entry is dropped, and a compensating record goes to the journal so
// replay still converges on the final state.
package project

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ravenhall/lodestar/internal/calc"
	"github.com/ravenhall/lodestar/internal/calendar"
	"github.com/ravenhall/lodestar/internal/engine"
	"github.com/ravenhall/lodestar/internal/history"
	"github.com/ravenhall/lodestar/internal/journal"
	"github.com/ravenhall/lodestar/internal/policy"
	"github.com/ravenhall/lodestar/internal/task"
	"github.com/ravenhall/lodestar/internal/telemetry"
)

// ErrClosed is returned by mutations on a closed controller.
var ErrClosed = errors.New("project: controller closed")

// Update is one notification to subscribers: either a reconciled schedule or
// a failed command.
type Update struct {
	Tasks   []*task.Task
	Stats   engine.Stats
	Err     error
	Message string
}

// Options configures a Controller. The zero value works: no journal, no
// telemetry, default history bound and stall threshold.
type Options struct {
	// Journal, when set, receives every applied event and the compensating
	// records for rollbacks.
	Journal *journal.Journal

	// Emitter receives structured telemetry. Nil is a valid no-op emitter.
	Emitter *telemetry.Emitter

	// Engine tunes every recalculation pass.
	Engine engine.Options

	// HistoryLimit bounds the undo stack.
	HistoryLimit int

	// StallAfter is how long a command may stay unreconciled before a
	// telemetry warning fires. Zero means 5 seconds.
	StallAfter time.Duration

	// Buffer sizes the actor channels and subscriber channels.
	Buffer int
}

type pendingCmd struct {
	id         string
	before     *task.State
	events     []task.Event
	entry      *history.Entry
	compensate []task.Event
	skipRecalc bool
	message    string
	submitted  time.Time
	warned     bool

	// onFail reverses bookkeeping the command moved at submit time (the
	// undo/redo stack position for undo and redo commands). Called with c.mu
	// held when the actor rejects the command.
	onFail func()
}

// Controller is the single entry point for mutating a project. Safe for
// concurrent use.
type Controller struct {
	opts Options

	mu      sync.Mutex
	closed  bool
	mirror  *task.State
	view    []*task.Task
	stats   engine.Stats
	pending []*pendingCmd
	subs    []chan Update

	actor *calc.Actor
	hist  *history.History
	done  chan struct{}
	wg    sync.WaitGroup

	// Results are pumped off the actor's channel into this queue without
	// touching mu. A mutation holding mu can block on a full actor command
	// buffer; the actor must still have somewhere to put finished results or
	// neither side would ever make progress.
	qmu   sync.Mutex
	qcond *sync.Cond
	queue []calc.Result
	qdone bool
}

// New builds a controller around the given initial raw state.
func New(initial *task.State, opts Options) *Controller {
	if opts.StallAfter <= 0 {
		opts.StallAfter = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	c := &Controller{
		opts:   opts,
		mirror: initial.Clone(),
		actor:  calc.New(initial, opts.Buffer),
		hist:   history.New(opts.HistoryLimit),
		done:   make(chan struct{}),
	}
	c.qcond = sync.NewCond(&c.qmu)
	return c
}

// Start launches the actor and the reconciliation loop, then schedules an
// initial recalculation so the mirror gets derived fields without waiting for
// the first edit.
func (c *Controller) Start(ctx context.Context) error {
	c.actor.Start(ctx)
	c.wg.Add(3)
	go c.pumpResults()
	go c.reconcileLoop()
	go c.stallWatch(ctx)
	return c.Recalculate(ctx)
}

// Close stops accepting mutations, lets in-flight commands finish, and closes
// all subscriber channels.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.actor.Close()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

// Subscribe returns a channel of updates. Slow subscribers miss updates
// rather than blocking reconciliation; the channel closes with the
// controller.
func (c *Controller) Subscribe() <-chan Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Update, c.opts.Buffer)
	c.subs = append(c.subs, ch)
	return ch
}

// Tasks returns the current optimistic view: raw fields reflect every
// submitted edit, derived fields the last reconciled calculation.
func (c *Controller) Tasks() []*task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Tasks.Clone().Ordered()
}

// Schedule returns the last reconciled calculation: every task with derived
// fields exactly as the engine produced them. Unlike Tasks, raw fields here
// do not include edits still in flight.
func (c *Controller) Schedule() []*task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*task.Task, len(c.view))
	for i, t := range c.view {
		out[i] = t.Clone()
	}
	return out
}

// Stats returns the last reconciled schedule statistics.
func (c *Controller) Stats() engine.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Calendar returns a copy of the current project calendar.
func (c *Controller) Calendar() calendar.Calendar {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Calendar.Clone()
}

// CanUndo reports whether an undo step is available.
func (c *Controller) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist.CanUndo()
}

// CanRedo reports whether a redo step is available.
func (c *Controller) CanRedo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist.CanRedo()
}

// Edit validates and applies one field edit.
func (c *Controller) Edit(ctx context.Context, e policy.Edit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	ch, err := policy.Apply(c.mirror.Tasks, c.mirror.Calendar, e)
	if err != nil {
		return err
	}
	entry := &history.Entry{
		Label:    fmt.Sprintf("%s %s", e.Field, e.TaskID),
		Forward:  ch.Forward,
		Backward: ch.Backward,
	}
	_, err = c.submitLocked(ctx, ch, entry)
	return err
}

// AddTask inserts a new task.
func (c *Controller) AddTask(ctx context.Context, t *task.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	ch, err := policy.AddTask(c.mirror.Tasks, t)
	if err != nil {
		return err
	}
	entry := &history.Entry{Label: "add " + t.ID, Forward: ch.Forward, Backward: ch.Backward}
	_, err = c.submitLocked(ctx, ch, entry)
	return err
}

// DeleteTask removes one task, detaching any dependencies pointing at it.
func (c *Controller) DeleteTask(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	ch, err := policy.DeleteTask(c.mirror.Tasks, id)
	if err != nil {
		return err
	}
	entry := &history.Entry{Label: "delete " + id, Forward: ch.Forward, Backward: ch.Backward}
	_, err = c.submitLocked(ctx, ch, entry)
	return err
}

// DeleteTasks removes several tasks as one undoable step: a single undo
// restores every task and every detached dependency.
func (c *Controller) DeleteTasks(ctx context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	// Validate the whole batch up front so a bad ID cannot leave a
	// half-applied bulk delete behind.
	for _, id := range ids {
		if c.mirror.Tasks.Get(id) == nil {
			return fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
		}
	}

	c.hist.BeginComposite(fmt.Sprintf("delete %d tasks", len(ids)))
	defer c.hist.EndComposite() //nolint:errcheck // composite is open by construction
	for _, id := range ids {
		ch, err := policy.DeleteTask(c.mirror.Tasks, id)
		if err != nil {
			// A task already gone through an earlier delete in this batch
			// (a duplicate ID) is not worth failing the whole bulk over.
			continue
		}
		entry := &history.Entry{Forward: ch.Forward, Backward: ch.Backward}
		if _, serr := c.submitLocked(ctx, ch, entry); serr != nil {
			return serr
		}
	}
	return nil
}

// SetCalendar replaces the project calendar. Every date in the schedule is
// recomputed under the new workday rules.
func (c *Controller) SetCalendar(ctx context.Context, cal calendar.Calendar) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	old := c.mirror.Calendar.Clone()
	next := cal.Clone()
	ch := &policy.Change{
		Forward:     []task.Event{{Type: task.EventCalendarUpdated, Calendar: &next}},
		Backward:    []task.Event{{Type: task.EventCalendarUpdated, Calendar: &old}},
		NeedsRecalc: true,
	}
	entry := &history.Entry{Label: "calendar", Forward: ch.Forward, Backward: ch.Backward}
	_, err := c.submitLocked(ctx, ch, entry)
	return err
}

// Recalculate forces a full pass without mutating raw state.
func (c *Controller) Recalculate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_, err := c.submitLocked(ctx, &policy.Change{NeedsRecalc: true}, nil)
	return err
}

// Undo reverts the newest history entry.
func (c *Controller) Undo(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	e, err := c.hist.Undo()
	if err != nil {
		return err
	}
	ch := &policy.Change{Forward: e.Backward, Backward: e.Forward, NeedsRecalc: true}
	cmd, err := c.submitLocked(ctx, ch, nil)
	if err != nil {
		c.hist.RevertUndo(e)
		return err
	}
	// The actor can still reject the reverted state; the entry must then go
	// back on the undo stack or the stacks drift from the mirror.
	cmd.onFail = func() { c.hist.RevertUndo(e) }
	c.emit(telemetry.Event{Kind: telemetry.KindUndo, Data: e.Label})
	return nil
}

// Redo reapplies the newest undone entry.
func (c *Controller) Redo(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	e, err := c.hist.Redo()
	if err != nil {
		return err
	}
	ch := &policy.Change{Forward: e.Forward, Backward: e.Backward, NeedsRecalc: true}
	cmd, err := c.submitLocked(ctx, ch, nil)
	if err != nil {
		c.hist.RevertRedo(e)
		return err
	}
	cmd.onFail = func() { c.hist.RevertRedo(e) }
	c.emit(telemetry.Event{Kind: telemetry.KindRedo, Data: e.Label})
	return nil
}

// WaitIdle blocks until every submitted command has reconciled or ctx ends.
func (c *Controller) WaitIdle(ctx context.Context) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		c.mu.Lock()
		idle := len(c.pending) == 0
		c.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// submitLocked applies the change optimistically, journals it, records
// history, and hands it to the actor. Caller holds c.mu. The returned command
// stays valid until its result is reconciled.
func (c *Controller) submitLocked(ctx context.Context, ch *policy.Change, entry *history.Entry) (*pendingCmd, error) {
	before := c.mirror.Clone()
	for _, ev := range ch.Forward {
		if err := c.mirror.Apply(ev); err != nil {
			c.mirror = before
			return nil, err
		}
	}

	id, err := c.actor.Submit(ctx, calc.Command{
		Events:     ch.Forward,
		SkipRecalc: !ch.NeedsRecalc,
		Opts:       c.opts.Engine,
	})
	if err != nil {
		c.mirror = before
		return nil, err
	}

	if entry != nil {
		c.hist.Record(entry)
	}
	if c.opts.Journal != nil {
		for _, ev := range ch.Forward {
			if jerr := c.opts.Journal.Append(ctx, ev); jerr != nil {
				c.emit(telemetry.Event{Kind: telemetry.KindJournalLag, CommandID: id, Data: jerr.Error()})
				break
			}
		}
	}

	cmd := &pendingCmd{
		id:         id,
		before:     before,
		events:     ch.Forward,
		entry:      entry,
		compensate: ch.Backward,
		skipRecalc: !ch.NeedsRecalc,
		message:    ch.Message,
		submitted:  time.Now(),
	}
	c.pending = append(c.pending, cmd)
	c.emit(telemetry.Event{Kind: telemetry.KindCommandSubmitted, CommandID: id})
	return cmd, nil
}

// pumpResults moves results from the actor's bounded channel into the
// unbounded queue. It never takes c.mu, so the actor keeps draining its
// command buffer even while a bulk mutation holds the controller lock across
// many submissions.
func (c *Controller) pumpResults() {
	defer c.wg.Done()
	for res := range c.actor.Results() {
		c.qmu.Lock()
		c.queue = append(c.queue, res)
		c.qmu.Unlock()
		c.qcond.Signal()
	}
	c.qmu.Lock()
	c.qdone = true
	c.qmu.Unlock()
	c.qcond.Signal()
}

func (c *Controller) reconcileLoop() {
	defer c.wg.Done()
	for {
		c.qmu.Lock()
		for len(c.queue) == 0 && !c.qdone {
			c.qcond.Wait()
		}
		if len(c.queue) == 0 {
			c.qmu.Unlock()
			return
		}
		res := c.queue[0]
		c.queue = c.queue[1:]
		c.qmu.Unlock()
		c.handleResult(res)
	}
}

func (c *Controller) handleResult(res calc.Result) {
	c.mu.Lock()

	var cmd *pendingCmd
	for i, p := range c.pending {
		if p.id == res.CommandID {
			cmd = p
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	if cmd == nil {
		c.mu.Unlock()
		return
	}

	if res.Err != nil {
		c.failLocked(cmd, res.Err)
		update := Update{Err: res.Err, Tasks: c.mirror.Tasks.Clone().Ordered(), Stats: c.stats}
		c.mu.Unlock()
		c.notify(update)
		return
	}

	// Success: merge the engine's derived fields into the mirror. Raw fields
	// stay optimistic; a later in-flight edit must not be overwritten by an
	// older calculation.
	mergeDerived(c.mirror.Tasks, res.Tasks)
	c.view = res.Tasks
	if !cmd.skipRecalc {
		c.stats = res.Stats
	}
	c.emit(telemetry.Event{Kind: telemetry.KindCommandApplied, CommandID: cmd.id,
		Data: map[string]int{"critical": res.Stats.CriticalCount, "conflicts": res.Stats.ConflictCount}})

	if c.opts.Journal != nil {
		if wrote, err := c.opts.Journal.MaybeSnapshot(context.Background(), c.mirror); err == nil && wrote {
			c.emit(telemetry.Event{Kind: telemetry.KindSnapshotWritten})
		}
	}

	update := Update{Tasks: c.mirror.Tasks.Clone().Ordered(), Stats: c.stats, Message: cmd.message}
	c.mu.Unlock()
	c.notify(update)
}

// failLocked rolls the mirror back to the failed command's pre-state,
// replays every still-pending command on top, drops the history entry, and
// journals the compensating events. Caller holds c.mu.
func (c *Controller) failLocked(cmd *pendingCmd, cause error) {
	c.mirror = cmd.before

	// Later commands were applied optimistically on top of the failed one;
	// their effects must survive the rollback. Their pre-state snapshots are
	// refreshed as the replay advances so a second failure rolls back
	// correctly too.
	for _, p := range c.pending {
		p.before = c.mirror.Clone()
		for _, ev := range p.events {
			_ = c.mirror.Apply(ev)
		}
	}

	if cmd.entry != nil {
		c.hist.Drop(cmd.entry)
	}
	if cmd.onFail != nil {
		cmd.onFail()
	}
	if c.opts.Journal != nil {
		for _, ev := range cmd.compensate {
			if err := c.opts.Journal.Append(context.Background(), ev); err != nil {
				c.emit(telemetry.Event{Kind: telemetry.KindJournalLag, CommandID: cmd.id, Data: err.Error()})
				break
			}
		}
	}
	c.emit(telemetry.Event{Kind: telemetry.KindCommandFailed, CommandID: cmd.id, Data: cause.Error()})
	c.emit(telemetry.Event{Kind: telemetry.KindRollback, CommandID: cmd.id})
}

func (c *Controller) stallWatch(ctx context.Context) {
	defer c.wg.Done()
	tick := time.NewTicker(c.opts.StallAfter / 2)
	defer tick.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-tick.C:
			c.mu.Lock()
			for _, p := range c.pending {
				if !p.warned && time.Since(p.submitted) >= c.opts.StallAfter {
					p.warned = true
					c.emit(telemetry.Event{Kind: telemetry.KindReconcileStall, CommandID: p.id,
						Data: time.Since(p.submitted).String()})
				}
			}
			c.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) notify(u Update) {
	c.mu.Lock()
	subs := append([]chan Update(nil), c.subs...)
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- u:
		default:
			// Slow subscriber; it will catch up on the next update.
		}
	}
}

func (c *Controller) emit(ev telemetry.Event) {
	_ = c.opts.Emitter.Emit(ev)
}

// mergeDerived copies engine-owned fields from a computed pass into the
// mirror, leaving raw fields alone.
func mergeDerived(mirror *task.Set, computed []*task.Task) {
	for _, ct := range computed {
		mt := mirror.Get(ct.ID)
		if mt == nil {
			continue
		}
		mt.Start, mt.End = ct.Start, ct.End
		mt.Level = ct.Level
		mt.LateStart, mt.LateFinish = ct.LateStart, ct.LateFinish
		mt.TotalFloat, mt.FreeFloat = ct.TotalFloat, ct.FreeFloat
		mt.Critical = ct.Critical
		mt.ConstraintConflict = ct.ConstraintConflict
		mt.Health = ct.Health
	}
}
