package undo

// State is the lifecycle state of a command for a live edit.
type State uint8

const (
	// NotYetRedone means the edit happened live and the command has never
	// been redone; the first Redo must not reapply it.
	NotYetRedone State = iota
	// RedoneAtLeastOnce means every later Redo reapplies the captured state.
	RedoneAtLeastOnce
)

// String returns the state name.
func (s State) String() string {
	if s == NotYetRedone {
		return "not-yet-redone"
	}
	return "redone-at-least-once"
}

// Lifecycle tracks whether a live edit's command has been redone.
// The zero value is NotYetRedone.
type Lifecycle struct {
	state State
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return l.state
}

// Redo advances the lifecycle and reports whether the redo must reapply
// the edit. It returns false only for a first call that no Undo preceded,
// while the buffer still holds the live post-state.
func (l *Lifecycle) Redo() bool {
	if l.state == NotYetRedone {
		l.state = RedoneAtLeastOnce
		return false
	}
	return true
}

// Undo records that the edit was reverted, so the next Redo reapplies it.
func (l *Lifecycle) Undo() {
	l.state = RedoneAtLeastOnce
}

// liveCommand wraps an edit that already happened when the command was
// built.
type liveCommand struct {
	name       string
	life       Lifecycle
	redo, undo func()
}

// Live returns a command for an edit already applied: the first Redo is
// skipped, later redos call redo.
func Live(name string, redo, undo func()) Command {
	return &liveCommand{name: name, redo: redo, undo: undo}
}

func (c *liveCommand) Name() string { return c.name }

func (c *liveCommand) Redo() {
	if c.life.Redo() {
		c.redo()
	}
}

func (c *liveCommand) Undo() {
	c.life.Undo()
	c.undo()
}
