package undo

// Composite groups commands into one. Redo runs them in order, Undo in
// reverse order.
type Composite struct {
	name string
	cmds []Command
}

// NewComposite creates a composite of cmds. Nil and empty commands are
// dropped.
func NewComposite(name string, cmds ...Command) *Composite {
	c := &Composite{name: name}
	for _, cmd := range cmds {
		c.Add(cmd)
	}
	return c
}

// Name returns the composite's name.
func (c *Composite) Name() string {
	return c.name
}

// Add appends cmd unless it is empty.
func (c *Composite) Add(cmd Command) {
	if IsEmpty(cmd) {
		return
	}
	c.cmds = append(c.cmds, cmd)
}

// Len returns the number of child commands.
func (c *Composite) Len() int {
	return len(c.cmds)
}

// Commands returns the child commands in redo order.
func (c *Composite) Commands() []Command {
	return c.cmds
}

// Empty reports whether the composite has no children.
func (c *Composite) Empty() bool {
	return len(c.cmds) == 0
}

// Redo redoes the children in order.
func (c *Composite) Redo() {
	for _, cmd := range c.cmds {
		cmd.Redo()
	}
}

// Undo undoes the children in reverse order.
func (c *Composite) Undo() {
	for i := len(c.cmds) - 1; i >= 0; i-- {
		c.cmds[i].Undo()
	}
}

// Release releases every child.
func (c *Composite) Release() {
	for _, cmd := range c.cmds {
		Release(cmd)
	}
}

// Compact compacts every child.
func (c *Composite) Compact() {
	for _, cmd := range c.cmds {
		Compact(cmd)
	}
}

// Simplify returns Empty for an empty composite, the only child for a
// composite of one, and c otherwise.
func (c *Composite) Simplify() Command {
	switch len(c.cmds) {
	case 0:
		return Empty
	case 1:
		if c.name == "" || NameOf(c.cmds[0]) == c.name {
			return c.cmds[0]
		}
	}
	return c
}
