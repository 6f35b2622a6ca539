// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package undo defines the undo/redo command contract the engine produces
// and a history store hosts can use.
//
// The engine never keeps a global undo stack. Every undoable mutation is
// returned or pushed as a Command, and the host decides where it lives.
// Pushing a command runs its first Redo. Commands for edits that already
// happened live skip that first Redo; see Lifecycle.
package undo

// Command is an undoable, redoable action.
//
// Undo and Redo must be callable any number of times in alternation,
// starting with Redo.
type Command interface {
	Undo()
	Redo()
}

// Named is implemented by commands with a user-visible name.
type Named interface {
	Name() string
}

// Releaser is implemented by commands that hold resources (tiles, devices)
// which can be dropped once the command leaves history.
type Releaser interface {
	Release()
}

// Compactor is implemented by commands whose state can be compressed when
// they are deep in history.
type Compactor interface {
	Compact()
}

// Host receives commands. Push runs the command's first Redo.
type Host interface {
	Push(cmd Command)
}

// HostFunc adapts a function to Host.
type HostFunc func(cmd Command)

// Push calls f(cmd).
func (f HostFunc) Push(cmd Command) {
	f(cmd)
}

// Discard is a host that applies commands and keeps no history.
var Discard Host = HostFunc(func(cmd Command) {
	cmd.Redo()
	Release(cmd)
})

// NameOf returns the command's name, or "" if it has none.
func NameOf(cmd Command) string {
	if n, ok := cmd.(Named); ok {
		return n.Name()
	}
	return ""
}

// Release releases cmd if it holds resources.
func Release(cmd Command) {
	if r, ok := cmd.(Releaser); ok {
		r.Release()
	}
}

// Compact compacts cmd if it supports compaction.
func Compact(cmd Command) {
	if c, ok := cmd.(Compactor); ok {
		c.Compact()
	}
}

type emptyCommand struct{}

func (emptyCommand) Undo()        {}
func (emptyCommand) Redo()        {}
func (emptyCommand) Name() string { return "" }

// Empty is the no-op command.
var Empty Command = emptyCommand{}

// IsEmpty reports whether cmd does nothing: nil, Empty, or a composite of
// empty commands.
func IsEmpty(cmd Command) bool {
	switch c := cmd.(type) {
	case nil, emptyCommand:
		return true
	case *Composite:
		return c.Empty()
	}
	return false
}

// funcCommand runs its functions on every redo, the first included.
type funcCommand struct {
	name       string
	redo, undo func()
}

// Func returns a command that calls redo on every Redo and undo on every
// Undo. Use it for actions not yet performed when the command is pushed.
func Func(name string, redo, undo func()) Command {
	return &funcCommand{name: name, redo: redo, undo: undo}
}

func (c *funcCommand) Name() string { return c.name }
func (c *funcCommand) Redo()        { c.redo() }
func (c *funcCommand) Undo()        { c.undo() }
