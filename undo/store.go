package undo

import (
	"sync"

	"github.com/gogpu/canvas/internal/logger"
)

// DefaultMaxDepth is the history length used when none is configured.
var DefaultMaxDepth = 100

// Store is a linear undo history implementing Host.
//
// Commands older than the compaction threshold are compacted; commands
// dropped from history (by the depth limit or by pushing after an undo)
// are released. Store is safe for concurrent use.
type Store struct {
	mu           sync.Mutex
	cmds         []Command
	idx          int // number of applied commands
	maxDepth     int
	compactAfter int
	compacted    int // cmds[:compacted] are already compacted
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxDepth limits the history length. 0 means unlimited.
func WithMaxDepth(n int) StoreOption {
	return func(s *Store) {
		s.maxDepth = n
	}
}

// WithCompaction compacts commands once n newer commands follow them.
// 0 disables compaction.
func WithCompaction(n int) StoreOption {
	return func(s *Store) {
		s.compactAfter = n
	}
}

// NewStore creates an empty history.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push applies cmd and records it, discarding any redo history.
func (s *Store) Push(cmd Command) {
	if cmd == nil {
		return
	}
	cmd.Redo()
	if IsEmpty(cmd) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dropped := range s.cmds[s.idx:] {
		Release(dropped)
	}
	s.cmds = append(s.cmds[:s.idx], cmd)
	s.idx++
	s.compacted = min(s.compacted, s.idx-1)

	if s.maxDepth > 0 && len(s.cmds) > s.maxDepth {
		n := len(s.cmds) - s.maxDepth
		for _, dropped := range s.cmds[:n] {
			Release(dropped)
		}
		s.cmds = append(s.cmds[:0], s.cmds[n:]...)
		s.idx -= n
		s.compacted = max(0, s.compacted-n)
	}
	s.compact()
}

func (s *Store) compact() {
	if s.compactAfter <= 0 {
		return
	}
	limit := s.idx - s.compactAfter
	for ; s.compacted < limit; s.compacted++ {
		Compact(s.cmds[s.compacted])
	}
}

// Undo undoes the most recent applied command. Undo with nothing to undo
// is a recoverable misuse and returns false.
func (s *Store) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !logger.Assert(s.idx > 0, "undo with empty history") {
		return false
	}
	s.idx--
	s.cmds[s.idx].Undo()
	return true
}

// Redo reapplies the most recently undone command. Redo without a prior
// undo is a recoverable misuse and returns false.
func (s *Store) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !logger.Assert(s.idx < len(s.cmds), "redo without prior undo") {
		return false
	}
	s.cmds[s.idx].Redo()
	s.idx++
	return true
}

// CanUndo reports whether Undo would succeed.
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx > 0
}

// CanRedo reports whether Redo would succeed.
func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx < len(s.cmds)
}

// Len returns the number of commands in history, applied or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cmds)
}

// UndoName returns the name of the command Undo would undo.
func (s *Store) UndoName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == 0 {
		return ""
	}
	return NameOf(s.cmds[s.idx-1])
}

// RedoName returns the name of the command Redo would redo.
func (s *Store) RedoName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == len(s.cmds) {
		return ""
	}
	return NameOf(s.cmds[s.idx])
}

// Clear releases and drops the whole history.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range s.cmds {
		Release(cmd)
	}
	s.cmds = nil
	s.idx = 0
	s.compacted = 0
}
