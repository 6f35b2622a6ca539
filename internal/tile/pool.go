package tile

import (
	"fmt"
	"sync"
)

// Pool provides reuse of tile memory via sync.Pool, one pool per pixel size.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	// pools maps pixel size -> *sync.Pool.
	pools sync.Map
}

// NewPool creates a new tile pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get returns a zeroed tile with a reference count of one.
func (p *Pool) Get(pixelSize int) *Tile {
	if pixelSize <= 0 {
		panic(fmt.Sprintf("tile: invalid pixel size %d", pixelSize))
	}
	t := p.poolFor(pixelSize).Get().(*Tile)
	clear(t.data)
	t.refs.Store(1)
	return t
}

// GetFilled returns a tile whose pixels all equal px.
func (p *Pool) GetFilled(px []byte) *Tile {
	t := p.poolFor(len(px)).Get().(*Tile)
	t.fill(px)
	t.refs.Store(1)
	return t
}

// Clone returns an unshared copy of t with a reference count of one.
func (p *Pool) Clone(t *Tile) *Tile {
	c := p.poolFor(t.pixelSize).Get().(*Tile)
	copy(c.data, t.data)
	c.refs.Store(1)
	return c
}

// Release drops one reference to t. The tile returns to the pool when the
// last reference is gone. Releasing an unreferenced tile corrupts sharing
// and panics.
func (p *Pool) Release(t *Tile) {
	if t == nil {
		return
	}
	switch n := t.refs.Add(-1); {
	case n == 0:
		p.poolFor(t.pixelSize).Put(t)
	case n < 0:
		panic("tile: released a tile with no references")
	}
}

func (p *Pool) poolFor(pixelSize int) *sync.Pool {
	if pool, ok := p.pools.Load(pixelSize); ok {
		return pool.(*sync.Pool)
	}
	newPool := &sync.Pool{
		New: func() any {
			return &Tile{
				pixelSize: pixelSize,
				data:      make([]byte, Pixels*pixelSize),
			}
		},
	}
	// If another goroutine beat us, use theirs.
	actual, _ := p.pools.LoadOrStore(pixelSize, newPool)
	return actual.(*sync.Pool)
}

// defaultPool is the package-level pool used by maps created without one.
var defaultPool = NewPool()

// DefaultPool returns the package-level tile pool.
func DefaultPool() *Pool {
	return defaultPool
}
