package canvas

import (
	"fmt"
	"image"
	"slices"
	"sync"

	"github.com/gogpu/canvas/layer"
)

// EventKind identifies an image event.
type EventKind uint8

const (
	// NodeAdded reports a node attached to the tree.
	NodeAdded EventKind = iota + 1
	// NodeRemoved reports a node detached from the tree.
	NodeRemoved
	// SelectionChanged reports a new, removed or restored global selection.
	SelectionChanged
	// ColorSpaceChanged reports an image color space conversion.
	ColorSpaceChanged
	// ProjectionUpdated reports recomposited or repainted pixels in Rect.
	ProjectionUpdated
)

var eventNames = [...]string{
	NodeAdded:         "node-added",
	NodeRemoved:       "node-removed",
	SelectionChanged:  "selection-changed",
	ColorSpaceChanged: "color-space-changed",
	ProjectionUpdated: "projection-updated",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) && eventNames[k] != "" {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", k)
}

// Event is a change of the image. Node is the node concerned, if any.
type Event struct {
	Kind EventKind
	Node *layer.Node
	Rect image.Rectangle
}

type subscriber struct {
	id int
	fn func(Event)
}

// eventQueue collects events until a flush delivers them, in the order
// they were pushed, on the flushing goroutine.
type eventQueue struct {
	mu         sync.Mutex
	pending    []Event
	subs       []subscriber
	nextID     int
	delivering bool
}

func (q *eventQueue) push(events ...Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, events...)
	q.mu.Unlock()
}

func (q *eventQueue) subscribe(fn func(Event)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	id := q.nextID
	q.subs = append(q.subs, subscriber{id: id, fn: fn})
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.subs = slices.DeleteFunc(q.subs, func(s subscriber) bool { return s.id == id })
	}
}

// flush delivers the pending events. A flush started while another one is
// delivering returns at once; the running one picks up the new events.
func (q *eventQueue) flush() {
	q.mu.Lock()
	if q.delivering {
		q.mu.Unlock()
		return
	}
	q.delivering = true
	for len(q.pending) > 0 {
		e := q.pending[0]
		q.pending = q.pending[1:]
		subs := slices.Clone(q.subs)
		q.mu.Unlock()
		for _, s := range subs {
			s.fn(e)
		}
		q.mu.Lock()
	}
	q.pending = nil
	q.delivering = false
	q.mu.Unlock()
}

// treeState is what structural operations compare to derive events.
type treeState struct {
	nodes     []*layer.Node
	parents   map[*layer.Node]*layer.Node
	selection *layer.Node
	cs        string
}

func (img *Image) state() treeState {
	s := treeState{parents: make(map[*layer.Node]*layer.Node)}
	layer.Walk(img.root, func(n *layer.Node) bool {
		s.nodes = append(s.nodes, n)
		s.parents[n] = n.Parent()
		return true
	})
	s.selection = img.globalMask()
	cs := img.ColorSpace()
	s.cs = cs.ID() + "/" + cs.Profile()
	return s
}

// diff returns the events turning before into after: removals first, then
// additions, each in tree order. A moved node is reported as removed and
// added again.
func diff(before, after treeState) []Event {
	var events []Event
	for _, n := range before.nodes {
		if p, ok := after.parents[n]; !ok || p != before.parents[n] {
			events = append(events, Event{Kind: NodeRemoved, Node: n})
		}
	}
	for _, n := range after.nodes {
		if p, ok := before.parents[n]; !ok || p != after.parents[n] {
			events = append(events, Event{Kind: NodeAdded, Node: n})
		}
	}
	if before.selection != after.selection {
		events = append(events, Event{Kind: SelectionChanged, Node: after.selection})
	}
	if before.cs != after.cs {
		events = append(events, Event{Kind: ColorSpaceChanged})
	}
	return events
}
