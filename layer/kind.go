package layer

import "fmt"

// Kind is the closed set of node kinds.
type Kind uint8

const (
	// KindPaint holds pixels in an original device.
	KindPaint Kind = iota
	// KindGroup composites its children.
	KindGroup
	// KindAdjustment filters everything composited below it in its group.
	KindAdjustment
	// KindSelectionMask stores a local selection; it never affects pixels.
	KindSelectionMask
	// KindTransparencyMask multiplies its parent's alpha by its selection.
	KindTransparencyMask
	// KindFilterMask filters its parent's pixels, weighted by its selection.
	KindFilterMask
)

var kindNames = [...]string{"paint", "group", "adjustment", "selection-mask", "transparency-mask", "filter-mask"}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Caps is a set of node capabilities.
type Caps uint8

const (
	// HasProjection means the node owns a composited projection device.
	HasProjection Caps = 1 << iota
	// SupportsPassThrough means the node may composite its children
	// straight into its parent.
	SupportsPassThrough
	// OwnsMasks means mask nodes may be attached as children.
	OwnsMasks
	// OwnsLayers means layer nodes may be attached as children.
	OwnsLayers
	// IsMask means the node is a mask applied to its parent.
	IsMask
	// HasOriginal means the node stores source pixels.
	HasOriginal
	// HasFilter means the node applies a filter.
	HasFilter
	// HasSelection means the node stores a selection.
	HasSelection
)

// Has reports whether every capability in o is present.
func (c Caps) Has(o Caps) bool {
	return c&o == o
}

var kindCaps = [...]Caps{
	KindPaint:            HasProjection | OwnsMasks | HasOriginal,
	KindGroup:            HasProjection | SupportsPassThrough | OwnsMasks | OwnsLayers,
	KindAdjustment:       OwnsMasks | HasFilter,
	KindSelectionMask:    IsMask | HasSelection,
	KindTransparencyMask: IsMask | HasSelection,
	KindFilterMask:       IsMask | HasSelection | HasFilter,
}

// Caps returns the capabilities of k.
func (k Kind) Caps() Caps {
	if int(k) < len(kindCaps) {
		return kindCaps[k]
	}
	return 0
}
