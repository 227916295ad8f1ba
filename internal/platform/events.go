package platform

import "time"

// EventKind is the kind of a link change.
type EventKind int

const (
	EventAdded EventKind = iota + 1
	EventChanged
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventChanged:
		return "changed"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// RawEvent is a notification as reported by a Transport. For EventRemoved
// only Link.Handle is meaningful.
type RawEvent struct {
	Kind EventKind
	Link Link
}

// Change is one net difference produced by Cache.Flush.
type Change struct {
	Kind EventKind
	Link Link
}

// Event is a published change.
type Event struct {
	Seq    uint64
	Time   time.Time
	Kind   EventKind
	Handle int
	Link   Link
}
