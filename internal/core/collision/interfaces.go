// Package collision tracks circular bodies by type tag and dispatches
// colliding pairs to handlers registered per unordered pair of tags.
//
// A Group is not safe for concurrent use. It is meant to be driven from the
// nursery scheduler, where only one task runs at a time and handlers may
// freely track and untrack bodies while a dispatch is in progress.
package collision

import (
	"errors"

	"github.com/zeusync/simkernel/internal/core/physics"
)

// Tag names a type bucket, e.g. "ship" or "bullet". The set of known tags
// is exactly the set named by RegisterHandler.
type Tag string

// Body is anything the group can test for overlap. Bodies are used as map
// keys, so implementations must be comparable; pointers are the norm.
type Body = physics.Circle

// Handler reacts to a colliding pair. Arguments arrive in the order the
// tags were given to RegisterHandler.
type Handler func(a, b Body)

var (
	ErrUnknownType    = errors.New("collision: no handler registered for type")
	ErrAlreadyTracked = errors.New("collision: body already tracked")
	ErrInvalidHandler = errors.New("collision: nil handler")
	ErrSealed         = errors.New("collision: handler table sealed")
)

// Event types published on the optional bus.
const (
	EventTracked   = "collision.tracked"
	EventUntracked = "collision.untracked"
)

// TrackEvent is the payload of EventTracked and EventUntracked.
type TrackEvent struct {
	Body Body
	Tag  Tag
}

// Stats describes the group and its most recent sweep.
type Stats struct {
	Live    int
	Pending int
	Buckets int

	Sweeps      uint64
	Clusters    int
	ExactChecks int
	Pairs       int

	Dispatched int
	Skipped    int
	Unhandled  int
}
