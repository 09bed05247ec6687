package collision

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/zeusync/simkernel/internal/core/events/bus"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/internal/core/physics"
)

// slot is one arena entry. Indices stay stable until the next reconcile,
// which runs at the start of a sweep.
type slot struct {
	body   Body
	tag    Tag
	serial uint64
	live   bool
}

// bucket is an ordered set of live bodies sharing one tag.
type bucket struct {
	bodies []Body
	pos    map[Body]int
}

func newBucket() *bucket {
	return &bucket{pos: make(map[Body]int)}
}

func (b *bucket) add(body Body) {
	b.pos[body] = len(b.bodies)
	b.bodies = append(b.bodies, body)
}

func (b *bucket) remove(body Body) {
	i, ok := b.pos[body]
	if !ok {
		return
	}
	last := len(b.bodies) - 1
	if i != last {
		moved := b.bodies[last]
		b.bodies[i] = moved
		b.pos[moved] = i
	}
	b.bodies[last] = nil
	b.bodies = b.bodies[:last]
	delete(b.pos, body)
}

// pairKey is an unordered pair of tags, stored with lo <= hi.
type pairKey struct {
	lo, hi Tag
}

func keyOf(a, b Tag) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

type handlerEntry struct {
	first Tag
	fn    Handler
}

// Group tracks tagged bodies and dispatches handlers for overlapping pairs.
// It is not usable as a zero value; build it with New. A Group is driven from
// a single goroutine.
type Group struct {
	logger log.Log
	bus    bus.EventBus

	slots   []slot
	serial  uint64
	index   map[Body]int
	pending []int
	buckets map[Tag]*bucket

	handlers map[pairKey]handlerEntry
	sealed   bool

	dispatching int
	stats       Stats
}

// Option configures a Group built by New.
type Option func(*Group)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l log.Log) Option {
	return func(g *Group) { g.logger = l }
}

// WithEventBus publishes track and untrack events on b. Without it no events
// are published.
func WithEventBus(b bus.EventBus) Option {
	return func(g *Group) { g.bus = b }
}

// New returns an empty group with no tags and no handlers.
func New(opts ...Option) *Group {
	g := &Group{
		logger:   log.NewNop(),
		index:    make(map[Body]int),
		buckets:  make(map[Tag]*bucket),
		handlers: make(map[pairKey]handlerEntry),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(log.String("component", "collision"))
	return g
}

// RegisterHandler declares both tags as known buckets and stores fn for the
// unordered pair. Registering the same pair again, in either order, replaces
// the previous handler.
func (g *Group) RegisterHandler(a, b Tag, fn Handler) error {
	if g.sealed {
		return fmt.Errorf("%w: (%s, %s)", ErrSealed, a, b)
	}
	if fn == nil {
		return fmt.Errorf("%w: (%s, %s)", ErrInvalidHandler, a, b)
	}
	for _, t := range []Tag{a, b} {
		if _, ok := g.buckets[t]; !ok {
			g.buckets[t] = newBucket()
		}
	}
	key := keyOf(a, b)
	if _, ok := g.handlers[key]; ok {
		g.logger.Debug("collision handler replaced", log.String("a", string(a)), log.String("b", string(b)))
	}
	g.handlers[key] = handlerEntry{first: a, fn: fn}
	return nil
}

// MustRegister is RegisterHandler for startup code; it panics on error.
func (g *Group) MustRegister(a, b Tag, fn Handler) {
	if err := g.RegisterHandler(a, b, fn); err != nil {
		panic(err)
	}
}

// Seal freezes the handler table.
func (g *Group) Seal() { g.sealed = true }

// Track starts testing b for collisions under tag.
func (g *Group) Track(b Body, tag Tag) error {
	bk, ok := g.buckets[tag]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
	if i, ok := g.index[b]; ok {
		return fmt.Errorf("%w: as %q", ErrAlreadyTracked, g.slots[i].tag)
	}
	g.serial++
	g.index[b] = len(g.slots)
	g.slots = append(g.slots, slot{body: b, tag: tag, serial: g.serial, live: true})
	bk.add(b)
	g.publish(EventTracked, TrackEvent{Body: b, Tag: tag})
	return nil
}

// Untrack stops testing b. It is a no-op when b is not tracked. The body
// leaves its bucket at once; its arena slot is reclaimed at the next sweep.
func (g *Group) Untrack(b Body) {
	i, ok := g.index[b]
	if !ok {
		return
	}
	g.untrackSlot(i)
}

func (g *Group) untrackSlot(i int) {
	s := &g.slots[i]
	delete(g.index, s.body)
	g.buckets[s.tag].remove(s.body)
	s.live = false
	g.pending = append(g.pending, i)
	g.publish(EventUntracked, TrackEvent{Body: s.body, Tag: s.tag})
}

// Tracking tracks b and returns a release func that untracks it. Release is
// idempotent and leaves b alone if it has since been re-tracked by someone
// else. Callers normally defer it.
func (g *Group) Tracking(b Body, tag Tag) (release func(), err error) {
	if err = g.Track(b, tag); err != nil {
		return func() {}, err
	}
	serial := g.serial
	released := false
	return func() {
		if released {
			return
		}
		released = true
		if i, ok := g.index[b]; ok && g.slots[i].serial == serial {
			g.untrackSlot(i)
		}
	}, nil
}

// With tracks b for the duration of fn.
func (g *Group) With(b Body, tag Tag, fn func() error) error {
	release, err := g.Tracking(b, tag)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// QueryRadius returns the bodies tagged tag whose circle overlaps the circle
// at p with radius r. Touching does not count.
func (g *Group) QueryRadius(p physics.Vec2, r float64, tag Tag) ([]Body, error) {
	bk, ok := g.buckets[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}
	var found []Body
	for _, o := range bk.bodies {
		if physics.Overlaps(o.Position(), o.Radius(), p, r) {
			found = append(found, o)
		}
	}
	return found, nil
}

func (g *Group) TagOf(b Body) (Tag, bool) {
	i, ok := g.index[b]
	if !ok {
		return "", false
	}
	return g.slots[i].tag, true
}

func (g *Group) IsTracked(b Body) bool {
	_, ok := g.index[b]
	return ok
}

// Members returns a copy of the live bodies tagged tag.
func (g *Group) Members(tag Tag) []Body {
	bk, ok := g.buckets[tag]
	if !ok {
		return nil
	}
	return slices.Clone(bk.bodies)
}

func (g *Group) Count(tag Tag) int {
	if bk, ok := g.buckets[tag]; ok {
		return len(bk.bodies)
	}
	return 0
}

func (g *Group) Contains(tag Tag, b Body) bool {
	bk, ok := g.buckets[tag]
	if !ok {
		return false
	}
	_, ok = bk.pos[b]
	return ok
}

// ChooseRandom picks a live body tagged tag using r.
func (g *Group) ChooseRandom(tag Tag, r *rand.Rand) (Body, bool) {
	bk, ok := g.buckets[tag]
	if !ok || len(bk.bodies) == 0 {
		return nil, false
	}
	return bk.bodies[r.IntN(len(bk.bodies))], true
}

// Tags lists the known tags in sorted order.
func (g *Group) Tags() []Tag {
	tags := make([]Tag, 0, len(g.buckets))
	for t := range g.buckets {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

func (g *Group) Stats() Stats {
	st := g.stats
	st.Live = len(g.index)
	st.Pending = len(g.pending)
	st.Buckets = len(g.buckets)
	return st
}

// reconcile drops dead slots from the arena and reindexes the live ones.
// It is skipped while a dispatch is running so the indices held by the
// outer sweep stay valid.
func (g *Group) reconcile() {
	if g.dispatching > 0 || len(g.pending) == 0 {
		return
	}
	live := g.slots[:0]
	for _, s := range g.slots {
		if !s.live {
			continue
		}
		g.index[s.body] = len(live)
		live = append(live, s)
	}
	clear(g.slots[len(live):])
	g.slots = live
	g.pending = g.pending[:0]
}

func (g *Group) publish(eventType string, data TrackEvent) {
	if g.bus == nil {
		return
	}
	if err := g.bus.Publish(bus.NewEvent(eventType, "collision", data)); err != nil {
		g.logger.Warn("event handler failed", log.String("event", eventType), log.Error(err))
	}
}
