package collision

import (
	"cmp"
	"iter"
	"slices"

	"github.com/zeusync/simkernel/internal/core/physics"
)

type axis uint8

const (
	axisX axis = iota
	axisY
)

func (a axis) other() axis { return 1 - a }

// entry is a live body with its position and radius read once per sweep.
type entry struct {
	slot int
	p    physics.Vec2
	r    float64
}

func (e entry) lo(a axis) float64 {
	if a == axisX {
		return e.p.X - e.r
	}
	return e.p.Y - e.r
}

func (e entry) hi(a axis) float64 {
	if a == axisX {
		return e.p.X + e.r
	}
	return e.p.Y + e.r
}

type pair struct{ a, b int }

// Collisions yields every pair of tracked bodies whose circles overlap, each
// unordered pair once. Pairs are computed fresh on every call. A pair whose
// body is untracked while iterating is not yielded.
func (g *Group) Collisions() iter.Seq2[Body, Body] {
	return func(yield func(Body, Body) bool) {
		pairs := g.sweep()
		g.dispatching++
		defer func() { g.dispatching-- }()
		for _, p := range pairs {
			a, b := g.slots[p.a], g.slots[p.b]
			if !a.live || !b.live {
				continue
			}
			if !yield(a.body, b.body) {
				return
			}
		}
	}
}

// ProcessCollisions sweeps once and calls the handler registered for each
// colliding pair. Pairs with an operand untracked by an earlier handler in
// the same pass are skipped. It returns the number of handler calls.
func (g *Group) ProcessCollisions() int {
	pairs := g.sweep()
	g.dispatching++
	defer func() { g.dispatching-- }()

	dispatched, skipped, unhandled := 0, 0, 0
	for _, p := range pairs {
		a, b := g.slots[p.a], g.slots[p.b]
		if !a.live || !b.live {
			skipped++
			continue
		}
		h, ok := g.handlers[keyOf(a.tag, b.tag)]
		if !ok {
			unhandled++
			continue
		}
		if h.first == a.tag {
			h.fn(a.body, b.body)
		} else {
			h.fn(b.body, a.body)
		}
		dispatched++
	}
	g.stats.Dispatched = dispatched
	g.stats.Skipped = skipped
	g.stats.Unhandled = unhandled
	return dispatched
}

// sweep reconciles the arena and runs the broadphase: sort by lower bound on
// one axis, cut wherever the next lower bound reaches the running upper
// bound, then repeat inside each cut on the other axis. A cluster that
// cannot be cut on either axis gets the exact circle test on all its pairs.
func (g *Group) sweep() []pair {
	g.reconcile()
	g.stats.Sweeps++
	g.stats.Clusters, g.stats.ExactChecks, g.stats.Pairs = 0, 0, 0

	entries := make([]entry, 0, len(g.index))
	for i, s := range g.slots {
		if s.live {
			entries = append(entries, entry{slot: i, p: s.body.Position(), r: s.body.Radius()})
		}
	}

	var pairs []pair
	split(entries, axisX, false, func(cluster []entry) {
		g.stats.Clusters++
		for i := range cluster {
			for j := i + 1; j < len(cluster); j++ {
				g.stats.ExactChecks++
				a, b := cluster[i], cluster[j]
				if physics.Overlaps(a.p, a.r, b.p, b.r) {
					pairs = append(pairs, pair{a: a.slot, b: b.slot})
				}
			}
		}
	})
	g.stats.Pairs = len(pairs)
	return pairs
}

// split partitions es along ax into runs of overlapping intervals. triedOther
// is set when es already failed to split on the other axis.
func split(es []entry, ax axis, triedOther bool, final func([]entry)) {
	if len(es) < 2 {
		return
	}
	slices.SortFunc(es, func(a, b entry) int { return cmp.Compare(a.lo(ax), b.lo(ax)) })

	var cuts []int
	mark := es[0].hi(ax)
	for i := 1; i < len(es); i++ {
		if es[i].lo(ax) >= mark {
			cuts = append(cuts, i)
		}
		mark = max(mark, es[i].hi(ax))
	}

	if len(cuts) == 0 {
		if triedOther {
			final(es)
			return
		}
		split(es, ax.other(), true, final)
		return
	}

	start := 0
	for _, end := range append(cuts, len(es)) {
		if end-start > 1 {
			split(es[start:end], ax.other(), false, final)
		}
		start = end
	}
}
