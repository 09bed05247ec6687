package sim

import (
	"github.com/zeusync/simkernel/internal/core/collision"
)

// Snapshot is a read-only view of the world after one frame.
type Snapshot struct {
	Frame  uint64         `json:"frame"`
	Time   float64        `json:"time"`
	Tasks  int            `json:"tasks"`
	Counts map[string]int `json:"counts"`
	Sweep  SweepStats     `json:"sweep"`
	Bodies []BodyView     `json:"bodies,omitempty"`
}

type SweepStats struct {
	Clusters    int `json:"clusters"`
	ExactChecks int `json:"exact_checks"`
	Pairs       int `json:"pairs"`
	Dispatched  int `json:"dispatched"`
	Skipped     int `json:"skipped"`
}

type BodyView struct {
	Name string  `json:"name,omitempty"`
	Tag  string  `json:"tag"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	R    float64 `json:"r"`
}

type named interface {
	Label() string
}

func (w *World) snapshot() Snapshot {
	st := w.sched.Stats()
	cs := w.group.Stats()
	snap := Snapshot{
		Frame:  st.Frame,
		Time:   st.Now,
		Tasks:  st.LiveTasks,
		Counts: make(map[string]int),
		Sweep: SweepStats{
			Clusters:    cs.Clusters,
			ExactChecks: cs.ExactChecks,
			Pairs:       cs.Pairs,
			Dispatched:  cs.Dispatched,
			Skipped:     cs.Skipped,
		},
	}
	for _, tag := range w.group.Tags() {
		members := w.group.Members(tag)
		snap.Counts[string(tag)] = len(members)
		for _, b := range members {
			snap.Bodies = append(snap.Bodies, view(tag, b))
		}
	}
	return snap
}

func view(tag collision.Tag, b collision.Body) BodyView {
	p := b.Position()
	v := BodyView{Tag: string(tag), X: p.X, Y: p.Y, R: b.Radius()}
	if n, ok := b.(named); ok {
		v.Name = n.Label()
	}
	return v
}
