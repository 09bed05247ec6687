// Package clock provides frame sources: lazy, non-restartable sequences of
// per-frame elapsed times in seconds. Each value handed out is one frame
// boundary for the whole simulation.
package clock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrExhausted = errors.New("clock: frame source exhausted")

// Source yields the elapsed time of the next frame. Values are consumed
// exactly once; there is no rewind.
type Source interface {
	Next(ctx context.Context) (float64, error)
}

// Fixed produces a constant dt. Limit > 0 caps the number of frames.
type Fixed struct {
	DT    float64
	Limit int

	produced int
}

func NewFixed(dt float64, limit int) *Fixed {
	return &Fixed{DT: dt, Limit: limit}
}

func (f *Fixed) Next(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.Limit > 0 && f.produced >= f.Limit {
		return 0, ErrExhausted
	}
	f.produced++
	return f.DT, nil
}

// Produced is the number of frames handed out so far.
func (f *Fixed) Produced() int { return f.produced }

// Realtime paces frames on a wall-clock ticker and reports the measured gap.
type Realtime struct {
	ticker *time.Ticker
	last   time.Time
	maxDT  float64
}

// NewRealtime ticks rate times per second. Gaps longer than maxDT seconds
// (debugger pauses, a stalled host) are clamped; maxDT <= 0 disables clamping.
func NewRealtime(rate, maxDT float64) *Realtime {
	period := time.Duration(float64(time.Second) / rate)
	return &Realtime{
		ticker: time.NewTicker(period),
		last:   time.Now(),
		maxDT:  maxDT,
	}
}

func (r *Realtime) Next(ctx context.Context) (float64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case now := <-r.ticker.C:
		dt := now.Sub(r.last).Seconds()
		r.last = now
		if r.maxDT > 0 && dt > r.maxDT {
			dt = r.maxDT
		}
		return dt, nil
	}
}

func (r *Realtime) Stop() { r.ticker.Stop() }

// Manual replays queued values and then reports ErrExhausted. Used by tests.
type Manual struct {
	mu    sync.Mutex
	queue []float64
}

func NewManual(dts ...float64) *Manual {
	return &Manual{queue: append([]float64(nil), dts...)}
}

func (m *Manual) Push(dts ...float64) {
	m.mu.Lock()
	m.queue = append(m.queue, dts...)
	m.mu.Unlock()
}

func (m *Manual) Next(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return 0, ErrExhausted
	}
	dt := m.queue[0]
	m.queue = m.queue[1:]
	return dt, nil
}
