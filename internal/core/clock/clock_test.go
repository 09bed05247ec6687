package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedHonoursLimit(t *testing.T) {
	ctx := context.Background()
	f := NewFixed(0.25, 2)
	for range 2 {
		dt, err := f.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0.25, dt)
	}
	_, err := f.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 2, f.Produced())
}

func TestFixedStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFixed(1, 0).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManualIsNotRestartable(t *testing.T) {
	ctx := context.Background()
	m := NewManual(1, 2)
	m.Push(3)
	var got []float64
	for {
		dt, err := m.Next(ctx)
		if err != nil {
			assert.ErrorIs(t, err, ErrExhausted)
			break
		}
		got = append(got, dt)
	}
	assert.Equal(t, []float64{1, 2, 3}, got)
	_, err := m.Next(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestRealtimeClampsAndCancels(t *testing.T) {
	r := NewRealtime(1000, 0.0001)
	defer r.Stop()
	dt, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, dt, 0.0001)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()
	_, err = r.Next(ctx)
	// either a tick won the race or the context did; both are valid
	if err != nil {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}
