package framegate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/emotion-sensor/internal/types"
)

type releaseLog struct {
	counts map[uint64]*atomic.Int32
}

func newReleaseLog() *releaseLog {
	return &releaseLog{counts: make(map[uint64]*atomic.Int32)}
}

func (r *releaseLog) frame(seq uint64) *types.Frame {
	c := &atomic.Int32{}
	r.counts[seq] = c
	f := types.NewFrame(make([]byte, types.I420Size(8, 8)), 8, 8, 0, func(*types.Frame) { c.Add(1) })
	f.Seq = seq
	return f
}

func (r *releaseLog) released(seq uint64) int32 {
	return r.counts[seq].Load()
}

func enabled(v bool) *types.DetectionState {
	return types.NewDetectionState(v)
}

// TestOfferOverwritesUnconsumed validates keep-only-latest semantics.
//
// Scenario:
//  1. Offer A, B, C with no consumer
//  2. Next returns C
//  3. A and B were released by the gate, C is still owned by the caller
func TestOfferOverwritesUnconsumed(t *testing.T) {
	log := newReleaseLog()
	g := New(enabled(true))

	g.Offer(log.frame(1))
	g.Offer(log.frame(2))
	g.Offer(log.frame(3))

	frame, ok := g.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(3), frame.Seq)

	assert.Equal(t, int32(1), log.released(1))
	assert.Equal(t, int32(1), log.released(2))
	assert.Equal(t, int32(0), log.released(3))

	stats := g.Stats()
	assert.Equal(t, uint64(3), stats.Offered)
	assert.Equal(t, uint64(2), stats.DroppedSuperseded)
	assert.Equal(t, uint64(1), stats.Consumed)

	frame.Release()
	t.Logf("✅ keep-only-latest: stats=%+v", stats)
}

// TestOfferWhileDisabled validates that a disabled gate releases frames with no downstream work.
func TestOfferWhileDisabled(t *testing.T) {
	log := newReleaseLog()
	state := enabled(false)
	g := New(state)

	assert.False(t, g.Offer(log.frame(1)))
	assert.Equal(t, int32(1), log.released(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := g.Next(ctx)
	assert.False(t, ok, "nothing should have been admitted")
	assert.Equal(t, uint64(1), g.Stats().DroppedDisabled)
}

// TestDisableNotRetroactive validates that an admitted frame survives a later disable.
func TestDisableNotRetroactive(t *testing.T) {
	log := newReleaseLog()
	state := enabled(true)
	g := New(state)

	require.True(t, g.Offer(log.frame(1)))
	_, changed := state.Deactivate()
	require.True(t, changed)

	frame, ok := g.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, uint64(0), frame.Generation, "stamped with the generation it was admitted under")
	assert.Equal(t, int32(0), log.released(1))
	frame.Release()
}

// TestMinIntervalThrottle validates the classification interval.
func TestMinIntervalThrottle(t *testing.T) {
	log := newReleaseLog()
	now := time.Unix(1000, 0)
	g := New(enabled(true),
		WithMinInterval(500*time.Millisecond),
		WithClock(func() time.Time { return now }),
	)

	require.True(t, g.Offer(log.frame(1)))
	f, _ := g.Next(context.Background())
	f.Release()

	now = now.Add(200 * time.Millisecond)
	assert.False(t, g.Offer(log.frame(2)))
	assert.Equal(t, int32(1), log.released(2))

	now = now.Add(400 * time.Millisecond)
	assert.True(t, g.Offer(log.frame(3)))

	assert.Equal(t, uint64(1), g.Stats().DroppedThrottled)
	g.Close()
	assert.Equal(t, int32(1), log.released(3))
}

// TestNextBlocksUntilOffer validates that the worker wakes on a new frame.
func TestNextBlocksUntilOffer(t *testing.T) {
	log := newReleaseLog()
	g := New(enabled(true))
	f := log.frame(7)

	got := make(chan *types.Frame, 1)
	go func() {
		frame, _ := g.Next(context.Background())
		got <- frame
	}()

	time.Sleep(10 * time.Millisecond)
	g.Offer(f)

	select {
	case frame := <-got:
		assert.Equal(t, uint64(7), frame.Seq)
		frame.Release()
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

// TestCloseReleasesPending validates shutdown: waiting frame released, worker woken,
// later offers released.
func TestCloseReleasesPending(t *testing.T) {
	log := newReleaseLog()
	g := New(enabled(true))
	g.Offer(log.frame(1))

	g.Close()
	g.Close()
	assert.Equal(t, int32(1), log.released(1))

	_, ok := g.Next(context.Background())
	assert.False(t, ok)

	assert.False(t, g.Offer(log.frame(2)))
	assert.Equal(t, int32(1), log.released(2))
}

// TestNextHonorsContext validates that cancellation unblocks the worker.
func TestNextHonorsContext(t *testing.T) {
	g := New(enabled(true))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := g.Next(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next ignored context cancellation")
	}
}

// TestOfferNonBlocking validates that Offer never waits on the consumer.
func TestOfferNonBlocking(t *testing.T) {
	g := New(enabled(true))
	defer g.Close()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		g.Offer(types.NewFrame(nil, 8, 8, 0, nil))
	}
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, uint64(999), g.Stats().DroppedSuperseded)
	t.Logf("✅ Offer() 1000 frames in %v", elapsed)
}
