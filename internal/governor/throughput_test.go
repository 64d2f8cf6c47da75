package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedConstantRate pushes progress events so each sample computes to the given
// byte rate under the estimator's assumed bitrate.
func feedConstantRate(e *ThroughputEstimator, clock *fakeClock, assumedBitrate float64, bytesPerSec float64, samples int, startBuffered float64) float64 {
	buffered := startBuffered
	secPerSample := bytesPerSec * 8 / assumedBitrate // media seconds gained per wall second
	for i := 0; i < samples; i++ {
		clock.Advance(time.Second)
		buffered += secPerSample
		e.OnProgress(buffered)
	}
	return buffered
}

func TestEstimatorMovingAverageResistsOutlier(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	e := NewThroughputEstimator(DefaultAssumedBitrate)
	e.SetClock(clock)

	e.OnProgress(0) // prime

	buffered := feedConstantRate(e, clock, DefaultAssumedBitrate, 500_000, 10, 0)
	require.Equal(t, 10, e.WindowSize())

	est := e.Report(buffered, 7200)
	require.Equal(t, EstimateSpeed, est.State)
	assert.InDelta(t, 500_000, est.BytesPerSec, 1)

	// One 5 MB/s outlier: the mean moves toward it but does not jump.
	buffered = feedConstantRate(e, clock, DefaultAssumedBitrate, 5_000_000, 1, buffered)
	assert.Equal(t, 10, e.WindowSize(), "window capacity is fixed at 10")

	est = e.Report(buffered, 7200)
	require.Equal(t, EstimateSpeed, est.State)
	want := (9*500_000.0 + 5_000_000.0) / 10
	assert.InDelta(t, want, est.BytesPerSec, 1)
	assert.Less(t, est.BytesPerSec, 5_000_000.0)
	assert.Greater(t, est.BytesPerSec, 500_000.0)
}

func TestEstimatorThrottlesSampling(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	e := NewThroughputEstimator(0)
	e.SetClock(clock)

	e.OnProgress(0)
	clock.Advance(100 * time.Millisecond)
	e.OnProgress(1)
	assert.Equal(t, 0, e.WindowSize(), "events inside the 300ms sample interval are dropped")

	clock.Advance(400 * time.Millisecond)
	e.OnProgress(2)
	assert.Equal(t, 1, e.WindowSize())
}

func TestEstimatorIgnoresNonProgress(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	e := NewThroughputEstimator(0)
	e.SetClock(clock)

	e.OnProgress(10)
	clock.Advance(time.Second)
	e.OnProgress(10) // no growth
	clock.Advance(time.Second)
	e.OnProgress(9) // shrink (seek)
	assert.Equal(t, 0, e.WindowSize())
}

func TestEstimatorStallReportsWaitingOrComplete(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	e := NewThroughputEstimator(DefaultAssumedBitrate)
	e.SetClock(clock)

	e.OnProgress(0)
	buffered := feedConstantRate(e, clock, DefaultAssumedBitrate, 500_000, 3, 0)

	est := e.Report(buffered, 7200)
	require.Equal(t, EstimateSpeed, est.State)

	// 2.5s of silence: the speed is stale, never reported.
	clock.Advance(2500 * time.Millisecond)
	est = e.Report(buffered, 7200)
	assert.Equal(t, EstimateWaiting, est.State)

	// Same stall, but buffered covers the whole duration.
	est = e.Report(7199.5, 7200)
	assert.Equal(t, EstimateComplete, est.State)
}

func TestEstimatorNeverPrimedReportsWaiting(t *testing.T) {
	e := NewThroughputEstimator(0)
	e.SetClock(&fakeClock{now: time.Unix(1000, 0)})
	assert.Equal(t, EstimateWaiting, e.Report(0, 7200).State)
}

func TestEstimatorReset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	e := NewThroughputEstimator(0)
	e.SetClock(clock)

	e.OnProgress(0)
	feedConstantRate(e, clock, DefaultAssumedBitrate, 500_000, 2, 0)
	require.NotZero(t, e.WindowSize())

	e.Reset()
	assert.Zero(t, e.WindowSize())
	assert.Equal(t, EstimateWaiting, e.Report(0, 7200).State)
}
