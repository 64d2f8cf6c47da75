package governor

import (
	"sync"
	"time"
)

const (
	// throughputWindow is the fixed sample capacity; oldest samples are
	// evicted first.
	throughputWindow = 10

	// minSampleInterval throttles how often a progress event may produce a
	// sample.
	minSampleInterval = 300 * time.Millisecond

	// stallAfter is how long without buffering progress before the estimator
	// stops reporting a speed at all.
	stallAfter = 2 * time.Second

	// DefaultAssumedBitrate converts buffered seconds into an implied byte
	// rate. The true bitrate is unknown without deeper inspection; 5 Mb/s is a
	// reasonable stand-in for typical sources.
	DefaultAssumedBitrate = 5_000_000
)

// EstimateState says what kind of reading the estimator currently has.
type EstimateState int

const (
	// EstimateWaiting: no recent progress and the media is not fully buffered.
	EstimateWaiting EstimateState = iota
	// EstimateSpeed: a current moving-average speed is available.
	EstimateSpeed
	// EstimateComplete: no progress because there is nothing left to fetch.
	EstimateComplete
)

// Estimate is one throughput report.
type Estimate struct {
	State       EstimateState
	BytesPerSec float64
}

// ThroughputEstimator keeps a bounded rolling window of downstream speed
// samples fed by buffering-progress events. It is independent of the governor
// tick and safe for concurrent use.
type ThroughputEstimator struct {
	mu             sync.Mutex
	clock          Clock
	assumedBitrate float64

	window       []float64
	lastBuffered float64
	lastSample   time.Time
	lastProgress time.Time
	primed       bool
}

// NewThroughputEstimator creates an estimator. assumedBitrate <= 0 selects
// DefaultAssumedBitrate (bits per second).
func NewThroughputEstimator(assumedBitrate float64) *ThroughputEstimator {
	if assumedBitrate <= 0 {
		assumedBitrate = DefaultAssumedBitrate
	}
	return &ThroughputEstimator{
		clock:          systemClock{},
		assumedBitrate: assumedBitrate,
		window:         make([]float64, 0, throughputWindow),
	}
}

// SetClock replaces the wall clock; tests inject a fake.
func (e *ThroughputEstimator) SetClock(c Clock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = c
}

// Reset clears all samples, e.g. when a new source is loaded.
func (e *ThroughputEstimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window = e.window[:0]
	e.lastBuffered = 0
	e.primed = false
}

// OnProgress records a buffering-progress event carrying the current total of
// buffered media seconds. Samples are taken no more often than
// minSampleInterval and only when the total actually grew.
func (e *ThroughputEstimator) OnProgress(bufferedSec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if !e.primed {
		e.primed = true
		e.lastBuffered = bufferedSec
		e.lastSample = now
		e.lastProgress = now
		return
	}

	if bufferedSec <= e.lastBuffered {
		return
	}
	e.lastProgress = now

	elapsed := now.Sub(e.lastSample)
	if elapsed < minSampleInterval {
		return
	}

	deltaSec := bufferedSec - e.lastBuffered
	rate := deltaSec / elapsed.Seconds() * e.assumedBitrate / 8

	if len(e.window) == throughputWindow {
		e.window = e.window[1:]
	}
	e.window = append(e.window, rate)

	e.lastBuffered = bufferedSec
	e.lastSample = now
}

// Report returns the current estimate. bufferedSec and durationSec describe
// the playback element's present state; they decide between Waiting and
// Complete when progress has stalled. A stale speed is never reported.
func (e *ThroughputEstimator) Report(bufferedSec, durationSec float64) Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if !e.primed || now.Sub(e.lastProgress) > stallAfter {
		if durationSec > 0 && bufferedSec >= durationSec-1 {
			return Estimate{State: EstimateComplete}
		}
		return Estimate{State: EstimateWaiting}
	}

	if len(e.window) == 0 {
		return Estimate{State: EstimateWaiting}
	}

	var sum float64
	for _, v := range e.window {
		sum += v
	}
	return Estimate{State: EstimateSpeed, BytesPerSec: sum / float64(len(e.window))}
}

// WindowSize reports how many samples the window currently holds.
func (e *ThroughputEstimator) WindowSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.window)
}
