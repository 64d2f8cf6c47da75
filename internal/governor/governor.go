// Package governor owns client-side buffer supervision for one playback
// session: buffered-range tracking, health classification and throughput
// estimation. It decides when the media pipeline should keep pre-fetching; it
// never decides what to render.
package governor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TimeRange is one buffered span in seconds of media time.
type TimeRange struct {
	Start float64
	End   float64
}

// MediaState is the read-only view of the playback element the governor
// polls every tick. Implementations must be cheap and non-blocking.
type MediaState interface {
	BufferedRanges() []TimeRange
	Position() float64
	Duration() float64
	Paused() bool
}

// Clock abstracts wall time so ticks are testable without a real timer.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Health classifies how much playable media sits ahead of the position.
type Health int

const (
	HealthHealthy Health = iota
	HealthWarning
	HealthCritical
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthWarning:
		return "warning"
	default:
		return "critical"
	}
}

// State is the governor lifecycle for one playback session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateTracking:
		return "tracking"
	default:
		return "idle"
	}
}

// Config holds the governor thresholds. All durations are seconds of media
// time unless noted.
type Config struct {
	TickInterval    time.Duration
	HealthyAheadSec float64
	WarningAheadSec float64
	// TargetAheadSec is the look-ahead the governor tries to keep filled even
	// while playback is paused.
	TargetAheadSec float64
	// HistoryFraction sizes the informational history-buffer target as a
	// fraction of the max-watched position.
	HistoryFraction float64
}

// DefaultConfig returns the thresholds the player ships with.
func DefaultConfig() Config {
	return Config{
		TickInterval:    500 * time.Millisecond,
		HealthyAheadSec: 30,
		WarningAheadSec: 10,
		TargetAheadSec:  60,
		HistoryFraction: 0.10,
	}
}

// Snapshot is a point-in-time read of playback buffering state. Ranges are
// sorted by start and non-overlapping.
type Snapshot struct {
	Ranges     []TimeRange
	Position   float64
	MaxWatched float64
}

// Status is the outcome of one governor tick.
type Status struct {
	State              State
	Snapshot           Snapshot
	AheadSec           float64
	BehindSec          float64
	Health             Health
	EncourageBuffering bool
	RequiredHistorySec float64
}

// Governor runs the periodic health-classification tick for one playback
// session. It is safe for concurrent use; Run drives ticks from a single
// goroutine and state transitions may come from another.
type Governor struct {
	cfg   Config
	media MediaState

	mu         sync.Mutex
	clock      Clock
	state      State
	maxWatched float64
	onHint     func()
}

// NewGovernor creates a governor polling the given media state. Zero-value
// config fields fall back to DefaultConfig.
func NewGovernor(cfg Config, media MediaState) *Governor {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.HealthyAheadSec <= 0 {
		cfg.HealthyAheadSec = def.HealthyAheadSec
	}
	if cfg.WarningAheadSec <= 0 {
		cfg.WarningAheadSec = def.WarningAheadSec
	}
	if cfg.TargetAheadSec <= 0 {
		cfg.TargetAheadSec = def.TargetAheadSec
	}
	if cfg.HistoryFraction <= 0 {
		cfg.HistoryFraction = def.HistoryFraction
	}
	return &Governor{cfg: cfg, media: media, clock: systemClock{}, state: StateIdle}
}

// SetClock replaces the wall clock; tests inject a fake.
func (g *Governor) SetClock(c Clock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = c
}

// SetBufferingHint registers the callback fired when the governor wants the
// playback element to keep pre-fetching aggressively (e.g. while paused).
func (g *Governor) SetBufferingHint(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onHint = fn
}

// Load transitions to Loading for a new source. Max-watched resets: it is
// monotonic only within one playback session.
func (g *Governor) Load() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateLoading
	g.maxWatched = 0
}

// MetadataReady transitions Loading -> Tracking once the playback element has
// initial metadata (duration, first ranges).
func (g *Governor) MetadataReady() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateLoading {
		g.state = StateTracking
	}
}

// Unload ends the session and returns to Idle.
func (g *Governor) Unload() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateIdle
	g.maxWatched = 0
}

// State returns the current lifecycle state.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Run drives ticks at the configured interval until ctx is cancelled.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick recomputes the snapshot and classification. Outside Tracking it only
// reports the lifecycle state.
func (g *Governor) Tick() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateTracking {
		return Status{State: g.state}
	}

	snap := g.snapshotLocked()
	status := Status{
		State:              StateTracking,
		Snapshot:           snap,
		RequiredHistorySec: g.cfg.HistoryFraction * snap.MaxWatched,
	}

	if rng, ok := containingRange(snap.Ranges, snap.Position); ok {
		status.AheadSec = rng.End - snap.Position
		status.BehindSec = snap.Position - rng.Start
	}

	status.Health = g.classify(status.AheadSec)

	duration := g.media.Duration()
	if g.media.Paused() &&
		status.AheadSec < g.cfg.TargetAheadSec &&
		duration > 0 && totalBuffered(snap.Ranges) < duration {
		status.EncourageBuffering = true
		if g.onHint != nil {
			g.onHint()
		}
	}

	return status
}

func (g *Governor) snapshotLocked() Snapshot {
	ranges := normalizeRanges(g.media.BufferedRanges())
	pos := g.media.Position()
	if pos > g.maxWatched {
		g.maxWatched = pos
	}
	return Snapshot{Ranges: ranges, Position: pos, MaxWatched: g.maxWatched}
}

func (g *Governor) classify(ahead float64) Health {
	switch {
	case ahead >= g.cfg.HealthyAheadSec:
		return HealthHealthy
	case ahead >= g.cfg.WarningAheadSec:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// normalizeRanges sorts and merges the raw ranges so the snapshot invariant
// (sorted, non-overlapping) holds even if the source misbehaves.
func normalizeRanges(in []TimeRange) []TimeRange {
	if len(in) == 0 {
		return nil
	}
	out := make([]TimeRange, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	merged := out[:1]
	for _, r := range out[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func containingRange(ranges []TimeRange, pos float64) (TimeRange, bool) {
	for _, r := range ranges {
		if pos >= r.Start && pos <= r.End {
			return r, true
		}
	}
	return TimeRange{}, false
}

func totalBuffered(ranges []TimeRange) float64 {
	var total float64
	for _, r := range ranges {
		total += r.End - r.Start
	}
	return total
}
