// governorsim simulates a playback session against a synthetic download
// model and prints the governor's per-tick view. Useful for eyeballing health
// transitions without a real player.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"mediarelay/internal/governor"
)

// simMedia is a scripted playback: the buffer front advances at downloadRate
// seconds of media per wall second while playback advances at 1x when not
// paused.
type simMedia struct {
	buffered     float64
	position     float64
	duration     float64
	paused       bool
	downloadRate float64
}

func (m *simMedia) BufferedRanges() []governor.TimeRange {
	if m.buffered <= 0 {
		return nil
	}
	return []governor.TimeRange{{Start: 0, End: m.buffered}}
}

func (m *simMedia) Position() float64 { return m.position }
func (m *simMedia) Duration() float64 { return m.duration }
func (m *simMedia) Paused() bool      { return m.paused }

func (m *simMedia) advance(dt float64) {
	m.buffered += m.downloadRate * dt
	if m.buffered > m.duration {
		m.buffered = m.duration
	}
	if !m.paused {
		m.position += dt
		if m.position > m.buffered {
			// Playback starves and stalls at the buffer front.
			m.position = m.buffered
		}
	}
}

// simClock is the simulation's time source. The governor and the estimator
// both read it, so one tick of simulated time is one tick everywhere; wall
// time never leaks into sample intervals.
type simClock struct {
	now time.Time
}

func (c *simClock) Now() time.Time { return c.now }

func (c *simClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type simOptions struct {
	duration     float64
	downloadRate float64
	ticks        int
	pauseAt      int
}

func runSim(opts simOptions, out io.Writer) {
	media := &simMedia{duration: opts.duration, downloadRate: opts.downloadRate}
	clock := &simClock{now: time.Unix(0, 0)}

	cfg := governor.DefaultConfig()
	gov := governor.NewGovernor(cfg, media)
	gov.SetClock(clock)
	gov.SetBufferingHint(func() {
		fmt.Fprintln(out, "  hint: encourage buffering")
	})

	estimator := governor.NewThroughputEstimator(governor.DefaultAssumedBitrate)
	estimator.SetClock(clock)

	gov.Load()
	gov.MetadataReady()

	dt := cfg.TickInterval.Seconds()
	for i := 0; i < opts.ticks; i++ {
		if i == opts.pauseAt {
			media.paused = true
			fmt.Fprintln(out, "  playback paused")
		}
		clock.advance(cfg.TickInterval)
		media.advance(dt)
		estimator.OnProgress(media.buffered)

		status := gov.Tick()
		report := estimator.Report(media.buffered, media.duration)

		fmt.Fprintf(out, "t=%5.1fs pos=%6.1fs buffered=%6.1fs ahead=%6.1fs health=%-8s speed=%s\n",
			float64(i)*dt, media.position, media.buffered, status.AheadSec,
			status.Health, formatEstimate(report))
	}
}

func main() {
	var (
		duration     = flag.Float64("duration", 600, "media duration in seconds")
		downloadRate = flag.Float64("rate", 1.5, "download speed in media-seconds per wall second")
		ticks        = flag.Int("ticks", 120, "number of governor ticks to simulate")
		pauseAt      = flag.Int("pause-at", 60, "tick index at which playback pauses (-1 to never pause)")
	)
	flag.Parse()

	if *duration <= 0 || *ticks <= 0 {
		log.Fatal("duration and ticks must be positive")
	}

	runSim(simOptions{
		duration:     *duration,
		downloadRate: *downloadRate,
		ticks:        *ticks,
		pauseAt:      *pauseAt,
	}, os.Stdout)
}

func formatEstimate(e governor.Estimate) string {
	switch e.State {
	case governor.EstimateComplete:
		return "complete"
	case governor.EstimateWaiting:
		return "waiting"
	default:
		return fmt.Sprintf("%.1f Mb/s", e.BytesPerSec*8/1e6)
	}
}
