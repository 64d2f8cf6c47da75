// Package probe wraps ffprobe as a best-effort media introspection adapter.
// Analysis never hard-fails: an absent or misbehaving prober yields an
// inventory flagged unavailable, and playback carries on without enhanced
// metadata.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"mediarelay/services/relay"

	"github.com/acomagu/bufpipe"
	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc"
	"golang.org/x/text/language"
)

const (
	// DefaultTimeout bounds one ffprobe invocation. Remote locators need time
	// to pull enough data over the network.
	DefaultTimeout = 60 * time.Second

	// maxProbeOutput caps how much ffprobe JSON is read.
	maxProbeOutput = 4 << 20

	// sampleBytes is how much of the media head the relay-fed fallback feeds
	// into ffprobe stdin. The leading 16MB carries the stream inventory for
	// common containers.
	sampleBytes = 16 << 20

	probeAttempts = 2
)

// Inventory is the typed stream inventory for one analysis request. Immutable
// once produced; never cached.
type Inventory struct {
	FFProbeAvailable     bool            `json:"ffprobeAvailable"`
	Container            string          `json:"container,omitempty"`
	DurationSeconds      float64         `json:"durationSeconds,omitempty"`
	BitRate              int64           `json:"bitRate,omitempty"`
	AudioTracks          []AudioTrack    `json:"audioTracks,omitempty"`
	SubtitleTracks       []SubtitleTrack `json:"subtitleTracks,omitempty"`
	VideoTracks          []VideoTrack    `json:"videoTracks,omitempty"`
	MultiAudio           bool            `json:"multiAudio"`
	HasEmbeddedSubtitles bool            `json:"hasEmbeddedSubtitles"`
}

// AudioTrack describes one elementary audio stream. TypeIndex is the
// zero-based position among audio streams; Index is the container's absolute
// stream index.
type AudioTrack struct {
	TypeIndex  int    `json:"typeIndex"`
	Index      int    `json:"index"`
	Codec      string `json:"codec"`
	Language   string `json:"language,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	BitRate    int64  `json:"bitRate,omitempty"`
}

// SubtitleTrack describes one embedded subtitle stream.
type SubtitleTrack struct {
	TypeIndex int    `json:"typeIndex"`
	Index     int    `json:"index"`
	Codec     string `json:"codec"`
	Language  string `json:"language,omitempty"`
	Title     string `json:"title,omitempty"`
	Forced    bool   `json:"forced"`
}

// VideoTrack describes one video stream.
type VideoTrack struct {
	TypeIndex int    `json:"typeIndex"`
	Index     int    `json:"index"`
	Codec     string `json:"codec"`
	Profile   string `json:"profile,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	FrameRate string `json:"frameRate,omitempty"`
	BitRate   int64  `json:"bitRate,omitempty"`
}

// ffprobe JSON shapes, trimmed to the fields the inventory needs.
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	Index        int               `json:"index"`
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Profile      string            `json:"profile"`
	Channels     int               `json:"channels"`
	SampleRate   string            `json:"sample_rate"`
	BitRate      string            `json:"bit_rate"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Tags         map[string]string `json:"tags"`
	Disposition  map[string]int    `json:"disposition"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

// Service invokes the external prober. A nil relay client disables the
// stdin-fed fallback path.
type Service struct {
	ffprobePath string
	timeout     time.Duration
	relayClient *relay.Client
}

// NewService resolves the prober executable. An unresolvable path is not an
// error: the service stays constructed and every Analyze call degrades to an
// unavailable inventory.
func NewService(ffprobePath string, timeout time.Duration, relayClient *relay.Client) *Service {
	resolved := strings.TrimSpace(ffprobePath)
	if resolved == "" {
		resolved = "ffprobe"
	}
	if path, err := exec.LookPath(resolved); err == nil {
		resolved = path
	} else {
		log.Printf("[probe] ffprobe unavailable at %q: %v", resolved, err)
		resolved = ""
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Service{ffprobePath: resolved, timeout: timeout, relayClient: relayClient}
}

// Available reports whether the prober executable was found.
func (s *Service) Available() bool {
	return s.ffprobePath != ""
}

// Analyze probes the locator and builds a stream inventory. Failures of any
// kind degrade to an unavailable-style result; analysis is always best-effort.
func (s *Service) Analyze(ctx context.Context, locator string) *Inventory {
	if !s.Available() {
		return &Inventory{FFProbeAvailable: false}
	}

	meta, err := s.probeDirect(ctx, locator)
	if err != nil && s.relayClient != nil {
		log.Printf("[probe] direct probe failed for %q, retrying through relay: %v", locator, err)
		meta, err = s.probeViaRelay(ctx, locator)
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("[probe] analysis failed for %q: %v", locator, err)
		}
		return &Inventory{FFProbeAvailable: false}
	}

	return composeInventory(meta)
}

// probeDirect hands the locator straight to ffprobe. Transient network
// hiccups get one bounded re-attempt.
func (s *Service) probeDirect(ctx context.Context, locator string) (*ffprobeOutput, error) {
	return retry.DoWithData(
		func() (*ffprobeOutput, error) {
			return s.run(ctx, locator, nil)
		},
		retry.Context(ctx),
		retry.Attempts(probeAttempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

// probeViaRelay fetches the media head through the relay client (same
// redirect and timeout discipline as every other upstream fetch) and feeds it
// into ffprobe stdin.
func (s *Service) probeViaRelay(ctx context.Context, locator string) (*ffprobeOutput, error) {
	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=0-%d", sampleBytes-1))

	res, err := s.relayClient.Do(ctx, http.MethodGet, locator, header)
	if err != nil {
		return nil, fmt.Errorf("relay fetch for probe: %w", err)
	}

	if res.Response.StatusCode >= 400 {
		res.Response.Body.Close()
		return nil, fmt.Errorf("relay fetch for probe: upstream status %d", res.Response.StatusCode)
	}

	pr, pw := bufpipe.New(nil)

	var wg conc.WaitGroup
	wg.Go(func() {
		// Cap the sample even when upstream ignored the Range header.
		_, copyErr := io.Copy(pw, io.LimitReader(res.Response.Body, sampleBytes))
		pw.CloseWithError(copyErr)
	})
	// Closing the body unblocks the feeder before we wait on it.
	defer wg.Wait()
	defer res.Response.Body.Close()

	return s.run(ctx, "pipe:0", pr)
}

func (s *Service) run(ctx context.Context, inputSpecifier string, stdin io.Reader) (*ffprobeOutput, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{"-v", "error", "-print_format", "json", "-show_streams", "-show_format", "-i", inputSpecifier}
	cmd := exec.CommandContext(probeCtx, s.ffprobePath, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	output, readErr := io.ReadAll(io.LimitReader(stdout, maxProbeOutput))
	waitErr := cmd.Wait()

	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("ffprobe timeout after %s", s.timeout)
	}
	if waitErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffprobe: %s", msg)
		}
		return nil, waitErr
	}
	if readErr != nil {
		return nil, fmt.Errorf("read ffprobe output: %w", readErr)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &parsed, nil
}

// composeInventory partitions the reported streams by type, assigning each a
// zero-based per-type index alongside the container's absolute index.
func composeInventory(meta *ffprobeOutput) *Inventory {
	inv := &Inventory{
		FFProbeAvailable: true,
		Container:        strings.TrimSpace(meta.Format.FormatName),
		DurationSeconds:  parseFloat(meta.Format.Duration),
		BitRate:          parseInt64(meta.Format.BitRate),
	}

	for i := range meta.Streams {
		stream := &meta.Streams[i]
		switch strings.ToLower(strings.TrimSpace(stream.CodecType)) {
		case "audio":
			inv.AudioTracks = append(inv.AudioTracks, AudioTrack{
				TypeIndex:  len(inv.AudioTracks),
				Index:      stream.Index,
				Codec:      strings.TrimSpace(stream.CodecName),
				Language:   normalizeLanguage(tagValue(stream.Tags, "language")),
				Channels:   stream.Channels,
				SampleRate: parseInt(stream.SampleRate),
				BitRate:    parseInt64(stream.BitRate),
			})
		case "subtitle":
			inv.SubtitleTracks = append(inv.SubtitleTracks, SubtitleTrack{
				TypeIndex: len(inv.SubtitleTracks),
				Index:     stream.Index,
				Codec:     strings.TrimSpace(stream.CodecName),
				Language:  normalizeLanguage(tagValue(stream.Tags, "language")),
				Title:     tagValue(stream.Tags, "title"),
				Forced:    stream.Disposition["forced"] > 0,
			})
		case "video":
			inv.VideoTracks = append(inv.VideoTracks, VideoTrack{
				TypeIndex: len(inv.VideoTracks),
				Index:     stream.Index,
				Codec:     strings.TrimSpace(stream.CodecName),
				Profile:   strings.TrimSpace(stream.Profile),
				Width:     stream.Width,
				Height:    stream.Height,
				FrameRate: strings.TrimSpace(stream.AvgFrameRate),
				BitRate:   parseInt64(stream.BitRate),
			})
		}
	}

	inv.MultiAudio = len(inv.AudioTracks) > 1
	inv.HasEmbeddedSubtitles = len(inv.SubtitleTracks) > 0
	return inv
}

// normalizeLanguage folds container language tags (often ISO 639-2 like
// "eng") into canonical BCP-47 form; unparseable tags pass through lowered.
func normalizeLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || tag == "und" {
		return ""
	}
	if parsed, err := language.Parse(tag); err == nil {
		return parsed.String()
	}
	return strings.ToLower(tag)
}

func tagValue(tags map[string]string, key string) string {
	if tags == nil {
		return ""
	}
	return strings.TrimSpace(tags[key])
}

func parseFloat(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(value string) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return v
}

func parseInt64(value string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
