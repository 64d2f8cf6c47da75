// Package extract pulls one embedded subtitle stream out of a remote
// container into WebVTT via the external remuxer. Unlike analysis, extraction
// is an explicit user action, so an absent remuxer is a hard error.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	// ErrExtractorUnavailable means the remuxer executable is not installed.
	ErrExtractorUnavailable = errors.New("subtitle extractor unavailable")
	// ErrExtractionFailed covers remux failures after availability was
	// confirmed: bad stream index, unreadable source, timeout.
	ErrExtractionFailed = errors.New("subtitle extraction failed")
)

// DefaultTimeout bounds one remux run. Remote sources stream the whole
// subtitle track over the network before the artifact is complete.
const DefaultTimeout = 120 * time.Second

// runner abstracts the remuxer invocation so tests can fake it against an
// in-memory filesystem.
type runner func(ctx context.Context, name string, args ...string) error

// Service drives the external remuxer through scoped temporary artifacts.
type Service struct {
	ffmpegPath string
	fs         afero.Fs
	tempDir    string
	timeout    time.Duration
	run        runner
}

// NewService resolves the remuxer executable. tempDir empty selects the
// system temp directory.
func NewService(ffmpegPath, tempDir string, timeout time.Duration) *Service {
	resolved := strings.TrimSpace(ffmpegPath)
	if resolved == "" {
		resolved = "ffmpeg"
	}
	if path, err := exec.LookPath(resolved); err == nil {
		resolved = path
	} else {
		log.Printf("[extract] ffmpeg unavailable at %q: %v", resolved, err)
		resolved = ""
	}

	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "mediarelay-subtitles")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Service{
		ffmpegPath: resolved,
		fs:         afero.NewOsFs(),
		tempDir:    tempDir,
		timeout:    timeout,
		run:        runCommand,
	}
}

// Available reports whether the remuxer executable was found.
func (s *Service) Available() bool {
	return s.ffmpegPath != ""
}

// Extract remuxes the subtitle stream with the given zero-based per-type
// index into WebVTT and returns the full document. The temporary artifact is
// uniquely named per request and removed on every exit path; cleanup failure
// is logged, never surfaced.
func (s *Service) Extract(ctx context.Context, locator string, typeIndex int) ([]byte, error) {
	if !s.Available() {
		return nil, ErrExtractorUnavailable
	}
	if typeIndex < 0 {
		return nil, fmt.Errorf("%w: negative stream index %d", ErrExtractionFailed, typeIndex)
	}

	if err := s.fs.MkdirAll(s.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %v", ErrExtractionFailed, err)
	}

	// UUID names hold up under concurrent requests where millisecond
	// timestamps would not.
	artifact := filepath.Join(s.tempDir, uuid.New().String()+".vtt")
	defer func() {
		if err := s.fs.Remove(artifact); err != nil && !os.IsNotExist(err) {
			log.Printf("[extract] cleanup of %q failed: %v", artifact, err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", locator,
		"-map", fmt.Sprintf("0:s:%d", typeIndex),
		"-c", "webvtt",
		"-f", "webvtt",
		artifact,
	}
	if err := s.run(runCtx, s.ffmpegPath, args...); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timeout after %s", ErrExtractionFailed, s.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	data, err := afero.ReadFile(s.fs, artifact)
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %v", ErrExtractionFailed, err)
	}
	return data, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s", msg)
		}
		return err
	}
	return nil
}
