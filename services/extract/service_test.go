package extract

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVTT = "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHello\n\n"

func newTestService(fs afero.Fs, run runner) *Service {
	return &Service{
		ffmpegPath: "/usr/bin/ffmpeg",
		fs:         fs,
		tempDir:    "/tmp/extract",
		timeout:    DefaultTimeout,
		run:        run,
	}
}

func TestExtractReturnsArtifactAndCleansUp(t *testing.T) {
	fs := afero.NewMemMapFs()
	var written string
	svc := newTestService(fs, func(ctx context.Context, name string, args ...string) error {
		written = args[len(args)-1]
		return afero.WriteFile(fs, written, []byte(sampleVTT), 0o644)
	})

	data, err := svc.Extract(context.Background(), "http://upstream.test/movie.mkv", 0)
	require.NoError(t, err)
	assert.Equal(t, sampleVTT, string(data))

	// Artifact is removed once its contents were read.
	exists, err := afero.Exists(fs, written)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtractUniqueArtifactNames(t *testing.T) {
	fs := afero.NewMemMapFs()
	var names []string
	svc := newTestService(fs, func(ctx context.Context, name string, args ...string) error {
		artifact := args[len(args)-1]
		names = append(names, artifact)
		return afero.WriteFile(fs, artifact, []byte(sampleVTT), 0o644)
	})

	for i := 0; i < 3; i++ {
		_, err := svc.Extract(context.Background(), "http://upstream.test/movie.mkv", 0)
		require.NoError(t, err)
	}

	require.Len(t, names, 3)
	seen := make(map[string]bool)
	for _, n := range names {
		assert.True(t, strings.HasSuffix(n, ".vtt"))
		assert.Equal(t, "/tmp/extract", filepath.Dir(n))
		assert.False(t, seen[n], "artifact name reused: %s", n)
		seen[n] = true
	}
}

func TestExtractRemuxerArguments(t *testing.T) {
	fs := afero.NewMemMapFs()
	var gotName string
	var gotArgs []string
	svc := newTestService(fs, func(ctx context.Context, name string, args ...string) error {
		gotName = name
		gotArgs = args
		return afero.WriteFile(fs, args[len(args)-1], []byte(sampleVTT), 0o644)
	})

	_, err := svc.Extract(context.Background(), "http://upstream.test/movie.mkv", 2)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/ffmpeg", gotName)
	require.GreaterOrEqual(t, len(gotArgs), 10)
	assert.Equal(t, []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "http://upstream.test/movie.mkv",
		"-map", "0:s:2",
		"-c", "webvtt",
		"-f", "webvtt",
	}, gotArgs[:len(gotArgs)-1])
}

func TestExtractRemuxFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	svc := newTestService(fs, func(ctx context.Context, name string, args ...string) error {
		return errors.New("Stream map '0:s:9' matches no streams")
	})

	_, err := svc.Extract(context.Background(), "http://upstream.test/movie.mkv", 9)
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Contains(t, err.Error(), "matches no streams")
}

func TestExtractCleanupAfterFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	var written string
	svc := newTestService(fs, func(ctx context.Context, name string, args ...string) error {
		// Remuxer wrote a partial artifact before failing.
		written = args[len(args)-1]
		if err := afero.WriteFile(fs, written, []byte("WEBVTT\n"), 0o644); err != nil {
			return err
		}
		return errors.New("Invalid data found when processing input")
	})

	_, err := svc.Extract(context.Background(), "http://upstream.test/movie.mkv", 0)
	require.ErrorIs(t, err, ErrExtractionFailed)

	exists, err := afero.Exists(fs, written)
	require.NoError(t, err)
	assert.False(t, exists, "partial artifact should be removed")
}

func TestExtractUnavailable(t *testing.T) {
	svc := newTestService(afero.NewMemMapFs(), nil)
	svc.ffmpegPath = ""

	_, err := svc.Extract(context.Background(), "http://upstream.test/movie.mkv", 0)
	assert.ErrorIs(t, err, ErrExtractorUnavailable)
	assert.False(t, svc.Available())
}

func TestExtractNegativeIndex(t *testing.T) {
	svc := newTestService(afero.NewMemMapFs(), nil)

	_, err := svc.Extract(context.Background(), "http://upstream.test/movie.mkv", -1)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtractMissingArtifact(t *testing.T) {
	// Remuxer exits zero but produced nothing readable.
	svc := newTestService(afero.NewMemMapFs(), func(ctx context.Context, name string, args ...string) error {
		return nil
	})

	_, err := svc.Extract(context.Background(), "http://upstream.test/movie.mkv", 0)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}
