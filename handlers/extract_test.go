package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"mediarelay/services/extract"
	"mediarelay/services/probe"
)

type fakeExtractor struct {
	data []byte
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, locator string, typeIndex int) ([]byte, error) {
	return f.data, f.err
}

func TestExtractReturnsVTT(t *testing.T) {
	handler := NewExtractHandler(&fakeExtractor{data: []byte("WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nHi\n\n")})

	req := httptest.NewRequest(http.MethodGet, "/api/extract?url=http://x.test/m.mkv&index=1", nil)
	rec := httptest.NewRecorder()
	handler.Extract(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/vtt; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "WEBVTT")
}

func TestExtractUnavailableMapsTo503(t *testing.T) {
	handler := NewExtractHandler(&fakeExtractor{err: extract.ErrExtractorUnavailable})

	req := httptest.NewRequest(http.MethodGet, "/api/extract?url=http://x.test/m.mkv", nil)
	rec := httptest.NewRecorder()
	handler.Extract(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestExtractFailureMapsTo502(t *testing.T) {
	handler := NewExtractHandler(&fakeExtractor{err: extract.ErrExtractionFailed})

	req := httptest.NewRequest(http.MethodGet, "/api/extract?url=http://x.test/m.mkv", nil)
	rec := httptest.NewRecorder()
	handler.Extract(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestExtractBadIndex(t *testing.T) {
	handler := NewExtractHandler(&fakeExtractor{})

	for _, raw := range []string{"-1", "abc", "1.5"} {
		req := httptest.NewRequest(http.MethodGet, "/api/extract?url=http://x.test/m.mkv&index="+raw, nil)
		rec := httptest.NewRecorder()
		handler.Extract(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "index %q", raw)
	}
}

type fakeAnalyzer struct {
	inventory *probe.Inventory
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, locator string) *probe.Inventory {
	return f.inventory
}

func TestAnalyzeAlways200(t *testing.T) {
	handler := NewAnalyzeHandler(&fakeAnalyzer{inventory: &probe.Inventory{}})

	req := httptest.NewRequest(http.MethodGet, "/api/analyze?url=http://x.test/m.mkv", nil)
	rec := httptest.NewRecorder()
	handler.Analyze(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ffprobeAvailable":false`)
}

func TestAnalyzeInventoryBody(t *testing.T) {
	handler := NewAnalyzeHandler(&fakeAnalyzer{inventory: &probe.Inventory{
		FFProbeAvailable: true,
		Container:        "matroska,webm",
		AudioTracks: []probe.AudioTrack{
			{TypeIndex: 0, Index: 1, Codec: "aac", Language: "en"},
			{TypeIndex: 1, Index: 2, Codec: "ac3", Language: "ja"},
		},
		MultiAudio: true,
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/analyze?url=http://x.test/m.mkv", nil)
	rec := httptest.NewRecorder()
	handler.Analyze(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"multiAudio":true`)
	assert.Contains(t, body, `"container":"matroska,webm"`)
}

func TestAnalyzeMissingURLParam(t *testing.T) {
	handler := NewAnalyzeHandler(&fakeAnalyzer{})

	req := httptest.NewRequest(http.MethodGet, "/api/analyze", nil)
	rec := httptest.NewRecorder()
	handler.Analyze(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
