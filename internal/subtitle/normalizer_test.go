package subtitle

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleScript = `[Script Info]
Title: Sample
ScriptType: v4.00+

[V4+ Styles]
Format: Name, Fontname
Style: Default,Arial

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:02.50,Default,,0,0,0,,Hello\Nworld
Dialogue: 0,0:00:03.20,0:00:04.00,Default,,0,0,0,,{\an8}Top line
Comment: 0,0:00:05.00,0:00:06.00,Default,,0,0,0,,not a dialogue
Dialogue: garbage line with too,few,fields
Dialogue: 0,1:02:03.45,1:02:04.00,Default,,0,0,0,,Second, with comma
`

func TestNormalizerTimestampsAndEscapes(t *testing.T) {
	n := NewNormalizer(strings.NewReader(sampleScript))

	cue, err := n.Next()
	require.NoError(t, err)
	assert.Equal(t, "00:00:01.000", cue.Start)
	assert.Equal(t, "00:00:02.500", cue.End)
	assert.Equal(t, "Hello\nworld", cue.Text)

	cue, err = n.Next()
	require.NoError(t, err)
	assert.Equal(t, "Top line", cue.Text, "override tags are stripped")

	cue, err = n.Next()
	require.NoError(t, err)
	assert.Equal(t, "01:02:03.450", cue.Start)
	assert.Equal(t, "Second, with comma", cue.Text, "commas in text survive field splitting")

	_, err = n.Next()
	assert.Equal(t, io.EOF, err)
}

func TestNormalizerSkipsLinesOutsideEvents(t *testing.T) {
	src := `[Script Info]
Dialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,outside section

[Events]
Dialogue: 0,0:00:05.00,0:00:06.00,Default,,0,0,0,,inside
`
	n := NewNormalizer(strings.NewReader(src))
	cue, err := n.Next()
	require.NoError(t, err)
	assert.Equal(t, "inside", cue.Text)

	_, err = n.Next()
	assert.Equal(t, io.EOF, err)
}

func TestConvertProducesWebVTT(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Convert(&out, strings.NewReader(sampleScript)))

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "WEBVTT\n\n"))
	assert.Contains(t, got, "00:00:01.000 --> 00:00:02.500\nHello\nworld\n\n")
}

func TestConvertIdempotent(t *testing.T) {
	var first, second bytes.Buffer
	require.NoError(t, Convert(&first, strings.NewReader(sampleScript)))
	require.NoError(t, Convert(&second, strings.NewReader(sampleScript)))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestConvertEmptySource(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Convert(&out, strings.NewReader("")))
	assert.Equal(t, "WEBVTT\n\n", out.String())
}

func TestConvertTimestampForms(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "centiseconds", in: "0:00:01.00", want: "00:00:01.000", ok: true},
		{name: "single digit fraction", in: "0:00:01.5", want: "00:00:01.500", ok: true},
		{name: "no fraction", in: "0:00:01", want: "00:00:01.000", ok: true},
		{name: "long fraction truncated", in: "0:00:01.1234", want: "00:00:01.123", ok: true},
		{name: "two digit hour", in: "10:20:30.99", want: "10:20:30.990", ok: true},
		{name: "not a timestamp", in: "hello", ok: false},
		{name: "missing component", in: "00:01", ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := convertTimestamp(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestConvertWritesNothingOnUnscannableSource(t *testing.T) {
	// One event line larger than the scanner's token limit: the scan fails
	// before any cue is produced, and the output must stay empty so callers
	// can still choose an error response.
	src := strings.NewReader("[Events]\nDialogue: " + strings.Repeat("a", 2<<20))
	var dst bytes.Buffer

	err := Convert(&dst, src)

	require.Error(t, err)
	assert.Zero(t, dst.Len(), "no partial document on scan failure")
}
