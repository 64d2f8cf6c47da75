// Package subtitle converts ASS/SSA subtitle scripts into WebVTT, the one cue
// format the player consumes.
package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Cue is one subtitle event in canonical form. Timestamps are already in
// WebVTT HH:MM:SS.fff notation.
type Cue struct {
	Start string
	End   string
	Text  string
}

// Dialogue lines carry ten comma-separated fields:
// Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text.
// Splitting with a limit keeps commas inside the text field intact.
const dialogueFields = 10

var overrideTags = regexp.MustCompile(`\{[^}]*\}`)

// Normalizer reads an ASS/SSA script and yields canonical cues one at a time.
// It is single-pass and not seekable; to restart, create a new Normalizer on a
// fresh reader. Malformed event lines and lines outside the [Events] section
// are skipped, never fatal.
type Normalizer struct {
	sc       *bufio.Scanner
	inEvents bool
}

// NewNormalizer wraps a reader producing ASS/SSA text.
func NewNormalizer(r io.Reader) *Normalizer {
	sc := bufio.NewScanner(r)
	// Single dialogue lines can be long; default token size is too small.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Normalizer{sc: sc}
}

// Next returns the next cue, or io.EOF when the source is exhausted.
func (n *Normalizer) Next() (Cue, error) {
	for n.sc.Scan() {
		line := strings.TrimSpace(n.sc.Text())

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			n.inEvents = strings.EqualFold(line, "[Events]")
			continue
		}
		if !n.inEvents {
			continue
		}

		cue, ok := parseDialogue(line)
		if !ok {
			continue
		}
		return cue, nil
	}

	if err := n.sc.Err(); err != nil {
		return Cue{}, fmt.Errorf("read subtitle source: %w", err)
	}
	return Cue{}, io.EOF
}

// Convert streams the whole source through a Normalizer and writes a complete
// WebVTT document to dst. The first cue is pulled before anything is written,
// so a source that fails to scan produces no output at all and the caller can
// still report the failure.
func Convert(dst io.Writer, src io.Reader) error {
	n := NewNormalizer(src)

	first, err := n.Next()
	if err != nil && err != io.EOF {
		return err
	}

	if _, werr := io.WriteString(dst, "WEBVTT\n\n"); werr != nil {
		return werr
	}
	if err == io.EOF {
		return nil
	}

	cue := first
	for {
		if _, err := fmt.Fprintf(dst, "%s --> %s\n%s\n\n", cue.Start, cue.End, cue.Text); err != nil {
			return err
		}
		cue, err = n.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func parseDialogue(line string) (Cue, bool) {
	rest, ok := strings.CutPrefix(line, "Dialogue:")
	if !ok {
		return Cue{}, false
	}

	fields := strings.SplitN(strings.TrimSpace(rest), ",", dialogueFields)
	if len(fields) < dialogueFields {
		return Cue{}, false
	}

	start, ok := convertTimestamp(fields[1])
	if !ok {
		return Cue{}, false
	}
	end, ok := convertTimestamp(fields[2])
	if !ok {
		return Cue{}, false
	}

	return Cue{Start: start, End: end, Text: cleanText(fields[dialogueFields-1])}, true
}

// convertTimestamp turns the ASS H:MM:SS.ff form into WebVTT HH:MM:SS.fff,
// zero-padding every component.
func convertTimestamp(ts string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	if len(parts) != 3 {
		return "", false
	}

	secParts := strings.SplitN(parts[2], ".", 2)
	frac := "000"
	if len(secParts) == 2 {
		frac = secParts[1]
	}
	if len(frac) > 3 {
		frac = frac[:3]
	}
	for len(frac) < 3 {
		frac += "0"
	}

	hour := pad2(parts[0])
	minute := pad2(parts[1])
	sec := pad2(secParts[0])
	if hour == "" || minute == "" || sec == "" {
		return "", false
	}

	return hour + ":" + minute + ":" + sec + "." + frac, true
}

func pad2(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 2 {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ""
		}
	}
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// cleanText turns ASS line-break escapes into real newlines and drops inline
// override tags like {\an8} or {\pos(10,10)}.
func cleanText(text string) string {
	text = overrideTags.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, `\N`, "\n")
	text = strings.ReplaceAll(text, `\n`, "\n")
	text = strings.ReplaceAll(text, `\h`, " ")
	return strings.TrimSpace(text)
}
