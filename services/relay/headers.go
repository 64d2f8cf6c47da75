package relay

import (
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mozillazg/go-unidecode"
)

// FallbackFilename is used when neither the upstream disposition nor the
// locator path yields a usable name.
const FallbackFilename = "download"

// SniffLen is how many leading body bytes content-type detection may consume.
const SniffLen = 3072

// ResponseMeta is the derived view of an upstream response that the relay
// exposes to the client.
type ResponseMeta struct {
	ContentType   string
	ContentLength int64
	ContentRange  string
	AcceptRanges  string
	Filename      string
}

// DeriveMeta builds the client-facing header view from the final upstream
// response. originalURL is the pre-redirect locator; filename derivation uses
// it, not the redirect target. Accept-Ranges is always "bytes": the relay does
// not alter byte addressing, and a missing Content-Range already tells the
// client to fall back to full reads.
func DeriveMeta(resp *http.Response, originalURL *url.URL) ResponseMeta {
	meta := ResponseMeta{
		ContentType:   strings.TrimSpace(resp.Header.Get("Content-Type")),
		ContentLength: resp.ContentLength,
		ContentRange:  strings.TrimSpace(resp.Header.Get("Content-Range")),
		AcceptRanges:  "bytes",
	}

	if name := dispositionFilename(resp.Header.Get("Content-Disposition")); name != "" {
		meta.Filename = name
	} else if name := locatorFilename(originalURL); name != "" {
		meta.Filename = name
	} else {
		meta.Filename = FallbackFilename
	}

	return meta
}

func dispositionFilename(disposition string) string {
	if strings.TrimSpace(disposition) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["filename"])
}

// locatorFilename returns the last non-empty path segment of the locator,
// percent-decoded, with any query remainder stripped.
func locatorFilename(locator *url.URL) string {
	if locator == nil {
		return ""
	}

	segments := strings.Split(locator.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		segment := segments[i]
		if segment == "" {
			continue
		}
		if idx := strings.Index(segment, "?"); idx >= 0 {
			segment = segment[:idx]
		}
		if decoded, err := url.PathUnescape(segment); err == nil {
			segment = decoded
		}
		segment = strings.TrimSpace(segment)
		if segment != "" {
			return segment
		}
	}
	return ""
}

// HeaderSafeFilename folds a filename to ASCII and strips characters that
// would corrupt a header value. Used for the plain filename parameter of
// Content-Disposition; the original name travels in X-Original-Filename.
func HeaderSafeFilename(name string) string {
	folded := unidecode.Unidecode(name)
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r == '"' || r == '\\' || r < 0x20 || r == 0x7f:
			// skip
		default:
			b.WriteRune(r)
		}
	}
	safe := strings.TrimSpace(b.String())
	if safe == "" {
		return FallbackFilename
	}
	return safe
}

// AttachmentDisposition formats a Content-Disposition attachment header for
// the given filename.
func AttachmentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{
		"filename": HeaderSafeFilename(filename),
	})
}

// SniffContentType detects a media type from leading body bytes. Used when the
// upstream declares nothing useful.
func SniffContentType(head []byte) string {
	if len(head) == 0 {
		return "application/octet-stream"
	}
	return mimetype.Detect(head).String()
}

// NeedsSniff reports whether an upstream content type is absent or too generic
// to pass through as-is.
func NeedsSniff(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream"
}
