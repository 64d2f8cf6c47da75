package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrUpstreamTimeout is returned when the origin does not answer within the
	// configured header timeout.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamConnection covers DNS, dial and protocol failures.
	ErrUpstreamConnection = errors.New("upstream connection failed")
	// ErrTooManyRedirects is returned when a redirect chain exceeds the hop bound.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrBadLocator is returned for locators that are not absolute http(s) URLs.
	ErrBadLocator = errors.New("invalid locator")
)

const (
	// DefaultTimeout bounds the wait for upstream response headers. The body
	// itself is not bounded; streaming lifetime is governed by the request
	// context.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRedirects bounds a redirect chain.
	DefaultMaxRedirects = 10

	// Some origins reject requests without a player-looking user agent.
	defaultUserAgent = "VLC/3.0.18 LibVLC/3.0.18"
)

// Fetcher issues a single outbound request. It never follows redirects and
// never retries; both policies belong to the caller.
type Fetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

// NewFetcher creates a fetcher with the given header timeout. A zero timeout
// selects DefaultTimeout; an empty userAgent selects the default player agent.
func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		// Compressed bodies would break byte addressing for range requests.
		DisableCompression: true,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// Do opens exactly one outbound connection to target with the given method and
// headers. The response body stays live and must be closed by the caller.
func (f *Fetcher) Do(ctx context.Context, method string, target *url.URL, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLocator, err)
	}

	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("User-Agent", f.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyFetchError(err)
	}
	return resp, nil
}

func classifyFetchError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamConnection, err)
}

// Client resolves redirect chains on top of a Fetcher.
type Client struct {
	fetcher      *Fetcher
	maxRedirects int
}

// Result is the final, non-redirect outcome of a relay fetch. FinalURL is the
// fully resolved target after redirects; OriginalURL is the locator the
// session started with and is what filename derivation uses.
type Result struct {
	Response    *http.Response
	FinalURL    *url.URL
	OriginalURL *url.URL
	Hops        int
}

// NewClient creates a redirect-resolving client. maxRedirects <= 0 selects
// DefaultMaxRedirects.
func NewClient(fetcher *Fetcher, maxRedirects int) *Client {
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &Client{fetcher: fetcher, maxRedirects: maxRedirects}
}

// Do fetches rawURL, following redirects up to the hop bound. Relative
// Location headers are resolved against the immediately preceding target, not
// the original locator, so multi-hop chains land on the right origin.
func (c *Client) Do(ctx context.Context, method, rawURL string, header http.Header) (*Result, error) {
	original, err := ParseLocator(rawURL)
	if err != nil {
		return nil, err
	}

	current := original
	hops := 0
	for {
		resp, err := c.fetcher.Do(ctx, method, current, header)
		if err != nil {
			return nil, err
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode < 300 || resp.StatusCode > 399 || location == "" {
			return &Result{
				Response:    resp,
				FinalURL:    current,
				OriginalURL: original,
				Hops:        hops,
			}, nil
		}

		// Redirect bodies are drained of nothing; close and re-issue.
		resp.Body.Close()

		next, err := current.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve location %q: %v", ErrUpstreamConnection, location, err)
		}

		hops++
		if hops > c.maxRedirects {
			return nil, fmt.Errorf("%w: exceeded %d hops at %s", ErrTooManyRedirects, c.maxRedirects, next.Redacted())
		}

		log.Printf("[relay] redirect %d/%d: %s -> %s", hops, c.maxRedirects, current.Redacted(), next.Redacted())
		current = next
	}
}

// ParseLocator validates a client-supplied locator string into an absolute
// http(s) URL. Unencoded query values (e.g. "?name=The Devil's Plan") are
// re-encoded so upstream servers receive a well-formed query string.
func ParseLocator(rawURL string) (*url.URL, error) {
	cleaned := strings.TrimSpace(rawURL)
	if idx := strings.Index(cleaned, "?"); idx >= 0 {
		if params, err := url.ParseQuery(cleaned[idx+1:]); err == nil {
			cleaned = cleaned[:idx] + "?" + params.Encode()
		}
	}

	parsed, err := url.Parse(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLocator, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrBadLocator, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrBadLocator)
	}
	return parsed, nil
}
