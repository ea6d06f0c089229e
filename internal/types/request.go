package types

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Request tags.
const (
	TagListing = "listing"
	TagDetail  = "detail"
)

// Settle describes the bounded wait-and-scroll performed after navigation
// so that lazily rendered content is present before extraction.
type Settle struct {
	// Timeout bounds navigation and load.
	Timeout time.Duration

	// Wait is the pause after the page has loaded.
	Wait time.Duration

	// ScrollRatio scrolls to this fraction of the document height. 0 skips.
	ScrollRatio float64

	// SecondScroll adds a pass to the bottom of the page.
	SecondScroll bool

	// ScrollPause is the pause after each scroll.
	ScrollPause time.Duration

	// WaitSelector, when set, is awaited before reading the page.
	WaitSelector string
}

// Request is a single page load.
type Request struct {
	// URL is the target URL to fetch.
	URL *url.URL

	// Method is the HTTP method. Defaults to GET.
	Method string

	// Headers are custom HTTP headers to send with the request.
	Headers http.Header

	// Timeout overrides the global request timeout for this request.
	Timeout time.Duration

	// Settle is applied by fetchers that render pages.
	Settle Settle

	// Tag categorizes this request (listing or detail).
	Tag string

	// Site is the site code the request belongs to.
	Site string

	// Stealth asks browser fetchers for a stealth page.
	Stealth bool

	// CreatedAt is when this request was created.
	CreatedAt time.Time
}

// NewRequest creates a new GET Request. Only absolute http(s) URLs are accepted.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w %q: must be absolute http(s)", ErrInvalidURL, rawURL)
	}

	return &Request{
		URL:       u,
		Method:    http.MethodGet,
		Headers:   make(http.Header),
		CreatedAt: time.Now(),
	}, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// EffectiveTimeout returns the request timeout, falling back to the settle
// timeout and then to def.
func (r *Request) EffectiveTimeout(def time.Duration) time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	if r.Settle.Timeout > 0 {
		return r.Settle.Timeout
	}
	return def
}
