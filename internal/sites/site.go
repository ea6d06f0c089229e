// Package sites describes the bestseller sources BookStalk knows how to
// scrape: where their listings live, how to pull stubs out of them and which
// fields their detail pages carry.
package sites

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/parser"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// Fetcher kinds.
const (
	FetcherBrowser = "browser"
	FetcherHTTP    = "http"
)

// ListingPage is one page of a bestseller listing. Limit caps the stubs
// taken from that page; 0 means no page-level cap.
type ListingPage struct {
	URL   string
	Limit int
}

// Field is a named detail field and the rule that extracts it.
type Field struct {
	Name string
	Rule parser.Rule
}

// StubRules extract one listing item into a stub.
type StubRules struct {
	Title  parser.Rule
	Author parser.Rule
	Image  parser.Rule
	Link   parser.Rule
	Extra  []Field
}

// Site is the static configuration of one bestseller source.
type Site struct {
	Code    string
	Name    string
	Origin  string
	Aliases []string

	Listing      []ListingPage
	ItemSelector string
	Stub         StubRules

	// Require lists stub fields that must be non-empty for a stub to be kept,
	// in addition to title and detailLink which are always required.
	Require []string

	// DefaultAuthor replaces an empty author when set.
	DefaultAuthor string

	Detail []Field

	MaxStubs    int
	Concurrency int
	ChunkDelay  time.Duration

	ListingSettle types.Settle
	DetailSettle  types.Settle

	Fetcher string
	Stealth bool
}

// EmptyDetail returns a detail with every declared field set to "".
func (s *Site) EmptyDetail() types.BookDetail {
	d := make(types.BookDetail, len(s.Detail))
	for _, f := range s.Detail {
		d[f.Name] = ""
	}
	return d
}

// FieldNames returns the declared detail field names in order.
func (s *Site) FieldNames() []string {
	names := make([]string, len(s.Detail))
	for i, f := range s.Detail {
		names[i] = f.Name
	}
	return names
}

// Clone returns a copy safe to mutate at the top level.
func (s *Site) Clone() *Site {
	c := *s
	c.Aliases = append([]string(nil), s.Aliases...)
	c.Listing = append([]ListingPage(nil), s.Listing...)
	c.Require = append([]string(nil), s.Require...)
	c.Detail = append([]Field(nil), s.Detail...)
	return &c
}

// Resolve turns a possibly relative reference from a page of this site into
// an absolute URL. It returns "" for empty, javascript: and unparsable
// references.
func (s *Site) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if r.IsAbs() {
		return r.String()
	}
	base, err := url.Parse(s.Origin)
	if err != nil || s.Origin == "" {
		return ""
	}
	return base.ResolveReference(r).String()
}

// Validate checks the site for settings the engine cannot run with.
func (s *Site) Validate() error {
	if s.Code == "" {
		return fmt.Errorf("site code is required")
	}
	if len(s.Listing) == 0 {
		return fmt.Errorf("site %s: at least one listing page is required", s.Code)
	}
	for _, p := range s.Listing {
		if err := config.ValidateURL(p.URL); err != nil {
			return fmt.Errorf("site %s: listing %q: %w", s.Code, p.URL, err)
		}
	}
	if s.ItemSelector == "" {
		return fmt.Errorf("site %s: item selector is required", s.Code)
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("site %s: concurrency must be >= 1, got %d", s.Code, s.Concurrency)
	}
	if s.Fetcher != FetcherBrowser && s.Fetcher != FetcherHTTP {
		return fmt.Errorf("site %s: fetcher must be 'http' or 'browser', got %q", s.Code, s.Fetcher)
	}
	return nil
}

// Registry resolves site codes and aliases.
type Registry struct {
	sites   map[string]*Site
	aliases map[string]string
}

// NewRegistry creates a registry over the given sites.
func NewRegistry(sites ...*Site) *Registry {
	r := &Registry{
		sites:   make(map[string]*Site, len(sites)),
		aliases: make(map[string]string),
	}
	for _, s := range sites {
		r.Add(s)
	}
	return r
}

// Add registers a site, replacing any site with the same code.
func (r *Registry) Add(s *Site) {
	r.sites[s.Code] = s
	for _, a := range s.Aliases {
		r.aliases[a] = s.Code
	}
}

// Lookup returns the site for a code or alias.
func (r *Registry) Lookup(code string) (*Site, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if canonical, ok := r.aliases[code]; ok {
		code = canonical
	}
	s, ok := r.sites[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownSite, code)
	}
	return s, nil
}

// List returns all sites ordered by code.
func (r *Registry) List() []*Site {
	out := make([]*Site, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Codes returns every code and alias that resolves to a site, sorted.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.sites)+len(r.aliases))
	for code := range r.sites {
		codes = append(codes, code)
	}
	for alias, code := range r.aliases {
		if _, ok := r.sites[code]; ok {
			codes = append(codes, alias)
		}
	}
	sort.Strings(codes)
	return codes
}

// Apply folds configuration overrides into the registry. Disabled sites are
// removed. Unknown codes are reported as errors.
func (r *Registry) Apply(overrides map[string]config.SiteOverride) error {
	for code, o := range overrides {
		s, err := r.Lookup(code)
		if err != nil {
			return err
		}
		if o.Disabled {
			delete(r.sites, s.Code)
			continue
		}
		s = s.Clone()
		if o.MaxStubs > 0 {
			s.MaxStubs = o.MaxStubs
		}
		if o.Concurrency > 0 {
			s.Concurrency = o.Concurrency
		}
		if o.ChunkDelay > 0 {
			s.ChunkDelay = o.ChunkDelay
		}
		if o.ListingURL != "" {
			s.Listing = []ListingPage{{URL: o.ListingURL}}
		}
		if o.Fetcher != "" {
			s.Fetcher = o.Fetcher
		}
		if o.Stealth != nil {
			s.Stealth = *o.Stealth
		}
		if err := s.Validate(); err != nil {
			return err
		}
		r.Add(s)
	}
	return nil
}
