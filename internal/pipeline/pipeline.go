package pipeline

import (
	"log/slog"
	"regexp"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/PuerkitoBio/purell"

	"github.com/IshaanNene/bookstalk/internal/parser"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// Middleware processes an item and returns the (possibly modified) item.
// Return nil to drop the item from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms an item. Return nil to drop the item.
	Process(item *types.Item) (*types.Item, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the item through all middleware in order.
func (p *Pipeline) Process(item *types.Item) (*types.Item, error) {
	current := item

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage: mw.Name(),
				Item:  current,
				Err:   err,
			}
		}
		if result == nil {
			p.logger.Debug("item dropped", "stage", mw.Name(), "site", item.Site, "url", item.URL)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// StubFields are required of every stub whatever the site asks for.
var StubFields = []string{"title", "detailLink"}

// ForStubs builds the listing-stage pipeline: stubs missing title,
// detailLink or another required field are dropped, an empty author takes
// defaultAuthor, and repeated detail links are dropped. Dedup state lives in
// the returned pipeline, so build one per run.
func ForStubs(logger *slog.Logger, required []string, defaultAuthor string) *Pipeline {
	p := New(logger)
	if defaultAuthor != "" {
		p.Use(&DefaultValueMiddleware{Defaults: map[string]any{"author": defaultAuthor}})
	}
	fields := slices.Clone(StubFields)
	for _, f := range required {
		if !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	p.Use(&RequiredFieldsMiddleware{Fields: fields})
	p.Use(NewDedupMiddleware("detailLink"))
	return p
}

// ForRecords builds the record-stage pipeline applied to merged items.
func ForRecords(logger *slog.Logger, maxFieldLength int) *Pipeline {
	p := New(logger)
	p.Use(&CleanTextMiddleware{})
	if maxFieldLength > 0 {
		p.Use(&TruncateMiddleware{MaxRunes: maxFieldLength})
	}
	return p
}

// --- Built-in Middleware ---

// RequiredFieldsMiddleware drops items missing required fields. An empty
// string counts as missing.
type RequiredFieldsMiddleware struct {
	Fields []string
}

func (m *RequiredFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredFieldsMiddleware) Process(item *types.Item) (*types.Item, error) {
	for _, field := range m.Fields {
		if item.GetString(field) == "" {
			return nil, nil
		}
	}
	return item, nil
}

// DedupMiddleware drops items whose key field was already seen. Keys that
// look like URLs are canonicalized first, so tracking segments and query
// order do not defeat the check. Items without a key pass through.
type DedupMiddleware struct {
	mu   sync.Mutex
	seen map[string]struct{}
	key  string
}

func NewDedupMiddleware(key string) *DedupMiddleware {
	return &DedupMiddleware{
		seen: make(map[string]struct{}),
		key:  key,
	}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(item *types.Item) (*types.Item, error) {
	val := item.GetString(m.key)
	if val == "" {
		val = item.URL
	}
	if val == "" {
		return item, nil
	}
	val = CanonicalURL(val)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[val]; exists {
		return nil, nil
	}
	m.seen[val] = struct{}{}
	return item, nil
}

var refSegment = regexp.MustCompile(`/ref=[^/?#]*`)

const canonicalFlags = purell.FlagsSafe |
	purell.FlagRemoveFragment |
	purell.FlagSortQuery |
	purell.FlagRemoveTrailingSlash

// CanonicalURL normalizes a product link for comparison. Values that fail
// to parse are returned unchanged.
func CanonicalURL(raw string) string {
	if raw == "" {
		return ""
	}
	norm, err := purell.NormalizeURLString(refSegment.ReplaceAllString(raw, ""), canonicalFlags)
	if err != nil {
		return raw
	}
	return norm
}

// DefaultValueMiddleware sets default values for missing or empty fields.
type DefaultValueMiddleware struct {
	Defaults map[string]any
}

func (m *DefaultValueMiddleware) Name() string { return "default_values" }

func (m *DefaultValueMiddleware) Process(item *types.Item) (*types.Item, error) {
	for key, defaultVal := range m.Defaults {
		if item.GetString(key) == "" {
			item.Set(key, defaultVal)
		}
	}
	return item, nil
}

// CleanTextMiddleware normalizes whitespace in every string field.
type CleanTextMiddleware struct{}

func (m *CleanTextMiddleware) Name() string { return "clean_text" }

func (m *CleanTextMiddleware) Process(item *types.Item) (*types.Item, error) {
	for _, key := range item.Keys() {
		if v, ok := item.Get(key); ok {
			if s, isString := v.(string); isString {
				item.Set(key, parser.Clean(s))
			}
		}
	}
	return item, nil
}

// TruncateMiddleware caps string fields at MaxRunes runes, the size limit of
// a spreadsheet cell.
type TruncateMiddleware struct {
	MaxRunes int
}

func (m *TruncateMiddleware) Name() string { return "truncate" }

func (m *TruncateMiddleware) Process(item *types.Item) (*types.Item, error) {
	for _, key := range item.Keys() {
		v, _ := item.Get(key)
		s, ok := v.(string)
		if !ok || utf8.RuneCountInString(s) <= m.MaxRunes {
			continue
		}
		item.Set(key, string([]rune(s)[:m.MaxRunes]))
	}
	return item, nil
}
