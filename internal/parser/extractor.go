package parser

import (
	"io"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	xpathPrefix = "xpath:"
	metaPrefix  = "meta:"
)

// Extractor evaluates Rules against parsed HTML. It is stateless apart from
// its logger and safe for concurrent use.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates a new Extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{logger: logger.With("component", "extractor")}
}

var defaultExtractor = NewExtractor(nil)

// ExtractField returns the cleaned text of the first selector that yields
// non-empty text under root, or "" when none does.
func ExtractField(root *goquery.Selection, selectors ...string) string {
	return defaultExtractor.Extract(root, Sel(selectors...))
}

// Extract evaluates rule under root. It never fails: a rule that finds
// nothing yields "".
func (e *Extractor) Extract(root *goquery.Selection, rule Rule) string {
	if root == nil || root.Length() == 0 {
		return ""
	}
	first, second := e.block, e.selectors
	if rule.SelectorsFirst {
		first, second = second, first
	}
	if v := first(root, rule); v != "" {
		return v
	}
	if v := second(root, rule); v != "" {
		return v
	}
	if rule.Section != nil {
		if v := e.section(root, rule); v != "" {
			return v
		}
	}
	if rule.Keywords != nil {
		if v := e.keywords(root, rule); v != "" {
			return v
		}
	}
	return ""
}

func (e *Extractor) selectors(root *goquery.Selection, rule Rule) string {
	if rule.Join {
		var parts []string
		for _, sel := range rule.Selectors {
			if v := e.first(root, sel, rule); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, rule.sep())
	}

	for _, sel := range rule.Selectors {
		var v string
		if rule.All {
			v = e.all(root, sel, rule)
		} else {
			v = e.first(root, sel, rule)
		}
		if v != "" {
			return v
		}
	}
	return ""
}

// first returns the first accepted match. Without filters only the first
// element is considered, so an empty first match moves on to the next
// selector.
func (e *Extractor) first(root *goquery.Selection, sel string, rule Rule) string {
	matches, attrs := e.find(root, sel, rule.Attrs)
	if matches.Length() == 0 {
		return ""
	}
	if !rule.filtered() {
		return rule.accept(value(matches.First(), attrs))
	}

	var out string
	matches.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = rule.accept(value(s, attrs))
		return out == ""
	})
	return out
}

func (e *Extractor) all(root *goquery.Selection, sel string, rule Rule) string {
	matches, attrs := e.find(root, sel, rule.Attrs)
	var parts []string
	matches.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v := rule.accept(value(s, attrs)); v != "" {
			parts = append(parts, v)
		}
		return rule.Limit <= 0 || len(parts) < rule.Limit
	})
	return strings.Join(parts, rule.sep())
}

// find resolves one candidate selector under root. It returns the matches
// and the attributes to read from them.
func (e *Extractor) find(root *goquery.Selection, sel string, attrs []string) (*goquery.Selection, []string) {
	switch {
	case strings.HasPrefix(sel, xpathPrefix):
		return e.xpathFind(root, strings.TrimPrefix(sel, xpathPrefix)), attrs
	case strings.HasPrefix(sel, metaPrefix):
		name := strings.TrimPrefix(sel, metaPrefix)
		doc := documentOf(root)
		matches := doc.Find(`meta[property="` + name + `"], meta[name="` + name + `"]`)
		if len(attrs) == 0 {
			attrs = []string{"content"}
		}
		return matches, attrs
	default:
		return root.Find(sel), attrs
	}
}

func (e *Extractor) block(root *goquery.Selection, rule Rule) string {
	b := rule.Block
	if b == nil {
		return ""
	}
	var out string
	root.Find(b.Anchor).EachWithBreak(func(_ int, marker *goquery.Selection) bool {
		if len(b.Contains) > 0 && !containsAny(InnerText(marker), b.Contains) {
			return true
		}
		scope := marker.Parent()
		if b.Container != "" {
			scope = marker.Closest(b.Container)
		}
		if scope.Length() == 0 {
			return true
		}
		content := scope
		if b.Content != "" {
			content = scope.Find(b.Content)
		}
		content.EachWithBreak(func(_ int, c *goquery.Selection) bool {
			out = rule.accept(value(c, rule.Attrs))
			return out == ""
		})
		return out == ""
	})
	return out
}

func (e *Extractor) section(root *goquery.Selection, rule Rule) string {
	s := rule.Section
	scope := root
	if s.Scope != "" {
		scope = root.Find(s.Scope).First()
	}
	text := InnerText(scope)
	if text == "" {
		return ""
	}

	var (
		lines   []string
		started bool
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if containsAny(line, s.Start) {
			started = true
			continue
		}
		if !started {
			continue
		}
		if containsAny(line, s.Stop) {
			break
		}
		lines = append(lines, line)
	}
	return rule.accept(strings.Join(lines, "\n"))
}

func (e *Extractor) keywords(root *goquery.Selection, rule Rule) string {
	k := rule.Keywords
	scope := k.Scope
	if scope == "" {
		scope = "div"
	}
	var out string
	root.Find(scope).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := InnerText(s)
		if len([]rune(text)) < k.MinLen {
			return true
		}
		if !containsAny(text, k.Include) || containsAny(text, k.Exclude) {
			return true
		}
		out = rule.accept(text)
		return out == ""
	})
	if out != "" {
		e.logger.Debug("keyword scan matched", "include", k.Include)
	}
	return out
}

// value reads the first non-empty attribute of s, or its inner text when no
// attributes are requested.
func value(s *goquery.Selection, attrs []string) string {
	if len(attrs) == 0 {
		return InnerText(s)
	}
	for _, attr := range attrs {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// documentOf returns a selection over the document root that owns sel.
func documentOf(sel *goquery.Selection) *goquery.Selection {
	n := sel.Nodes[0]
	for n.Parent != nil {
		n = n.Parent
	}
	return goquery.NewDocumentFromNode(n).Selection
}
