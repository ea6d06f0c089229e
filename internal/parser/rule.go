package parser

import (
	"strings"
	"unicode/utf8"
)

// Rule describes how one logical field is extracted from a page or a listing
// item. Strategies run in order: Block, Selectors, Section, Keywords, unless
// SelectorsFirst swaps the first two. The first non-empty result wins.
type Rule struct {
	// Selectors are ordered candidates. A candidate prefixed with "xpath:" is
	// evaluated as XPath, one prefixed with "meta:" reads the content of the
	// <meta property|name=...> tag.
	Selectors []string

	// Attrs, when set, reads the first non-empty attribute instead of text.
	Attrs []string

	// All joins every match of the winning selector with Sep.
	All bool

	// Limit caps the matches joined by All. 0 means no cap.
	Limit int

	// Join concatenates the first match of every selector with Sep.
	Join bool

	// Sep separates joined values. Defaults to a newline.
	Sep string

	// Split and Part select one piece of the extracted text.
	Split string
	Part  int

	// MinLen rejects candidates shorter than this many runes.
	MinLen int

	// Exclude rejects candidates containing any of these substrings.
	Exclude []string

	Block    *BlockRule
	Section  *SectionRule
	Keywords *KeywordRule

	// SelectorsFirst evaluates Selectors before Block.
	SelectorsFirst bool
}

// BlockRule is a two-stage lookup: find a marker element, climb to its
// enclosing block, then read content relative to that block.
type BlockRule struct {
	// Anchor selects marker elements.
	Anchor string

	// Contains, when set, requires the marker text to contain one of these.
	Contains []string

	// Container is the ancestor selector that scopes the block. Empty means
	// the marker's parent.
	Container string

	// Content is the selector for the value, relative to the block.
	Content string
}

// SectionRule collects the lines of Scope that follow a line containing one
// of Start, up to a line containing one of Stop.
type SectionRule struct {
	Scope string
	Start []string
	Stop  []string
}

// KeywordRule scans every Scope element in document order and returns the
// first whose text contains one of Include and none of Exclude.
type KeywordRule struct {
	Scope   string
	Include []string
	Exclude []string
	MinLen  int
}

// Sel returns a rule with ordered candidate selectors.
func Sel(selectors ...string) Rule {
	return Rule{Selectors: selectors}
}

// WithAttrs returns a copy of r reading attributes instead of text.
func (r Rule) WithAttrs(attrs ...string) Rule {
	r.Attrs = attrs
	return r
}

// WithFilter returns a copy of r with a minimum length and excluded substrings.
func (r Rule) WithFilter(minLen int, exclude ...string) Rule {
	r.MinLen = minLen
	r.Exclude = exclude
	return r
}

// IsZero reports whether the rule has no strategy at all.
func (r Rule) IsZero() bool {
	return len(r.Selectors) == 0 && r.Block == nil && r.Section == nil && r.Keywords == nil
}

func (r Rule) sep() string {
	if r.Sep == "" {
		return "\n"
	}
	return r.Sep
}

func (r Rule) filtered() bool {
	return r.MinLen > 0 || len(r.Exclude) > 0
}

// accept cleans a raw candidate, applies Split/Part, and enforces the filters.
// It returns "" for a rejected candidate.
func (r Rule) accept(raw string) string {
	text := Clean(raw)
	if text == "" {
		return ""
	}
	if r.Split != "" {
		parts := strings.Split(text, r.Split)
		if r.Part < 0 || r.Part >= len(parts) {
			return ""
		}
		text = Clean(parts[r.Part])
	}
	if r.MinLen > 0 && utf8.RuneCountInString(text) < r.MinLen {
		return ""
	}
	if containsAny(text, r.Exclude) {
		return ""
	}
	return text
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
