package pipeline

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/IshaanNene/bookstalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestPipelineBasic(t *testing.T) {
	p := New(testLogger)
	p.Use(&CleanTextMiddleware{})

	item := types.NewItem("kr", "https://example.com/b/1")
	item.Set("title", "  Hello \t World  ")
	item.Set("contents", "a\n\n\n\nb")
	item.Set("rank", 3)

	result, err := p.Process(item)
	if err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	if result.GetString("title") != "Hello World" {
		t.Errorf("expected cleaned title, got %q", result.GetString("title"))
	}
	if result.GetString("contents") != "a\n\nb" {
		t.Errorf("expected collapsed newlines, got %q", result.GetString("contents"))
	}
	if v, _ := result.Get("rank"); v != 3 {
		t.Errorf("non-string field should be untouched, got %v", v)
	}
}

type failingMiddleware struct{}

func (failingMiddleware) Name() string { return "failing" }

func (failingMiddleware) Process(*types.Item) (*types.Item, error) {
	return nil, errors.New("boom")
}

func TestPipelineError(t *testing.T) {
	p := New(testLogger)
	p.Use(failingMiddleware{})

	_, err := p.Process(types.NewItem("kr", "https://example.com"))
	var pe *types.PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PipelineError, got %v", err)
	}
	if pe.Stage != "failing" {
		t.Errorf("expected stage 'failing', got %q", pe.Stage)
	}
}

func TestRequiredFieldsMiddleware(t *testing.T) {
	m := &RequiredFieldsMiddleware{Fields: []string{"title", "author"}}

	item1 := types.NewItem("kr", "https://example.com")
	item1.Set("title", "Hello")
	item1.Set("author", "Kim")
	if result, err := m.Process(item1); err != nil || result == nil {
		t.Error("item with required fields should pass")
	}

	item2 := types.NewItem("kr", "https://example.com")
	item2.Set("title", "Hello")
	if result, _ := m.Process(item2); result != nil {
		t.Error("item missing a required field should be dropped")
	}

	item3 := types.NewItem("kr", "https://example.com")
	item3.Set("title", "Hello")
	item3.Set("author", "")
	if result, _ := m.Process(item3); result != nil {
		t.Error("item with an empty required field should be dropped")
	}
}

func TestDefaultValueMiddleware(t *testing.T) {
	m := &DefaultValueMiddleware{Defaults: map[string]any{"author": "Unknown"}}

	empty := types.NewItem("us", "")
	empty.Set("author", "")
	result, _ := m.Process(empty)
	if result.GetString("author") != "Unknown" {
		t.Errorf("expected default author, got %q", result.GetString("author"))
	}

	set := types.NewItem("us", "")
	set.Set("author", "Jane")
	result, _ = m.Process(set)
	if result.GetString("author") != "Jane" {
		t.Errorf("existing author should be kept, got %q", result.GetString("author"))
	}
}

func TestDedupMiddleware(t *testing.T) {
	m := NewDedupMiddleware("detailLink")

	links := []string{
		"https://www.amazon.com/Book/dp/123/ref=zg_bs_1?b=2&a=1",
		"https://www.amazon.com/Book/dp/123?a=1&b=2#reviews",
		"https://www.amazon.com/Book/dp/456",
	}
	var kept int
	for _, link := range links {
		item := types.NewItem("us", link)
		item.Set("detailLink", link)
		if result, _ := m.Process(item); result != nil {
			kept++
		}
	}
	if kept != 2 {
		t.Errorf("expected 2 unique links, got %d", kept)
	}

	for j := 0; j < 2; j++ {
		if result, _ := m.Process(types.NewItem("us", "")); result == nil {
			t.Error("items without a link should not be deduplicated")
		}
	}
}

func TestCanonicalURL(t *testing.T) {
	a := CanonicalURL("https://Example.com/p/1/?b=2&a=1#top")
	b := CanonicalURL("https://example.com/p/1?a=1&b=2")
	if a != b {
		t.Errorf("expected equal canonical forms, got %q and %q", a, b)
	}
	if CanonicalURL("") != "" {
		t.Error("empty input should stay empty")
	}
}

func TestTruncateMiddleware(t *testing.T) {
	m := &TruncateMiddleware{MaxRunes: 5}
	item := types.NewItem("kr", "")
	item.Set("contents", "가나다라마바사")
	item.Set("title", "short")

	result, _ := m.Process(item)
	if got := result.GetString("contents"); got != "가나다라마" {
		t.Errorf("expected truncated runes, got %q", got)
	}
	if got := result.GetString("title"); got != "short" {
		t.Errorf("short field should be kept, got %q", got)
	}
}

func TestForStubs(t *testing.T) {
	p := ForStubs(testLogger, []string{"title", "detailLink"}, "Unknown")

	mk := func(title, author, link string) *types.Item {
		return types.ItemFromStub("us", types.BookStub{Title: title, Author: author, DetailLink: link})
	}

	first, _ := p.Process(mk("A", "", "https://example.com/a"))
	if first == nil || first.GetString("author") != "Unknown" {
		t.Fatalf("expected kept stub with default author, got %+v", first)
	}
	if dup, _ := p.Process(mk("A again", "X", "https://example.com/a/")); dup != nil {
		t.Error("duplicate link should be dropped")
	}
	if missing, _ := p.Process(mk("", "X", "https://example.com/b")); missing != nil {
		t.Error("stub without title should be dropped")
	}
}

func TestForStubsAlwaysRequiresTitleAndLink(t *testing.T) {
	p := ForStubs(testLogger, nil, "")

	mk := func(title, link string) *types.Item {
		return types.ItemFromStub("us", types.BookStub{Title: title, DetailLink: link})
	}

	if got, _ := p.Process(mk("", "https://example.com/a")); got != nil {
		t.Error("stub without title should be dropped even when the site requires nothing")
	}
	if got, _ := p.Process(mk("No link", "")); got != nil {
		t.Error("stub without detail link should be dropped even when the site requires nothing")
	}
	if got, _ := p.Process(mk("Two", "https://example.com/b")); got == nil {
		t.Error("complete stub should be kept")
	}
}

// --- Normalizer ---

func TestToPublicRecord(t *testing.T) {
	item := types.NewItem("jp", "https://example.com/b/1")
	item.Set("title", " Title ")
	item.Set("author", "Author")
	item.Set("coverImage", "")
	item.Set("image", "https://example.com/i.jpg")
	item.Set("detailLink", "https://example.com/b/1")
	item.Set("authorInfo", "Bio")
	item.Set("description", "Desc")
	item.Set("plot", "Plot")
	item.Set("outline", "Outline")

	want := types.BookRecord{
		Image:       "https://example.com/i.jpg",
		Link:        "https://example.com/b/1",
		Title:       "Title",
		Author:      "Author",
		WriterInfo:  "Bio",
		Description: "Desc",
		Other:       "Plot",
	}
	if diff := cmp.Diff(want, ToPublicRecord(item)); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestToPublicRecordPriority(t *testing.T) {
	item := types.NewItem("kr", "")
	item.Set("contents", "Contents")
	item.Set("description", "Description")
	item.Set("publisherReview", "Review")
	item.Set("other", "Other")
	item.Set("writerInfo", "Writer")
	item.Set("authorInfo", "Author info")

	rec := ToPublicRecord(item)
	if rec.Description != "Contents" || rec.Other != "Review" || rec.WriterInfo != "Writer" {
		t.Errorf("unexpected priority: %+v", rec)
	}
}

type stringer struct{}

func (stringer) String() string { return "stringer" }

type namedAuthor struct{ name string }

func (a *namedAuthor) String() string { return a.name }

type panicky struct{}

func (panicky) String() string { panic("boom") }

func TestToPublicRecordTotal(t *testing.T) {
	if diff := cmp.Diff(types.BookRecord{}, ToPublicRecord(nil)); diff != "" {
		t.Errorf("nil item should give an empty record:\n%s", diff)
	}
	if diff := cmp.Diff(types.BookRecord{}, ToPublicRecord(&types.Item{})); diff != "" {
		t.Errorf("nil fields should give an empty record:\n%s", diff)
	}

	item := &types.Item{Fields: map[string]any{
		"title":      42,
		"author":     stringer{},
		"contents":   []string{"a", "b"},
		"writerInfo": nil,
		"other":      time.Duration(0),
	}}
	rec := ToPublicRecord(item)
	if rec.Title != "42" || rec.Author != "stringer" || rec.Description != "a\nb" {
		t.Errorf("unexpected conversions: %+v", rec)
	}
	if rec.WriterInfo != "" {
		t.Errorf("nil value should be empty, got %q", rec.WriterInfo)
	}
	if !strings.HasPrefix(rec.Other, "0") {
		t.Errorf("expected formatted duration, got %q", rec.Other)
	}

	item = &types.Item{Fields: map[string]any{
		"title":       (*namedAuthor)(nil),
		"author":      &namedAuthor{name: "Han Kang"},
		"description": panicky{},
	}}
	rec = ToPublicRecord(item)
	if rec.Title != "" {
		t.Errorf("nil Stringer should be empty, got %q", rec.Title)
	}
	if rec.Author != "Han Kang" {
		t.Errorf("expected Stringer value, got %q", rec.Author)
	}
	if !strings.Contains(rec.Description, "PANIC") {
		t.Errorf("expected recovered String panic to be formatted, got %q", rec.Description)
	}
}
