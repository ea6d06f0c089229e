package types

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Item is a merged raw book record: stub and detail fields under the source
// site's own names, before normalization into a BookRecord.
type Item struct {
	// Fields stores the raw key-value data.
	Fields map[string]any

	// URL is the detail page the item describes.
	URL string

	// Site is the site code that produced this item.
	Site string

	// Rank is the 1-based bestseller position.
	Rank int

	// Timestamp is when this item was created.
	Timestamp time.Time
}

// NewItem creates a new empty Item for a detail URL.
func NewItem(site, sourceURL string) *Item {
	return &Item{
		Fields:    make(map[string]any),
		URL:       sourceURL,
		Site:      site,
		Timestamp: time.Now(),
	}
}

// ItemFromStub builds an item carrying the stub's raw fields.
func ItemFromStub(site string, stub BookStub) *Item {
	item := NewItem(site, stub.DetailLink)
	item.Rank = stub.Rank
	item.Set("title", stub.Title)
	item.Set("author", stub.Author)
	item.Set("coverImage", stub.CoverImage)
	item.Set("detailLink", stub.DetailLink)
	for k, v := range stub.Extra {
		item.Set(k, v)
	}
	return item
}

// Merge copies every detail field onto the item.
func (i *Item) Merge(detail BookDetail) {
	for k, v := range detail {
		i.Set(k, v)
	}
}

// Set sets a field value.
func (i *Item) Set(key string, value any) {
	if i.Fields == nil {
		i.Fields = make(map[string]any)
	}
	i.Fields[key] = value
}

// Get retrieves a field value.
func (i *Item) Get(key string) (any, bool) {
	v, ok := i.Fields[key]
	return v, ok
}

// GetString retrieves a field value as a string. Slices of strings are
// joined with newlines; nil pointers read as ""; other values are formatted
// with fmt, which also recovers a panicking String method.
func (i *Item) GetString(key string) string {
	if i == nil {
		return ""
	}
	v, ok := i.Fields[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, "\n")
	case []byte:
		return string(val)
	case fmt.Stringer:
		if rv := reflect.ValueOf(val); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return ""
		}
		return fmt.Sprint(val)
	default:
		return fmt.Sprint(val)
	}
}

// Keys returns all field names.
func (i *Item) Keys() []string {
	keys := make([]string, 0, len(i.Fields))
	for k := range i.Fields {
		keys = append(keys, k)
	}
	return keys
}

// Clone creates a copy of the item with its own field map.
func (i *Item) Clone() *Item {
	clone := &Item{
		Fields:    make(map[string]any, len(i.Fields)),
		URL:       i.URL,
		Site:      i.Site,
		Rank:      i.Rank,
		Timestamp: i.Timestamp,
	}
	for k, v := range i.Fields {
		clone.Fields[k] = v
	}
	return clone
}
