package pipeline

import (
	"strings"

	"github.com/IshaanNene/bookstalk/internal/types"
)

// recordFields maps each public field to the raw field names that can carry
// it, in priority order. Sites name their fields differently; this table is
// the only place that knows the aliases.
var recordFields = []struct {
	set        func(*types.BookRecord, string)
	candidates []string
}{
	{func(r *types.BookRecord, v string) { r.Image = v }, []string{"coverImage", "image", "cover"}},
	{func(r *types.BookRecord, v string) { r.Link = v }, []string{"detailLink", "link", "url"}},
	{func(r *types.BookRecord, v string) { r.Title = v }, []string{"title"}},
	{func(r *types.BookRecord, v string) { r.Author = v }, []string{"author", "writer"}},
	{func(r *types.BookRecord, v string) { r.WriterInfo = v }, []string{"writerInfo", "authorInfo", "authorBio"}},
	{func(r *types.BookRecord, v string) { r.Description = v }, []string{"contents", "description", "intro"}},
	{func(r *types.BookRecord, v string) { r.Other = v }, []string{"publisherReview", "other", "plot", "outline", "tableOfContents"}},
}

// ToPublicRecord projects a merged item onto the public record shape. Each
// public field takes the first non-empty candidate, trimmed; absent values
// become "". It never fails, including for a nil item.
func ToPublicRecord(item *types.Item) types.BookRecord {
	var rec types.BookRecord
	for _, f := range recordFields {
		f.set(&rec, firstNonEmpty(item, f.candidates))
	}
	return rec
}

func firstNonEmpty(item *types.Item, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(item.GetString(k)); v != "" {
			return v
		}
	}
	return ""
}
