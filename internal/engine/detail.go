package engine

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/bookstalk/internal/parser"
	"github.com/IshaanNene/bookstalk/internal/sites"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// FetchDetailStrict loads one detail page and extracts the site's detail
// fields. Navigation, timeout and parse failures are returned.
func (e *Engine) FetchDetailStrict(ctx context.Context, site *sites.Site, link string) (types.BookDetail, error) {
	f, err := e.fetcherFor(site)
	if err != nil {
		return nil, err
	}

	req, err := e.newRequest(site, link, types.TagDetail, site.DetailSettle)
	if err != nil {
		return nil, err
	}

	e.stats.DetailPages.Add(1)
	doc, err := e.document(ctx, f, req)
	if err != nil {
		return nil, err
	}
	return ExtractDetail(doc.Selection, site, e.extractor), nil
}

// FetchDetail is the fail-soft form of FetchDetailStrict: any failure is
// logged and yields site.EmptyDetail().
func (e *Engine) FetchDetail(ctx context.Context, site *sites.Site, link string) types.BookDetail {
	detail, err := e.FetchDetailStrict(ctx, site, link)
	if err != nil {
		e.stats.DetailFailures.Add(1)
		e.logger.Warn("detail fetch failed, using empty fields", "site", site.Code, "url", link, "error", err)
		return site.EmptyDetail()
	}
	return detail
}

// ExtractDetail reads every declared detail field from root. Every field is
// present in the result; misses are "".
func ExtractDetail(root *goquery.Selection, site *sites.Site, extractor *parser.Extractor) types.BookDetail {
	detail := site.EmptyDetail()
	if root == nil {
		return detail
	}
	for _, f := range site.Detail {
		detail[f.Name] = extractor.Extract(root, f.Rule)
	}
	return detail
}
