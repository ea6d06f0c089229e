package engine

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/bookstalk/internal/observability"
	"github.com/IshaanNene/bookstalk/internal/parser"
	"github.com/IshaanNene/bookstalk/internal/pipeline"
	"github.com/IshaanNene/bookstalk/internal/sites"
	"github.com/IshaanNene/bookstalk/internal/types"
)

// FetchListing loads the site's listing pages in order and returns at most
// site.MaxStubs accepted stubs, ranked from 1 across pages. Candidates the
// stub pipeline rejects do not count toward the cap. Failing to load the
// first page returns an error wrapping types.ErrListingUnavailable; a later
// page failing keeps what was collected.
func (e *Engine) FetchListing(ctx context.Context, site *sites.Site) ([]types.BookStub, error) {
	f, err := e.fetcherFor(site)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("site", site.Code)
	metrics := e.metricsRef()
	stubPipeline := pipeline.ForStubs(e.logger, site.Require, site.DefaultAuthor)

	var stubs []types.BookStub
	for i, page := range site.Listing {
		if site.MaxStubs > 0 && len(stubs) >= site.MaxStubs {
			break
		}

		req, err := e.newRequest(site, page.URL, types.TagListing, site.ListingSettle)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrListingUnavailable, err)
		}

		e.stats.ListingPages.Add(1)
		doc, err := e.document(ctx, f, req)
		if err != nil {
			if i == 0 || ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", types.ErrListingUnavailable, site.Code, err)
			}
			logger.Warn("listing page failed, keeping collected stubs",
				"page", i+1, "url", page.URL, "collected", len(stubs), "error", err)
			break
		}

		pageAccepted := 0
		for _, cand := range ExtractStubs(doc.Selection, site, e.extractor) {
			if site.MaxStubs > 0 && len(stubs) >= site.MaxStubs {
				break
			}
			if page.Limit > 0 && pageAccepted >= page.Limit {
				break
			}

			item, err := stubPipeline.Process(types.ItemFromStub(site.Code, cand))
			if err != nil || item == nil {
				e.stats.StubsDropped.Add(1)
				metrics.IncStub(site.Code, observability.OutcomeDropped)
				logger.Debug("stub dropped", "title", cand.Title, "link", cand.DetailLink, "error", err)
				continue
			}

			stub := stubFromItem(item, cand)
			stub.Rank = len(stubs) + 1
			stubs = append(stubs, stub)
			pageAccepted++
			e.stats.StubsAccepted.Add(1)
			metrics.IncStub(site.Code, observability.OutcomeOK)
		}

		logger.Debug("listing page parsed", "page", i+1, "accepted", pageAccepted, "total", len(stubs))
	}

	if len(stubs) == 0 {
		logger.Warn("listing returned no books", "pages", len(site.Listing))
	}
	return stubs, nil
}

// ExtractStubs reads candidate stubs from every ItemSelector match under
// root. Links and images are resolved to absolute URLs against the site
// origin. Candidates are unfiltered and unranked.
func ExtractStubs(root *goquery.Selection, site *sites.Site, extractor *parser.Extractor) []types.BookStub {
	if root == nil {
		return nil
	}
	var stubs []types.BookStub
	root.Find(site.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		stub := types.BookStub{
			Title:      extractor.Extract(item, site.Stub.Title),
			Author:     extractor.Extract(item, site.Stub.Author),
			CoverImage: site.Resolve(extractor.Extract(item, site.Stub.Image)),
			DetailLink: site.Resolve(extractor.Extract(item, site.Stub.Link)),
		}
		if len(site.Stub.Extra) > 0 {
			stub.Extra = make(map[string]string, len(site.Stub.Extra))
			for _, f := range site.Stub.Extra {
				stub.Extra[f.Name] = extractor.Extract(item, f.Rule)
			}
		}
		stubs = append(stubs, stub)
	})
	return stubs
}

// stubFromItem reads back the fields the stub pipeline may have changed.
func stubFromItem(item *types.Item, orig types.BookStub) types.BookStub {
	stub := types.BookStub{
		Title:      item.GetString("title"),
		Author:     item.GetString("author"),
		CoverImage: item.GetString("coverImage"),
		DetailLink: item.GetString("detailLink"),
	}
	if len(orig.Extra) > 0 {
		stub.Extra = make(map[string]string, len(orig.Extra))
		for k := range orig.Extra {
			stub.Extra[k] = item.GetString(k)
		}
	}
	return stub
}

func (e *Engine) document(ctx context.Context, f Fetcher, req *types.Request) (*goquery.Document, error) {
	resp, err := e.fetch(ctx, f, req)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &types.FetchError{
			URL:        req.URLString(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return resp.Document()
}
