package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/observability"
	"github.com/IshaanNene/bookstalk/internal/parser"
	"github.com/IshaanNene/bookstalk/internal/sites"
	"github.com/IshaanNene/bookstalk/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const (
	origin     = "https://books.test"
	listingURL = origin + "/bestsellers"
)

// fakeFetcher serves fixture pages by URL.
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	delays map[string]time.Duration
	fail   map[string]error
	status map[string]int
	calls  map[string]int
	closed bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:  map[string]string{},
		delays: map[string]time.Duration{},
		fail:   map[string]error{},
		status: map[string]int{},
		calls:  map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	u := req.URLString()

	f.mu.Lock()
	f.calls[u]++
	delay := f.delays[u]
	failErr := f.fail[u]
	status := f.status[u]
	body, ok := f.pages[u]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &types.FetchError{URL: u, Err: err}
	}
	if failErr != nil {
		return nil, failErr
	}
	if !ok {
		return nil, &types.FetchError{URL: u, StatusCode: 404, Err: errors.New("not found")}
	}
	resp := types.NewBrowserResponse(req, body, u, delay)
	if status != 0 {
		resp.StatusCode = status
	}
	return resp, nil
}

func (f *fakeFetcher) Close() error {
	f.closed = true
	return nil
}

func (f *fakeFetcher) callCount(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

func timeoutErr(u string) error {
	return &types.FetchError{URL: u, Err: fmt.Errorf("%w: navigation", types.ErrTimeout), Retryable: true}
}

func bookURL(n int) string { return fmt.Sprintf("%s/book/%d", origin, n) }

func listingItem(n int, title string) string {
	return fmt.Sprintf(`<li class="book">
		<a href="/book/%d"><img src="/cover/%d.jpg"></a>
		<span class="title">%s</span>
		<span class="author">Author %d</span>
	</li>`, n, n, title, n)
}

func listingPage(items ...string) string {
	return "<html><body><ul>" + strings.Join(items, "\n") + "</ul></body></html>"
}

func detailPage(intro, bio string) string {
	return fmt.Sprintf(`<html><body>
		<div class="intro">%s</div>
		<div class="bio">%s</div>
	</body></html>`, intro, bio)
}

func testSite() *sites.Site {
	return &sites.Site{
		Code:         "test",
		Name:         "Test Books",
		Origin:       origin,
		Listing:      []sites.ListingPage{{URL: listingURL}},
		ItemSelector: "li.book",
		Stub: sites.StubRules{
			Title:  parser.Sel(".title"),
			Author: parser.Sel(".author"),
			Image:  parser.Sel("img").WithAttrs("src"),
			Link:   parser.Sel("a").WithAttrs("href"),
		},
		Require: []string{"title", "detailLink"},
		Detail: []sites.Field{
			{Name: "description", Rule: parser.Sel(".intro")},
			{Name: "writerInfo", Rule: parser.Sel(".bio")},
		},
		MaxStubs:    30,
		Concurrency: 2,
		Fetcher:     sites.FetcherHTTP,
	}
}

func newTestEngine(f Fetcher) *Engine {
	cfg := config.DefaultConfig()
	cfg.Engine.MaxRetries = 1
	cfg.Engine.RetryDelay = time.Millisecond
	e := New(cfg, testLogger)
	e.SetFetcher(sites.FetcherHTTP, f)
	return e
}

func titles(stubs []types.BookStub) []string {
	out := make([]string, len(stubs))
	for i, s := range stubs {
		out[i] = s.Title
	}
	return out
}

func TestFetchListingDropsMissingTitle(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, ""), listingItem(2, "Valid Book"))

	stubs, err := newTestEngine(f).FetchListing(context.Background(), testSite())
	if err != nil {
		t.Fatalf("fetch listing: %v", err)
	}
	if len(stubs) != 1 {
		t.Fatalf("expected 1 stub, got %d", len(stubs))
	}
	want := types.BookStub{
		Rank:       1,
		Title:      "Valid Book",
		Author:     "Author 2",
		CoverImage: origin + "/cover/2.jpg",
		DetailLink: bookURL(2),
	}
	if diff := cmp.Diff(want, stubs[0]); diff != "" {
		t.Errorf("stub mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchListingTitleMandatoryWithoutRequire(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, ""), listingItem(2, "Two"))

	site := testSite()
	site.Require = nil

	stubs, err := newTestEngine(f).FetchListing(context.Background(), site)
	if err != nil {
		t.Fatalf("fetch listing: %v", err)
	}
	if len(stubs) != 1 || stubs[0].Title != "Two" || stubs[0].Rank != 1 {
		t.Errorf("expected only the titled stub at rank 1, got %+v", stubs)
	}
}

func TestFetchDetailStrictRejectsNonSuccessStatus(t *testing.T) {
	f := newFakeFetcher()
	f.pages[bookURL(1)] = detailPage("Intro", "Bio")
	f.status[bookURL(1)] = 302

	_, err := newTestEngine(f).FetchDetailStrict(context.Background(), testSite(), bookURL(1))
	var fe *types.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 302 {
		t.Fatalf("expected a FetchError with status 302, got %v", err)
	}
}

func TestFetchListingDropsDuplicateLinks(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, "First"), listingItem(1, "Again"), listingItem(2, "Second"))

	stubs, err := newTestEngine(f).FetchListing(context.Background(), testSite())
	if err != nil {
		t.Fatalf("fetch listing: %v", err)
	}
	if diff := cmp.Diff([]string{"First", "Second"}, titles(stubs)); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	if stubs[1].Rank != 2 {
		t.Errorf("expected contiguous ranks, got %d", stubs[1].Rank)
	}
}

func TestFetchListingDefaultAuthor(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(`<li class="book"><a href="/book/9"></a><span class="title">Anonymous</span></li>`)

	site := testSite()
	site.DefaultAuthor = "Unknown"
	stubs, err := newTestEngine(f).FetchListing(context.Background(), site)
	if err != nil {
		t.Fatalf("fetch listing: %v", err)
	}
	if len(stubs) != 1 || stubs[0].Author != "Unknown" {
		t.Errorf("expected default author, got %+v", stubs)
	}
}

func TestFetchListingPagination(t *testing.T) {
	page2 := origin + "/bestsellers?page=2"
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, "A"), listingItem(2, "B"), listingItem(3, "C"))
	f.pages[page2] = listingPage(listingItem(4, "D"), listingItem(5, "E"))

	site := testSite()
	site.Listing = []sites.ListingPage{{URL: listingURL, Limit: 2}, {URL: page2, Limit: 1}}

	stubs, err := newTestEngine(f).FetchListing(context.Background(), site)
	if err != nil {
		t.Fatalf("fetch listing: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B", "D"}, titles(stubs)); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	for i, s := range stubs {
		if s.Rank != i+1 {
			t.Errorf("stub %d: expected rank %d, got %d", i, i+1, s.Rank)
		}
	}
}

func TestFetchListingLaterPageFailureKeepsStubs(t *testing.T) {
	page2 := origin + "/bestsellers?page=2"
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, "A"), listingItem(2, "B"))
	f.fail[page2] = timeoutErr(page2)

	site := testSite()
	site.Listing = []sites.ListingPage{{URL: listingURL}, {URL: page2}}

	stubs, err := newTestEngine(f).FetchListing(context.Background(), site)
	if err != nil {
		t.Fatalf("expected page 1 stubs to survive, got %v", err)
	}
	if len(stubs) != 2 {
		t.Errorf("expected 2 stubs, got %d", len(stubs))
	}
	if got := f.callCount(page2); got != 2 {
		t.Errorf("expected one retry of the failing page, got %d calls", got)
	}
}

func TestFetchListingFirstPageFailure(t *testing.T) {
	f := newFakeFetcher()
	f.fail[listingURL] = timeoutErr(listingURL)

	_, err := newTestEngine(f).FetchListing(context.Background(), testSite())
	if !errors.Is(err, types.ErrListingUnavailable) {
		t.Fatalf("expected ErrListingUnavailable, got %v", err)
	}
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("expected the cause to be kept, got %v", err)
	}
}

func TestFetchListingNonRetryableNotRetried(t *testing.T) {
	f := newFakeFetcher()

	_, err := newTestEngine(f).FetchListing(context.Background(), testSite())
	if err == nil {
		t.Fatal("expected error for missing listing page")
	}
	if got := f.callCount(listingURL); got != 1 {
		t.Errorf("expected a 404 not to be retried, got %d calls", got)
	}
}

func TestNoFetcherForSite(t *testing.T) {
	e := New(config.DefaultConfig(), testLogger)
	_, err := e.Run(context.Background(), testSite())
	if !errors.Is(err, types.ErrNoFetcher) {
		t.Errorf("expected ErrNoFetcher, got %v", err)
	}
}

// maxStubs=3 over five valid items and one invalid: the cap counts accepted
// stubs, and a timed-out detail still produces a record.
func TestRunMaxStubsScenario(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(
		listingItem(1, "One"),
		listingItem(2, ""),
		listingItem(3, "Three"),
		listingItem(4, "Four"),
		listingItem(5, "Five"),
		listingItem(6, "Six"),
	)
	f.pages[bookURL(1)] = detailPage("Intro text", "Bio one")
	f.pages[bookURL(3)] = detailPage("Intro text", "Bio three")
	f.fail[bookURL(4)] = timeoutErr(bookURL(4))

	site := testSite()
	site.MaxStubs = 3

	records, err := newTestEngine(f).Run(context.Background(), site)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []types.BookRecord{
		{Image: origin + "/cover/1.jpg", Link: bookURL(1), Title: "One", Author: "Author 1", WriterInfo: "Bio one", Description: "Intro text"},
		{Image: origin + "/cover/3.jpg", Link: bookURL(3), Title: "Three", Author: "Author 3", WriterInfo: "Bio three", Description: "Intro text"},
		{Image: origin + "/cover/4.jpg", Link: bookURL(4), Title: "Four", Author: "Author 4"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if f.callCount(bookURL(5)) != 0 {
		t.Error("items past the cap should not be fetched")
	}
}

func TestRunPreservesRankUnderDelays(t *testing.T) {
	const n = 7
	var items []string
	f := newFakeFetcher()
	for i := 1; i <= n; i++ {
		items = append(items, listingItem(i, fmt.Sprintf("Book %d", i)))
		f.pages[bookURL(i)] = detailPage(fmt.Sprintf("Intro %d", i), "")
		// Earlier items finish last.
		f.delays[bookURL(i)] = time.Duration(n-i) * 15 * time.Millisecond
	}
	f.pages[listingURL] = listingPage(items...)

	for _, size := range []int{1, 3, n} {
		t.Run(fmt.Sprintf("chunk=%d", size), func(t *testing.T) {
			site := testSite()
			site.Concurrency = size

			records, err := newTestEngine(f).Run(context.Background(), site)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(records) != n {
				t.Fatalf("expected %d records, got %d", n, len(records))
			}
			for i, r := range records {
				if r.Title != fmt.Sprintf("Book %d", i+1) || r.Description != fmt.Sprintf("Intro %d", i+1) {
					t.Errorf("position %d holds %q / %q", i, r.Title, r.Description)
				}
			}
		})
	}
}

func TestRunFailSoftDetail(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, "Before"), listingItem(2, "Broken"), listingItem(3, "After"))
	f.pages[bookURL(1)] = detailPage("Intro 1", "Bio 1")
	f.pages[bookURL(2)] = "<html><body><div class=\"intro\">never read</div></body></html>"
	f.fail[bookURL(2)] = timeoutErr(bookURL(2))
	f.pages[bookURL(3)] = detailPage("Intro 3", "Bio 3")

	e := newTestEngine(f)
	records, err := e.Run(context.Background(), testSite())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[1].Title != "Broken" || records[1].Description != "" || records[1].WriterInfo != "" {
		t.Errorf("expected empty detail fields for the failed item, got %+v", records[1])
	}
	if records[0].Description != "Intro 1" || records[2].Description != "Intro 3" {
		t.Errorf("neighbours should be unaffected, got %q and %q", records[0].Description, records[2].Description)
	}
	if got := e.Stats().DetailFailures.Load(); got != 1 {
		t.Errorf("expected 1 detail failure, got %d", got)
	}
}

func TestFetchDetailEmptyOnFailure(t *testing.T) {
	f := newFakeFetcher()
	detail := newTestEngine(f).FetchDetail(context.Background(), testSite(), bookURL(42))

	want := types.BookDetail{"description": "", "writerInfo": ""}
	if diff := cmp.Diff(want, detail); diff != "" {
		t.Errorf("detail mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchDetailStrictReturnsError(t *testing.T) {
	f := newFakeFetcher()
	f.fail[bookURL(1)] = timeoutErr(bookURL(1))

	_, err := newTestEngine(f).FetchDetailStrict(context.Background(), testSite(), bookURL(1))
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	_, err = newTestEngine(f).FetchDetailStrict(context.Background(), testSite(), "not a url")
	if !errors.Is(err, types.ErrInvalidURL) {
		t.Errorf("expected ErrInvalidURL, got %v", err)
	}
}

func TestRunRetriesTransientDetail(t *testing.T) {
	flaky := bookURL(1)
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, "Flaky"))
	f.pages[flaky] = detailPage("Recovered", "")

	r := &retryOnce{fakeFetcher: f, url: flaky}
	records, err := newTestEngine(r).Run(context.Background(), testSite())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if records[0].Description != "Recovered" {
		t.Errorf("expected the retry to succeed, got %q", records[0].Description)
	}
}

// retryOnce fails the first fetch of url with a retryable error.
type retryOnce struct {
	*fakeFetcher
	url    string
	failed bool
}

func (r *retryOnce) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	r.mu.Lock()
	first := req.URLString() == r.url && !r.failed
	if first {
		r.failed = true
	}
	r.mu.Unlock()
	if first {
		return nil, &types.FetchError{URL: r.url, StatusCode: 503, Err: errors.New("unavailable"), Retryable: true}
	}
	return r.fakeFetcher.Fetch(ctx, req)
}

func TestRunZeroStubs(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage()

	records, err := newTestEngine(f).Run(context.Background(), testSite())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("expected an empty non-nil list, got %#v", records)
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, "A"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(f).Run(ctx, testSite())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunCleansAndTruncates(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, "Long"))
	f.pages[bookURL(1)] = detailPage(strings.Repeat("가", 20), "line one<br><br><br><br>line two")

	e := newTestEngine(f)
	e.cfg.Pipeline.MaxFieldLength = 10

	records, err := e.Run(context.Background(), testSite())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := []rune(records[0].Description); len(got) != 10 {
		t.Errorf("expected description truncated to 10 runes, got %d", len(got))
	}
	if records[0].WriterInfo != "line one\n\nline two" {
		t.Errorf("expected cleaned writer info, got %q", records[0].WriterInfo)
	}
}

func TestRunMetrics(t *testing.T) {
	f := newFakeFetcher()
	f.pages[listingURL] = listingPage(listingItem(1, "A"), listingItem(2, ""))
	f.pages[bookURL(1)] = detailPage("x", "y")

	m := observability.NewMetrics(testLogger)
	e := newTestEngine(f)
	e.SetMetrics(m)

	if _, err := e.Run(context.Background(), testSite()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("test", observability.OutcomeOK)); got != 1 {
		t.Errorf("expected 1 ok run, got %v", got)
	}
	if got := testutil.ToFloat64(m.StubsTotal.WithLabelValues("test", observability.OutcomeDropped)); got != 1 {
		t.Errorf("expected 1 dropped stub, got %v", got)
	}
	if got := testutil.ToFloat64(m.PagesTotal.WithLabelValues("test", types.TagDetail, observability.OutcomeOK)); got != 1 {
		t.Errorf("expected 1 detail page, got %v", got)
	}
}

func TestSettleAllRecoversPanics(t *testing.T) {
	inputs := []int{1, 2, 3, 4, 5}
	got, err := settleAll(context.Background(), testLogger, inputs, 2, 0,
		func(_ context.Context, n int) string {
			if n == 3 {
				panic("boom")
			}
			return fmt.Sprint(n * 10)
		},
		func(n int) string { return "fallback" },
	)
	if err != nil {
		t.Fatalf("settleAll: %v", err)
	}
	want := []string{"10", "20", "fallback", "40", "50"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestSettleAllBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0

	inputs := make([]int, 9)
	_, err := settleAll(context.Background(), testLogger, inputs, 3, time.Millisecond,
		func(_ context.Context, _ int) int {
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return 0
		},
		func(int) int { return 0 },
	)
	if err != nil {
		t.Fatalf("settleAll: %v", err)
	}
	if peak > 3 {
		t.Errorf("expected at most 3 concurrent tasks, saw %d", peak)
	}
}

func TestSettleAllCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Int32

	_, err := settleAll(ctx, testLogger, []int{1, 2, 3, 4}, 2, time.Minute,
		func(_ context.Context, _ int) int {
			cancel()
			ran.Add(1)
			return 0
		},
		func(int) int { return 0 },
	)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if n := ran.Load(); n > 2 {
		t.Errorf("expected the second chunk not to start, %d tasks ran", n)
	}
}

func TestEngineClose(t *testing.T) {
	f := newFakeFetcher()
	e := newTestEngine(f)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !f.closed {
		t.Error("expected fetcher to be closed")
	}
}
