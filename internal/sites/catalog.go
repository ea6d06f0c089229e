package sites

import (
	"time"

	"github.com/IshaanNene/bookstalk/internal/parser"
	"github.com/IshaanNene/bookstalk/internal/types"
)

var (
	defaultListingSettle = types.Settle{Wait: 2 * time.Second}
	defaultDetailSettle  = types.Settle{Wait: time.Second}

	stubFields = []string{"title", "coverImage", "detailLink"}
)

// Builtin returns a registry holding every supported bestseller source.
func Builtin() *Registry {
	return NewRegistry(
		kyobo(),
		aladin(),
		amazon("us", "Amazon.com", "https://www.amazon.com"),
		amazon("fr", "Amazon.fr", "https://www.amazon.fr"),
		amazon("es", "Amazon.es", "https://www.amazon.es"),
		kinokuniya(),
		booksTW(),
		booksChina(),
		waterstones(),
	)
}

func kyobo() *Site {
	authorLine := "div.line-clamp-2.flex"
	return &Site{
		Code:    "kr",
		Name:    "Kyobo Book Centre",
		Origin:  "https://store.kyobobook.co.kr",
		Aliases: []string{"kyobo"},
		Listing: []ListingPage{
			{URL: "https://store.kyobobook.co.kr/bestseller/total/weekly?page=1"},
		},
		ItemSelector: "ol li",
		Stub: StubRules{
			Title:  parser.Sel("a.prod_link.line-clamp-2.font-medium.text-black"),
			Link:   parser.Sel("a.prod_link.line-clamp-2.font-medium.text-black").WithAttrs("href"),
			Image:  parser.Sel("a.prod_link.relative img").WithAttrs("src", "data-src"),
			Author: parser.Rule{Selectors: []string{authorLine}, Split: "·", Part: 0},
			Extra: []Field{
				{Name: "publisher", Rule: parser.Rule{Selectors: []string{authorLine}, Split: "·", Part: 1}},
			},
		},
		Require: []string{"title", "author", "publisher", "coverImage", "detailLink"},
		Detail: []Field{
			{Name: "writerInfo", Rule: parser.Sel(
				"div.writer_info_box .auto_overflow_inner p.info_text",
				"#scrollSpyProdInfo div.product_detail_area.product_person div.writer_info_box p",
			)},
			{Name: "contents", Rule: parser.Sel(
				"#scrollSpyProdInfo div.product_detail_area.book_intro div.intro_bottom > div:last-child",
				"li.book_contents_item",
			)},
			{Name: "outline", Rule: parser.Sel(
				"#scrollSpyProdInfo div.product_detail_area.book_contents div.auto_overflow_wrap div.auto_overflow_contents ul li",
			)},
			{Name: "publisherReview", Rule: parser.Sel(
				"div.product_detail_area.book_publish_review .auto_overflow_inner p.info_text",
			)},
		},
		MaxStubs:      20,
		Concurrency:   5,
		ListingSettle: defaultListingSettle,
		DetailSettle:  defaultDetailSettle,
		Fetcher:       FetcherBrowser,
	}
}

func aladin() *Site {
	infoBlock := func(keywords ...string) *parser.BlockRule {
		return &parser.BlockRule{
			Anchor:    ".Ere_prod_mconts_LL",
			Contains:  keywords,
			Container: ".Ere_prod_mconts_box",
			Content:   ".Ere_prod_mconts_R",
		}
	}

	writerInfo := parser.Sel("div[id^='div_AuthorInfo_']").WithFilter(50, "ISBN", "쪽")
	writerInfo.Keywords = &parser.KeywordRule{
		Scope:   "div",
		Include: []string{"저자", "작가"},
		Exclude: []string{"ISBN", "쪽", "mm"},
		MinLen:  100,
	}
	writerBlock := parser.Rule{Block: infoBlock("저자", "작가")}

	contents := parser.Sel("div[id^='div_TOC_']", "#tocTemplate").WithFilter(50)
	contentsBlock := parser.Rule{Block: infoBlock("목차", "책소개")}

	review := parser.Rule{Block: infoBlock("출판사", "리뷰", "추천"), MinLen: 100}

	return &Site{
		Code:    "aladin",
		Name:    "Aladin",
		Origin:  "https://www.aladin.co.kr",
		Aliases: []string{"al"},
		Listing: []ListingPage{
			{URL: "https://www.aladin.co.kr/shop/common/wbest.aspx?BranchType=1"},
		},
		ItemSelector: ".ss_book_box",
		Stub: StubRules{
			Title:  parser.Sel("a.bo3"),
			Link:   parser.Sel("a.bo3").WithAttrs("href"),
			Image:  parser.Sel(".front_cover").WithAttrs("src", "data-src"),
			Author: parser.Sel(".ss_book_list ul li:nth-child(3) a:nth-child(1)"),
		},
		Require: []string{"title", "author", "coverImage", "detailLink"},
		Detail: []Field{
			{Name: "writerInfo", Rule: firstOf(writerInfo, writerBlock)},
			{Name: "contents", Rule: firstOf(contents, contentsBlock)},
			{Name: "publisherReview", Rule: review},
		},
		MaxStubs:      20,
		Concurrency:   5,
		ListingSettle: defaultListingSettle,
		DetailSettle:  defaultDetailSettle,
		Fetcher:       FetcherBrowser,
	}
}

func amazon(code, name, origin string) *Site {
	s := &Site{
		Code:   code,
		Name:   name,
		Origin: origin,
		Listing: []ListingPage{
			{URL: origin + "/gp/bestsellers/books"},
		},
		ItemSelector: "ol li",
		Stub: StubRules{
			Link: parser.Sel("div a.a-link-normal", `a[href*="/dp/"]`).WithAttrs("href"),
			Title: parser.Sel(
				"div a.a-link-normal span div",
				".p13n-sc-truncate",
				`[class*="title"]`,
			),
			Image: parser.Sel("div.a-section img", `img[src*="amazon"]`).WithAttrs("src"),
			Author: parser.Sel(
				"div a.a-size-small div",
				".a-size-small.a-link-child",
				`[class*="author"]`,
			),
		},
		Require:       []string{"title", "detailLink"},
		DefaultAuthor: "Unknown",
		Detail: []Field{
			{Name: "description", Rule: parser.Sel(
				"#bookDescription_feature_div div.a-expander-content",
				"#bookDescription_feature_div",
				`[data-feature-name="bookDescription"]`,
			)},
			{Name: "other", Rule: parser.Sel(
				"#editorialReviews_feature_div div.a-section",
				"#editorialReviews_feature_div",
			)},
			{Name: "writerInfo", Rule: parser.Sel(
				"div._about-the-author-card_style_cardContentDiv__FXLPd div.a-cardui-body",
				"div._about-the-author-card_style_cardContentDiv__FXLPd",
				`[data-feature-name="authorBio"]`,
			)},
		},
		MaxStubs:      30,
		Concurrency:   5,
		ListingSettle: defaultListingSettle,
		DetailSettle:  types.Settle{Timeout: 30 * time.Second, Wait: 2 * time.Second},
		Fetcher:       FetcherBrowser,
	}

	switch code {
	case "us":
		s.Aliases = []string{"amazon"}
		s.DetailSettle = types.Settle{
			Timeout:      40 * time.Second,
			ScrollRatio:  0.5,
			ScrollPause:  2 * time.Second,
			SecondScroll: true,
			Wait:         time.Second,
		}
	case "es":
		s.Concurrency = 3
		s.ChunkDelay = 2 * time.Second
		s.ListingSettle = types.Settle{Wait: 3 * time.Second}
		s.Stealth = true
	}
	return s
}

func kinokuniya() *Site {
	career := "#main_contents div.career_box"

	authorInfo := parser.Rule{Section: &parser.SectionRule{
		Scope: ".career_box",
		Start: []string{"저자", "著者", "作者", "著者紹介"},
		Stop:  []string{"내용 설명", "内容説明", "목차", "目次"},
	}}

	return &Site{
		Code:    "jp",
		Name:    "Kinokuniya",
		Origin:  "https://www.kinokuniya.co.jp",
		Aliases: []string{"kinokuniya"},
		Listing: []ListingPage{
			{URL: "https://www.kinokuniya.co.jp/disp/CKnRankingPageCList.jsp?dispNo=107002001001&vTp=w"},
		},
		ItemSelector: "#main_contents form div.list_area_wrap div",
		Stub: StubRules{
			Title:  parser.Sel("div.listrightbloc div.details.mt00 h3 a"),
			Link:   parser.Sel("div.listrightbloc div.details.mt00 h3 a").WithAttrs("href"),
			Image:  parser.Sel("div.listphoto.clearfix a img").WithAttrs("src", "data-src"),
			Author: parser.Sel("div.listrightbloc div.details.mt00 p"),
		},
		Require:       stubFields,
		DefaultAuthor: "著者不明",
		Detail: []Field{
			{Name: "description", Rule: parser.Sel(
				`p[itemprop="description"]`,
				career+" p:nth-child(4)",
			)},
			{Name: "plot", Rule: parser.Rule{
				Selectors: []string{".career_box p:not([itemprop])"},
				All:       true,
				Limit:     3,
				Sep:       "\n\n",
			}},
			{Name: "authorInfo", Rule: authorInfo},
		},
		MaxStubs:      30,
		Concurrency:   5,
		ListingSettle: defaultListingSettle,
		DetailSettle: types.Settle{
			Timeout:     30 * time.Second,
			Wait:        3 * time.Second,
			ScrollRatio: 0.5,
			ScrollPause: 2 * time.Second,
		},
		Fetcher: FetcherBrowser,
	}
}

func booksTW() *Site {
	return &Site{
		Code:    "tw",
		Name:    "Books.com.tw",
		Origin:  "https://www.books.com.tw",
		Aliases: []string{"bookstw"},
		Listing: []ListingPage{
			{URL: "https://www.books.com.tw/web/sys_saletopb/books/?attribute="},
		},
		ItemSelector: "ul.clearfix li",
		Stub: StubRules{
			Title:  parser.Sel("div.type02_bd-a h4 a"),
			Link:   parser.Sel("a").WithAttrs("href"),
			Image:  parser.Sel("a img").WithAttrs("src", "data-src"),
			Author: parser.Sel("div.type02_bd-a ul.msg li a"),
		},
		Require: []string{"title", "author", "coverImage", "detailLink"},
		Detail: []Field{
			{Name: "contents", Rule: parser.Sel("div.grid_19.alpha div.content:first-of-type")},
			{Name: "outline", Rule: parser.Sel("#M201105_0_getProdTextInfo_P00a400020009_h2")},
			{Name: "writerInfo", Rule: parser.Sel("div.grid_19.alpha div.content:nth-of-type(2)")},
		},
		MaxStubs:      20,
		Concurrency:   5,
		ListingSettle: defaultListingSettle,
		DetailSettle:  types.Settle{Wait: 1500 * time.Millisecond},
		Fetcher:       FetcherBrowser,
	}
}

func booksChina() *Site {
	return &Site{
		Code:    "cn",
		Name:    "Bookschina",
		Origin:  "https://www.bookschina.com",
		Aliases: []string{"ch", "bookschina"},
		Listing: []ListingPage{
			{URL: "https://www.bookschina.com/24hour"},
		},
		ItemSelector: "#container div div.listLeft div.bookList ul li",
		Stub: StubRules{
			Title:  parser.Sel("div.infor h2 a"),
			Link:   parser.Sel("div.infor h2 a").WithAttrs("href"),
			Image:  parser.Sel("div.cover a img").WithAttrs("src", "data-original"),
			Author: parser.Sel("div.infor div.author a"),
		},
		Require: []string{"title", "author", "coverImage", "detailLink"},
		Detail: []Field{
			{Name: "description", Rule: parser.Sel("#brief p")},
			{Name: "other", Rule: parser.Rule{
				Selectors: []string{"#catalogSwitch", "#mindbook"},
				Join:      true,
				Sep:       "\n\n",
			}},
			{Name: "writerInfo", Rule: parser.Sel("#zuozhejianjie p")},
		},
		MaxStubs:      30,
		Concurrency:   5,
		ListingSettle: defaultListingSettle,
		DetailSettle:  defaultDetailSettle,
		Fetcher:       FetcherHTTP,
	}
}

func waterstones() *Site {
	return &Site{
		Code:    "uk",
		Name:    "Waterstones",
		Origin:  "https://www.waterstones.com",
		Aliases: []string{"waterstones"},
		Listing: []ListingPage{
			{URL: "https://www.waterstones.com/books/bestsellers", Limit: 24},
			{URL: "https://www.waterstones.com/books/bestsellers?page=2", Limit: 6},
		},
		ItemSelector: "div.book-preview",
		Stub: StubRules{
			Title: parser.Sel(
				"div.hover-layer > div > div > div.pre-add > span.visuallyhidden",
				"div.hover-layer span.visuallyhidden",
				"h3 a",
			),
			Link:   parser.Sel("div.image-wrap a", "a").WithAttrs("href"),
			Image:  parser.Sel("div.image-wrap a > img", "a > img").WithAttrs("src", "data-src"),
			Author: parser.Sel("div.inner > div.info-wrap span.author > a > b", "span.author"),
		},
		Require: []string{"title", "author", "coverImage", "detailLink"},
		Detail: []Field{
			{Name: "contents", Rule: parser.Rule{
				Selectors: []string{"#scope_book_description p"},
				All:       true,
				Sep:       "\n",
			}},
		},
		MaxStubs:      30,
		Concurrency:   5,
		ListingSettle: types.Settle{Wait: 2 * time.Second, ScrollRatio: 1, ScrollPause: time.Second},
		DetailSettle: types.Settle{
			Wait:         2 * time.Second,
			WaitSelector: "section.book-info-tabs.ws-tabs.span12",
		},
		Fetcher: FetcherBrowser,
		Stealth: true,
	}
}

// firstOf merges rules so that the strategies of later rules act as
// fallbacks for earlier ones. Only Block, Section and Keywords are taken from
// the fallbacks, and primary's selectors keep precedence over the merged block.
func firstOf(primary parser.Rule, fallbacks ...parser.Rule) parser.Rule {
	primary.SelectorsFirst = true
	for _, f := range fallbacks {
		if primary.Block == nil && f.Block != nil {
			primary.Block = f.Block
		}
		if primary.Section == nil && f.Section != nil {
			primary.Section = f.Section
		}
		if primary.Keywords == nil && f.Keywords != nil {
			primary.Keywords = f.Keywords
		}
	}
	return primary
}
