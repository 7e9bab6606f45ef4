package stages

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/capital-forecast-crawler/internal/clock/system"
	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// NewsWorkerName names the news stage's worker and error log.
const NewsWorkerName = "NewsWorker"

// NewsStage walks news pages 1..N through a page query parameter.
type NewsStage struct {
	page  crawler.Page
	sel   NewsSelectors
	store crawler.ArticleStore
	pages int
	param string
	clock crawler.Clock
}

// NewNewsStage builds the stage. pages below 1 is treated as 1 and an empty
// param defaults to "page".
func NewNewsStage(page crawler.Page, sel NewsSelectors, store crawler.ArticleStore, pages int, param string) *NewsStage {
	if param == "" {
		param = "page"
	}
	return &NewsStage{
		page:  page,
		sel:   sel,
		store: store,
		pages: max(pages, 1),
		param: param,
		clock: system.New(),
	}
}

// Name implements worker.Producer.
func (*NewsStage) Name() string { return NewsWorkerName }

// Targets returns one target per page number.
func (s *NewsStage) Targets() []crawler.Target {
	out := make([]crawler.Target, 0, s.pages)
	for n := 1; n <= s.pages; n++ {
		out = append(out, crawler.Target{
			Page:   s.page,
			Params: map[string]string{s.param: strconv.Itoa(n)},
		})
	}
	return out
}

// Discover upserts every headline on the page. It hands nothing off.
func (s *NewsStage) Discover(ctx context.Context, target crawler.Target, body []byte) ([]crawler.Capital, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	base, _ := target.Resolve()
	baseURL, _ := url.Parse(base)
	now := s.clock.Now()

	var (
		found int
		errs  []error
	)
	doc.Find(s.sel.Item).Each(func(_ int, item *goquery.Selection) {
		article, ok := s.articleFromItem(item, baseURL)
		if !ok {
			return
		}
		found++
		article.FetchedAt = now
		if err := s.store.UpsertArticle(ctx, article); err != nil {
			errs = append(errs, fmt.Errorf("upsert article %s: %w", article.URL, err))
		}
	})
	if found == 0 {
		return nil, fmt.Errorf("no articles matched %q", s.sel.Item)
	}
	return nil, errors.Join(errs...)
}

func (s *NewsStage) articleFromItem(item *goquery.Selection, base *url.URL) (crawler.Article, bool) {
	href := attr(item, s.sel.Link, "href")
	title := text(item, s.sel.Title)
	if href == "" || title == "" {
		return crawler.Article{}, false
	}
	link, err := url.Parse(href)
	if err != nil {
		return crawler.Article{}, false
	}
	if base != nil {
		link = base.ResolveReference(link)
	}
	article := crawler.Article{URL: link.String(), Title: title}
	if s.sel.Summary != "" {
		article.Summary = text(item, s.sel.Summary)
	}
	return article, true
}
