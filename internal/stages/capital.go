package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

// CapitalWorkerName names the capital stage's worker and error log.
const CapitalWorkerName = "CapitalWorker"

// CapitalStage discovers capitals from the capital_list page.
type CapitalStage struct {
	page  crawler.Page
	sel   CapitalSelectors
	store crawler.CapitalStore
}

// NewCapitalStage builds the stage for page.
func NewCapitalStage(page crawler.Page, sel CapitalSelectors, store crawler.CapitalStore) *CapitalStage {
	return &CapitalStage{page: page, sel: sel, store: store}
}

// Name implements worker.Producer.
func (*CapitalStage) Name() string { return CapitalWorkerName }

// Targets implements worker.Producer.
func (s *CapitalStage) Targets() []crawler.Target {
	return []crawler.Target{{Page: s.page}}
}

// Discover parses the capital table, upserts each capital and returns the
// stored ones in document order. Rows without a capital or an ISO-2 code
// are skipped.
func (s *CapitalStage) Discover(ctx context.Context, _ crawler.Target, body []byte) ([]crawler.Capital, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	var (
		out  []crawler.Capital
		errs []error
	)
	doc.Find(s.sel.Row).Each(func(_ int, row *goquery.Selection) {
		capital, ok := s.capitalFromRow(row)
		if !ok {
			return
		}
		if err := s.store.UpsertCapital(ctx, capital); err != nil {
			errs = append(errs, fmt.Errorf("upsert capital %s: %w", capital.ISO2Code, err))
			return
		}
		out = append(out, capital)
	})
	if len(out) == 0 && len(errs) == 0 {
		return nil, fmt.Errorf("no capitals matched %q", s.sel.Row)
	}
	return out, errors.Join(errs...)
}

func (s *CapitalStage) capitalFromRow(row *goquery.Selection) (crawler.Capital, bool) {
	capital := crawler.Capital{
		Name:     text(row, s.sel.Capital),
		Country:  text(row, s.sel.Country),
		ISO2Code: strings.ToUpper(text(row, s.sel.ISO2)),
	}
	if s.sel.ISO3 != "" {
		capital.ISO3Code = strings.ToUpper(text(row, s.sel.ISO3))
	}
	if capital.Name == "" || len(capital.ISO2Code) != 2 {
		return crawler.Capital{}, false
	}
	if capital.Country == "" {
		capital.Country = capital.Name
	}
	return capital, true
}
