package crawler

import (
	"fmt"
	"sort"
	"strings"
)

// PageKey names a logical page the crawler knows how to reach.
type PageKey string

// Known pages.
const (
	PageNews        PageKey = "news"
	PageCapitalList PageKey = "capital_list"
	PageWeather     PageKey = "weather"
)

// Page binds a key to a URL template. Templates may contain positional %s
// placeholders that are filled when a Target is resolved.
type Page struct {
	Key      PageKey
	Template string
}

// Placeholders counts the positional arguments the template expects.
func (p Page) Placeholders() int {
	return strings.Count(p.Template, "%s")
}

var defaultTemplates = map[PageKey]string{
	PageNews:        "https://tintuc.vn/tin-quoc-te",
	PageCapitalList: "http://www.sport-histoire.fr/en/Geography/ISO_codes_countries.php",
	PageWeather:     "https://www.timeanddate.com/weather/%s/%s/ext",
}

// Catalog is the read-only mapping of page keys to templates, built once at
// startup and shared by every worker.
type Catalog struct {
	pages map[PageKey]Page
}

// DefaultCatalog returns the built-in page catalog.
func DefaultCatalog() Catalog {
	c, _ := NewCatalog(nil)
	return c
}

// NewCatalog layers overrides on top of the built-in templates. Empty override
// values are ignored; unknown keys are rejected.
func NewCatalog(overrides map[string]string) (Catalog, error) {
	pages := make(map[PageKey]Page, len(defaultTemplates))
	for key, tmpl := range defaultTemplates {
		pages[key] = Page{Key: key, Template: tmpl}
	}
	for raw, tmpl := range overrides {
		key := PageKey(strings.ToLower(strings.TrimSpace(raw)))
		if _, ok := pages[key]; !ok {
			return Catalog{}, fmt.Errorf("unknown page %q", raw)
		}
		if strings.TrimSpace(tmpl) == "" {
			continue
		}
		if key == PageWeather && strings.Count(tmpl, "%s") != 2 {
			return Catalog{}, fmt.Errorf("page %q needs two %%s placeholders, got %q", key, tmpl)
		}
		pages[key] = Page{Key: key, Template: strings.TrimSpace(tmpl)}
	}
	return Catalog{pages: pages}, nil
}

// Page looks up a page by key.
func (c Catalog) Page(key PageKey) (Page, bool) {
	p, ok := c.pages[key]
	return p, ok
}

// MustPage looks up a page and panics when the key is unknown. Only the
// constants above are valid arguments.
func (c Catalog) MustPage(key PageKey) Page {
	p, ok := c.pages[key]
	if !ok {
		panic(fmt.Sprintf("crawler: page %q not in catalog", key))
	}
	return p
}

// Keys returns the catalog keys in sorted order.
func (c Catalog) Keys() []PageKey {
	keys := make([]PageKey, 0, len(c.pages))
	for k := range c.pages {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
