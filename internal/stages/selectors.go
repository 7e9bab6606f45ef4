package stages

// CapitalSelectors locate capitals on the capital_list page. Cells are
// evaluated relative to each row.
type CapitalSelectors struct {
	Row     string `mapstructure:"row"`
	Country string `mapstructure:"country"`
	Capital string `mapstructure:"capital"`
	ISO2    string `mapstructure:"iso2"`
	ISO3    string `mapstructure:"iso3"`
}

// DefaultCapitalSelectors matches a country table with one row per country.
func DefaultCapitalSelectors() CapitalSelectors {
	return CapitalSelectors{
		Row:     "table.countries tbody tr",
		Country: "td.country",
		Capital: "td.capital",
		ISO2:    "td.iso2",
		ISO3:    "td.iso3",
	}
}

// ForecastSelectors locate one forecast per row on the weather page. The
// day is read from DateAttr on the row when set, else from the Date cell,
// and parsed with DateLayout.
type ForecastSelectors struct {
	Row        string `mapstructure:"row"`
	Date       string `mapstructure:"date"`
	DateAttr   string `mapstructure:"date_attr"`
	DateLayout string `mapstructure:"date_layout"`
	High       string `mapstructure:"high"`
	Low        string `mapstructure:"low"`
	Summary    string `mapstructure:"summary"`
}

// DefaultForecastSelectors matches an extended forecast table.
func DefaultForecastSelectors() ForecastSelectors {
	return ForecastSelectors{
		Row:        "table#wt-ext tbody tr",
		DateAttr:   "data-date",
		DateLayout: "2006-01-02",
		High:       "td.high",
		Low:        "td.low",
		Summary:    "td.desc",
	}
}

// NewsSelectors locate headlines on a news page. Link is read from href.
type NewsSelectors struct {
	Item    string `mapstructure:"item"`
	Title   string `mapstructure:"title"`
	Link    string `mapstructure:"link"`
	Summary string `mapstructure:"summary"`
}

// DefaultNewsSelectors matches a list of article cards.
func DefaultNewsSelectors() NewsSelectors {
	return NewsSelectors{
		Item:    "article",
		Title:   "h3",
		Link:    "h3 a",
		Summary: "p.summary",
	}
}
