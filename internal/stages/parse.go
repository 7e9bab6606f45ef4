package stages

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func parseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// text returns the collapsed text of the first match of selector inside s.
// An empty selector reads s itself.
func text(s *goquery.Selection, selector string) string {
	if selector != "" {
		s = s.Find(selector).First()
	}
	return strings.Join(strings.Fields(s.Text()), " ")
}

func attr(s *goquery.Selection, selector, name string) string {
	if selector != "" {
		s = s.Find(selector).First()
	}
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

// parseCelsius reads "21", "21°", "21 °C" or "-3°C".
func parseCelsius(raw string) (float64, error) {
	cleaned := strings.NewReplacer("°C", "", "°", "", "C", "", "−", "-").Replace(raw)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("empty temperature")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse temperature %q: %w", raw, err)
	}
	return v, nil
}
