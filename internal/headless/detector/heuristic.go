// Package detector spots pages that need a JavaScript render and promotes
// their fetches to the headless fetcher.
package detector

import (
	"bytes"
	"net/http"
)

// DefaultThreshold is the body size under which a script-heavy page is
// treated as an unrendered shell.
const DefaultThreshold = 2048

// Promotion reasons.
const (
	ReasonEmptyBody     = "empty_body"
	ReasonScriptDensity = "script_density"
	ReasonSPAMarker     = "spa_marker"
)

var defaultMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Heuristic applies a few rules to a static response.
type Heuristic struct {
	threshold int
	markers   [][]byte
}

// NewHeuristic builds a Heuristic. threshold <= 0 selects DefaultThreshold.
// Extra markers are matched in addition to the built-in SPA markers.
func NewHeuristic(threshold int, extraMarkers ...string) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	markers := append([][]byte(nil), defaultMarkers...)
	for _, m := range extraMarkers {
		if m != "" {
			markers = append(markers, []byte(m))
		}
	}
	return &Heuristic{threshold: threshold, markers: markers}
}

// Threshold reports the configured body size threshold.
func (h *Heuristic) Threshold() int { return h.threshold }

// Check returns the reason a headless render is needed, if any. Only 200
// responses are ever promoted.
func (h *Heuristic) Check(status int, body []byte) (string, bool) {
	if status != http.StatusOK {
		return "", false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ReasonEmptyBody, true
	}
	if len(body) < h.threshold && scriptShare(body) >= 25 {
		return ReasonScriptDensity, true
	}
	for _, m := range h.markers {
		if bytes.Contains(body, m) {
			return ReasonSPAMarker, true
		}
	}
	return "", false
}

// scriptShare is the percentage of body bytes inside <script> elements,
// tags included. An unterminated script runs to the end of the body.
func scriptShare(body []byte) int {
	lower := bytes.ToLower(body)
	var covered, pos int
	for pos < len(lower) {
		i := bytes.Index(lower[pos:], []byte("<script"))
		if i < 0 {
			break
		}
		start := pos + i
		end := len(lower)
		if gt := bytes.IndexByte(lower[start:], '>'); gt >= 0 {
			content := start + gt + 1
			if j := bytes.Index(lower[content:], []byte("</script>")); j >= 0 {
				end = content + j + len("</script>")
			}
		}
		covered += end - start
		pos = end
	}
	if len(lower) == 0 {
		return 0
	}
	return covered * 100 / len(lower)
}
