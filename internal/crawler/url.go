package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrInvalidParameter marks a query parameter that cannot be encoded.
var ErrInvalidParameter = errors.New("invalid query parameter")

// BuildQuery encodes params as key=value pairs joined by '&'. Keys are
// emitted in sorted order so the same mapping always produces the same
// string. Keys or values that are not valid UTF-8 yield ErrInvalidParameter.
func BuildQuery(params map[string]string) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return "", fmt.Errorf("%w: %q", ErrInvalidParameter, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String(), nil
}

// Resolve fills the page template with the path arguments and appends the
// encoded query. When the parameters cannot be encoded the URL is still
// returned, without a query, alongside an error wrapping ErrInvalidParameter.
func (t Target) Resolve() (string, error) {
	base, err := t.base()
	if err != nil {
		return "", err
	}
	query, qErr := BuildQuery(t.Params)
	if qErr != nil {
		return base, qErr
	}
	if query == "" {
		return base, nil
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + query, nil
}

func (t Target) base() (string, error) {
	if strings.TrimSpace(t.Page.Template) == "" {
		return "", fmt.Errorf("page %q has no url template", t.Page.Key)
	}
	want := t.Page.Placeholders()
	if want != len(t.PathArgs) {
		return "", fmt.Errorf("page %q expects %d path args, got %d", t.Page.Key, want, len(t.PathArgs))
	}
	if want == 0 {
		return t.Page.Template, nil
	}
	args := make([]any, len(t.PathArgs))
	for i, a := range t.PathArgs {
		args[i] = url.PathEscape(a)
	}
	return fmt.Sprintf(t.Page.Template, args...), nil
}

// SiteOf extracts a lowercase host label from a URL, or "unknown".
func SiteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
