package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ProductID is the storefront's opaque product identifier. Clients send it
// either as a JSON string or a JSON number.
type ProductID string

func (p *ProductID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ProductID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("product id must be a string or a number: %w", err)
	}
	*p = ProductID(n.String())
	return nil
}

// ExtractionRequest identifies one locale fetch.
type ExtractionRequest struct {
	ProductID ProductID
	Locale    string
	Slug      string
}

// URL builds the storefront page address for the request. The slug segment
// is omitted when empty.
func (r ExtractionRequest) URL(host string) string {
	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(host)
	b.WriteString("/")
	b.WriteString(url.PathEscape(r.Locale))
	b.WriteString("/app/")
	if slug := strings.Trim(r.Slug, "/ "); slug != "" {
		b.WriteString(url.PathEscape(slug))
		b.WriteString("/")
	}
	b.WriteString("id")
	b.WriteString(url.PathEscape(string(r.ProductID)))
	return b.String()
}

// ListingItem is one row of the in-app purchase section.
type ListingItem struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

// LocaleResult holds either the items of a locale or the reason it failed.
// A nil Err with no items means the section was absent on the page.
type LocaleResult struct {
	Items []ListingItem
	Err   *FetchError
}

// Failed builds a failure result.
func Failed(err *FetchError) LocaleResult {
	return LocaleResult{Err: err}
}

// Succeeded builds a success result. A nil slice is stored as empty.
func Succeeded(items []ListingItem) LocaleResult {
	if items == nil {
		items = []ListingItem{}
	}
	return LocaleResult{Items: items}
}

func (r LocaleResult) OK() bool { return r.Err == nil }

// MarshalJSON renders successes as an item array and failures as
// {"error": "..."}.
func (r LocaleResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Err.Error()})
	}
	items := r.Items
	if items == nil {
		items = []ListingItem{}
	}
	return json.Marshal(items)
}

// AggregateResult maps locale to result, keeping request order.
type AggregateResult struct {
	order   []string
	results map[string]LocaleResult
}

func NewAggregateResult(capacity int) *AggregateResult {
	return &AggregateResult{
		order:   make([]string, 0, capacity),
		results: make(map[string]LocaleResult, capacity),
	}
}

// Set stores res under locale. A locale keeps its first position when set
// again.
func (a *AggregateResult) Set(locale string, res LocaleResult) {
	if _, ok := a.results[locale]; !ok {
		a.order = append(a.order, locale)
	}
	a.results[locale] = res
}

func (a *AggregateResult) Get(locale string) (LocaleResult, bool) {
	res, ok := a.results[locale]
	return res, ok
}

// Locales returns the keys in insertion order.
func (a *AggregateResult) Locales() []string {
	return append([]string(nil), a.order...)
}

func (a *AggregateResult) Len() int { return len(a.order) }

// MarshalJSON writes an object whose keys follow insertion order.
func (a *AggregateResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, locale := range a.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(locale)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(a.results[locale])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Snapshot is a persisted successful locale extraction.
type Snapshot struct {
	RunID      string        `json:"run_id"`
	ProductID  string        `json:"product_id"`
	Locale     string        `json:"locale"`
	URL        string        `json:"url"`
	Items      []ListingItem `json:"items"`
	CapturedAt time.Time     `json:"captured_at"`
}
