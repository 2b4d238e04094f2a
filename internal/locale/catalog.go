package locale

import (
	"sort"
	"strings"
)

// DefaultLabel is the heading assumed for storefronts missing from the catalog.
const DefaultLabel = "In-App Purchases"

const defaultAcceptLanguage = "en-US,en;q=0.9"

type entry struct {
	labels         []string
	acceptLanguage string
}

// Catalog maps a two-letter storefront code to the headings the in-app
// purchase section may carry there, and to the Accept-Language sent for it.
// It is built once and never mutated, so it is safe for concurrent reads.
type Catalog struct {
	entries map[string]entry
}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: map[string]entry{
		"us": {[]string{"In-App Purchases"}, "en-US,en;q=0.9"},
		"gb": {[]string{"In-App Purchases"}, "en-GB,en;q=0.9"},
		"au": {[]string{"In-App Purchases"}, "en-AU,en;q=0.9"},
		"ca": {[]string{"In-App Purchases"}, "en-CA,en;q=0.9"},
		"cn": {[]string{"App 内购买项目", "App内购买"}, "zh-CN,zh;q=0.9"},
		"tw": {[]string{"App 內購買項目", "App內購買"}, "zh-TW,zh;q=0.9"},
		"hk": {[]string{"App 內購買項目", "App內購買"}, "zh-HK,zh;q=0.9"},
		"jp": {[]string{"アプリ内課金有り", "App内課金"}, "ja-JP,ja;q=0.9"},
		"kr": {[]string{"앱 내 구입"}, "ko-KR,ko;q=0.9"},
		"fr": {[]string{"Achats intégrés"}, "fr-FR,fr;q=0.9"},
		// Both the non-breaking hyphen (U+2011) and the ASCII hyphen render.
		"de": {[]string{"In\u2011App\u2011Käufe", "In-App-Käufe"}, "de-DE,de;q=0.9"},
		"it": {[]string{"Acquisti In-App"}, "it-IT,it;q=0.9"},
		"es": {[]string{"Compras dentro de la app", "Compras integradas"}, "es-ES,es;q=0.9"},
		"ru": {[]string{"Встроенные покупки"}, "ru-RU,ru;q=0.9"},
		"br": {[]string{"Compras dentro do app", "Compras no app"}, "pt-BR,pt;q=0.9"},
		"nl": {[]string{"In-app-aankopen"}, "nl-NL,nl;q=0.9"},
	}}
}

// LabelsFor returns the candidate headings for locale, in preference order.
// Lookup is case-insensitive; unknown locales get []string{DefaultLabel}.
// The returned slice is a copy.
func (c *Catalog) LabelsFor(locale string) []string {
	e, ok := c.entries[strings.ToLower(locale)]
	if !ok {
		return []string{DefaultLabel}
	}
	return append([]string(nil), e.labels...)
}

// AcceptLanguage returns the Accept-Language header value for locale.
func (c *Catalog) AcceptLanguage(locale string) string {
	if e, ok := c.entries[strings.ToLower(locale)]; ok {
		return e.acceptLanguage
	}
	return defaultAcceptLanguage
}

// Locales lists the catalogued locales in sorted order.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
