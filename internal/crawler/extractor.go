package crawler

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/user/iap-service/internal/browser"
	"github.com/user/iap-service/internal/domain"
	"github.com/user/iap-service/internal/locale"
)

const (
	sectionSelector = ".information-list__item"
	rowSelector     = "li.list-with-numbers__item"
)

// Field selectors in preference order; the first non-empty text wins.
var (
	titleStrategies = []string{
		".list-with-numbers__item__title .truncate-single-line",
		".list-with-numbers__item__title",
	}
	priceStrategies = []string{
		".list-with-numbers__item__price.medium-show-tablecell",
		".list-with-numbers__item__price",
	}
)

// Some storefront builds leak a "== $<digits>" fragment ahead of the title.
var titleArtifact = regexp.MustCompile(`^==\s*\$\d+\s*`)

// Extract reads the rendered page from s and returns the rows of the section
// headed by any of labels.
func Extract(ctx context.Context, s browser.Session, labels []string, logger *zap.Logger) ([]domain.ListingItem, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return ExtractListings(html, labels, logger)
}

// ExtractListings parses html and returns the listing rows under the first
// heading equivalent to one of labels, in document order. A page without
// such a heading yields an empty, non-nil slice.
func ExtractListings(html string, labels []string, logger *zap.Logger) ([]domain.ListingItem, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	items := []domain.ListingItem{}
	section := findSection(doc, labels)
	if section == nil {
		return items, nil
	}

	section.Find(rowSelector).Each(func(i int, row *goquery.Selection) {
		if item, ok := extractRow(i, row, logger); ok {
			items = append(items, item)
		}
	})
	return items, nil
}

func findSection(doc *goquery.Document, labels []string) *goquery.Selection {
	var section *goquery.Selection
	doc.Find(MarkerSelector).EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		heading := dt.Text()
		for _, label := range labels {
			if !locale.Equivalent(heading, label) {
				continue
			}
			section = dt.Closest(sectionSelector)
			if section.Length() == 0 {
				section = dt.Parent()
			}
			return false
		}
		return true
	})
	return section
}

func extractRow(idx int, row *goquery.Selection, logger *zap.Logger) (item domain.ListingItem, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("skipping listing row", zap.Int("row", idx), zap.Any("panic", r))
			item, ok = domain.ListingItem{}, false
		}
	}()

	name := titleArtifact.ReplaceAllString(firstText(row, titleStrategies), "")
	price := firstText(row, priceStrategies)
	if locale.Normalize(name) == "" || locale.Normalize(price) == "" {
		logger.Debug("dropping incomplete listing row", zap.Int("row", idx),
			zap.String("name", name), zap.String("price", price))
		return domain.ListingItem{}, false
	}
	return domain.ListingItem{Name: name, Price: price}, true
}

func firstText(row *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := locale.Tidy(row.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
