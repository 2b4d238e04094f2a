package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var localePattern = regexp.MustCompile(`^[a-zA-Z]{2}$`)

// FetchRequest is the API payload. The appId, countries and pathSlug
// spellings are accepted alongside the primary field names.
type FetchRequest struct {
	ProductID ProductID `json:"productId"`
	AppID     ProductID `json:"appId"`
	Locales   []string  `json:"locales"`
	Countries []string  `json:"countries"`
	Slug      string    `json:"slug"`
	PathSlug  string    `json:"pathSlug"`
}

func (r FetchRequest) Product() ProductID {
	if r.ProductID != "" {
		return r.ProductID
	}
	return r.AppID
}

func (r FetchRequest) LocaleCodes() []string {
	if len(r.Locales) > 0 {
		return r.Locales
	}
	return r.Countries
}

func (r FetchRequest) PathSegment() string {
	if r.Slug != "" {
		return r.Slug
	}
	return r.PathSlug
}

// Validate checks required fields and reports every malformed locale code
// at once.
func (r FetchRequest) Validate() error {
	if r.Product() == "" {
		return &ValidationError{Message: "productId is required"}
	}
	codes := r.LocaleCodes()
	if len(codes) == 0 {
		return &ValidationError{Message: "locales must be a non-empty list"}
	}
	var invalid []string
	for _, c := range codes {
		if !localePattern.MatchString(strings.TrimSpace(c)) {
			invalid = append(invalid, c)
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{Message: "invalid locale codes", Invalid: invalid}
	}
	return nil
}

// ValidateLimit is Validate plus a cap on distinct locale codes, compared
// case-insensitively. A non-positive limit disables the cap.
func (r FetchRequest) ValidateLimit(maxLocales int) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if maxLocales <= 0 {
		return nil
	}
	distinct := make(map[string]struct{})
	for _, c := range r.LocaleCodes() {
		distinct[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	if len(distinct) > maxLocales {
		return &ValidationError{Message: fmt.Sprintf("at most %d locales per request, got %d", maxLocales, len(distinct))}
	}
	return nil
}

// FetchResponse is the envelope returned by the extraction endpoint.
type FetchResponse struct {
	Success bool             `json:"success"`
	Data    *AggregateResult `json:"data,omitempty"`
	Error   string           `json:"error,omitempty"`
}
