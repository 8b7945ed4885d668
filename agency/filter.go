package agency

import (
	"fmt"
	"strings"
)

const (
	maxQueryLength  = 120
	maxPageSize     = 50
	defaultPageSize = 20
)

// FilterError reports a raw search field that failed validation.
type FilterError struct {
	Field string
	Value string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("agency: invalid value %q for filter field %q", e.Value, e.Field)
}

// RawFilter carries search criteria exactly as supplied by the caller. Empty
// optional fields mean "no constraint".
type RawFilter struct {
	County       string
	CareType     string
	PayerType    string
	Language     string
	VerifiedOnly bool
	Query        string
	Page         int
	PageSize     int
}

// CanonicalFilter is the validated, normalized form consumed by the search
// engine. HomeCounty is the requesting patient's county and influences
// ranking only, never matching.
type CanonicalFilter struct {
	County       string
	CareType     CareType
	PayerType    PayerType
	Language     string
	VerifiedOnly bool
	Query        string
	Page         int
	PageSize     int
	HomeCounty   string
}

// BuildFilter normalizes raw criteria into a CanonicalFilter. Unknown enum
// values are rejected with a *FilterError naming the offending field rather
// than silently dropped.
func BuildFilter(raw RawFilter) (CanonicalFilter, error) {
	f := CanonicalFilter{
		County:       strings.TrimSpace(raw.County),
		VerifiedOnly: raw.VerifiedOnly,
		Page:         raw.Page,
		PageSize:     raw.PageSize,
	}

	if ct := strings.TrimSpace(raw.CareType); ct != "" {
		switch CareType(ct) {
		case CareHomeHealth, CareHomeCare, CareBoth:
			f.CareType = CareType(ct)
		default:
			return CanonicalFilter{}, &FilterError{Field: "care_type", Value: ct}
		}
	}

	if pt := strings.TrimSpace(raw.PayerType); pt != "" {
		switch PayerType(pt) {
		case PayerMedicaid, PayerMedicare, PayerPrivatePay, PayerLTCInsurance, PayerVABenefits:
			f.PayerType = PayerType(pt)
		default:
			return CanonicalFilter{}, &FilterError{Field: "payer_type", Value: pt}
		}
	}

	if lang := strings.TrimSpace(raw.Language); lang != "" {
		norm, ok := normalizeLanguage(lang)
		if !ok {
			return CanonicalFilter{}, &FilterError{Field: "language", Value: lang}
		}
		f.Language = norm
	}

	query := strings.TrimSpace(raw.Query)
	if len(query) > maxQueryLength {
		return CanonicalFilter{}, &FilterError{Field: "query", Value: query[:maxQueryLength] + "..."}
	}
	f.Query = strings.ToLower(query)

	if f.Page < 0 {
		return CanonicalFilter{}, &FilterError{Field: "page", Value: fmt.Sprintf("%d", raw.Page)}
	}
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize < 0 || f.PageSize > maxPageSize {
		return CanonicalFilter{}, &FilterError{Field: "page_size", Value: fmt.Sprintf("%d", raw.PageSize)}
	}
	if f.PageSize == 0 {
		f.PageSize = defaultPageSize
	}

	return f, nil
}

// WithHomeCounty returns a copy of the filter carrying the requesting
// patient's county for "suggested for you" ranking.
func (f CanonicalFilter) WithHomeCounty(county string) CanonicalFilter {
	f.HomeCounty = strings.TrimSpace(county)
	return f
}

// normalizeLanguage accepts ISO-639-style codes: 2-3 lowercase letters with an
// optional region subtag ("ne", "es", "zh-CN").
func normalizeLanguage(lang string) (string, bool) {
	parts := strings.SplitN(lang, "-", 2)
	base := strings.ToLower(parts[0])
	if len(base) < 2 || len(base) > 3 || !isAlpha(base) {
		return "", false
	}
	if len(parts) == 1 {
		return base, true
	}
	region := strings.ToUpper(parts[1])
	if len(region) != 2 || !isAlpha(strings.ToLower(region)) {
		return "", false
	}
	return base + "-" + region, true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
