package agency

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildFilterDefaults(t *testing.T) {
	f, err := BuildFilter(RawFilter{})
	if err != nil {
		t.Fatalf("empty raw filter: %v", err)
	}
	if f.Page != 1 {
		t.Fatalf("expected default page 1, got %d", f.Page)
	}
	if f.PageSize != defaultPageSize {
		t.Fatalf("expected default page size %d, got %d", defaultPageSize, f.PageSize)
	}
	if f.County != "" || f.CareType != "" || f.PayerType != "" || f.Language != "" || f.Query != "" {
		t.Fatalf("expected no constraints, got %+v", f)
	}
}

func TestBuildFilterNormalizes(t *testing.T) {
	f, err := BuildFilter(RawFilter{
		County:    "  Kings ",
		CareType:  "home_health",
		PayerType: "medicaid",
		Language:  "zh-cn",
		Query:     "  Sunrise CARE  ",
		Page:      3,
		PageSize:  12,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if f.County != "Kings" {
		t.Fatalf("county not trimmed: %q", f.County)
	}
	if f.CareType != CareHomeHealth || f.PayerType != PayerMedicaid {
		t.Fatalf("enums not typed: %+v", f)
	}
	if f.Language != "zh-CN" {
		t.Fatalf("language not normalized: %q", f.Language)
	}
	if f.Query != "sunrise care" {
		t.Fatalf("query not lowercased/trimmed: %q", f.Query)
	}
	if f.Page != 3 || f.PageSize != 12 {
		t.Fatalf("paging lost: page=%d size=%d", f.Page, f.PageSize)
	}
}

func TestBuildFilterRejectsUnknownEnums(t *testing.T) {
	cases := []struct {
		name  string
		raw   RawFilter
		field string
	}{
		{"care type", RawFilter{CareType: "hospice"}, "care_type"},
		{"payer type", RawFilter{PayerType: "crypto"}, "payer_type"},
		{"language", RawFilter{Language: "123"}, "language"},
		{"language region", RawFilter{Language: "en-USA"}, "language"},
		{"negative page", RawFilter{Page: -1}, "page"},
		{"oversize page size", RawFilter{PageSize: maxPageSize + 1}, "page_size"},
		{"negative page size", RawFilter{PageSize: -5}, "page_size"},
		{"overlong query", RawFilter{Query: strings.Repeat("q", maxQueryLength+1)}, "query"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildFilter(tc.raw)
			var ferr *FilterError
			if !errors.As(err, &ferr) {
				t.Fatalf("expected *FilterError, got %v", err)
			}
			if ferr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, ferr.Field)
			}
		})
	}
}

func TestBuildFilterLanguageForms(t *testing.T) {
	cases := map[string]string{
		"ne":    "ne",
		"ES":    "es",
		"fil":   "fil",
		"zh-CN": "zh-CN",
		"pt-br": "pt-BR",
	}
	for in, want := range cases {
		f, err := BuildFilter(RawFilter{Language: in})
		if err != nil {
			t.Errorf("%q: %v", in, err)
			continue
		}
		if f.Language != want {
			t.Errorf("%q: expected %q, got %q", in, want, f.Language)
		}
	}
}

func TestWithHomeCounty(t *testing.T) {
	f, err := BuildFilter(RawFilter{County: "Queens"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ranked := f.WithHomeCounty(" Bronx ")
	if ranked.HomeCounty != "Bronx" {
		t.Fatalf("expected trimmed home county, got %q", ranked.HomeCounty)
	}
	if f.HomeCounty != "" {
		t.Fatal("WithHomeCounty mutated the receiver")
	}
}
