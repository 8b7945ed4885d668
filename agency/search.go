package agency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSearchUnavailable signals the agency catalog could not be reached. The
// caller owns any retry policy.
var ErrSearchUnavailable = errors.New("agency: search unavailable")

// Catalog is the read path the search engine depends on. The pgx repository
// implements it; tests supply an in-memory catalog.
type Catalog interface {
	ListAll(ctx context.Context) ([]Agency, error)
}

// SearchResult is one page of ranked matches. Total counts the full matching
// set so callers can compute page counts.
type SearchResult struct {
	Agencies []Agency
	Total    int
}

// SearchService executes paginated, ranked, multi-criteria search over the
// agency catalog. It holds no mutable state and is safe for concurrent use.
type SearchService struct {
	catalog Catalog
}

func NewSearchService(catalog Catalog) *SearchService {
	return &SearchService{catalog: catalog}
}

// Search applies every populated filter field conjunctively, ranks the full
// matching set, and returns the requested page. Identical filter and catalog
// state always produce identical ordering.
func (s *SearchService) Search(ctx context.Context, f CanonicalFilter) (SearchResult, error) {
	all, err := s.catalog.ListAll(ctx)
	if err != nil {
		return SearchResult{}, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}

	matched := make([]Agency, 0, len(all))
	for _, a := range all {
		if Matches(f, a) {
			matched = append(matched, a)
		}
	}

	Rank(matched, f.HomeCounty)

	total := len(matched)
	start := (f.Page - 1) * f.PageSize
	if start >= total {
		return SearchResult{Agencies: []Agency{}, Total: total}, nil
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}

	return SearchResult{Agencies: matched[start:end], Total: total}, nil
}

// Matches reports whether the agency satisfies every populated constraint in
// the filter.
func Matches(f CanonicalFilter, a Agency) bool {
	if f.County != "" && !strings.EqualFold(a.County, f.County) {
		return false
	}
	if f.CareType != "" && !a.Offers(f.CareType) {
		return false
	}
	if f.PayerType != "" && !a.Accepts(f.PayerType) {
		return false
	}
	if f.Language != "" && !a.Speaks(f.Language) {
		return false
	}
	if f.VerifiedOnly && !a.Verified {
		return false
	}
	if f.Query != "" {
		name := strings.ToLower(a.Name)
		city := strings.ToLower(a.City)
		if !strings.Contains(name, f.Query) && !strings.Contains(city, f.Query) {
			return false
		}
	}
	return true
}

// Rank sorts agencies in place: the requester's home county first, verified
// before unverified, then name ascending with ID as the final tiebreak. The
// sort is deterministic so repeated searches page consistently.
func Rank(agencies []Agency, homeCounty string) {
	sort.SliceStable(agencies, func(i, j int) bool {
		a, b := agencies[i], agencies[j]

		if homeCounty != "" {
			aHome := strings.EqualFold(a.County, homeCounty)
			bHome := strings.EqualFold(b.County, homeCounty)
			if aHome != bHome {
				return aHome
			}
		}
		if a.Verified != b.Verified {
			return a.Verified
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
