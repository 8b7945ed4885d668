package switchreq

import (
	"context"

	"careswitch/auth"
)

// Stats summarizes a set of switch requests for dashboard display. Pending
// counts the statuses waiting on agency action.
type Stats struct {
	Total    int
	Pending  int
	ByStatus map[Status]int
}

// Aggregate computes portal counts over a snapshot. It is a pure function and
// stable under concatenation: aggregating two disjoint sets and summing the
// parts equals aggregating their union.
func Aggregate(requests []Request) Stats {
	stats := Stats{ByStatus: make(map[Status]int)}
	for _, req := range requests {
		stats.Total++
		stats.ByStatus[req.Status]++
		if req.Status == StatusSubmitted || req.Status == StatusUnderReview {
			stats.Pending++
		}
	}
	return stats
}

// Merge combines two aggregates computed over disjoint snapshots.
func Merge(a, b Stats) Stats {
	out := Stats{
		Total:    a.Total + b.Total,
		Pending:  a.Pending + b.Pending,
		ByStatus: make(map[Status]int, len(a.ByStatus)+len(b.ByStatus)),
	}
	for status, n := range a.ByStatus {
		out.ByStatus[status] += n
	}
	for status, n := range b.ByStatus {
		out.ByStatus[status] += n
	}
	return out
}

// AgencyStats aggregates every request targeting the agency. Counts derive
// from the persisted state, not a duplicated tally.
func (s *Service) AgencyStats(ctx context.Context, actor auth.Actor, agencyID string) (Stats, error) {
	if err := s.checkAgencyAccess(actor, agencyID); err != nil {
		return Stats{}, err
	}

	var (
		all  []Request
		page = 1
	)
	for {
		batch, total, err := s.repo.ListByAgency(ctx, AgencyFilters{
			AgencyID: agencyID,
			Page:     page,
			PageSize: 100,
		})
		if err != nil {
			return Stats{}, err
		}
		all = append(all, batch...)
		if len(all) >= total || len(batch) == 0 {
			break
		}
		page++
	}

	return Aggregate(all), nil
}
