package probe

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/zap"
)

const statsKey = "query_stats"

// RequestStat is how often a project was asked for.
type RequestStat struct {
	Slug  string `json:"slug"`
	Count int64  `json:"count"`
}

func (s *Service) recordRequest(ctx context.Context, slug string) {
	if _, err := s.stats.HashIncrBy(ctx, statsKey, slug, 1); err != nil {
		s.log.Warnw("Failed to record request", zap.String("slug", slug), zap.Error(err))
	}
}

// TopRequested returns the most requested projects, most requested first.
// A limit of zero or less returns all of them.
func (s *Service) TopRequested(ctx context.Context, limit int) ([]RequestStat, error) {
	raw, err := s.stats.HashGetAll(ctx, statsKey)
	if err != nil {
		return nil, fmt.Errorf("read request stats: %w", err)
	}

	stats := make([]RequestStat, 0, len(raw))
	for slug, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.log.Warnw("Ignoring malformed request counter", zap.String("slug", slug), zap.String("value", value))
			continue
		}
		stats = append(stats, RequestStat{Slug: slug, Count: n})
	}
	slices.SortFunc(stats, func(a, b RequestStat) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Slug, b.Slug)
	})

	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}
