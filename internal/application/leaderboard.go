package application

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// DefaultLeaderboardLimit is used when a caller asks for n <= 0 entries.
const DefaultLeaderboardLimit = 10

// LeaderboardView ranks models from the current statistics.
type LeaderboardView struct {
	stats        ports.StatsStore
	defaultLimit int
	timeout      time.Duration
	sf           singleflight.Group
}

// NewLeaderboardView creates a view; a non-positive defaultLimit uses
// DefaultLeaderboardLimit and a non-positive timeout DefaultStoreTimeout.
func NewLeaderboardView(stats ports.StatsStore, defaultLimit int, timeout time.Duration) *LeaderboardView {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLeaderboardLimit
	}
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &LeaderboardView{stats: stats, defaultLimit: defaultLimit, timeout: timeout}
}

// Top returns up to n ranked entries. An empty store yields an empty,
// non-nil slice.
//
// The shared load runs detached from any single caller and is bounded by
// the view's timeout; a caller whose ctx ends stops waiting on its own.
func (v *LeaderboardView) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = v.defaultLimit
	}

	ch := v.sf.DoChan(strconv.Itoa(n), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()
		records, err := v.stats.All(lctx)
		if err != nil {
			return nil, fmt.Errorf("load stats: %w", err)
		}
		return domain.Rank(records, n), nil
	})

	var res any
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res = r.Val
	}

	// Callers sharing a flight get their own copy.
	shared := res.([]domain.LeaderboardEntry)
	return append(make([]domain.LeaderboardEntry, 0, len(shared)), shared...), nil
}
