package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/infrastructure/storage/memory"
	"github.com/ahrav/go-arena/internal/domain"
)

func TestLeaderboardView_Top(t *testing.T) {
	// Given records with ties on win rate and an empty key
	stats := memory.NewStatsStore()
	stats.Seed([]domain.ModelStatRecord{
		{Model: "", Wins: 50, TotalBattles: 50},
		{Model: "phi4", Wins: 1, Losses: 1, TotalBattles: 2},
		{Model: "mistral", Wins: 2, Losses: 2, TotalBattles: 4},
		{Model: "gemma3", Wins: 3, Losses: 1, TotalBattles: 4},
		{Model: "llava", Wins: 1, Losses: 1, TotalBattles: 2},
		{Model: "qwen", Ties: 1, TotalBattles: 1},
	}, 0)
	view := NewLeaderboardView(stats, 0, 0)

	// When reading the default view
	entries, err := view.Top(context.Background(), 0)

	// Then the order is win rate, battles, name and the empty key is gone
	require.NoError(t, err)
	models := make([]string, 0, len(entries))
	for i, e := range entries {
		models = append(models, e.Model)
		assert.Equal(t, i+1, e.Rank)
		assert.GreaterOrEqual(t, e.WinRate, 0.0)
		assert.LessOrEqual(t, e.WinRate, 1.0)
	}
	assert.Equal(t, []string{"gemma3", "mistral", "llava", "phi4", "qwen"}, models)

	// When asking for fewer entries
	top2, err := view.Top(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, top2, 2)
}

func TestLeaderboardView_EmptyStore(t *testing.T) {
	view := NewLeaderboardView(memory.NewStatsStore(), 10, 0)

	entries, err := view.Top(context.Background(), 5)

	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestLeaderboardView_ConcurrentCallersGetOwnCopies(t *testing.T) {
	stats := memory.NewStatsStore()
	stats.Seed([]domain.ModelStatRecord{
		{Model: "a", Wins: 1, TotalBattles: 1},
		{Model: "b", Losses: 1, TotalBattles: 1},
	}, 0)
	view := NewLeaderboardView(stats, 10, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := view.Top(context.Background(), 10)
			assert.NoError(t, err)
			if assert.Len(t, entries, 2) {
				entries[0].Model = "mutated"
			}
		}()
	}
	wg.Wait()

	entries, err := view.Top(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "a", entries[0].Model)
}

func TestLeaderboardView_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	// Given a slow stats load that two callers share
	inner := memory.NewStatsStore()
	inner.Seed([]domain.ModelStatRecord{{Model: "a", Wins: 1, TotalBattles: 1}}, 0)
	stats := newBlockingStatsStore(inner)
	view := NewLeaderboardView(stats, 10, time.Minute)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := view.Top(firstCtx, 10)
		firstErr <- err
	}()
	<-stats.entered

	type result struct {
		entries []domain.LeaderboardEntry
		err     error
	}
	second := make(chan result, 1)
	go func() {
		entries, err := view.Top(context.Background(), 10)
		second <- result{entries, err}
	}()

	// When the first caller gives up before the load finishes
	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(stats.release)

	// Then the other caller still gets the ranking
	got := <-second
	require.NoError(t, got.err)
	require.Len(t, got.entries, 1)
	assert.Equal(t, "a", got.entries[0].Model)
	assert.NoError(t, stats.seenErr())
}
