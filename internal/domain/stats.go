package domain

import (
	"cmp"
	"slices"
	"strings"
)

// ModelStatRecord holds the running counters for a single model. Records are
// derived from vote events and mutated only through StatDelta increments so
// that TotalBattles always equals Wins + Losses + Ties.
type ModelStatRecord struct {
	Model        string `json:"model" bson:"model"`
	Wins         int64  `json:"wins" bson:"wins"`
	Losses       int64  `json:"losses" bson:"losses"`
	Ties         int64  `json:"ties" bson:"ties"`
	TotalBattles int64  `json:"total_battles" bson:"total_battles"`
}

// WinRate is computed on read and is 0 for a model with no battles.
func (r ModelStatRecord) WinRate() float64 {
	if r.TotalBattles <= 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.TotalBattles)
}

// Consistent reports whether the record satisfies total == wins+losses+ties
// with no negative counter.
func (r ModelStatRecord) Consistent() bool {
	if r.Wins < 0 || r.Losses < 0 || r.Ties < 0 {
		return false
	}
	return r.TotalBattles == r.Wins+r.Losses+r.Ties
}

// Add applies a delta to a record in place.
func (r *ModelStatRecord) Add(d StatDelta) {
	r.Wins += d.Wins
	r.Losses += d.Losses
	r.Ties += d.Ties
	r.TotalBattles += d.Total()
}

// StatDelta is an increment for one model's counters. TotalBattles is not a
// field: it is always derived from the three buckets.
type StatDelta struct {
	Model  string
	Wins   int64
	Losses int64
	Ties   int64
}

// Total is the amount TotalBattles moves by when the delta is applied.
func (d StatDelta) Total() int64 { return d.Wins + d.Losses + d.Ties }

// DeltasFor returns the two per-model increments a vote event produces.
// TIE and BOTH_BAD intentionally land in the same ties bucket.
func DeltasFor(e VoteEvent) [2]StatDelta {
	a := StatDelta{Model: e.ModelA}
	b := StatDelta{Model: e.ModelB}
	switch e.Outcome {
	case OutcomeAWins:
		a.Wins, b.Losses = 1, 1
	case OutcomeBWins:
		a.Losses, b.Wins = 1, 1
	default:
		a.Ties, b.Ties = 1, 1
	}
	return [2]StatDelta{a, b}
}

// Tally recomputes every model's record from an event log. It is pure: the
// result depends only on the events and is sorted by model so repeated runs
// over the same log are identical. Invalid events are skipped and counted.
func Tally(events []VoteEvent) (records []ModelStatRecord, skipped int) {
	byModel := make(map[string]*ModelStatRecord)
	for _, ev := range events {
		if ev.Validate() != nil {
			skipped++
			continue
		}
		for _, d := range DeltasFor(ev) {
			rec, ok := byModel[d.Model]
			if !ok {
				rec = &ModelStatRecord{Model: d.Model}
				byModel[d.Model] = rec
			}
			rec.Add(d)
		}
	}

	records = make([]ModelStatRecord, 0, len(byModel))
	for _, rec := range byModel {
		records = append(records, *rec)
	}
	slices.SortFunc(records, func(x, y ModelStatRecord) int { return strings.Compare(x.Model, y.Model) })
	return records, skipped
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	Model        string  `json:"model"`
	WinRate      float64 `json:"win_rate"`
	TotalBattles int64   `json:"total_battles"`
	Wins         int64   `json:"wins"`
	Losses       int64   `json:"losses"`
	Ties         int64   `json:"ties"`
}

// Rank orders records by win rate descending, then total battles descending,
// then model name, drops records with an empty model key and keeps at most
// limit entries. A non-positive limit keeps everything.
func Rank(records []ModelStatRecord, limit int) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Model) == "" {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Model:        r.Model,
			WinRate:      r.WinRate(),
			TotalBattles: r.TotalBattles,
			Wins:         r.Wins,
			Losses:       r.Losses,
			Ties:         r.Ties,
		})
	}

	slices.SortStableFunc(entries, func(x, y LeaderboardEntry) int {
		if c := cmp.Compare(y.WinRate, x.WinRate); c != 0 {
			return c
		}
		if c := cmp.Compare(y.TotalBattles, x.TotalBattles); c != 0 {
			return c
		}
		return strings.Compare(x.Model, y.Model)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
