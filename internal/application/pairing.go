package application

import (
	"context"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// PairSelector draws two distinct models uniformly at random from a pool.
type PairSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPairSelector creates a selector. A nil rng uses a randomly seeded source.
func NewPairSelector(rng *rand.Rand) *PairSelector {
	if rng == nil {
		//nolint:gosec // G404: pairing needs uniformity, not unpredictability.
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &PairSelector{rng: rng}
}

// Select returns two different models from pool. Duplicate entries do not
// bias the draw; a pool with fewer than two distinct models fails.
func (s *PairSelector) Select(pool []string) (string, string, error) {
	distinct := dedupe(pool)
	if len(distinct) < 2 {
		return "", "", domain.ErrPoolTooSmall
	}

	s.mu.Lock()
	i := s.rng.IntN(len(distinct))
	j := s.rng.IntN(len(distinct) - 1)
	s.mu.Unlock()

	if j >= i {
		j++
	}
	return distinct[i], distinct[j], nil
}

func dedupe(pool []string) []string {
	seen := make(map[string]struct{}, len(pool))
	out := make([]string, 0, len(pool))
	for _, m := range pool {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Response is one side of a fetched pair: either content or the error that
// prevented it.
type Response struct {
	Model   string
	Content string
	Err     error
}

// OK reports whether the side produced usable content.
func (r Response) OK() bool { return r.Err == nil && r.Content != "" }

// PairResult holds both sides of a prompt episode.
type PairResult struct {
	A Response
	B Response
}

// Votable reports whether both sides succeeded with non-empty content.
func (p PairResult) Votable() bool { return p.A.OK() && p.B.OK() }

// FetchPair asks both models concurrently. One side failing never cancels
// the other; each error is recorded on its own side.
func FetchPair(ctx context.Context, gw ports.ModelGateway, modelA, modelB, prompt string, logger *zap.Logger) PairResult {
	if logger == nil {
		logger = zap.NewNop()
	}

	res := PairResult{A: Response{Model: modelA}, B: Response{Model: modelB}}
	var g errgroup.Group
	for _, side := range []*Response{&res.A, &res.B} {
		g.Go(func() error {
			content, err := gw.Fetch(ctx, side.Model, prompt)
			side.Content, side.Err = content, err
			if err != nil {
				logger.Warn("model fetch failed", zap.String("model", side.Model), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}
