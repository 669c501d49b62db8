package ports

import (
	"context"

	"github.com/ahrav/go-arena/internal/domain"
)

// VoteSubmitter records a completed vote. The session layer depends on this
// rather than on the concrete service so it can be exercised in isolation.
type VoteSubmitter interface {
	// SubmitVote validates req, appends the event and updates statistics.
	// It returns the store-assigned id only after the append was acknowledged.
	SubmitVote(ctx context.Context, req domain.VoteRequest) (domain.VoteID, error)
}
