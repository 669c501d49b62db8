package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// EpisodeState is where a session is in the prompt/response/vote cycle.
type EpisodeState int

// Episode states. A session starts in StateNoPrompt.
const (
	StateNoPrompt EpisodeState = iota
	StateAwaitingResponses
	StateResponsesReady
	StateVoted
)

// String returns the state name used in snapshots.
func (s EpisodeState) String() string {
	switch s {
	case StateAwaitingResponses:
		return "awaiting_responses"
	case StateResponsesReady:
		return "responses_ready"
	case StateVoted:
		return "voted"
	default:
		return "no_prompt"
	}
}

// Episode is one prompt's life within a session: the pair it was sent to,
// the responses and, eventually, the vote.
type Episode struct {
	Prompt  string
	ModelA  string
	ModelB  string
	State   EpisodeState
	Result  PairResult
	Outcome domain.Outcome
	VoteID  domain.VoteID
}

// Panel is one anonymized side of the episode as shown to the voter.
type Panel struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	// Model is only revealed once the episode has been voted on.
	Model string `json:"model,omitempty"`
}

// Snapshot is a read-only copy of a session for display.
type Snapshot struct {
	State      string         `json:"state"`
	Prompt     string         `json:"prompt,omitempty"`
	A          Panel          `json:"a"`
	B          Panel          `json:"b"`
	CanVote    bool           `json:"can_vote"`
	Outcome    domain.Outcome `json:"outcome,omitempty"`
	VoteID     domain.VoteID  `json:"vote_id,omitempty"`
	Generation uint64         `json:"generation"`
}

// ArbiterDeps are the collaborators every Arbiter shares.
type ArbiterDeps struct {
	Pool     []string
	Selector *PairSelector
	Guard    *InputGuard
	Gateway  ports.ModelGateway
	Votes    ports.VoteSubmitter
	Logger   *zap.Logger
}

// Arbiter owns one session's episode and enforces the vote gate: a vote is
// accepted only once both responses arrived with content, and at most once
// per episode.
type Arbiter struct {
	deps       ArbiterDeps
	voterToken string

	mu         sync.Mutex
	episode    Episode
	generation uint64
	cancel     context.CancelFunc
	voting     bool
}

// NewArbiter creates a session arbiter with an initial pair and no prompt.
func NewArbiter(deps ArbiterDeps, voterToken string) (*Arbiter, error) {
	if deps.Selector == nil {
		deps.Selector = NewPairSelector(nil)
	}
	if deps.Guard == nil {
		deps.Guard = NewInputGuard(0)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gateway == nil || deps.Votes == nil {
		return nil, errors.New("arbiter requires a gateway and a vote submitter")
	}

	a, b, err := deps.Selector.Select(deps.Pool)
	if err != nil {
		return nil, err
	}
	return &Arbiter{
		deps:       deps,
		voterToken: voterToken,
		episode:    Episode{ModelA: a, ModelB: b},
	}, nil
}

// Submit runs prompt through the guard and, for a new prompt, re-pairs and
// fetches both responses. Submitting the current prompt again is a no-op,
// including after a vote. Validation failures have no side effects.
func (a *Arbiter) Submit(ctx context.Context, prompt string) (Snapshot, error) {
	clean, err := a.deps.Guard.Check(prompt)
	if err != nil {
		return a.Snapshot(), err
	}

	a.mu.Lock()
	if a.episode.State != StateNoPrompt && a.episode.Prompt == clean {
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, nil
	}
	modelA, modelB, err := a.deps.Selector.Select(a.deps.Pool)
	if err != nil {
		a.mu.Unlock()
		return a.Snapshot(), err
	}
	gen, fetchCtx := a.startLocked(ctx, clean, modelA, modelB)
	a.mu.Unlock()

	return a.run(fetchCtx, gen, clean, modelA, modelB), nil
}

// Refresh re-pairs and discards the current episode's responses and vote.
// If a prompt was active it is regenerated with the new pair.
func (a *Arbiter) Refresh(ctx context.Context) (Snapshot, error) {
	a.mu.Lock()
	modelA, modelB, err := a.deps.Selector.Select(a.deps.Pool)
	if err != nil {
		a.mu.Unlock()
		return a.Snapshot(), err
	}
	prompt := a.episode.Prompt
	if prompt == "" {
		a.abandonLocked()
		a.episode = Episode{ModelA: modelA, ModelB: modelB}
		snap := a.snapshotLocked()
		a.mu.Unlock()
		return snap, nil
	}
	gen, fetchCtx := a.startLocked(ctx, prompt, modelA, modelB)
	a.mu.Unlock()

	return a.run(fetchCtx, gen, prompt, modelA, modelB), nil
}

// Vote records outcome for the current episode. It fails with
// domain.ErrVoteNotAllowed unless both responses succeeded and the episode
// has not been voted on. The episode moves to StateVoted only after the
// store acknowledged the vote.
func (a *Arbiter) Vote(ctx context.Context, outcome domain.Outcome) (domain.VoteID, error) {
	if !outcome.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidOutcome, outcome)
	}

	a.mu.Lock()
	if a.voting || a.episode.State != StateResponsesReady || !a.episode.Result.Votable() {
		a.mu.Unlock()
		return "", domain.ErrVoteNotAllowed
	}
	a.voting = true
	gen := a.generation
	req := domain.VoteRequest{
		Prompt:     a.episode.Prompt,
		ModelA:     a.episode.ModelA,
		ModelB:     a.episode.ModelB,
		Outcome:    outcome,
		VoterToken: a.voterToken,
	}
	a.mu.Unlock()

	id, err := a.deps.Votes.SubmitVote(ctx, req)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.voting = false
	if err != nil {
		return "", err
	}
	if gen == a.generation {
		a.episode.State = StateVoted
		a.episode.Outcome = outcome
		a.episode.VoteID = id
	}
	return id, nil
}

// Snapshot returns a copy of the session for display. Model identities are
// hidden until the episode is voted on.
func (a *Arbiter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Episode returns a copy of the current episode, identities included.
func (a *Arbiter) Episode() Episode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.episode
}

// Close cancels any in-flight fetch.
func (a *Arbiter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.abandonLocked()
}

// startLocked begins a new episode and returns its generation and a context
// that is cancelled when the episode is abandoned.
func (a *Arbiter) startLocked(ctx context.Context, prompt, modelA, modelB string) (uint64, context.Context) {
	a.abandonLocked()
	fetchCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.episode = Episode{Prompt: prompt, ModelA: modelA, ModelB: modelB, State: StateAwaitingResponses}
	return a.generation, fetchCtx
}

// abandonLocked invalidates the current episode's in-flight work.
func (a *Arbiter) abandonLocked() {
	a.generation++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// run fetches both responses and publishes them unless the episode was
// superseded in the meantime.
func (a *Arbiter) run(ctx context.Context, gen uint64, prompt, modelA, modelB string) Snapshot {
	result := FetchPair(ctx, a.deps.Gateway, modelA, modelB, prompt, a.deps.Logger)

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.generation {
		a.deps.Logger.Debug("discarding responses of abandoned episode", zap.Uint64("generation", gen))
		return a.snapshotLocked()
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.episode.Result = result
	a.episode.State = StateResponsesReady
	return a.snapshotLocked()
}

func (a *Arbiter) snapshotLocked() Snapshot {
	ep := a.episode
	snap := Snapshot{
		State:      ep.State.String(),
		Prompt:     ep.Prompt,
		CanVote:    ep.State == StateResponsesReady && ep.Result.Votable() && !a.voting,
		Outcome:    ep.Outcome,
		VoteID:     ep.VoteID,
		Generation: a.generation,
	}
	if ep.State == StateResponsesReady || ep.State == StateVoted {
		snap.A = panelFor(ep.Result.A)
		snap.B = panelFor(ep.Result.B)
	}
	if ep.State == StateVoted {
		snap.A.Model = ep.ModelA
		snap.B.Model = ep.ModelB
	}
	return snap
}

func panelFor(r Response) Panel {
	if r.Err != nil {
		return Panel{Error: userMessage(r.Err)}
	}
	if r.Content == "" {
		return Panel{Error: domain.ErrEmptyResponse.Error()}
	}
	return Panel{Content: r.Content}
}

// userMessage turns a gateway failure into a short inline message.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "This model is rate limited. Try again in a minute."
	case errors.Is(err, domain.ErrTimeout):
		return "The model did not respond in time."
	case errors.Is(err, domain.ErrAllEndpointsFailed):
		return "The model could not be reached."
	default:
		return "The model returned an error."
	}
}
