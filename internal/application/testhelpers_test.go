package application

import (
	"context"
	"sync"

	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// fakeGateway answers per model; models without a scripted error echo the
// prompt back. A non-nil gate blocks every call until it is closed.
type fakeGateway struct {
	mu     sync.Mutex
	errs   map[string]error
	calls  []string
	gate   chan struct{}
	answer func(model, prompt string) string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{errs: map[string]error{}}
}

func (g *fakeGateway) failModel(model string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[model] = err
}

func (g *fakeGateway) Fetch(ctx context.Context, model, prompt string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, model)
	err := g.errs[model]
	gate := g.gate
	answer := g.answer
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", &domain.GatewayError{Kind: domain.ErrTimeout, Model: model, Err: ctx.Err()}
		}
	}
	if err != nil {
		return "", err
	}
	if answer != nil {
		return answer(model, prompt), nil
	}
	return model + " says: " + prompt, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// failingVoteStore rejects every append.
type failingVoteStore struct {
	ports.VoteStore
	err error
}

func (s failingVoteStore) Append(context.Context, domain.VoteEvent) (domain.VoteID, error) {
	return "", s.err
}

// failingStatsStore rejects every increment but otherwise delegates.
type failingStatsStore struct {
	ports.StatsStore
	err error
}

func (s failingStatsStore) Increment(context.Context, ...domain.StatDelta) error { return s.err }

// cancelAfterAppendStore cancels the caller's context as soon as the
// append is acknowledged, like a client hanging up mid-request.
type cancelAfterAppendStore struct {
	ports.VoteStore
	cancel context.CancelFunc
}

func (s cancelAfterAppendStore) Append(ctx context.Context, ev domain.VoteEvent) (domain.VoteID, error) {
	id, err := s.VoteStore.Append(ctx, ev)
	s.cancel()
	return id, err
}

// afterScanStore runs hook once the log scan has finished.
type afterScanStore struct {
	ports.VoteStore
	hook func()
}

func (s afterScanStore) Scan(ctx context.Context, fn func(domain.VoteEvent) error) error {
	err := s.VoteStore.Scan(ctx, fn)
	if s.hook != nil {
		s.hook()
	}
	return err
}

// stalledVoteStore never answers until the caller's context ends.
type stalledVoteStore struct {
	ports.VoteStore
}

func (stalledVoteStore) Append(ctx context.Context, _ domain.VoteEvent) (domain.VoteID, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (stalledVoteStore) Count(ctx context.Context) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// blockingStatsStore holds All until release is closed and reports the
// context error All saw when it returned.
type blockingStatsStore struct {
	ports.StatsStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	ctxErr  error
}

func newBlockingStatsStore(inner ports.StatsStore) *blockingStatsStore {
	return &blockingStatsStore{StatsStore: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingStatsStore) All(ctx context.Context) ([]domain.ModelStatRecord, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	s.mu.Lock()
	s.ctxErr = ctx.Err()
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.StatsStore.All(ctx)
}

func (s *blockingStatsStore) seenErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctxErr
}
