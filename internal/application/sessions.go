package application

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/ahrav/go-arena/internal/domain"
)

// ErrSessionNotFound indicates an unknown or expired session id.
var ErrSessionNotFound = errors.New("session not found")

type sessionEntry struct {
	arbiter  *Arbiter
	token    string
	lastSeen atomic.Int64
}

// SessionRegistry holds the live arbiters keyed by session id.
type SessionRegistry struct {
	deps     ArbiterDeps
	secret   []byte
	voters   *VoterLimiter
	sessions *xsync.Map[string, *sessionEntry]
	now      func() time.Time
}

// NewSessionRegistry creates a registry. secret keys voter token derivation;
// voters may be nil.
func NewSessionRegistry(deps ArbiterDeps, secret []byte, voters *VoterLimiter) *SessionRegistry {
	return &SessionRegistry{
		deps:     deps,
		secret:   secret,
		voters:   voters,
		sessions: xsync.NewMap[string, *sessionEntry](),
		now:      time.Now,
	}
}

// Create starts a session and returns its id. The stored voter token is
// derived from the id; the id itself never reaches the vote log.
func (r *SessionRegistry) Create() (string, *Arbiter, error) {
	id := uuid.NewString()
	token := domain.VoterToken(id, r.secret)

	arb, err := NewArbiter(r.deps, token)
	if err != nil {
		return "", nil, err
	}
	e := &sessionEntry{arbiter: arb, token: token}
	e.lastSeen.Store(r.now().UnixNano())
	r.sessions.Store(id, e)
	return id, arb, nil
}

// Get returns the session's arbiter and marks it as used.
func (r *SessionRegistry) Get(id string) (*Arbiter, error) {
	e, ok := r.sessions.Load(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen.Store(r.now().UnixNano())
	return e.arbiter, nil
}

// Delete ends a session, cancelling any in-flight fetch.
func (r *SessionRegistry) Delete(id string) bool {
	e, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return false
	}
	e.arbiter.Close()
	r.voters.Forget(e.token)
	return true
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int { return r.sessions.Size() }

// Sweep ends sessions idle for longer than maxIdle and returns how many
// were removed.
func (r *SessionRegistry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle).UnixNano()
	var stale []string
	r.sessions.Range(func(id string, e *sessionEntry) bool {
		if e.lastSeen.Load() < cutoff {
			stale = append(stale, id)
		}
		return true
	})
	removed := 0
	for _, id := range stale {
		if r.Delete(id) {
			removed++
		}
	}
	return removed
}
