package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewVoteEvent checks the event invariants enforced at construction.
func TestNewVoteEvent(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		outcome Outcome
		wantErr error
	}{
		{name: "valid", a: "mistral", b: "phi4", outcome: OutcomeTie},
		{name: "same model", a: "mistral", b: "mistral", outcome: OutcomeAWins, wantErr: ErrSameModel},
		{name: "empty model", a: "", b: "phi4", outcome: OutcomeAWins, wantErr: ErrEmptyModel},
		{name: "blank model", a: "mistral", b: "  ", outcome: OutcomeAWins, wantErr: ErrEmptyModel},
		{name: "unknown outcome", a: "mistral", b: "phi4", outcome: "C", wantErr: ErrInvalidOutcome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := NewVoteEvent("hello", tt.a, tt.b, tt.outcome, "tok")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Fingerprint("hello"), ev.PromptFingerprint)
			assert.Empty(t, ev.ID, "ids are assigned by the store")
			assert.True(t, ev.Timestamp.IsZero(), "timestamps are assigned by the store")
		})
	}
}

// TestParseOutcome covers the accepted spellings.
func TestParseOutcome(t *testing.T) {
	cases := map[string]Outcome{
		"A": OutcomeAWins, "a": OutcomeAWins, "B": OutcomeBWins, "b_wins": OutcomeBWins,
		"Tie": OutcomeTie, "both_bad": OutcomeBothBad, "BothBad": OutcomeBothBad,
	}
	for in, want := range cases {
		got, err := ParseOutcome(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseOutcome("draw")
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

// TestFingerprint checks stability and the digest format.
func TestFingerprint(t *testing.T) {
	a := Fingerprint("Explain quantum computing")
	assert.Equal(t, a, Fingerprint("Explain quantum computing"))
	assert.NotEqual(t, a, Fingerprint("Explain quantum computing."))
	assert.True(t, strings.HasPrefix(a, FingerprintPrefix))
	assert.Len(t, a, len(FingerprintPrefix)+64)
}

// TestVoterToken ensures the raw session id is never what gets stored.
func TestVoterToken(t *testing.T) {
	tok := VoterToken("session-123", []byte("secret"))
	assert.NotContains(t, tok, "session-123")
	assert.Equal(t, tok, VoterToken("session-123", []byte("secret")))
	assert.NotEqual(t, tok, VoterToken("session-123", []byte("other")))
}
