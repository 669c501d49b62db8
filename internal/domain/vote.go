// Package domain contains pure, dependency-free domain models and types
// for the arena: vote events, per-model statistics and the rules that
// derive one from the other.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is a voter's verdict on an anonymized pair of responses.
type Outcome string

// The closed set of outcomes a vote can carry.
const (
	OutcomeAWins   Outcome = "A"
	OutcomeBWins   Outcome = "B"
	OutcomeTie     Outcome = "TIE"
	OutcomeBothBad Outcome = "BOTH_BAD"
)

// Outcomes lists every valid outcome in display order.
var Outcomes = []Outcome{OutcomeAWins, OutcomeBWins, OutcomeTie, OutcomeBothBad}

// Valid reports whether o belongs to the closed outcome enumeration.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAWins, OutcomeBWins, OutcomeTie, OutcomeBothBad:
		return true
	default:
		return false
	}
}

// ParseOutcome maps user-facing spellings ("a", "Tie", "both_bad", "bothbad")
// onto the closed enumeration.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "A_WINS":
		return OutcomeAWins, nil
	case "B", "B_WINS":
		return OutcomeBWins, nil
	case "TIE":
		return OutcomeTie, nil
	case "BOTH_BAD", "BOTHBAD", "BOTH BAD":
		return OutcomeBothBad, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
}

// VoteID is the opaque identifier a VoteStore assigns on persistence.
type VoteID string

// VoteEvent is a single recorded preference between two model responses.
// Events are immutable once the store acknowledges them; ID and Timestamp
// are owned by the store and any caller-provided values are discarded.
type VoteEvent struct {
	ID                VoteID    `json:"id" bson:"-"`
	Timestamp         time.Time `json:"timestamp" bson:"timestamp"`
	Prompt            string    `json:"prompt" bson:"prompt"`
	PromptFingerprint string    `json:"prompt_fingerprint" bson:"prompt_fingerprint"`
	ModelA            string    `json:"model_a" bson:"model_a"`
	ModelB            string    `json:"model_b" bson:"model_b"`
	Outcome           Outcome   `json:"outcome" bson:"outcome"`
	VoterToken        string    `json:"voter_token" bson:"voter_token"`
}

// NewVoteEvent builds an event ready for VoteStore.Append, computing the
// prompt fingerprint. It enforces the event invariants.
func NewVoteEvent(prompt, modelA, modelB string, outcome Outcome, voterToken string) (VoteEvent, error) {
	ev := VoteEvent{
		Prompt:            prompt,
		PromptFingerprint: Fingerprint(prompt),
		ModelA:            modelA,
		ModelB:            modelB,
		Outcome:           outcome,
		VoterToken:        voterToken,
	}
	if err := ev.Validate(); err != nil {
		return VoteEvent{}, err
	}
	return ev, nil
}

// Validate checks the invariants every stored event must satisfy.
func (e VoteEvent) Validate() error {
	if strings.TrimSpace(e.ModelA) == "" || strings.TrimSpace(e.ModelB) == "" {
		return ErrEmptyModel
	}
	if e.ModelA == e.ModelB {
		return fmt.Errorf("%w: %s", ErrSameModel, e.ModelA)
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, e.Outcome)
	}
	return nil
}

// VoteRequest is what a caller submits to record a vote. It carries no
// identifier or timestamp; both are assigned on persistence.
type VoteRequest struct {
	Prompt     string  `json:"prompt"`
	ModelA     string  `json:"model_a"`
	ModelB     string  `json:"model_b"`
	Outcome    Outcome `json:"outcome"`
	VoterToken string  `json:"voter_token,omitempty"`
}
