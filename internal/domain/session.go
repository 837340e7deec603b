package domain

import (
	"time"
)

// SignalProfile holds the weighted per-phase signal strengths extracted
// from one turn, each in [0,1].
type SignalProfile struct {
	Strength   [NumPhases]float64 `json:"strength"`
	Milestones []string           `json:"milestones,omitempty"`
}

// TurnInput is one learner input before ingestion.
type TurnInput struct {
	Text          string    `json:"text"`
	ImageEvidence bool      `json:"image_evidence"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
}

// Turn is one ingested learner input. Immutable once appended to a session.
type Turn struct {
	Index         int           `json:"index"`
	Text          string        `json:"text"`
	ImageEvidence bool          `json:"image_evidence"`
	Signals       SignalProfile `json:"signals"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Session is one learner interaction run. It is mutated only under the
// session manager's per-session lock.
type Session struct {
	ID         string     `json:"session_id"`
	LearnerID  string     `json:"learner_id"`
	MentorType MentorType `json:"mentor_type"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Turns []Turn `json:"turns"`

	// CurrentPhase is the adjustable pointer; MaxPhaseReached is monotonic.
	// Completion stickiness is derived from the per-phase Completed flags,
	// never from history scans.
	CurrentPhase    PhaseID               `json:"current_phase"`
	MaxPhaseReached PhaseID               `json:"max_phase_reached"`
	States          [NumPhases]PhaseState `json:"states"`

	// LastRegressionTurn is the turn index of the most recent regression,
	// -1 when none has occurred.
	LastRegressionTurn int `json:"last_regression_turn"`
}

// NewSession creates a session starting in Ideation with zero confidence.
func NewSession(id, learnerID string, mentorType MentorType, now time.Time) *Session {
	return &Session{
		ID:                 id,
		LearnerID:          learnerID,
		MentorType:         mentorType,
		StartedAt:          now,
		UpdatedAt:          now,
		CurrentPhase:       PhaseIdeation,
		MaxPhaseReached:    PhaseIdeation,
		LastRegressionTurn: -1,
	}
}

// Complete reports whether the session has moved past the terminal phase.
func (s *Session) Complete() bool {
	return s.CurrentPhase >= NumPhases
}

// CurrentState returns the state record for the current phase, or nil when
// the session is complete.
func (s *Session) CurrentState() *PhaseState {
	if s.Complete() {
		return nil
	}
	return &s.States[s.CurrentPhase]
}

// TurnCount returns the number of ingested turns.
func (s *Session) TurnCount() int {
	return len(s.Turns)
}

// RecentTurns returns the last n turns in order.
func (s *Session) RecentTurns(n int) []Turn {
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}
