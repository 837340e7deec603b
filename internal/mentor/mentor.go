// Package mentor resolves guidance decisions into a concrete dialogue
// style the UI/agent-selection layer presents. Dispatch runs through a
// single exhaustive switch per enum so a missing case fails here rather
// than falling through a string lookup.
package mentor

import (
	"fmt"

	"github.com/atelierlabs/atelier-mentor/internal/domain"
)

// DialogueStyle is the per-turn payload the dashboard renders a mentor
// response with.
type DialogueStyle struct {
	Mode domain.GuidanceMode `json:"mode"`

	// Opening is the framing instruction handed to the external dialogue
	// agent alongside the learner's turn.
	Opening string `json:"opening"`

	// QuestionRatio is the target share of mentor utterances phrased as
	// questions rather than statements.
	QuestionRatio float64 `json:"question_ratio"`

	// RevealHints allows the mentor to volunteer concrete next steps.
	RevealHints bool `json:"reveal_hints"`

	// Adaptive reports whether the style came from the tracker or from a
	// fixed baseline condition.
	Adaptive bool `json:"adaptive"`
}

// StyleFor maps a guidance mode to its dialogue style.
func StyleFor(mode domain.GuidanceMode) (DialogueStyle, error) {
	switch mode {
	case domain.GuidanceSocratic:
		return DialogueStyle{
			Mode:          mode,
			Opening:       "Probe the learner's reasoning with open questions; do not supply answers.",
			QuestionRatio: 0.8,
			RevealHints:   false,
			Adaptive:      true,
		}, nil
	case domain.GuidanceDirect:
		return DialogueStyle{
			Mode:          mode,
			Opening:       "Explain the next design move explicitly and model the reasoning behind it.",
			QuestionRatio: 0.2,
			RevealHints:   true,
			Adaptive:      true,
		}, nil
	case domain.GuidanceMinimal:
		return DialogueStyle{
			Mode:          mode,
			Opening:       "Stay out of the way; respond only to direct requests and flag risks briefly.",
			QuestionRatio: 0.4,
			RevealHints:   false,
			Adaptive:      true,
		}, nil
	default:
		return DialogueStyle{}, fmt.Errorf("unknown guidance mode %q", mode)
	}
}

// Plan resolves the dialogue style for a turn, honoring the session's
// mentoring condition: the socratic agent adapts to the tracker's
// recommendation while the baseline conditions pin a fixed style.
func Plan(mentorType domain.MentorType, decision *domain.GuidanceDecision) (DialogueStyle, error) {
	switch mentorType {
	case domain.MentorSocratic:
		return StyleFor(decision.Mode)
	case domain.MentorRawGPT:
		return DialogueStyle{
			Mode:          domain.GuidanceDirect,
			Opening:       "Answer the learner directly without tutoring scaffolds.",
			QuestionRatio: 0.1,
			RevealHints:   true,
			Adaptive:      false,
		}, nil
	case domain.MentorControl:
		return DialogueStyle{
			Mode:          domain.GuidanceMinimal,
			Opening:       "No mentor responses; acknowledge receipt only.",
			QuestionRatio: 0,
			RevealHints:   false,
			Adaptive:      false,
		}, nil
	default:
		return DialogueStyle{}, fmt.Errorf("unknown mentor type %q", mentorType)
	}
}
