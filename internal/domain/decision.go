package domain

import (
	"time"
)

// GuidanceDecision is the tracker's output for one turn. It is consumed
// immediately by the dashboard to pick the next dialogue style.
type GuidanceDecision struct {
	SessionID  string       `json:"session_id"`
	TurnIndex  int          `json:"turn_index"`
	Mode       GuidanceMode `json:"mode"`
	Phase      PhaseID      `json:"phase"`
	PhaseName  string       `json:"phase_name"`
	Confidence float64      `json:"confidence"`

	// PhaseAdvanced and PhaseRegressed report a pointer move this turn;
	// PreviousPhase is meaningful only when one of them is set.
	PhaseAdvanced   bool    `json:"phase_advanced"`
	PhaseRegressed  bool    `json:"phase_regressed"`
	PreviousPhase   PhaseID `json:"previous_phase"`
	SessionComplete bool    `json:"session_complete"`

	CreatedAt time.Time `json:"created_at"`
}
