// Package domain contains core domain types for the Atelier mentor server.
package domain

// PhaseID identifies a design phase by its ordinal position.
type PhaseID int

// The ordered design phases a learner progresses through.
const (
	PhaseIdeation PhaseID = iota
	PhaseVisualization
	PhaseMaterialization

	// NumPhases is the number of real phases. A session whose CurrentPhase
	// equals NumPhases has completed the terminal phase.
	NumPhases
)

// String returns the lowercase phase name.
func (p PhaseID) String() string {
	switch p {
	case PhaseIdeation:
		return "ideation"
	case PhaseVisualization:
		return "visualization"
	case PhaseMaterialization:
		return "materialization"
	default:
		return "none"
	}
}

// Valid reports whether p names a real phase.
func (p PhaseID) Valid() bool {
	return p >= PhaseIdeation && p < NumPhases
}

// Phase describes one stage of the design process.
type Phase struct {
	ID         PhaseID
	Name       string
	Threshold  float64  // confidence required to complete the phase
	Milestones []string // milestone identifiers contributing to completion
}

// phases is the fixed catalog, indexed by PhaseID.
var phases = [NumPhases]Phase{
	{
		ID:         PhaseIdeation,
		Name:       "Ideation",
		Threshold:  0.70,
		Milestones: []string{"concept-statement", "site-analysis", "program-brief", "precedent-study"},
	},
	{
		ID:         PhaseVisualization,
		Name:       "Visualization",
		Threshold:  0.70,
		Milestones: []string{"first-sketch", "floor-plan", "section-drawing", "massing-model"},
	},
	{
		ID:         PhaseMaterialization,
		Name:       "Materialization",
		Threshold:  0.70,
		Milestones: []string{"material-palette", "structural-scheme", "detail-drawing"},
	},
}

// PhaseCatalog returns the fixed ordered set of phases.
func PhaseCatalog() []Phase {
	out := make([]Phase, NumPhases)
	copy(out, phases[:])
	return out
}

// PhaseByID returns the catalog entry for a phase.
func PhaseByID(id PhaseID) (Phase, bool) {
	if !id.Valid() {
		return Phase{}, false
	}
	return phases[id], true
}

// PhaseState is the per-session record for one phase.
type PhaseState struct {
	Confidence float64         `json:"confidence"`
	Milestones map[string]bool `json:"milestones,omitempty"`
	Completed  bool            `json:"completed"`
}

// MilestoneCount returns the number of achieved milestones.
func (s *PhaseState) MilestoneCount() int {
	n := 0
	for _, done := range s.Milestones {
		if done {
			n++
		}
	}
	return n
}

// Achieve marks a milestone as reached.
func (s *PhaseState) Achieve(id string) {
	if s.Milestones == nil {
		s.Milestones = make(map[string]bool)
	}
	s.Milestones[id] = true
}

// GuidanceMode is the dialogue style recommended for the learner's state.
type GuidanceMode string

const (
	GuidanceSocratic GuidanceMode = "socratic_questioning"
	GuidanceDirect   GuidanceMode = "direct_instruction"
	GuidanceMinimal  GuidanceMode = "minimal_scaffolding"
)

// Valid reports whether m is a known guidance mode.
func (m GuidanceMode) Valid() bool {
	switch m {
	case GuidanceSocratic, GuidanceDirect, GuidanceMinimal:
		return true
	}
	return false
}

// MentorType selects which mentoring condition a session runs under.
type MentorType string

const (
	MentorSocratic MentorType = "socratic_agent"
	MentorRawGPT   MentorType = "raw_gpt"
	MentorControl  MentorType = "control"
)

// Valid reports whether t is a known mentor type.
func (t MentorType) Valid() bool {
	switch t {
	case MentorSocratic, MentorRawGPT, MentorControl:
		return true
	}
	return false
}
