package progression

import (
	"strings"
	"unicode"

	"github.com/atelierlabs/atelier-mentor/internal/domain"
)

// lexiconEntry maps a keyword to the phase it signals. A non-empty
// milestone is credited when the keyword appears while that phase is
// current.
type lexiconEntry struct {
	phase     domain.PhaseID
	weight    float64
	milestone string
}

// signalNormalizer is the keyword-weight sum at which a phase signal
// saturates to 1.0.
const signalNormalizer = 3.0

// Boosts applied to drawing-related phases when the external vision
// pipeline reports image evidence on a turn.
const (
	imageVisualizationBoost   = 0.35
	imageMaterializationBoost = 0.20
)

// lexicon is the keyword/category table driving signal extraction.
// Calibrated against pilot transcripts; weights are per-occurrence and a
// keyword counts once per turn.
var lexicon = map[string]lexiconEntry{
	// Ideation: concept formation, site and program reasoning.
	"concept":     {domain.PhaseIdeation, 1.0, "concept-statement"},
	"idea":        {domain.PhaseIdeation, 0.8, ""},
	"parti":       {domain.PhaseIdeation, 1.0, "concept-statement"},
	"metaphor":    {domain.PhaseIdeation, 0.8, ""},
	"inspiration": {domain.PhaseIdeation, 0.7, ""},
	"brainstorm":  {domain.PhaseIdeation, 0.7, ""},
	"site":        {domain.PhaseIdeation, 1.0, "site-analysis"},
	"context":     {domain.PhaseIdeation, 0.6, "site-analysis"},
	"program":     {domain.PhaseIdeation, 1.0, "program-brief"},
	"brief":       {domain.PhaseIdeation, 0.8, "program-brief"},
	"precedent":   {domain.PhaseIdeation, 1.0, "precedent-study"},
	"reference":   {domain.PhaseIdeation, 0.6, "precedent-study"},

	// Visualization: translating the concept into drawings and form.
	"sketch":      {domain.PhaseVisualization, 1.0, "first-sketch"},
	"drawing":     {domain.PhaseVisualization, 0.8, "first-sketch"},
	"plan":        {domain.PhaseVisualization, 1.0, "floor-plan"},
	"section":     {domain.PhaseVisualization, 1.0, "section-drawing"},
	"elevation":   {domain.PhaseVisualization, 0.8, ""},
	"massing":     {domain.PhaseVisualization, 1.0, "massing-model"},
	"volume":      {domain.PhaseVisualization, 0.7, "massing-model"},
	"perspective": {domain.PhaseVisualization, 0.7, ""},
	"axonometric": {domain.PhaseVisualization, 0.7, ""},
	"render":      {domain.PhaseVisualization, 0.7, ""},
	"spatial":     {domain.PhaseVisualization, 0.6, ""},

	// Materialization: structure, materials and construction detail.
	"material":     {domain.PhaseMaterialization, 1.0, "material-palette"},
	"concrete":     {domain.PhaseMaterialization, 0.9, "material-palette"},
	"timber":       {domain.PhaseMaterialization, 0.9, "material-palette"},
	"steel":        {domain.PhaseMaterialization, 0.9, "material-palette"},
	"brick":        {domain.PhaseMaterialization, 0.8, "material-palette"},
	"structure":    {domain.PhaseMaterialization, 1.0, "structural-scheme"},
	"structural":   {domain.PhaseMaterialization, 1.0, "structural-scheme"},
	"beam":         {domain.PhaseMaterialization, 0.7, "structural-scheme"},
	"column":       {domain.PhaseMaterialization, 0.7, "structural-scheme"},
	"detail":       {domain.PhaseMaterialization, 1.0, "detail-drawing"},
	"joint":        {domain.PhaseMaterialization, 0.8, "detail-drawing"},
	"facade":       {domain.PhaseMaterialization, 0.7, ""},
	"construction": {domain.PhaseMaterialization, 0.8, ""},
	"tectonic":     {domain.PhaseMaterialization, 0.8, ""},
}

// ExtractSignals derives the weighted per-phase signal profile from a
// turn's text and image-evidence flag. Pure function, no state.
func ExtractSignals(text string, imageEvidence bool) domain.SignalProfile {
	var sums [domain.NumPhases]float64
	var profile domain.SignalProfile
	seen := make(map[string]bool)

	for _, token := range tokenize(text) {
		key, entry, ok := lookup(token)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		sums[entry.phase] += entry.weight
		if entry.milestone != "" && !containsString(profile.Milestones, entry.milestone) {
			profile.Milestones = append(profile.Milestones, entry.milestone)
		}
	}

	for i := range sums {
		profile.Strength[i] = clamp01(sums[i] / signalNormalizer)
	}

	if imageEvidence {
		profile.Strength[domain.PhaseVisualization] = clamp01(
			profile.Strength[domain.PhaseVisualization] + imageVisualizationBoost)
		profile.Strength[domain.PhaseMaterialization] = clamp01(
			profile.Strength[domain.PhaseMaterialization] + imageMaterializationBoost)
	}

	return profile
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// lookup matches a token against the lexicon, tolerating simple plurals.
// The returned key is the canonical lexicon key so a keyword counts once
// per turn regardless of form.
func lookup(token string) (string, lexiconEntry, bool) {
	if entry, ok := lexicon[token]; ok {
		return token, entry, true
	}
	if trimmed, found := strings.CutSuffix(token, "s"); found {
		if entry, ok := lexicon[trimmed]; ok {
			return trimmed, entry, true
		}
	}
	return "", lexiconEntry{}, false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
