// Package router classifies chat input into a persona and detects embedded
// dashboard commands. Both are pure functions of fixed keyword tables.
package router

import (
	"strings"

	"github.com/ashureev/marketing-hub/internal/domain"
)

// PersonaScore is the keyword hit count for one persona.
type PersonaScore struct {
	Persona domain.PersonaID `json:"persona"`
	Score   int              `json:"score"`
}

// ScorePersonas counts, for every persona in declaration order, how many of
// its keywords occur as substrings of the lowercased text.
func ScorePersonas(text string) []PersonaScore {
	lower := strings.ToLower(text)
	catalog := domain.Personas()
	scores := make([]PersonaScore, 0, len(catalog))
	for _, p := range catalog {
		n := 0
		for _, kw := range p.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				n++
			}
		}
		scores = append(scores, PersonaScore{Persona: p.ID, Score: n})
	}
	return scores
}

// ClassifyPersona returns the persona with the highest nonzero score.
// Ties go to the persona declared first; no hits at all yields strategic.
func ClassifyPersona(text string) domain.PersonaID {
	best := domain.PersonaStrategic
	bestScore := 0
	for _, s := range ScorePersonas(text) {
		if s.Score > bestScore {
			best = s.Persona
			bestScore = s.Score
		}
	}
	return best
}
