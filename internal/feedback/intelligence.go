package feedback

import (
	"fmt"
	"math"
	"strings"
	"time"

	"hydropulse/internal/model"
)

const (
	// Window is how far back vetoes count.
	Window = 7 * 24 * time.Hour
	// FreeVetoes are tolerated before the system starts backing off.
	FreeVetoes = 3

	multiplierStep = 0.15
	penaltyStep    = 0.1
	maxPenalty     = 0.5
)

// Matches reports whether a veto record concerns actionType. The structured
// ActionType decides when present; legacy records without it fall back to a
// case-insensitive substring search of reason and context, where
// underscores and spaces are interchangeable.
func Matches(r model.VetoRecord, actionType string) bool {
	if actionType == "" {
		return false
	}
	if r.ActionType != "" {
		return strings.EqualFold(r.ActionType, actionType)
	}
	needle := normalizeText(actionType)
	return strings.Contains(normalizeText(r.Reason), needle) ||
		strings.Contains(normalizeText(r.Context), needle)
}

func normalizeText(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", " ")
}

// CountVetoes counts matches within the trailing Window ending at now.
func CountVetoes(actionType string, history []model.VetoRecord, now time.Time) int {
	since := now.Add(-Window)
	n := 0
	for _, r := range history {
		if r.Timestamp.Before(since) || r.Timestamp.After(now) {
			continue
		}
		if Matches(r, actionType) {
			n++
		}
	}
	return n
}

// GetLearningModifiers makes the system more cautious the more operators
// override actionType, with the confidence penalty capped.
func GetLearningModifiers(actionType string, history []model.VetoRecord, now time.Time) model.LearningModifiers {
	return ModifiersForCount(CountVetoes(actionType, history, now), actionType)
}

func ModifiersForCount(vetoCount int, actionType string) model.LearningModifiers {
	if vetoCount <= FreeVetoes {
		return model.NeutralModifiers()
	}
	excess := float64(vetoCount - FreeVetoes)
	return model.LearningModifiers{
		ThresholdMultiplier: round(1 + excess*multiplierStep),
		ConfidencePenalty:   round(math.Min(maxPenalty, penaltyStep*excess)),
		Reason:              fmt.Sprintf("%d operator vetoes of %s in the last 7 days", vetoCount, actionType),
	}
}

// round trims float noise so 1+1*0.15 reads as 1.15.
func round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
