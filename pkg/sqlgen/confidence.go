package sqlgen

import (
	"math"
	"strings"

	"github.com/ledgerchat/ledgerchat-engine/pkg/models"
	"github.com/ledgerchat/ledgerchat-engine/pkg/sqlutil"
)

// Confidence component weights. The score is a deterministic function of
// the model's reported token likelihood and two structural checks on the
// produced statement; identical input and model output always score the
// same.
const (
	likelihoodWeight = 0.5
	structureWeight  = 0.3
	alignmentWeight  = 0.2

	// neutralLikelihood stands in when the backend reports no token
	// likelihoods (Anthropic does not). Chosen so a structurally sound,
	// intent-aligned statement still clears a 0.7 threshold on structure
	// and alignment alone.
	neutralLikelihood = 0.8
)

// scoreConfidence rates a generated statement in [0,1].
func scoreConfidence(sql string, intent models.Intent, meanLogProb *float64) float64 {
	likelihood := neutralLikelihood
	if meanLogProb != nil {
		likelihood = math.Exp(*meanLogProb)
		if likelihood > 1 {
			likelihood = 1
		}
	}

	return likelihoodWeight*likelihood +
		structureWeight*structureScore(sql) +
		alignmentWeight*alignmentScore(sql, intent)
}

// structureScore checks the statement has the basic SELECT ... FROM shape.
func structureScore(sql string) float64 {
	if !sqlutil.IsReadOnlySelect(sql) {
		return 0
	}
	masked := strings.ToLower(sqlutil.MaskLiterals(sql))
	if !strings.Contains(masked, " from ") && !strings.Contains(masked, "\nfrom ") {
		return 0
	}
	return 1
}

// alignmentScore checks the statement uses the construct its intent calls
// for: COUNT gets count(), SUM gets sum(), AVERAGE gets avg(). LOOKUP and
// LOCATE have no required construct and always align.
func alignmentScore(sql string, intent models.Intent) float64 {
	masked := strings.ToLower(sqlutil.MaskLiterals(sql))

	switch intent {
	case models.IntentCount:
		return boolScore(strings.Contains(masked, "count("))
	case models.IntentSum:
		return boolScore(strings.Contains(masked, "sum("))
	case models.IntentAverage:
		return boolScore(strings.Contains(masked, "avg("))
	default:
		return 1
	}
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
