package scoring

import (
	"github.com/shopspring/decimal"

	"prediction-ledger/internal/models"
)

var one = decimal.NewFromInt(1)

// Hit reports whether the asserted direction matches the realized outcome
func Hit(direction models.Direction, outcome bool) bool {
	return (direction == models.DirectionYes) == outcome
}

// Score computes the Brier-style score for a resolved forecast: the squared
// error between the stated confidence in the asserted direction and what
// actually happened. 0 is a perfect call, 1 a maximally confident miss.
// Deterministic for identical inputs.
func Score(probability decimal.Decimal, direction models.Direction, outcome bool) decimal.Decimal {
	confidence := probability
	if direction == models.DirectionNo {
		confidence = one.Sub(probability)
	}

	target := decimal.Zero
	if Hit(direction, outcome) {
		target = one
	}

	diff := confidence.Sub(target)
	return diff.Mul(diff)
}

// Summary is the aggregate view over an owner's records. Rates are 0 on
// empty input, never NaN.
type Summary struct {
	Total            int             `json:"total"`
	Committed        int             `json:"committed"`
	VerificationRate float64         `json:"verification_rate"`
	Resolved         int             `json:"resolved"`
	Correct          int             `json:"correct"`
	MeanScore        decimal.Decimal `json:"mean_score"`
	Accuracy         float64         `json:"accuracy"`
}

// Aggregate reduces a collection of prediction records to a Summary
func Aggregate(records []models.PredictionRecord) Summary {
	s := Summary{
		Total:     len(records),
		MeanScore: decimal.Zero,
	}

	scoreSum := decimal.Zero
	for i := range records {
		r := &records[i]
		if r.Committed {
			s.Committed++
		}
		if r.Outcome == nil || r.Score == nil {
			continue
		}
		s.Resolved++
		scoreSum = scoreSum.Add(*r.Score)
		if Hit(r.Direction, *r.Outcome) {
			s.Correct++
		}
	}

	if s.Total > 0 {
		s.VerificationRate = float64(s.Committed) / float64(s.Total)
	}
	if s.Resolved > 0 {
		s.MeanScore = scoreSum.Div(decimal.NewFromInt(int64(s.Resolved)))
		s.Accuracy = float64(s.Correct) / float64(s.Resolved)
	}

	return s
}
