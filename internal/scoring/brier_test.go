package scoring

import (
	"testing"

	"github.com/shopspring/decimal"

	"prediction-ledger/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestScoreKnownValues(t *testing.T) {
	cases := []struct {
		name        string
		probability string
		direction   models.Direction
		outcome     bool
		want        string
	}{
		{"confident yes, hit", "0.8", models.DirectionYes, true, "0.04"},
		{"confident yes, miss", "0.8", models.DirectionYes, false, "0.64"},
		{"no at implied 0.8, hit", "0.2", models.DirectionNo, false, "0.04"},
		{"moderate yes, hit", "0.7", models.DirectionYes, true, "0.09"},
		{"coin flip yes", "0.5", models.DirectionYes, true, "0.25"},
		{"perfect call", "1", models.DirectionYes, true, "0"},
		{"maximally wrong", "1", models.DirectionYes, false, "1"},
	}

	for _, tc := range cases {
		got := Score(dec(tc.probability), tc.direction, tc.outcome)
		if !got.Equal(dec(tc.want)) {
			t.Errorf("%s: Score(%s, %s, %v) = %s, want %s",
				tc.name, tc.probability, tc.direction, tc.outcome, got, tc.want)
		}
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	a := Score(dec("0.37"), models.DirectionNo, true)
	b := Score(dec("0.37"), models.DirectionNo, true)
	if !a.Equal(b) {
		t.Errorf("identical inputs produced %s and %s", a, b)
	}
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)

	if s.Total != 0 || s.Committed != 0 || s.Resolved != 0 {
		t.Errorf("expected zero counts, got %+v", s)
	}
	if s.VerificationRate != 0 || s.Accuracy != 0 {
		t.Errorf("expected zero rates on empty input, got %+v", s)
	}
	if !s.MeanScore.Equal(decimal.Zero) {
		t.Errorf("expected zero mean score, got %s", s.MeanScore)
	}
}

func TestAggregateMixed(t *testing.T) {
	outcomeTrue := true
	outcomeFalse := false
	hitScore := dec("0.04")
	missScore := dec("0.64")

	records := []models.PredictionRecord{
		{Probability: dec("0.8"), Direction: models.DirectionYes, Committed: true,
			Outcome: &outcomeTrue, Score: &hitScore},
		{Probability: dec("0.8"), Direction: models.DirectionYes, Committed: true,
			Outcome: &outcomeFalse, Score: &missScore},
		{Probability: dec("0.6"), Direction: models.DirectionNo, Committed: true},
		{Probability: dec("0.5"), Direction: models.DirectionYes},
	}

	s := Aggregate(records)

	if s.Total != 4 {
		t.Errorf("Total = %d, want 4", s.Total)
	}
	if s.Committed != 3 {
		t.Errorf("Committed = %d, want 3", s.Committed)
	}
	if s.VerificationRate != 0.75 {
		t.Errorf("VerificationRate = %v, want 0.75", s.VerificationRate)
	}
	if s.Resolved != 2 {
		t.Errorf("Resolved = %d, want 2", s.Resolved)
	}
	if s.Correct != 1 {
		t.Errorf("Correct = %d, want 1", s.Correct)
	}
	if s.Accuracy != 0.5 {
		t.Errorf("Accuracy = %v, want 0.5", s.Accuracy)
	}
	if !s.MeanScore.Equal(dec("0.34")) {
		t.Errorf("MeanScore = %s, want 0.34", s.MeanScore)
	}
}
