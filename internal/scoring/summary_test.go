package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }

func TestSummarizeWeightedAverages(t *testing.T) {
	// Two rows for the same pair: score 4 at full weight, score 2 damped to
	// 0.25. Weighted average = (4*1 + 2*0.25) / 1.25 = 3.6; normalized
	// z-scores +1/-1 average to 0.6.
	rows := []WeightedRow{
		{
			Pair:              pair("subj", 1),
			Score:             4,
			NormalizedScore:   fp(1.0),
			ReliabilityWeight: fp(1.0),
			ExtremeRateWeight: fp(1.0),
		},
		{
			Pair:              pair("subj", 1),
			Score:             2,
			NormalizedScore:   fp(-1.0),
			ReliabilityWeight: fp(0.5),
			ExtremeRateWeight: fp(0.5),
		},
	}

	result := Summarize(rows, 2)

	require.Len(t, result, 1)
	assert.Equal(t, "subj", result[0].SubjectID)
	assert.Equal(t, int64(1), result[0].CriterionID)
	assert.InDelta(t, 3.6, result[0].WeightedAverage, 1e-9)
	assert.InDelta(t, 0.6, result[0].NormalizedAverage, 1e-9)
	assert.Equal(t, 2, result[0].RawCount)
}

func TestSummarizeMinRatingsGate(t *testing.T) {
	rows := []WeightedRow{
		{Pair: pair("thin", 1), Score: 5},
		{Pair: pair("thick", 1), Score: 4},
		{Pair: pair("thick", 1), Score: 4},
		{Pair: pair("thick", 1), Score: 3},
	}

	result := Summarize(rows, 3)

	require.Len(t, result, 1)
	assert.Equal(t, "thick", result[0].SubjectID)
	assert.Equal(t, 3, result[0].RawCount)
}

func TestSummarizeNilWeightsDefaultToFull(t *testing.T) {
	// Rows the engine has not touched yet carry nil weights and count at 1.0.
	rows := []WeightedRow{
		{Pair: pair("subj", 1), Score: 4},
		{Pair: pair("subj", 1), Score: 2},
	}

	result := Summarize(rows, 2)

	require.Len(t, result, 1)
	assert.InDelta(t, 3.0, result[0].WeightedAverage, 1e-9)
	assert.InDelta(t, 0.0, result[0].NormalizedAverage, 1e-9)
}

func TestSummarizeRounding(t *testing.T) {
	rows := []WeightedRow{
		{Pair: pair("subj", 1), Score: 4},
		{Pair: pair("subj", 1), Score: 4},
		{Pair: pair("subj", 1), Score: 5},
	}

	result := Summarize(rows, 1)

	require.Len(t, result, 1)
	// 13/3 = 4.333... rounded to three decimals.
	assert.Equal(t, 4.333, result[0].WeightedAverage)
}

func TestSummarizeDeterministicOrder(t *testing.T) {
	rows := []WeightedRow{
		{Pair: pair("b", 2), Score: 3},
		{Pair: pair("b", 1), Score: 3},
		{Pair: pair("a", 1), Score: 3},
	}

	result := Summarize(rows, 1)

	require.Len(t, result, 3)
	assert.Equal(t, pair("a", 1), Pair{SubjectID: result[0].SubjectID, CriterionID: result[0].CriterionID})
	assert.Equal(t, pair("b", 1), Pair{SubjectID: result[1].SubjectID, CriterionID: result[1].CriterionID})
	assert.Equal(t, pair("b", 2), Pair{SubjectID: result[2].SubjectID, CriterionID: result[2].CriterionID})
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Empty(t, Summarize(nil, 1))
}
