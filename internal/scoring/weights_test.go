package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{ScaleMin: 1, ScaleMax: 5, StddevMode: StddevPopulation}

func pair(subject string, criterion int64) Pair {
	return Pair{SubjectID: subject, CriterionID: criterion}
}

func TestComputeRaterWeightsSingleConsensusMatch(t *testing.T) {
	// A lone rater defines the consensus, so deviation is zero and
	// reliability maxes out; a ceiling score still costs extreme weight.
	obs := []Observation{{ID: "e1", Pair: pair("subj", 1), Score: 5}}
	consensus := map[Pair]float64{pair("subj", 1): 5}

	w := ComputeRaterWeights(obs, consensus, testCfg)

	assert.InDelta(t, 1.0, w.ReliabilityWeight, 1e-9)
	assert.InDelta(t, 0.5, w.ExtremeRateWeight, 1e-9)
	assert.InDelta(t, 0.5, w.ObjectivityScore, 1e-9)
	assert.InDelta(t, 0.0, w.Normalized["e1"], 1e-9)
}

func TestComputeRaterWeightsConsensusShift(t *testing.T) {
	// Two raters disagree (5 vs 3), consensus lands at 4: both deviate by
	// 1, so both drop to reliability 0.5. Only the 5 is extreme on a 1..5
	// scale.
	consensus := map[Pair]float64{pair("subj", 1): 4}

	peer := ComputeRaterWeights(
		[]Observation{{ID: "peer", Pair: pair("subj", 1), Score: 5}},
		consensus, testCfg,
	)
	primary := ComputeRaterWeights(
		[]Observation{{ID: "primary", Pair: pair("subj", 1), Score: 3}},
		consensus, testCfg,
	)

	assert.InDelta(t, 0.5, peer.ReliabilityWeight, 1e-9)
	assert.InDelta(t, 0.5, peer.ExtremeRateWeight, 1e-9)

	assert.InDelta(t, 0.5, primary.ReliabilityWeight, 1e-9)
	assert.InDelta(t, 1.0, primary.ExtremeRateWeight, 1e-9)
	assert.InDelta(t, 0.5, primary.ObjectivityScore, 1e-9)
}

func TestComputeRaterWeightsNormalization(t *testing.T) {
	obs := []Observation{
		{ID: "a", Pair: pair("s1", 1), Score: 4},
		{ID: "b", Pair: pair("s2", 1), Score: 2},
	}
	consensus := map[Pair]float64{pair("s1", 1): 4, pair("s2", 1): 2}

	w := ComputeRaterWeights(obs, consensus, testCfg)

	assert.InDelta(t, 3.0, w.Mean, 1e-9)
	assert.InDelta(t, 1.0, w.Stddev, 1e-9)
	assert.InDelta(t, 1.0, w.Normalized["a"], 1e-9)
	assert.InDelta(t, -1.0, w.Normalized["b"], 1e-9)
}

func TestComputeRaterWeightsZeroStddev(t *testing.T) {
	obs := []Observation{{ID: "only", Pair: pair("s1", 1), Score: 4}}
	consensus := map[Pair]float64{pair("s1", 1): 4}

	w := ComputeRaterWeights(obs, consensus, testCfg)

	assert.InDelta(t, 4.0, w.Mean, 1e-9)
	assert.InDelta(t, 0.0, w.Stddev, 1e-9)
	assert.InDelta(t, 0.0, w.Normalized["only"], 1e-9)
}

func TestComputeRaterWeightsReliabilityFloor(t *testing.T) {
	// A deviation of 9 pushes 1/(1+9) to 0.1, which the floor lifts to 0.2.
	cfg := Config{ScaleMin: 1, ScaleMax: 10, StddevMode: StddevPopulation}
	obs := []Observation{{ID: "e1", Pair: pair("subj", 1), Score: 10}}
	consensus := map[Pair]float64{pair("subj", 1): 1}

	w := ComputeRaterWeights(obs, consensus, cfg)

	assert.InDelta(t, 0.2, w.ReliabilityWeight, 1e-9)
}

func TestComputeRaterWeightsNoConsensus(t *testing.T) {
	// Pairs absent from the consensus map contribute nothing; with no
	// scored pairs both weights default to 1.0.
	obs := []Observation{{ID: "e1", Pair: pair("subj", 1), Score: 5}}

	w := ComputeRaterWeights(obs, map[Pair]float64{}, testCfg)

	assert.InDelta(t, 1.0, w.ReliabilityWeight, 1e-9)
	assert.InDelta(t, 1.0, w.ExtremeRateWeight, 1e-9)
	assert.InDelta(t, 1.0, w.ObjectivityScore, 1e-9)
}

func TestComputeRaterWeightsExtremeRate(t *testing.T) {
	obs := []Observation{
		{ID: "a", Pair: pair("s1", 1), Score: 1},
		{ID: "b", Pair: pair("s2", 1), Score: 5},
		{ID: "c", Pair: pair("s3", 1), Score: 3},
		{ID: "d", Pair: pair("s4", 1), Score: 3},
	}
	consensus := map[Pair]float64{
		pair("s1", 1): 1, pair("s2", 1): 5, pair("s3", 1): 3, pair("s4", 1): 3,
	}

	w := ComputeRaterWeights(obs, consensus, testCfg)

	assert.InDelta(t, 0.5, w.ExtremeRate, 1e-9)
	assert.InDelta(t, 0.75, w.ExtremeRateWeight, 1e-9)
}

func TestComputeRaterSummary(t *testing.T) {
	obs := []Observation{
		{ID: "a", Pair: pair("s1", 1), Score: 4},
		{ID: "b", Pair: pair("s2", 1), Score: 2},
	}
	consensus := map[Pair]float64{pair("s1", 1): 4, pair("s2", 1): 2}

	s := ComputeRaterSummary(obs, consensus, testCfg)

	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, 3.0, s.Mean, 1e-9)
	assert.InDelta(t, 1.0, s.Stddev, 1e-9)
	assert.InDelta(t, 0.0, s.ExtremeRate, 1e-9)
	assert.InDelta(t, 1.0, s.Reliability, 1e-9)
}

func TestComputeRaterSummaryReliabilityDamping(t *testing.T) {
	// mean abs deviation 3 -> 1/(1+3/3) = 0.5, exactly the floor.
	cfg := Config{ScaleMin: 1, ScaleMax: 10, StddevMode: StddevPopulation}
	obs := []Observation{{ID: "a", Pair: pair("s1", 1), Score: 8}}
	consensus := map[Pair]float64{pair("s1", 1): 5}

	s := ComputeRaterSummary(obs, consensus, cfg)

	assert.InDelta(t, 0.5, s.Reliability, 1e-9)
}

func TestComputeRaterSummaryEmpty(t *testing.T) {
	s := ComputeRaterSummary(nil, map[Pair]float64{}, testCfg)
	assert.Zero(t, s.Count)
	assert.Zero(t, s.Reliability)
}

func TestComputeRaterSummaryIdempotent(t *testing.T) {
	obs := []Observation{
		{ID: "a", Pair: pair("s1", 1), Score: 4},
		{ID: "b", Pair: pair("s2", 2), Score: 5},
		{ID: "c", Pair: pair("s3", 1), Score: 1},
	}
	consensus := map[Pair]float64{
		pair("s1", 1): 3.5, pair("s2", 2): 5, pair("s3", 1): 2,
	}

	first := ComputeRaterSummary(obs, consensus, testCfg)
	second := ComputeRaterSummary(obs, consensus, testCfg)
	require.Equal(t, first, second)
}
