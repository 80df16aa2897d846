package scoring

// The weighting engine ties a rater's trust factor to their agreement with
// the per-(subject, criterion) consensus. Raters who deviate from consensus
// or who lean on the ends of the scale are downweighted; their scores still
// count, just for less.

// Pair identifies a (subject, criterion) consensus group.
type Pair struct {
	SubjectID   string
	CriterionID int64
}

// Observation is the slice of an evaluation the engine needs.
type Observation struct {
	ID    string
	Pair  Pair
	Score float64
}

// Config carries the score scale and stddev mode thresholds.
type Config struct {
	ScaleMin   float64
	ScaleMax   float64
	StddevMode StddevMode
}

// Extreme reports whether a score sits at or beyond the scale ends.
func (c Config) Extreme(score float64) bool {
	return score <= c.ScaleMin || score >= c.ScaleMax
}

// RaterWeights is the recomputed state for one rater, applied uniformly to
// all of their evaluations plus a per-evaluation normalized score.
type RaterWeights struct {
	Mean              float64
	Stddev            float64
	ReliabilityWeight float64
	ExtremeRateWeight float64
	ObjectivityScore  float64
	MeanAbsDeviation  float64
	ExtremeRate       float64
	Normalized        map[string]float64 // evaluation ID -> z-score
}

// ComputeRaterWeights derives a rater's weights from their observations and
// the consensus averages for every pair they scored. consensus must be
// computed across ALL raters, from a read inside the same transaction as
// the triggering write.
//
// reliability  = clamp(1/(1+mean_abs_deviation), 0.2, 1.0)
// extreme      = clamp(1 - 0.5*extreme_frequency, 0.5, 1.0)
// objectivity  = reliability * extreme
// normalized_i = (score_i - mean) / stddev, 0 when stddev is 0
func ComputeRaterWeights(obs []Observation, consensus map[Pair]float64, cfg Config) RaterWeights {
	scores := make([]float64, len(obs))
	for i, o := range obs {
		scores[i] = o.Score
	}

	mean := Mean(scores)
	stddev := Stddev(scores, cfg.StddevMode)

	normalized := make(map[string]float64, len(obs))
	for _, o := range obs {
		if stddev == 0 {
			normalized[o.ID] = 0
		} else {
			normalized[o.ID] = (o.Score - mean) / stddev
		}
	}

	var deviations []float64
	total := 0
	extremes := 0
	for _, o := range obs {
		avg, ok := consensus[o.Pair]
		if !ok {
			continue
		}
		deviations = append(deviations, abs(o.Score-avg))
		total++
		if cfg.Extreme(o.Score) {
			extremes++
		}
	}

	w := RaterWeights{
		Mean:       mean,
		Stddev:     stddev,
		Normalized: normalized,
	}

	if total == 0 {
		w.ReliabilityWeight = 1.0
		w.ExtremeRateWeight = 1.0
	} else {
		w.MeanAbsDeviation = Mean(deviations)
		w.ReliabilityWeight = Clamp(1.0/(1.0+w.MeanAbsDeviation), 0.2, 1.0)

		w.ExtremeRate = float64(extremes) / float64(total)
		w.ExtremeRateWeight = Clamp(1.0-0.5*w.ExtremeRate, 0.5, 1.0)
	}
	w.ObjectivityScore = w.ReliabilityWeight * w.ExtremeRateWeight

	return w
}

// RaterSummary is the materialized rater_stats payload. Its reliability uses
// a softer damping (deviation scaled by 3, floor 0.5) than the per-row
// reliability weight, so the cached trust factor moves more slowly.
type RaterSummary struct {
	Count       int
	Mean        float64
	Stddev      float64
	ExtremeRate float64
	Reliability float64
}

// ComputeRaterSummary derives the rater_stats row for one rater.
func ComputeRaterSummary(obs []Observation, consensus map[Pair]float64, cfg Config) RaterSummary {
	scores := make([]float64, 0, len(obs))
	var deviations []float64
	extremes := 0

	for _, o := range obs {
		avg, ok := consensus[o.Pair]
		if !ok {
			continue
		}
		scores = append(scores, o.Score)
		deviations = append(deviations, abs(o.Score-avg))
		if cfg.Extreme(o.Score) {
			extremes++
		}
	}

	if len(scores) == 0 {
		return RaterSummary{}
	}

	mad := Mean(deviations)
	return RaterSummary{
		Count:       len(scores),
		Mean:        Mean(scores),
		Stddev:      Stddev(scores, cfg.StddevMode),
		ExtremeRate: float64(extremes) / float64(len(scores)),
		Reliability: Clamp(1.0/(1.0+mad/3.0), 0.5, 1.0),
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
