package scoring

import "sort"

// WeightedRow is one ACTIVE evaluation as seen by the summary aggregator.
// Nil weights default to 1.0 so rows the engine has not reached yet still
// contribute at full weight instead of disappearing.
type WeightedRow struct {
	Pair              Pair
	Score             float64
	NormalizedScore   *float64
	ReliabilityWeight *float64
	ExtremeRateWeight *float64
}

// SummaryRow is the per-(subject, criterion) consensus result.
type SummaryRow struct {
	SubjectID         string  `json:"subject_id"`
	CriterionID       int64   `json:"criterion_id"`
	WeightedAverage   float64 `json:"weighted_average"`
	NormalizedAverage float64 `json:"normalized_average"`
	RawCount          int     `json:"raw_count"`
}

// Summarize groups rows per (subject, criterion) and computes the
// consensus-weighted averages. final_weight = familiarity_weight(1.0) *
// reliability_weight * extreme_rate_weight. Groups with fewer than
// minRatings contributing rows are dropped entirely; that is a statistical
// significance gate, not pagination.
func Summarize(rows []WeightedRow, minRatings int) []SummaryRow {
	type acc struct {
		weightedSum   float64
		normalizedSum float64
		weightSum     float64
		count         int
	}
	groups := make(map[Pair]*acc)

	for _, row := range rows {
		w := weightOf(row.ReliabilityWeight) * weightOf(row.ExtremeRateWeight)
		g, ok := groups[row.Pair]
		if !ok {
			g = &acc{}
			groups[row.Pair] = g
		}
		g.weightedSum += row.Score * w
		if row.NormalizedScore != nil {
			g.normalizedSum += *row.NormalizedScore * w
		}
		g.weightSum += w
		g.count++
	}

	result := make([]SummaryRow, 0, len(groups))
	for pair, g := range groups {
		if g.count < minRatings || g.weightSum == 0 {
			continue
		}
		result = append(result, SummaryRow{
			SubjectID:         pair.SubjectID,
			CriterionID:       pair.CriterionID,
			WeightedAverage:   Round3(g.weightedSum / g.weightSum),
			NormalizedAverage: Round3(g.normalizedSum / g.weightSum),
			RawCount:          g.count,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].SubjectID != result[j].SubjectID {
			return result[i].SubjectID < result[j].SubjectID
		}
		return result[i].CriterionID < result[j].CriterionID
	})

	return result
}

func weightOf(w *float64) float64 {
	if w == nil {
		return 1.0
	}
	return *w
}
