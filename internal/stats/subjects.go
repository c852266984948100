package stats

import (
	"math"

	"github.com/examstats/backend/internal/models"
)

// ScorePercent returns round(100 * correct / total), or 0 when total is 0.
func ScorePercent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}

// MergeSubjects sums the per-subject counters of both breakdowns and
// recomputes each average. Neither input is modified.
//
// Only Total and Correct are read from the inputs, so the merge is
// associative and commutative and merge order never affects the result.
func MergeSubjects(existing, incoming models.SubjectBreakdown) models.SubjectBreakdown {
	out := make(models.SubjectBreakdown, len(existing)+len(incoming))
	for _, src := range []models.SubjectBreakdown{existing, incoming} {
		for subject, s := range src {
			cur := out[subject]
			cur.Total += s.Total
			cur.Correct += s.Correct
			out[subject] = cur
		}
	}
	for subject, s := range out {
		s.AverageScorePercent = ScorePercent(s.Correct, s.Total)
		out[subject] = s
	}
	return out
}
