package stats

import (
	"reflect"
	"testing"

	"github.com/examstats/backend/internal/models"
)

func TestScorePercent(t *testing.T) {
	tests := []struct {
		correct, total int
		want           int
	}{
		{0, 0, 0},
		{17, 20, 85},
		{22, 30, 73},
		{2, 3, 67},
		{1, 8, 13},
		{10, 10, 100},
	}

	for _, tt := range tests {
		if got := ScorePercent(tt.correct, tt.total); got != tt.want {
			t.Errorf("ScorePercent(%d, %d) = %d, want %d", tt.correct, tt.total, got, tt.want)
		}
	}
}

func TestMergeSubjects(t *testing.T) {
	existing := models.SubjectBreakdown{
		"math":  {Total: 10, Correct: 8, AverageScorePercent: 80},
		"logic": {Total: 4, Correct: 1, AverageScorePercent: 25},
	}
	incoming := models.SubjectBreakdown{
		"math":    {Total: 5, Correct: 1},
		"reading": {Total: 3, Correct: 3},
	}

	got := MergeSubjects(existing, incoming)
	want := models.SubjectBreakdown{
		"math":    {Total: 15, Correct: 9, AverageScorePercent: 60},
		"logic":   {Total: 4, Correct: 1, AverageScorePercent: 25},
		"reading": {Total: 3, Correct: 3, AverageScorePercent: 100},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeSubjects = %v, want %v", got, want)
	}

	if existing["math"].Total != 10 || len(existing) != 2 {
		t.Error("MergeSubjects modified its input")
	}
}

func TestMergeSubjects_OrderIndependent(t *testing.T) {
	a := models.SubjectBreakdown{"math": {Total: 3, Correct: 2}}
	b := models.SubjectBreakdown{"math": {Total: 4, Correct: 1}, "logic": {Total: 2, Correct: 2}}
	c := models.SubjectBreakdown{"logic": {Total: 5, Correct: 0}}

	left := MergeSubjects(MergeSubjects(a, b), c)
	right := MergeSubjects(a, MergeSubjects(c, b))
	if !reflect.DeepEqual(left, right) {
		t.Errorf("merge order changed the result:\n%v\n%v", left, right)
	}
}

func TestMergeSubjects_Nil(t *testing.T) {
	got := MergeSubjects(nil, nil)
	if got == nil || len(got) != 0 {
		t.Errorf("MergeSubjects(nil, nil) = %v, want empty map", got)
	}
}
