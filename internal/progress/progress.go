// Package progress derives completion and health metrics from project snapshots.
// Every function here is pure; results are recomputed on each read and never stored.
package progress

import (
	"math"
	"time"

	"ventureline/internal/domain"
)

// Health score weights.
const (
	StepWeight        = 0.4
	DataQualityWeight = 0.3
	ValidationWeight  = 0.2
	ActivityWeight    = 0.1
)

type Progress struct {
	CompletedCount int     `json:"completed_count"`
	TotalCount     int     `json:"total_count"`
	Percent        float64 `json:"percent"`
}

// ComputeProgress counts distinct completed steps against total. A zero total yields 0%.
func ComputeProgress(total int, states []domain.StepState) Progress {
	if total < 0 {
		total = 0
	}
	completed := completedCount(states)
	if completed > total {
		completed = total
	}
	p := Progress{CompletedCount: completed, TotalCount: total}
	if total > 0 {
		p.Percent = clamp(100*float64(completed)/float64(total), 0, 100)
	}
	return p
}

func completedCount(states []domain.StepState) int {
	seen := make(map[string]bool, len(states))
	for _, s := range states {
		if s.Status == domain.StepCompleted {
			seen[s.StepKey] = true
		}
	}
	return len(seen)
}

// Health is the health score with the sub-scores it was built from.
type Health struct {
	Score            int     `json:"score"`
	StepScore        float64 `json:"step_score"`
	DataQualityScore float64 `json:"data_quality_score"`
	ValidationScore  float64 `json:"validation_score"`
	ActivityScore    float64 `json:"activity_score"`
	DaysSinceUpdate  *int    `json:"days_since_update,omitempty"`
}

// HealthScore computes the weighted 0-100 health score of s as of now.
//
// ValidationScore has a natural maximum of 30 and is weighted as is, without
// rescaling to 100. Negative counts read as zero.
func HealthScore(s domain.ProjectSnapshot, now time.Time) Health {
	total := nonNeg(s.TotalSteps)
	prog := ComputeProgress(total, s.StepStates)

	var h Health
	h.StepScore = prog.Percent

	if prog.CompletedCount > 0 {
		h.DataQualityScore += 30
	}
	if nonNeg(s.LinkedToolCount) > 0 {
		h.DataQualityScore += 20
	}
	if nonNeg(s.NoteCount) > 0 {
		h.DataQualityScore += 20
	}
	if s.HasDescription {
		h.DataQualityScore += 10
	}
	if nonNeg(s.TagCount) > 0 {
		h.DataQualityScore += 20
	}
	h.DataQualityScore = clamp(h.DataQualityScore, 0, 100)

	assumptions := nonNeg(s.AssumptionCount)
	validated := nonNeg(s.ValidatedAssumptionCount)
	if validated > assumptions {
		validated = assumptions
	}
	if nonNeg(s.InterviewCount) > 0 {
		h.ValidationScore += 10
	}
	if assumptions > 0 {
		h.ValidationScore += 10
	}
	h.ValidationScore += 10 * float64(validated) / float64(max(assumptions, 1))

	if t, ok := parseTime(s.LastUpdatedAt); ok {
		days := int(math.Floor(now.Sub(t).Hours() / 24))
		if days < 0 {
			days = 0
		}
		h.DaysSinceUpdate = &days
		switch {
		case days <= 7:
			h.ActivityScore = 10
		case days <= 30:
			h.ActivityScore = 5
		}
	}

	raw := StepWeight*h.StepScore + DataQualityWeight*h.DataQualityScore +
		ValidationWeight*h.ValidationScore + ActivityWeight*h.ActivityScore
	h.Score = int(clamp(math.Round(raw), 0, 100))
	return h
}

func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func nonNeg(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
