// Package wizard drives the Idea Discovery funnel: a fixed linear list of stages,
// some collecting free answers and four generating candidates conditioned on every
// earlier choice.
package wizard

import "ventureline/internal/generator"

type Stage string

const (
	StageLanding       Stage = "landing"
	StageEntryChoice   Stage = "entry_choice"
	StageIdeaType      Stage = "idea_type"
	StageLocation      Stage = "location"
	StageScheduleGoals Stage = "schedule_goals"
	StageInterests     Stage = "interests"
	StageBusinessArea  Stage = "business_area_selection"
	StageCustomer      Stage = "customer_selection"
	StageJob           Stage = "job_selection"
	StageSolution      Stage = "solution_selection"
	StageSummary       Stage = "summary"
)

// StageDef describes one funnel stage. Input stages take a free-form answer;
// selection stages (Kind set) take one of the generated candidates.
type StageDef struct {
	Key      Stage          `json:"key"`
	Title    string         `json:"title"`
	Optional bool           `json:"optional,omitempty"`
	Input    bool           `json:"input,omitempty"`
	Kind     generator.Kind `json:"kind,omitempty"`
}

func (d StageDef) Selection() bool { return d.Kind != "" }

var stages = []StageDef{
	{Key: StageLanding, Title: "Start"},
	{Key: StageEntryChoice, Title: "Where are you starting from?", Input: true},
	{Key: StageIdeaType, Title: "What kind of business?", Input: true},
	{Key: StageLocation, Title: "Where will you operate?", Input: true, Optional: true},
	{Key: StageScheduleGoals, Title: "Time and goals", Input: true, Optional: true},
	{Key: StageInterests, Title: "Interests and skills", Input: true},
	{Key: StageBusinessArea, Title: "Business area", Kind: generator.KindBusinessArea},
	{Key: StageCustomer, Title: "Customer", Kind: generator.KindCustomer},
	{Key: StageJob, Title: "Job to be done", Kind: generator.KindJob},
	{Key: StageSolution, Title: "Solution", Kind: generator.KindSolution},
	{Key: StageSummary, Title: "Summary"},
}

var stageIndex = func() map[Stage]int {
	m := make(map[Stage]int, len(stages))
	for i, s := range stages {
		m[s.Key] = i
	}
	return m
}()

// Stages returns the funnel in order.
func Stages() []StageDef {
	out := make([]StageDef, len(stages))
	copy(out, stages)
	return out
}

// Lookup returns the definition of key.
func Lookup(key Stage) (StageDef, bool) {
	i, ok := stageIndex[key]
	if !ok {
		return StageDef{}, false
	}
	return stages[i], true
}

func position(key Stage) int {
	i, ok := stageIndex[key]
	if !ok {
		return -1
	}
	return i
}

// selectionLabel names a selection stage inside generation context.
var selectionLabel = map[Stage]string{
	StageBusinessArea: "Business area",
	StageCustomer:     "Customer",
	StageJob:          "Job to be done",
	StageSolution:     "Solution",
}

var answerLabel = map[Stage]string{
	StageEntryChoice:   "Starting point",
	StageIdeaType:      "Idea type",
	StageLocation:      "Location",
	StageScheduleGoals: "Schedule and goals",
	StageInterests:     "Interests",
}
