package pipeline

import "github.com/slidesmith/deckgen-backend/internal/domain"

// Default stage list, in execution order. The list is configuration; the
// orchestrator runs whatever it is handed.
var DefaultStageNames = []string{
	StageDataIntake,
	StageFirstPassAnalysis,
	StageSlideStructure,
	StageContentGeneration,
	StageChartGeneration,
	StageQAValidation,
	StageFinalExport,
}

const (
	StageDataIntake        = "data_intake"
	StageFirstPassAnalysis = "first_pass_analysis"
	StageSlideStructure    = "slide_structure"
	StageContentGeneration = "content_generation"
	StageChartGeneration   = "chart_generation"
	StageQAValidation      = "qa_validation"
	StageFinalExport       = "final_export"
)

// defaultWeights is the cumulative progress each default stage represents
// once completed, tuned for the full default list.
var defaultWeights = map[string]int{
	StageDataIntake:        5,
	StageFirstPassAnalysis: 15,
	StageSlideStructure:    35,
	StageContentGeneration: 70,
	StageChartGeneration:   85,
	StageQAValidation:      95,
	StageFinalExport:       100,
}

// Weights returns the cumulative weight per stage for a configured list.
// Stages from the default table keep their relative spacing, rescaled so the
// list's last stage lands on 100; any other list is spaced evenly. Either
// way a finished run reads 100.
func Weights(names []string) map[string]int {
	if len(names) == 0 {
		return map[string]int{}
	}
	allKnown := true
	for _, n := range names {
		if _, ok := defaultWeights[n]; !ok {
			allKnown = false
			break
		}
	}
	out := make(map[string]int, len(names))
	if allKnown {
		last := defaultWeights[names[len(names)-1]]
		for _, n := range names {
			w := defaultWeights[n]
			if last != 100 {
				w = w * 100 / last
			}
			out[n] = w
		}
		return out
	}
	for i, n := range names {
		out[n] = (i + 1) * 100 / len(names)
	}
	return out
}

// ProgressFor maps a stage transition onto overall job progress. prev is the
// last reported value; the result never goes below it, so reported progress
// is monotone no matter how stage statuses interleave.
func ProgressFor(weights map[string]int, stage string, status string, prev int) int {
	w := weights[stage]
	switch status {
	case domain.StageStatusCompleted:
		if w > prev {
			return w
		}
		return prev
	case domain.StageStatusProcessing:
		p := w - 3
		if p < prev {
			p = prev
		}
		return p
	default:
		return prev
	}
}

var stageMessages = map[string]string{
	StageDataIntake:        "Ingesting data sources",
	StageFirstPassAnalysis: "Analyzing data",
	StageSlideStructure:    "Structuring slides",
	StageContentGeneration: "Writing slide content",
	StageChartGeneration:   "Generating charts",
	StageQAValidation:      "Validating deck",
	StageFinalExport:       "Exporting deck",
}

func MessageFor(stage string) string {
	if m, ok := stageMessages[stage]; ok {
		return m
	}
	return "Running " + stage
}
