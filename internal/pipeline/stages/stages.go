package stages

import (
	"encoding/json"

	"github.com/slidesmith/deckgen-backend/internal/pipeline"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/platform/openai"
)

// Default returns the stage function table for the default pipeline, keyed by
// stage name.
func Default(llm openai.Client, baseLog *logger.Logger) map[string]pipeline.StageFunc {
	log := baseLog.With("component", "PipelineStages")
	return map[string]pipeline.StageFunc{
		pipeline.StageDataIntake:        DataIntake(log),
		pipeline.StageFirstPassAnalysis: FirstPassAnalysis(llm),
		pipeline.StageSlideStructure:    SlideStructure(llm),
		pipeline.StageContentGeneration: ContentGeneration(llm),
		pipeline.StageChartGeneration:   ChartGeneration(llm),
		pipeline.StageQAValidation:      QAValidation(log),
		pipeline.StageFinalExport:       FinalExport(log),
	}
}

// decodeInto round-trips a generic JSON object into a typed struct.
func decodeInto(m map[string]any, v any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
