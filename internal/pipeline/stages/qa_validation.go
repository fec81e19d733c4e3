package stages

import (
	"context"
	"fmt"

	"github.com/slidesmith/deckgen-backend/internal/pipeline"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

type QAOutput struct {
	Checks []Check `json:"checks"`
	Passed bool    `json:"passed"`
}

// QAValidation runs structural checks over every prior output. Deterministic;
// any failed check halts the pipeline with a typed error.
func QAValidation(log *logger.Logger) pipeline.StageFunc {
	return func(ctx context.Context, in *pipeline.Input) (any, error) {
		var intake IntakeOutput
		if err := in.Output(pipeline.StageDataIntake, &intake); err != nil {
			return nil, fmt.Errorf("qa validation: %w", err)
		}
		var insights InsightsOutput
		if err := in.Output(pipeline.StageFirstPassAnalysis, &insights); err != nil {
			return nil, fmt.Errorf("qa validation: %w", err)
		}
		var outline OutlineOutput
		if err := in.Output(pipeline.StageSlideStructure, &outline); err != nil {
			return nil, fmt.Errorf("qa validation: %w", err)
		}
		var content ContentOutput
		if err := in.Output(pipeline.StageContentGeneration, &content); err != nil {
			return nil, fmt.Errorf("qa validation: %w", err)
		}
		var charts ChartsOutput
		if err := in.Output(pipeline.StageChartGeneration, &charts); err != nil {
			return nil, fmt.Errorf("qa validation: %w", err)
		}

		checks := []Check{
			{Name: "has_insights", Passed: len(insights.Insights) > 0,
				Detail: fmt.Sprintf("%d insights", len(insights.Insights))},
			{Name: "has_slides", Passed: len(outline.Slides) > 0,
				Detail: fmt.Sprintf("%d slides", len(outline.Slides))},
			{Name: "content_matches_outline", Passed: len(content.Slides) == len(outline.Slides),
				Detail: fmt.Sprintf("content %d vs outline %d", len(content.Slides), len(outline.Slides))},
		}

		chartsOK := true
		for _, c := range charts.Charts {
			if !intake.HasColumn(c.XColumn) || !intake.HasColumn(c.YColumn) ||
				c.SlideIndex < 0 || c.SlideIndex >= len(outline.Slides) {
				chartsOK = false
				break
			}
		}
		checks = append(checks, Check{Name: "charts_reference_valid_targets", Passed: chartsOK,
			Detail: fmt.Sprintf("%d charts", len(charts.Charts))})

		for _, c := range checks {
			if !c.Passed {
				return nil, pipeline.NewValidationError(pipeline.StageQAValidation, "check %s failed: %s", c.Name, c.Detail)
			}
		}

		log.Debug("QA validation passed", "deck_id", in.DeckID, "checks", len(checks))
		return &QAOutput{Checks: checks, Passed: true}, nil
	}
}
