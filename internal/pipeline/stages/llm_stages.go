package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/slidesmith/deckgen-backend/internal/pipeline"
	"github.com/slidesmith/deckgen-backend/internal/platform/openai"
)

type Insight struct {
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Importance string `json:"importance"`
}

type InsightsOutput struct {
	Insights []Insight `json:"insights"`
}

type OutlineSlide struct {
	Title  string `json:"title"`
	Layout string `json:"layout"`
}

type OutlineOutput struct {
	Slides []OutlineSlide `json:"slides"`
}

type SlideContent struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

type ContentOutput struct {
	Slides []SlideContent `json:"slides"`
}

type ChartSpec struct {
	SlideIndex int    `json:"slide_index"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	XColumn    string `json:"x_column"`
	YColumn    string `json:"y_column"`
}

type ChartsOutput struct {
	Charts []ChartSpec `json:"charts"`
}

// promptFor builds the user prompt: the caller's free-text context plus the
// JSON output of each named prior stage.
func promptFor(in *pipeline.Input, instruction string, priorStages ...string) string {
	var b strings.Builder
	b.WriteString(instruction)
	if strings.TrimSpace(in.UserContext) != "" {
		b.WriteString("\n\nUser context:\n")
		b.WriteString(in.UserContext)
	}
	for _, name := range priorStages {
		raw, ok := in.Outputs[name]
		if !ok {
			continue
		}
		b.WriteString("\n\nOutput of ")
		b.WriteString(name)
		b.WriteString(":\n")
		b.Write(raw)
	}
	return b.String()
}

func objSchema(props map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func arrSchema(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func strSchema() map[string]any { return map[string]any{"type": "string"} }
func intSchema() map[string]any { return map[string]any{"type": "integer"} }

// FirstPassAnalysis asks the model for key insights over the intake profile.
func FirstPassAnalysis(llm openai.Client) pipeline.StageFunc {
	schema := objSchema(map[string]any{
		"insights": arrSchema(objSchema(map[string]any{
			"title":      strSchema(),
			"detail":     strSchema(),
			"importance": strSchema(),
		}, []string{"title", "detail", "importance"})),
	}, []string{"insights"})

	return func(ctx context.Context, in *pipeline.Input) (any, error) {
		raw, err := llm.GenerateJSON(ctx,
			"You are a data analyst. Extract the key insights from the provided dataset profile.",
			promptFor(in, "Analyze this dataset and list the most important insights.", pipeline.StageDataIntake),
			"insights", schema)
		if err != nil {
			return nil, fmt.Errorf("first pass analysis: %w", err)
		}
		var out InsightsOutput
		if err := decodeInto(raw, &out); err != nil {
			return nil, pipeline.NewValidationError(pipeline.StageFirstPassAnalysis, "model output does not match insights shape: %v", err)
		}
		if len(out.Insights) == 0 {
			return nil, pipeline.NewValidationError(pipeline.StageFirstPassAnalysis, "model returned no insights")
		}
		for i, ins := range out.Insights {
			if strings.TrimSpace(ins.Title) == "" {
				return nil, pipeline.NewValidationError(pipeline.StageFirstPassAnalysis, "insight %d has an empty title", i)
			}
		}
		return &out, nil
	}
}

// SlideStructure asks the model for a slide outline built from the insights.
func SlideStructure(llm openai.Client) pipeline.StageFunc {
	schema := objSchema(map[string]any{
		"slides": arrSchema(objSchema(map[string]any{
			"title":  strSchema(),
			"layout": strSchema(),
		}, []string{"title", "layout"})),
	}, []string{"slides"})

	return func(ctx context.Context, in *pipeline.Input) (any, error) {
		raw, err := llm.GenerateJSON(ctx,
			"You are a presentation designer. Produce a slide outline.",
			promptFor(in, "Design the slide structure for a presentation of these insights.",
				pipeline.StageDataIntake, pipeline.StageFirstPassAnalysis),
			"outline", schema)
		if err != nil {
			return nil, fmt.Errorf("slide structure: %w", err)
		}
		var out OutlineOutput
		if err := decodeInto(raw, &out); err != nil {
			return nil, pipeline.NewValidationError(pipeline.StageSlideStructure, "model output does not match outline shape: %v", err)
		}
		if len(out.Slides) == 0 {
			return nil, pipeline.NewValidationError(pipeline.StageSlideStructure, "model returned no slides")
		}
		for i, s := range out.Slides {
			if strings.TrimSpace(s.Title) == "" {
				return nil, pipeline.NewValidationError(pipeline.StageSlideStructure, "slide %d has an empty title", i)
			}
		}
		return &out, nil
	}
}

// ContentGeneration writes per-slide copy for every outlined slide.
func ContentGeneration(llm openai.Client) pipeline.StageFunc {
	schema := objSchema(map[string]any{
		"slides": arrSchema(objSchema(map[string]any{
			"title":   strSchema(),
			"bullets": arrSchema(strSchema()),
		}, []string{"title", "bullets"})),
	}, []string{"slides"})

	return func(ctx context.Context, in *pipeline.Input) (any, error) {
		var outline OutlineOutput
		if err := in.Output(pipeline.StageSlideStructure, &outline); err != nil {
			return nil, fmt.Errorf("content generation: %w", err)
		}

		raw, err := llm.GenerateJSON(ctx,
			"You are a presentation copywriter. Write concise bullet content for each slide.",
			promptFor(in, "Write the content for every slide in the outline, in order, one entry per outlined slide.",
				pipeline.StageFirstPassAnalysis, pipeline.StageSlideStructure),
			"slide_content", schema)
		if err != nil {
			return nil, fmt.Errorf("content generation: %w", err)
		}
		var out ContentOutput
		if err := decodeInto(raw, &out); err != nil {
			return nil, pipeline.NewValidationError(pipeline.StageContentGeneration, "model output does not match content shape: %v", err)
		}
		if len(out.Slides) != len(outline.Slides) {
			return nil, pipeline.NewValidationError(pipeline.StageContentGeneration,
				"model returned %d slides for a %d-slide outline", len(out.Slides), len(outline.Slides))
		}
		for i, s := range out.Slides {
			if len(s.Bullets) == 0 {
				return nil, pipeline.NewValidationError(pipeline.StageContentGeneration, "slide %d has no bullets", i)
			}
		}
		return &out, nil
	}
}

var chartTypes = map[string]bool{
	"bar":     true,
	"line":    true,
	"pie":     true,
	"scatter": true,
	"area":    true,
}

// ChartGeneration asks the model for chart specs and verifies every
// referenced column actually exists in the intake profile.
func ChartGeneration(llm openai.Client) pipeline.StageFunc {
	schema := objSchema(map[string]any{
		"charts": arrSchema(objSchema(map[string]any{
			"slide_index": intSchema(),
			"type":        strSchema(),
			"title":       strSchema(),
			"x_column":    strSchema(),
			"y_column":    strSchema(),
		}, []string{"slide_index", "type", "title", "x_column", "y_column"})),
	}, []string{"charts"})

	return func(ctx context.Context, in *pipeline.Input) (any, error) {
		var intake IntakeOutput
		if err := in.Output(pipeline.StageDataIntake, &intake); err != nil {
			return nil, fmt.Errorf("chart generation: %w", err)
		}
		var outline OutlineOutput
		if err := in.Output(pipeline.StageSlideStructure, &outline); err != nil {
			return nil, fmt.Errorf("chart generation: %w", err)
		}

		raw, err := llm.GenerateJSON(ctx,
			"You are a data visualization expert. Propose charts using only columns that exist in the dataset.",
			promptFor(in, "Propose charts for the outlined slides. Reference columns by their exact names.",
				pipeline.StageDataIntake, pipeline.StageSlideStructure),
			"charts", schema)
		if err != nil {
			return nil, fmt.Errorf("chart generation: %w", err)
		}
		var out ChartsOutput
		if err := decodeInto(raw, &out); err != nil {
			return nil, pipeline.NewValidationError(pipeline.StageChartGeneration, "model output does not match charts shape: %v", err)
		}
		for i, c := range out.Charts {
			if !chartTypes[strings.ToLower(strings.TrimSpace(c.Type))] {
				return nil, pipeline.NewValidationError(pipeline.StageChartGeneration, "chart %d has unsupported type %q", i, c.Type)
			}
			if !intake.HasColumn(c.XColumn) {
				return nil, pipeline.NewValidationError(pipeline.StageChartGeneration, "chart %d references unknown column %q", i, c.XColumn)
			}
			if !intake.HasColumn(c.YColumn) {
				return nil, pipeline.NewValidationError(pipeline.StageChartGeneration, "chart %d references unknown column %q", i, c.YColumn)
			}
			if c.SlideIndex < 0 || c.SlideIndex >= len(outline.Slides) {
				return nil, pipeline.NewValidationError(pipeline.StageChartGeneration, "chart %d targets slide %d of %d", i, c.SlideIndex, len(outline.Slides))
			}
		}
		return &out, nil
	}
}
