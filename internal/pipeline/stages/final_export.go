package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/slidesmith/deckgen-backend/internal/pipeline"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

type FinalSlide struct {
	Index   int         `json:"index"`
	Title   string      `json:"title"`
	Layout  string      `json:"layout"`
	Bullets []string    `json:"bullets"`
	Charts  []ChartSpec `json:"charts,omitempty"`
}

// FinalDeck is the terminal artifact, mirrored onto deck.final_deck.
type FinalDeck struct {
	DeckID      string       `json:"deck_id"`
	Title       string       `json:"title"`
	GeneratedAt time.Time    `json:"generated_at"`
	Insights    []Insight    `json:"insights"`
	Slides      []FinalSlide `json:"slides"`
}

// FinalExport assembles the outline, content and charts into the final deck
// JSON. Deterministic: no model call.
func FinalExport(log *logger.Logger) pipeline.StageFunc {
	return func(ctx context.Context, in *pipeline.Input) (any, error) {
		var insights InsightsOutput
		if err := in.Output(pipeline.StageFirstPassAnalysis, &insights); err != nil {
			return nil, fmt.Errorf("final export: %w", err)
		}
		var outline OutlineOutput
		if err := in.Output(pipeline.StageSlideStructure, &outline); err != nil {
			return nil, fmt.Errorf("final export: %w", err)
		}
		var content ContentOutput
		if err := in.Output(pipeline.StageContentGeneration, &content); err != nil {
			return nil, fmt.Errorf("final export: %w", err)
		}
		var charts ChartsOutput
		if err := in.Output(pipeline.StageChartGeneration, &charts); err != nil {
			return nil, fmt.Errorf("final export: %w", err)
		}
		if len(content.Slides) != len(outline.Slides) {
			return nil, pipeline.NewValidationError(pipeline.StageFinalExport,
				"content %d vs outline %d slides", len(content.Slides), len(outline.Slides))
		}

		chartsBySlide := map[int][]ChartSpec{}
		for _, c := range charts.Charts {
			chartsBySlide[c.SlideIndex] = append(chartsBySlide[c.SlideIndex], c)
		}

		slides := make([]FinalSlide, 0, len(outline.Slides))
		for i, o := range outline.Slides {
			slides = append(slides, FinalSlide{
				Index:   i,
				Title:   o.Title,
				Layout:  o.Layout,
				Bullets: content.Slides[i].Bullets,
				Charts:  chartsBySlide[i],
			})
		}

		title := ""
		if in.Deck != nil {
			title = in.Deck.Title
		}

		log.Debug("Final deck assembled", "deck_id", in.DeckID, "slides", len(slides))
		return &FinalDeck{
			DeckID:      in.DeckID.String(),
			Title:       title,
			GeneratedAt: time.Now().UTC(),
			Insights:    insights.Insights,
			Slides:      slides,
		}, nil
	}
}
