package stages

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/slidesmith/deckgen-backend/internal/pipeline"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"` // number | boolean | string
}

// IntakeOutput is the normalized form of the deck's data sources. Every
// later stage that touches data references columns by the names profiled
// here.
type IntakeOutput struct {
	Columns  []Column         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

func (o *IntakeOutput) HasColumn(name string) bool {
	for _, c := range o.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// DataIntake normalizes the raw data_sources rows and profiles their columns.
// Deterministic: no model call.
func DataIntake(log *logger.Logger) pipeline.StageFunc {
	return func(ctx context.Context, in *pipeline.Input) (any, error) {
		if in.Deck == nil {
			return nil, pipeline.NewValidationError(pipeline.StageDataIntake, "no deck loaded")
		}
		var rows []map[string]any
		if len(in.Deck.DataSources) > 0 {
			if err := json.Unmarshal(in.Deck.DataSources, &rows); err != nil {
				return nil, pipeline.NewValidationError(pipeline.StageDataIntake, "data_sources is not an array of objects: %v", err)
			}
		}
		if len(rows) == 0 {
			return nil, pipeline.NewValidationError(pipeline.StageDataIntake, "no data sources to ingest")
		}

		types := map[string]string{}
		for _, row := range rows {
			for name, val := range row {
				t := inferType(val)
				prev, seen := types[name]
				if !seen {
					types[name] = t
					continue
				}
				if prev != t {
					types[name] = "string"
				}
			}
		}

		columns := make([]Column, 0, len(types))
		for name, t := range types {
			columns = append(columns, Column{Name: name, Type: t})
		}
		sort.Slice(columns, func(i, j int) bool { return columns[i].Name < columns[j].Name })

		log.Debug("Data intake profiled", "deck_id", in.DeckID, "rows", len(rows), "columns", len(columns))
		return &IntakeOutput{
			Columns:  columns,
			Rows:     rows,
			RowCount: len(rows),
		}, nil
	}
}

func inferType(v any) string {
	switch v.(type) {
	case float64, int, int64, json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return "string"
	}
}
