package stages

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/pipeline"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

type mockLLM struct {
	responses map[string]map[string]any // keyed by schema name
	err       error
}

func (m *mockLLM) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if m.err != nil {
		return nil, m.err
	}
	resp, ok := m.responses[schemaName]
	if !ok {
		return map[string]any{}, nil
	}
	return resp, nil
}

func (m *mockLLM) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", m.err
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func testInput(t *testing.T, sources string, outputs map[string]any) *pipeline.Input {
	t.Helper()
	in := &pipeline.Input{
		DeckID: uuid.New(),
		Deck: &domain.Deck{
			ID:          uuid.New(),
			Title:       "Revenue deck",
			DataSources: datatypes.JSON([]byte(sources)),
		},
		Outputs: map[string]json.RawMessage{},
	}
	for name, out := range outputs {
		raw, err := json.Marshal(out)
		if err != nil {
			t.Fatalf("marshal %s output: %v", name, err)
		}
		in.Outputs[name] = raw
	}
	return in
}

func wantValidationError(t *testing.T, err error, stage string) {
	t.Helper()
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error %v is not a ValidationError", err)
	}
	if ve.Stage != stage {
		t.Fatalf("validation error stage = %s, want %s", ve.Stage, stage)
	}
}

func intakeFixture() *IntakeOutput {
	return &IntakeOutput{
		Columns: []Column{
			{Name: "region", Type: "string"},
			{Name: "revenue", Type: "number"},
		},
		Rows: []map[string]any{
			{"region": "emea", "revenue": float64(10)},
			{"region": "apac", "revenue": float64(20)},
		},
		RowCount: 2,
	}
}

func outlineFixture() *OutlineOutput {
	return &OutlineOutput{Slides: []OutlineSlide{
		{Title: "Overview", Layout: "title"},
		{Title: "Revenue by region", Layout: "chart"},
	}}
}

func TestDataIntakeProfilesColumns(t *testing.T) {
	fn := DataIntake(testLogger(t))
	in := testInput(t, `[{"region":"emea","revenue":10},{"region":"apac","revenue":20.5}]`, nil)

	out, err := fn(context.Background(), in)
	if err != nil {
		t.Fatalf("data intake failed: %v", err)
	}
	intake := out.(*IntakeOutput)
	if intake.RowCount != 2 {
		t.Fatalf("row_count = %d, want 2", intake.RowCount)
	}
	if len(intake.Columns) != 2 {
		t.Fatalf("columns = %d, want 2", len(intake.Columns))
	}
	// sorted by name: region, revenue
	if intake.Columns[0].Name != "region" || intake.Columns[0].Type != "string" {
		t.Fatalf("column 0 = %+v", intake.Columns[0])
	}
	if intake.Columns[1].Name != "revenue" || intake.Columns[1].Type != "number" {
		t.Fatalf("column 1 = %+v", intake.Columns[1])
	}
}

func TestDataIntakeMixedTypesDegradeToString(t *testing.T) {
	fn := DataIntake(testLogger(t))
	in := testInput(t, `[{"v":1},{"v":"two"}]`, nil)

	out, err := fn(context.Background(), in)
	if err != nil {
		t.Fatalf("data intake failed: %v", err)
	}
	intake := out.(*IntakeOutput)
	if intake.Columns[0].Type != "string" {
		t.Fatalf("mixed column type = %s, want string", intake.Columns[0].Type)
	}
}

func TestDataIntakeEmptyFails(t *testing.T) {
	fn := DataIntake(testLogger(t))
	in := testInput(t, `[]`, nil)

	_, err := fn(context.Background(), in)
	wantValidationError(t, err, pipeline.StageDataIntake)
}

func TestFirstPassAnalysisRejectsEmptyInsights(t *testing.T) {
	llm := &mockLLM{responses: map[string]map[string]any{
		"insights": {"insights": []any{}},
	}}
	fn := FirstPassAnalysis(llm)
	in := testInput(t, `[{"x":1}]`, map[string]any{
		pipeline.StageDataIntake: intakeFixture(),
	})

	_, err := fn(context.Background(), in)
	wantValidationError(t, err, pipeline.StageFirstPassAnalysis)
}

func TestFirstPassAnalysisAcceptsInsights(t *testing.T) {
	llm := &mockLLM{responses: map[string]map[string]any{
		"insights": {"insights": []any{
			map[string]any{"title": "APAC leads", "detail": "apac revenue is 2x emea", "importance": "high"},
		}},
	}}
	fn := FirstPassAnalysis(llm)
	in := testInput(t, `[{"x":1}]`, map[string]any{
		pipeline.StageDataIntake: intakeFixture(),
	})

	out, err := fn(context.Background(), in)
	if err != nil {
		t.Fatalf("first pass analysis failed: %v", err)
	}
	insights := out.(*InsightsOutput)
	if len(insights.Insights) != 1 || insights.Insights[0].Title != "APAC leads" {
		t.Fatalf("unexpected insights: %+v", insights)
	}
}

func TestContentGenerationCountMismatch(t *testing.T) {
	llm := &mockLLM{responses: map[string]map[string]any{
		"slide_content": {"slides": []any{
			map[string]any{"title": "Overview", "bullets": []any{"one"}},
		}},
	}}
	fn := ContentGeneration(llm)
	in := testInput(t, `[{"x":1}]`, map[string]any{
		pipeline.StageDataIntake:     intakeFixture(),
		pipeline.StageSlideStructure: outlineFixture(),
	})

	_, err := fn(context.Background(), in)
	wantValidationError(t, err, pipeline.StageContentGeneration)
}

func TestChartGenerationRejectsUnknownColumn(t *testing.T) {
	llm := &mockLLM{responses: map[string]map[string]any{
		"charts": {"charts": []any{
			map[string]any{"slide_index": 1, "type": "bar", "title": "Revenue", "x_column": "region", "y_column": "profit"},
		}},
	}}
	fn := ChartGeneration(llm)
	in := testInput(t, `[{"x":1}]`, map[string]any{
		pipeline.StageDataIntake:     intakeFixture(),
		pipeline.StageSlideStructure: outlineFixture(),
	})

	_, err := fn(context.Background(), in)
	wantValidationError(t, err, pipeline.StageChartGeneration)
}

func TestChartGenerationAcceptsValidSpec(t *testing.T) {
	llm := &mockLLM{responses: map[string]map[string]any{
		"charts": {"charts": []any{
			map[string]any{"slide_index": 1, "type": "bar", "title": "Revenue", "x_column": "region", "y_column": "revenue"},
		}},
	}}
	fn := ChartGeneration(llm)
	in := testInput(t, `[{"x":1}]`, map[string]any{
		pipeline.StageDataIntake:     intakeFixture(),
		pipeline.StageSlideStructure: outlineFixture(),
	})

	out, err := fn(context.Background(), in)
	if err != nil {
		t.Fatalf("chart generation failed: %v", err)
	}
	charts := out.(*ChartsOutput)
	if len(charts.Charts) != 1 {
		t.Fatalf("charts = %d, want 1", len(charts.Charts))
	}
}

func TestQAValidationDetectsContentMismatch(t *testing.T) {
	fn := QAValidation(testLogger(t))
	in := testInput(t, `[{"x":1}]`, map[string]any{
		pipeline.StageDataIntake:        intakeFixture(),
		pipeline.StageFirstPassAnalysis: &InsightsOutput{Insights: []Insight{{Title: "a", Detail: "b", Importance: "c"}}},
		pipeline.StageSlideStructure:    outlineFixture(),
		pipeline.StageContentGeneration: &ContentOutput{Slides: []SlideContent{{Title: "only one", Bullets: []string{"x"}}}},
		pipeline.StageChartGeneration:   &ChartsOutput{},
	})

	_, err := fn(context.Background(), in)
	wantValidationError(t, err, pipeline.StageQAValidation)
}

func TestFinalExportAssemblesDeck(t *testing.T) {
	outline := outlineFixture()
	content := &ContentOutput{Slides: []SlideContent{
		{Title: "Overview", Bullets: []string{"revenue grew"}},
		{Title: "Revenue by region", Bullets: []string{"apac leads"}},
	}}
	charts := &ChartsOutput{Charts: []ChartSpec{
		{SlideIndex: 1, Type: "bar", Title: "Revenue", XColumn: "region", YColumn: "revenue"},
	}}

	fn := FinalExport(testLogger(t))
	in := testInput(t, `[{"x":1}]`, map[string]any{
		pipeline.StageDataIntake:        intakeFixture(),
		pipeline.StageFirstPassAnalysis: &InsightsOutput{Insights: []Insight{{Title: "a", Detail: "b", Importance: "c"}}},
		pipeline.StageSlideStructure:    outline,
		pipeline.StageContentGeneration: content,
		pipeline.StageChartGeneration:   charts,
	})

	out, err := fn(context.Background(), in)
	if err != nil {
		t.Fatalf("final export failed: %v", err)
	}
	deck := out.(*FinalDeck)
	if deck.Title != "Revenue deck" {
		t.Fatalf("deck title = %q", deck.Title)
	}
	if len(deck.Slides) != 2 {
		t.Fatalf("slides = %d, want 2", len(deck.Slides))
	}
	if len(deck.Slides[1].Charts) != 1 {
		t.Fatalf("slide 1 charts = %d, want 1", len(deck.Slides[1].Charts))
	}
	if deck.Slides[0].Bullets[0] != "revenue grew" {
		t.Fatalf("slide 0 bullets = %v", deck.Slides[0].Bullets)
	}
}
