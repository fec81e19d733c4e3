package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/slidesmith/deckgen-backend/internal/data/repos/decks"
	"github.com/slidesmith/deckgen-backend/internal/data/repos/stages"
	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/jobs/runtime"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

// deckMirror maps stage names to the deck column their output is copied into
// after the stage store write. The stage store stays the source of truth; the
// mirrors exist so a deck read alone can render the latest artifacts.
var deckMirror = map[string]string{
	StageFirstPassAnalysis: "insights",
	StageSlideStructure:    "outline",
	StageChartGeneration:   "chart_data",
	StageFinalExport:       "final_deck",
}

// Orchestrator is the deck_generate job handler. It runs the configured
// stage list strictly in order: a stage starts only after its predecessor's
// output is durably saved, and the first failure stops the run.
type Orchestrator struct {
	db      *gorm.DB
	log     *logger.Logger
	decks   decks.DeckRepo
	stages  stages.StageRepo
	funcs   map[string]StageFunc
	names   []string
	weights map[string]int
	timeout time.Duration
}

func NewOrchestrator(
	db *gorm.DB,
	baseLog *logger.Logger,
	deckRepo decks.DeckRepo,
	stageRepo stages.StageRepo,
	funcs map[string]StageFunc,
	names []string,
	stageTimeout time.Duration,
) *Orchestrator {
	if len(names) == 0 {
		names = DefaultStageNames
	}
	return &Orchestrator{
		db:      db,
		log:     baseLog.With("component", "PipelineOrchestrator"),
		decks:   deckRepo,
		stages:  stageRepo,
		funcs:   funcs,
		names:   names,
		weights: Weights(names),
		timeout: stageTimeout,
	}
}

func (o *Orchestrator) Type() string { return domain.JobTypeDeckGenerate }

func (o *Orchestrator) Run(jc *runtime.Context) error {
	ctx := jc.Ctx
	dbc := dbctx.Context{Ctx: ctx}

	deckID, ok := jc.PayloadUUID("deck_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing deck_id"))
		return nil
	}

	// Pre-stage failures are recorded against the first stage so the stage
	// store (and the progress stream reading it) sees a failed record rather
	// than an empty deck that never moves.
	stage0 := o.names[0]

	deck, err := o.decks.GetByID(dbc, deckID)
	if err != nil {
		o.failStage(dbc, jc, deckID, stage0, fmt.Errorf("load deck: %w", err))
		return nil
	}
	if deck == nil {
		// Enqueue never validated the deck; this is where a bad id surfaces.
		o.failStage(dbc, jc, deckID, stage0, fmt.Errorf("deck not found"))
		return nil
	}

	if !hasDataSources(deck.DataSources) {
		o.failStage(dbc, jc, deckID, stage0, fmt.Errorf("deck has no data sources"))
		return nil
	}

	userContext, _ := jc.Payload()["context"].(string)

	if err := o.decks.UpdateFields(dbc, deckID, map[string]interface{}{
		"status":        domain.DeckStatusProcessing,
		"error_message": "",
	}); err != nil {
		o.failStage(dbc, jc, deckID, stage0, fmt.Errorf("mark deck processing: %w", err))
		return nil
	}

	o.log.Info("Pipeline started", "deck_id", deckID, "job_id", jc.Job.ID, "stages", len(o.names))

	outputs := make(map[string]json.RawMessage, len(o.names))
	prev := 0

	for _, name := range o.names {
		fn, ok := o.funcs[name]
		if !ok {
			o.failStage(dbc, jc, deckID, name, fmt.Errorf("no stage function registered for %s", name))
			return nil
		}

		if err := o.stages.MarkStatus(dbc, deckID, name, domain.StageStatusProcessing, nil); err != nil {
			o.failStage(dbc, jc, deckID, name, fmt.Errorf("mark stage processing: %w", err))
			return nil
		}
		prev = ProgressFor(o.weights, name, domain.StageStatusProcessing, prev)
		jc.Progress(name, prev, MessageFor(name))

		out, runErr := o.runStage(ctx, fn, &Input{
			DeckID:      deckID,
			Deck:        deck,
			UserContext: userContext,
			Outputs:     outputs,
		})
		if runErr != nil {
			o.failStage(dbc, jc, deckID, name, runErr)
			return nil
		}

		raw, err := json.Marshal(out)
		if err != nil {
			o.failStage(dbc, jc, deckID, name, fmt.Errorf("encode stage output: %w", err))
			return nil
		}

		// The next stage must not start unless this write succeeded.
		if _, err := o.stages.SaveStage(dbc, deckID, name, datatypes.JSON(raw)); err != nil {
			o.failStage(dbc, jc, deckID, name, fmt.Errorf("save stage output: %w", err))
			return nil
		}
		if col, mirrored := deckMirror[name]; mirrored {
			if err := o.decks.UpdateFields(dbc, deckID, map[string]interface{}{col: datatypes.JSON(raw)}); err != nil {
				o.log.Warn("Deck mirror update failed", "deck_id", deckID, "stage", name, "error", err)
			}
		}
		outputs[name] = raw

		prev = ProgressFor(o.weights, name, domain.StageStatusCompleted, prev)
		jc.Progress(name, prev, MessageFor(name))
	}

	if err := o.decks.UpdateFields(dbc, deckID, map[string]interface{}{
		"status": domain.DeckStatusCompleted,
	}); err != nil {
		o.log.Warn("Deck completion update failed", "deck_id", deckID, "error", err)
	}

	final := o.names[len(o.names)-1]
	jc.Succeed(final, map[string]any{
		"deck_id": deckID.String(),
		"stages":  o.names,
	})
	o.log.Info("Pipeline completed", "deck_id", deckID, "job_id", jc.Job.ID)
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, fn StageFunc, in *Input) (any, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	return fn(ctx, in)
}

// failStage records the failure everywhere a reader might look: the stage
// record, the deck, and the job run. The job's failed_reason carries the
// stage error verbatim.
func (o *Orchestrator) failStage(dbc dbctx.Context, jc *runtime.Context, deckID uuid.UUID, name string, cause error) {
	o.log.Warn("Pipeline stage failed", "deck_id", deckID, "stage", name, "error", cause)
	if err := o.stages.MarkStatus(dbc, deckID, name, domain.StageStatusFailed, map[string]any{
		"message": cause.Error(),
	}); err != nil {
		o.log.Warn("Stage failure record write failed", "deck_id", deckID, "stage", name, "error", err)
	}
	if err := o.decks.UpdateFields(dbc, deckID, map[string]interface{}{
		"status":        domain.DeckStatusError,
		"error_message": cause.Error(),
	}); err != nil {
		o.log.Warn("Deck error update failed", "deck_id", deckID, "error", err)
	}
	jc.Fail(name, cause)
}

func hasDataSources(raw datatypes.JSON) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return false
	}
	return len(rows) > 0
}
