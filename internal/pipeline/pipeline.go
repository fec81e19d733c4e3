package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/slidesmith/deckgen-backend/internal/domain"
)

// Input is what a stage function sees: the deck, the caller's free-text
// context, and the raw JSON output of every stage that completed before it.
type Input struct {
	DeckID      uuid.UUID
	Deck        *domain.Deck
	UserContext string
	Outputs     map[string]json.RawMessage
}

// Output looks up and decodes a prior stage's output.
func (in *Input) Output(stage string, v any) error {
	raw, ok := in.Outputs[stage]
	if !ok {
		return fmt.Errorf("missing output for stage %s", stage)
	}
	return json.Unmarshal(raw, v)
}

// StageFunc produces one stage's output. The returned value is marshaled and
// written to the stage store verbatim; returning an error halts the pipeline.
type StageFunc func(ctx context.Context, in *Input) (any, error)

// ValidationError marks a failure of a stage's own output contract, as
// opposed to a transport or storage error. LLM-backed stages return it for
// malformed or mis-shaped model output so garbage never flows downstream.
type ValidationError struct {
	Stage   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func NewValidationError(stage, format string, args ...any) *ValidationError {
	return &ValidationError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}
