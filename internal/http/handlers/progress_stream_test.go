package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/deckgen-backend/internal/domain"
	"github.com/slidesmith/deckgen-backend/internal/platform/dbctx"
	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
	"github.com/slidesmith/deckgen-backend/internal/services"
)

type fakeDeckService struct {
	owned bool
	err   error
}

func (f *fakeDeckService) CreateForRequestUser(dbc dbctx.Context, title string, dataSources []map[string]any) (*domain.Deck, error) {
	return nil, nil
}

func (f *fakeDeckService) GetForRequestUser(dbc dbctx.Context, deckID uuid.UUID) (*domain.Deck, error) {
	return nil, nil
}

func (f *fakeDeckService) OwnedByRequestUser(dbc dbctx.Context, deckID uuid.UUID) (bool, error) {
	return f.owned, f.err
}

// fakeStageService serves a scripted sequence of progress snapshots, one per
// poll; the last snapshot repeats.
type fakeStageService struct {
	mu        sync.Mutex
	snapshots [][]services.StageProgress
	calls     int
}

func (f *fakeStageService) Progress(dbc dbctx.Context, deckID uuid.UUID) ([]services.StageProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	f.calls++
	return f.snapshots[idx], nil
}

func (f *fakeStageService) Save(dbc dbctx.Context, deckID uuid.UUID, name string, data any) (*domain.PipelineStage, error) {
	return nil, nil
}

func (f *fakeStageService) Get(dbc dbctx.Context, deckID uuid.UUID, name string) (*domain.PipelineStage, error) {
	return nil, nil
}

func (f *fakeStageService) GetAll(dbc dbctx.Context, deckID uuid.UUID) (map[string]*domain.PipelineStage, error) {
	return nil, nil
}

func (f *fakeStageService) SaveBatch(dbc dbctx.Context, deckID uuid.UUID, batch map[string]any) error {
	return nil
}

func (f *fakeStageService) Clear(dbc dbctx.Context, deckID uuid.UUID) error {
	return nil
}

func streamRouter(t *testing.T, decks services.DeckService, stages services.StageService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	h := NewProgressStreamHandler(log, decks, stages, 5*time.Millisecond)
	r := gin.New()
	r.GET("/decks/:id/progress-stream", h.Stream)
	return r
}

func eventOrder(t *testing.T, body string, events ...string) {
	t.Helper()
	last := -1
	for _, ev := range events {
		marker := "event: " + ev
		idx := strings.Index(body, marker)
		if idx < 0 {
			t.Fatalf("missing %q in stream:\n%s", marker, body)
		}
		if idx < last {
			t.Fatalf("%q out of order in stream:\n%s", marker, body)
		}
		last = idx
	}
}

func TestStreamEmitsOrderedEventsAndCompletes(t *testing.T) {
	now := time.Now()
	rows := []services.StageProgress{
		{Stage: "data_intake", Status: domain.StageStatusCompleted, Progress: 5, UpdatedAt: now},
		{Stage: "final_export", Status: domain.StageStatusCompleted, Progress: 100, UpdatedAt: now.Add(time.Second)},
	}
	r := streamRouter(t,
		&fakeDeckService{owned: true},
		&fakeStageService{snapshots: [][]services.StageProgress{rows}},
	)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/decks/"+uuid.New().String()+"/progress-stream", nil)
	r.ServeHTTP(w, req)

	body := w.Body.String()
	eventOrder(t, body, "connected", "progress", "stage-complete", "complete")
	if !strings.Contains(body, `"stage":"data_intake"`) {
		t.Fatalf("missing data_intake progress event:\n%s", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestStreamStopsOnFailedStage(t *testing.T) {
	now := time.Now()
	rows := []services.StageProgress{
		{Stage: "data_intake", Status: domain.StageStatusCompleted, Progress: 5, UpdatedAt: now},
		{Stage: "first_pass_analysis", Status: domain.StageStatusFailed, Progress: 5, Message: "model returned no insights", UpdatedAt: now.Add(time.Second)},
		{Stage: "final_export", Status: domain.StageStatusPending},
	}
	r := streamRouter(t,
		&fakeDeckService{owned: true},
		&fakeStageService{snapshots: [][]services.StageProgress{rows}},
	)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/decks/"+uuid.New().String()+"/progress-stream", nil)
	r.ServeHTTP(w, req)

	body := w.Body.String()
	eventOrder(t, body, "connected", "progress", "error")
	if strings.Contains(body, "event: complete") {
		t.Fatalf("failed run emitted complete:\n%s", body)
	}
	if !strings.Contains(body, "model returned no insights") {
		t.Fatalf("error event lost the failure message:\n%s", body)
	}
}

func TestStreamRejectsForeignDeck(t *testing.T) {
	r := streamRouter(t,
		&fakeDeckService{owned: false},
		&fakeStageService{snapshots: [][]services.StageProgress{nil}},
	)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/decks/"+uuid.New().String()+"/progress-stream", nil)
	r.ServeHTTP(w, req)

	if w.Code != 404 {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not_found") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestStreamEndsWhenClientDisconnects(t *testing.T) {
	// all stages pending with zero updated_at: nothing ever fires, the loop
	// must exit on context cancellation alone
	rows := []services.StageProgress{
		{Stage: "data_intake", Status: domain.StageStatusPending},
		{Stage: "final_export", Status: domain.StageStatusPending},
	}
	r := streamRouter(t,
		&fakeDeckService{owned: true},
		&fakeStageService{snapshots: [][]services.StageProgress{rows}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/decks/"+uuid.New().String()+"/progress-stream", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not terminate after client disconnect")
	}

	body := w.Body.String()
	eventOrder(t, body, "connected")
	if strings.Contains(body, "event: progress") {
		t.Fatalf("pending-only snapshot emitted progress:\n%s", body)
	}
}
