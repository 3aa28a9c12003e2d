package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/moodlens/moodlens/internal/event"
	"github.com/moodlens/moodlens/internal/panel"
	"github.com/moodlens/moodlens/internal/panels"
	"github.com/moodlens/moodlens/internal/records"
)

type testValidator struct {
	validate *validator.Validate
}

func (v *testValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls int
	resp  panel.AnalyzerResponse
}

func (f *fakeAnalyzer) Analyze(context.Context, string, string) (panel.AnalyzerResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.resp, nil
}

type fakeStore struct {
	mu       sync.Mutex
	log      []panel.HistoryEntry
	appended []string
	upserted []panel.Config
}

func (s *fakeStore) ConversationLog(context.Context, string) ([]panel.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log, nil
}

func (s *fakeStore) GetResult(context.Context, string) (records.Result, error) {
	return records.Result{}, records.ErrNotFound
}

func (s *fakeStore) GetPanelConfig(context.Context, string) (panel.Config, error) {
	return panel.Config{}, records.ErrNotFound
}

func (s *fakeStore) UpsertPanelConfig(_ context.Context, _ string, cfg panel.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, cfg)
	return nil
}

func (s *fakeStore) AppendMessage(_ context.Context, _ string, _ string, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, content)
	return nil
}

type noopClock struct{}

func (noopClock) AfterFunc(time.Duration, func()) {}

func newPanelTestEnv(t *testing.T, store *fakeStore, analyzer panel.Analyzer) (*PanelHandler, *echo.Echo) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := event.NewHub(nil)
	hub.Start(ctx)

	service := panels.NewService(nil, hub, analyzer, store, panels.Options{
		Defaults: panel.Config{CalculateOnSessionEnd: true},
		Clock:    noopClock{},
	})
	service.Start(ctx)
	t.Cleanup(service.Close)

	e := echo.New()
	e.Validator = &testValidator{validate: validator.New()}
	return NewPanelHandler(slog.Default(), service), e
}

func newPanelContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("session")
	c.SetParamValues("33333333-3333-3333-3333-333333333333")
	return c, rec
}

func TestPanelGet(t *testing.T) {
	h, e := newPanelTestEnv(t, &fakeStore{}, &fakeAnalyzer{})

	c, rec := newPanelContext(e, http.MethodGet, "")
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}

	var snap panel.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot failed: %v", err)
	}
	if snap.State.Emotion != panel.EmotionUnknown {
		t.Fatalf("unexpected initial emotion: %q", snap.State.Emotion)
	}
	if snap.Display.Label != "Unknown" {
		t.Fatalf("unexpected display label: %q", snap.Display.Label)
	}
}

func TestPanelPutConfig(t *testing.T) {
	store := &fakeStore{}
	h, e := newPanelTestEnv(t, store, &fakeAnalyzer{})

	c, rec := newPanelContext(e, http.MethodPut, `{"calculate_every_message":true,"show_calculate_button":true}`)
	if err := h.PutConfig(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.upserted) != 1 {
		t.Fatalf("expected one upsert, got %d", len(store.upserted))
	}
	if !store.upserted[0].CalculateEveryMessage || store.upserted[0].CalculateOnSessionEnd {
		t.Fatalf("config not replaced wholesale: %+v", store.upserted[0])
	}
}

func TestPanelPostMessage(t *testing.T) {
	store := &fakeStore{}
	h, e := newPanelTestEnv(t, store, &fakeAnalyzer{})

	c, rec := newPanelContext(e, http.MethodPost, `{"author":"Alice","text":"hello there"}`)
	if err := h.PostMessage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.appended) != 1 || store.appended[0] != "hello there" {
		t.Fatalf("message not recorded: %v", store.appended)
	}
}

func TestPanelPostMessageMissingText(t *testing.T) {
	h, e := newPanelTestEnv(t, &fakeStore{}, &fakeAnalyzer{})

	c, _ := newPanelContext(e, http.MethodPost, `{"author":"Alice"}`)
	err := h.PostMessage(c)
	if err == nil {
		t.Fatal("expected validation error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPanelSimulateDoesNotPersist(t *testing.T) {
	store := &fakeStore{}
	h, e := newPanelTestEnv(t, store, &fakeAnalyzer{})

	c, rec := newPanelContext(e, http.MethodPost, `{"text":"synthetic"}`)
	if err := h.Simulate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.appended) != 0 {
		t.Fatalf("simulated message must not be recorded: %v", store.appended)
	}
}

func TestPanelEnd(t *testing.T) {
	h, e := newPanelTestEnv(t, &fakeStore{}, &fakeAnalyzer{})

	c, rec := newPanelContext(e, http.MethodPost, "")
	if err := h.End(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
}

func TestPanelCalculateWithoutTranscript(t *testing.T) {
	h, e := newPanelTestEnv(t, &fakeStore{}, &fakeAnalyzer{})

	c, _ := newPanelContext(e, http.MethodPost, "")
	err := h.Calculate(c)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPanelCalculateOverFetchedHistory(t *testing.T) {
	store := &fakeStore{log: []panel.HistoryEntry{{Author: "Alice", Content: "great session"}}}
	analyzer := &fakeAnalyzer{resp: panel.AnalyzerResponse{Emotion: "positive", Reason: "pleased"}}
	h, e := newPanelTestEnv(t, store, analyzer)

	// Prime the panel so the history fetch fills the buffer. The fetch runs
	// async on attach, so poll until the transcript lands.
	deadline := time.Now().Add(time.Second)
	for {
		c, rec := newPanelContext(e, http.MethodGet, "")
		if err := h.Get(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var snap panel.Snapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("decode snapshot failed: %v", err)
		}
		if snap.State.Text != "" && snap.State.Loaded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("history never reached the panel")
		}
		time.Sleep(10 * time.Millisecond)
	}

	c, rec := newPanelContext(e, http.MethodPost, "")
	if err := h.Calculate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var result panel.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result failed: %v", err)
	}
	if result.Emotion != panel.EmotionPositive {
		t.Fatalf("unexpected emotion: %q", result.Emotion)
	}
}

func TestPingHandler(t *testing.T) {
	h := NewPingHandler(slog.Default())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	if err := h.Ping(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
