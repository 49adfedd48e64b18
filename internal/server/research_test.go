package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/vibecoder/research-engine/config"
	"github.com/vibecoder/research-engine/internal/session"
	"github.com/vibecoder/research-engine/internal/telemetry"
)

// stubPipeline fills the session the way a successful run would, without
// touching any model.
type stubPipeline struct {
	report string
	err    error
}

func (p *stubPipeline) Run(_ context.Context, sess *session.Session, topic string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	sess.Set("research_topic", topic)
	sess.UpdateRegistry(func(urlToShortID map[string]string, sources map[string]*session.SourceInfo) {
		urlToShortID["https://example.com/a"] = "src-1"
		sources["src-1"] = &session.SourceInfo{
			ShortID: "src-1", Title: "Example A", URL: "https://example.com/a", Domain: "example.com",
		}
	})
	sess.SetFinalReportWithCitations(p.report)
	return p.report, nil
}

func testHandler(p PipelineRunner) (*ResearchHandler, *echo.Echo) {
	h := &ResearchHandler{
		Pipeline:  p,
		Sessions:  session.NewInMemoryStore(0),
		Telemetry: telemetry.New(config.TelemetryConfig{}),
		Logger:    log.New(io.Discard, "", 0),
	}
	e := echo.New()
	h.Register(e.Group("/api"))
	return h, e
}

func doJSON(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRunResearchReturnsReportAndSources(t *testing.T) {
	_, e := testHandler(&stubPipeline{report: "Report [Example A](https://example.com/a)."})

	rec := doJSON(e, http.MethodPost, "/api/research", `{"topic":"solar sails"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		SessionID string                         `json:"session_id"`
		Report    string                         `json:"report"`
		Sources   map[string]*session.SourceInfo `json:"sources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("missing session id")
	}
	if resp.Report != "Report [Example A](https://example.com/a)." {
		t.Fatalf("unexpected report: %q", resp.Report)
	}
	if src, ok := resp.Sources["src-1"]; !ok || src.URL != "https://example.com/a" {
		t.Fatalf("sources missing from response: %+v", resp.Sources)
	}
}

func TestRunResearchRejectsEmptyTopic(t *testing.T) {
	_, e := testHandler(&stubPipeline{})

	for _, body := range []string{`{}`, `{"topic":"   "}`} {
		rec := doJSON(e, http.MethodPost, "/api/research", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status %d, want 400", body, rec.Code)
		}
	}
}

func TestRunResearchPipelineFailure(t *testing.T) {
	_, e := testHandler(&stubPipeline{err: errors.New("model unavailable")})

	rec := doJSON(e, http.MethodPost, "/api/research", `{"topic":"solar sails"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status %d, want 502", rec.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	_, e := testHandler(&stubPipeline{})

	rec := doJSON(e, http.MethodGet, "/api/sessions/unknown", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestGetSessionAndSources(t *testing.T) {
	h, e := testHandler(&stubPipeline{})
	sess, err := h.Sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sess.UpdateRegistry(func(urlToShortID map[string]string, sources map[string]*session.SourceInfo) {
		urlToShortID["https://example.com/a"] = "src-1"
		sources["src-1"] = &session.SourceInfo{ShortID: "src-1", URL: "https://example.com/a"}
	})

	rec := doJSON(e, http.MethodGet, "/api/sessions/"+sess.ID(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: status %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/api/sessions/"+sess.ID()+"/sources", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get sources: status %d", rec.Code)
	}
	var sources struct {
		URLToShortID map[string]string              `json:"url_to_short_id"`
		Sources      map[string]*session.SourceInfo `json:"sources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sources); err != nil {
		t.Fatalf("decode sources: %v", err)
	}
	if sources.URLToShortID["https://example.com/a"] != "src-1" {
		t.Fatalf("unexpected sources payload: %+v", sources)
	}
}

func TestDeleteSession(t *testing.T) {
	h, e := testHandler(&stubPipeline{})
	sess, err := h.Sessions.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := doJSON(e, http.MethodDelete, "/api/sessions/"+sess.ID(), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d, want 204", rec.Code)
	}
	if _, err := h.Sessions.Get(context.Background(), sess.ID()); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("session still present after delete: %v", err)
	}
}

func TestCORSAllowList(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{
		AllowedOrigins: []string{"https://vibe-agent-final.web.app"},
	}}
	e := newEcho(cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/research", nil)
	req.Header.Set(echo.HeaderOrigin, "https://vibe-agent-final.web.app")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "https://vibe-agent-final.web.app" {
		t.Fatalf("allowed origin not echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/research", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
		t.Fatalf("disallowed origin granted access: %q", got)
	}
}

func TestCORSAllowsAnyRequestedHeader(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{
		AllowedOrigins: []string{"https://vibe-agent-final.web.app"},
	}}
	e := newEcho(cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/research", nil)
	req.Header.Set(echo.HeaderOrigin, "https://vibe-agent-final.web.app")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	req.Header.Set(echo.HeaderAccessControlRequestHeaders, "X-Request-Trace, Content-Type")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "https://vibe-agent-final.web.app" {
		t.Fatalf("allowed origin not echoed, got %q", got)
	}
	allowed := rec.Header().Get(echo.HeaderAccessControlAllowHeaders)
	if !strings.Contains(allowed, "X-Request-Trace") {
		t.Fatalf("requested header not allowed in preflight: %q", allowed)
	}
}

func TestHealthz(t *testing.T) {
	e := newEcho(&config.Config{})
	rec := doJSON(e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
