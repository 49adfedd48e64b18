package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vibecoder/research-engine/internal/session"
	"github.com/vibecoder/research-engine/internal/telemetry"
)

// PipelineRunner executes the research pipeline for one topic against a
// session. Satisfied by *agent.Pipeline.
type PipelineRunner interface {
	Run(ctx context.Context, sess *session.Session, topic string) (string, error)
}

// ResearchHandler serves the research API.
type ResearchHandler struct {
	Pipeline  PipelineRunner
	Sessions  session.Store
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
}

// Register mounts the research routes on the given group.
func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/research", h.runResearch)
	g.GET("/sessions/:id", h.getSession)
	g.GET("/sessions/:id/sources", h.getSources)
	g.DELETE("/sessions/:id", h.deleteSession)
	g.GET("/ops/metrics", h.getMetrics)
}

type researchRequest struct {
	Topic string `json:"topic"`
}

type researchResponse struct {
	SessionID string                         `json:"session_id"`
	Report    string                         `json:"report"`
	Sources   map[string]*session.SourceInfo `json:"sources"`
}

// runResearch creates a session and executes the full pipeline for the
// requested topic. Execution is synchronous; the response carries the final
// report with resolved citations and the collected source registry.
func (h *ResearchHandler) runResearch(c echo.Context) error {
	var req researchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}

	ctx := c.Request().Context()
	sess, err := h.Sessions.Create(ctx)
	if err != nil {
		return err
	}

	report, err := h.Pipeline.Run(ctx, sess, req.Topic)
	if err != nil {
		// Keep the session around for inspection even when the run failed.
		if saveErr := h.Sessions.Save(ctx, sess); saveErr != nil {
			h.Logger.Printf("saving failed session %s: %v", sess.ID(), saveErr)
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	if err := h.Sessions.Save(ctx, sess); err != nil {
		h.Logger.Printf("saving session %s: %v", sess.ID(), err)
	}

	return c.JSON(http.StatusOK, researchResponse{
		SessionID: sess.ID(),
		Report:    report,
		Sources:   sess.Snapshot().Sources,
	})
}

func (h *ResearchHandler) getSession(c echo.Context) error {
	sess, err := h.lookupSession(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Snapshot())
}

func (h *ResearchHandler) getSources(c echo.Context) error {
	sess, err := h.lookupSession(c)
	if err != nil {
		return err
	}
	snap := sess.Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"url_to_short_id": snap.URLToShortID,
		"sources":         snap.Sources,
	})
}

func (h *ResearchHandler) deleteSession(c echo.Context) error {
	if err := h.Sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ResearchHandler) getMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"metrics": h.Telemetry.GetMetrics(),
		"costs":   h.Telemetry.GetCostSummary(),
	})
}

func (h *ResearchHandler) lookupSession(c echo.Context) (*session.Session, error) {
	sess, err := h.Sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return nil, err
	}
	return sess, nil
}
