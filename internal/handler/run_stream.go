package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"fundopt/internal/engine"
	"fundopt/internal/models"
	"fundopt/internal/repository"
)

// RunStreamHandler pushes run progress over a websocket so the dashboard can
// render live rollout counts instead of polling. The stream closes once the
// run reaches a terminal state.
type RunStreamHandler struct {
	Repo   repository.Repository
	Hub    *engine.ProgressHub
	Logger *zap.Logger
}

func (h *RunStreamHandler) Register(r *gin.Engine) {
	r.GET("/fund/optimize/:run_id/stream", h.stream)
}

func (h *RunStreamHandler) stream(c *gin.Context) {
	if h.Repo == nil || h.Hub == nil {
		Error(c, http.StatusInternalServerError, "stream unavailable", nil)
		return
	}
	runID := strings.TrimSpace(c.Param("run_id"))
	if runID == "" {
		Error(c, http.StatusBadRequest, "run_id required", nil)
		return
	}
	run, err := h.Repo.GetRunByID(c.Request.Context(), runID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if run == nil {
		Error(c, http.StatusNotFound, "run not found", nil)
		return
	}

	// Subscribe before accepting so no event is lost in between.
	events, unsubscribe := h.Hub.Subscribe(runID, 32)
	defer unsubscribe()

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket accept failed", zap.String("run_id", runID), zap.Error(err))
		}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx := c.Request.Context()

	// Current status first; a terminal run streams one event and closes.
	first := engine.ProgressEvent{RunID: run.ID, Status: run.Status, At: time.Now().UTC()}
	if err := writeEvent(ctx, conn, first); err != nil {
		return
	}
	if run.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}
			if ev.Status == models.RunStatusCompleted || ev.Status == models.RunStatusFailed {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev engine.ProgressEvent) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}
