package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"fundopt/internal/engine"
	"fundopt/internal/models"
)

func newStreamServer(repo *stubRepo, hub *engine.ProgressHub) *httptest.Server {
	r := gin.New()
	(&RunStreamHandler{Repo: repo, Hub: hub}).Register(r)
	return httptest.NewServer(r)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestRunStream_TerminalRunStreamsOnceAndCloses(t *testing.T) {
	repo := newStubRepo()
	hub := engine.NewProgressHub()
	runID := uuid.NewString()
	repo.runs[runID] = &models.OptimizationRun{ID: runID, FundID: testFundID, Status: models.RunStatusCompleted}

	srv := newStreamServer(repo, hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/fund/optimize/"+runID+"/stream"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ev engine.ProgressEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.RunID != runID || ev.Status != models.RunStatusCompleted {
		t.Fatalf("event=%+v", ev)
	}
	// The server ends the stream after the terminal event.
	if err := wsjson.Read(ctx, conn, &ev); err == nil {
		t.Fatal("stream should close after a terminal event")
	}
}

func TestRunStream_ForwardsProgress(t *testing.T) {
	repo := newStubRepo()
	hub := engine.NewProgressHub()
	runID := uuid.NewString()
	repo.runs[runID] = &models.OptimizationRun{ID: runID, FundID: testFundID, Status: models.RunStatusRunning}

	srv := newStreamServer(repo, hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv, "/fund/optimize/"+runID+"/stream"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ev engine.ProgressEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read current status: %v", err)
	}
	if ev.Status != models.RunStatusRunning {
		t.Fatalf("first event=%+v want running", ev)
	}

	hub.Publish(engine.ProgressEvent{RunID: runID, Status: models.RunStatusRunning, RolloutsDone: 10, Rollouts: 64})
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read progress: %v", err)
	}
	if ev.RolloutsDone != 10 || ev.Rollouts != 64 {
		t.Fatalf("progress event=%+v", ev)
	}

	hub.Publish(engine.ProgressEvent{RunID: runID, Status: models.RunStatusCompleted})
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read terminal: %v", err)
	}
	if ev.Status != models.RunStatusCompleted {
		t.Fatalf("terminal event=%+v", ev)
	}
}

func TestRunStream_UnknownRun(t *testing.T) {
	srv := newStreamServer(newStubRepo(), engine.NewProgressHub())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/fund/optimize/" + uuid.NewString() + "/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}
}
