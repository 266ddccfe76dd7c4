package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arch-studio/engine/internal/api/middleware"
	"github.com/arch-studio/engine/internal/notify"
	"github.com/arch-studio/engine/internal/services"
	"github.com/arch-studio/engine/pkg/logger"
)

const wsWriteWait = 10 * time.Second

// EventsHandler streams run events over SSE or a websocket. Every stream opens with
// the current run.status and carries a heartbeat while idle.
type EventsHandler struct {
	runs      services.RunService
	sub       notify.Subscriber
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

func NewEventsHandler(runs services.RunService, sub notify.Subscriber, heartbeat time.Duration, origins string) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &EventsHandler{
		runs:      runs,
		sub:       sub,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func originChecker(origins string) func(r *http.Request) bool {
	allowed := map[string]bool{}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}

// Stream serves text/event-stream.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	runID, err := uuidParam(r, "runID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := h.runs.GetRun(r.Context(), runID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	events, cancel := h.sub.Subscribe(runID.String())
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log := logger.From(r.Context()).With(zap.String("run_id", runID.String()))
	log.Info("event stream opened", zap.String("transport", "sse"))
	defer log.Info("event stream closed", zap.String("transport", "sse"))

	send := func(e notify.Event) bool {
		b, err := json.Marshal(e)
		if err != nil {
			log.Warn("encode event failed", zap.Error(err))
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return false
		}
		return rc.Flush() == nil
	}

	if !send(notify.NewEvent(notify.RunStatus, runID.String(), services.StatusOf(run))) {
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok || !send(e) {
				return
			}
		case <-ticker.C:
			if !send(notify.NewEvent(notify.Heartbeat, runID.String(), nil)) {
				return
			}
		}
	}
}

// Socket mirrors Stream over a websocket. Client frames are read and discarded.
func (h *EventsHandler) Socket(w http.ResponseWriter, r *http.Request) {
	runID, err := uuidParam(r, "runID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	run, err := h.runs.GetRun(r.Context(), runID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		logger.From(r.Context()).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.sub.Subscribe(runID.String())
	defer cancel()

	log := logger.From(r.Context()).With(zap.String("run_id", runID.String()))
	log.Info("event stream opened", zap.String("transport", "websocket"))
	defer log.Info("event stream closed", zap.String("transport", "websocket"))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(e notify.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(e) == nil
	}

	if !send(notify.NewEvent(notify.RunStatus, runID.String(), services.StatusOf(run))) {
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok || !send(e) {
				return
			}
		case <-ticker.C:
			if !send(notify.NewEvent(notify.Heartbeat, runID.String(), nil)) {
				return
			}
		}
	}
}
