package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"stagehand/internal/domain/models"
	"stagehand/internal/handler/sse"
	"stagehand/internal/service/streaming"
)

// lockedKeepAlive serializes keep-alive pings with event writes; the
// ResponseWriter is not safe for concurrent use.
type lockedKeepAlive struct {
	mu *sync.Mutex
	w  sse.KeepAliveWriter
}

func (l lockedKeepAlive) WriteKeepAlive() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.WriteKeepAlive()
}

// StreamHandler serves the SSE attach endpoint for live generations
type StreamHandler struct {
	registry *streaming.Registry
	config   *sse.Config
	logger   *slog.Logger
}

// NewStreamHandler creates a new SSE stream handler
func NewStreamHandler(registry *streaming.Registry, config *sse.Config, logger *slog.Logger) *StreamHandler {
	if config == nil {
		config = sse.DefaultConfig()
	}
	return &StreamHandler{
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// StreamTurn attaches a client to a turn's generation stream
// GET /api/turns/{id}/stream
//
// Clients attaching mid-stream receive a catchup replay first; clients
// attaching shortly after the generation ended receive the replay plus
// the terminal event and then the connection closes.
func (h *StreamHandler) StreamTurn(w http.ResponseWriter, r *http.Request) {
	turnID, ok := PathParam(w, r, "id", "Turn ID")
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var writeMu sync.Mutex
	send := func(event string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := fmt.Fprint(w, event); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	executor, found := h.registry.Lookup(turnID)
	if !found {
		// Establish the SSE stream, deliver the error as an event, close.
		// A plain 404 would surface as a generic EventSource failure.
		event, err := models.NewTurnErrorEvent(turnID, "streaming not active for this turn", false)
		if err == nil {
			_ = send(event)
		}
		return
	}

	clientID := uuid.New().String()
	h.logger.Debug("SSE client attaching",
		"turn_id", turnID,
		"client_id", clientID,
	)

	eventChan, finished, err := executor.Attach(clientID, send)
	defer executor.RemoveClient(clientID)
	if err != nil {
		h.logger.Debug("SSE replay aborted",
			"turn_id", turnID,
			"client_id", clientID,
			"error", err,
		)
		return
	}
	if finished {
		return
	}

	// Keep-alive pings defeat idle timeouts in proxies between us and the
	// client while the provider is thinking.
	keepAlive := sse.NewTickerKeepAlive(h.config.KeepAliveInterval)
	keepAliveStopped := keepAlive.Start(lockedKeepAlive{
		mu: &writeMu,
		w:  sse.NewSSEKeepAliveWriter(w, flusher),
	}, h.logger)
	defer keepAlive.Stop()

	for {
		select {
		case event, open := <-eventChan:
			if !open {
				// Terminal event already delivered; stream is over
				return
			}
			if err := send(event); err != nil {
				h.logger.Debug("SSE client write failed",
					"turn_id", turnID,
					"client_id", clientID,
					"error", err,
				)
				return
			}

		case <-keepAliveStopped:
			// Keep-alive write failed: connection is dead
			return

		case <-r.Context().Done():
			return
		}
	}
}
