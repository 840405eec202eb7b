package handler

import (
	"log/slog"
	"net/http"

	"stagehand/internal/domain/services"
	"stagehand/internal/httputil"
)

// CompletionHandler handles assistant turn generation requests
type CompletionHandler struct {
	completionService services.CompletionService
	logger            *slog.Logger
}

// NewCompletionHandler creates a new completion handler
func NewCompletionHandler(completionService services.CompletionService, logger *slog.Logger) *CompletionHandler {
	return &CompletionHandler{
		completionService: completionService,
		logger:            logger,
	}
}

// CreateAssistantTurn creates a streaming placeholder and starts
// generation in the background. Posting the same parent again creates a
// sibling, which is how regeneration works.
// POST /api/productions/{id}/completions
func (h *CompletionHandler) CreateAssistantTurn(w http.ResponseWriter, r *http.Request) {
	productionID, ok := PathParam(w, r, "id", "Production ID")
	if !ok {
		return
	}

	var req services.CreateAssistantTurnRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ProductionID = productionID

	response, err := h.completionService.CreateAssistantTurn(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, response)
}

// InterruptTurn cancels the live generation targeting a turn
// POST /api/turns/{id}/interrupt
func (h *CompletionHandler) InterruptTurn(w http.ResponseWriter, r *http.Request) {
	turnID, ok := PathParam(w, r, "id", "Turn ID")
	if !ok {
		return
	}

	if err := h.completionService.InterruptTurn(r.Context(), turnID); err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, map[string]string{
		"status":  "interrupting",
		"turn_id": turnID,
	})
}
