package handler

import (
	"log/slog"
	"net/http"

	"stagehand/internal/domain/services"
	"stagehand/internal/httputil"
)

// AssistantHandler serves the seeded assistant roster
type AssistantHandler struct {
	assistantService services.AssistantService
	logger           *slog.Logger
}

// NewAssistantHandler creates a new assistant handler
func NewAssistantHandler(assistantService services.AssistantService, logger *slog.Logger) *AssistantHandler {
	return &AssistantHandler{
		assistantService: assistantService,
		logger:           logger,
	}
}

// ListAssistants retrieves all assistants
// GET /api/assistants
func (h *AssistantHandler) ListAssistants(w http.ResponseWriter, r *http.Request) {
	assistants, err := h.assistantService.ListAssistants(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, assistants)
}

// GetAssistant retrieves an assistant by ID
// GET /api/assistants/{id}
func (h *AssistantHandler) GetAssistant(w http.ResponseWriter, r *http.Request) {
	assistantID, ok := PathParam(w, r, "id", "Assistant ID")
	if !ok {
		return
	}

	assistant, err := h.assistantService.GetAssistant(r.Context(), assistantID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, assistant)
}
