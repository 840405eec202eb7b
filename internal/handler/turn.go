package handler

import (
	"log/slog"
	"net/http"

	"stagehand/internal/domain/services"
	"stagehand/internal/httputil"
)

// TurnHandler handles turn forest HTTP requests: reads, user turn
// insertion, edits, cascade deletes, the active pointer, and sibling
// navigation.
type TurnHandler struct {
	turnService services.TurnService
	logger      *slog.Logger
}

// NewTurnHandler creates a new turn handler
func NewTurnHandler(turnService services.TurnService, logger *slog.Logger) *TurnHandler {
	return &TurnHandler{
		turnService: turnService,
		logger:      logger,
	}
}

// ListTurns returns the production's forest as a flat list, or one
// sibling group when the parent query parameter is present.
// GET /api/productions/{id}/turns
// GET /api/productions/{id}/turns?parent={turnID}
// GET /api/productions/{id}/turns?parent=root
func (h *TurnHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	productionID, ok := PathParam(w, r, "id", "Production ID")
	if !ok {
		return
	}

	if !r.URL.Query().Has("parent") {
		turns, err := h.turnService.ListTurns(r.Context(), productionID)
		if err != nil {
			handleError(w, err)
			return
		}
		httputil.RespondJSON(w, http.StatusOK, turns)
		return
	}

	var parentID *string
	if parent := r.URL.Query().Get("parent"); parent != "" && parent != "root" {
		parentID = &parent
	}

	children, err := h.turnService.GetChildren(r.Context(), productionID, parentID)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, children)
}

// CreateUserTurn inserts a user turn under the active turn
// POST /api/productions/{id}/turns
func (h *TurnHandler) CreateUserTurn(w http.ResponseWriter, r *http.Request) {
	productionID, ok := PathParam(w, r, "id", "Production ID")
	if !ok {
		return
	}

	var req services.CreateUserTurnRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ProductionID = productionID

	turn, err := h.turnService.CreateUserTurn(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, turn)
}

// GetActiveTurn returns the production's active turn, or 204 when the
// forest is empty.
// GET /api/productions/{id}/active-turn
func (h *TurnHandler) GetActiveTurn(w http.ResponseWriter, r *http.Request) {
	productionID, ok := PathParam(w, r, "id", "Production ID")
	if !ok {
		return
	}

	turn, err := h.turnService.GetActiveTurn(r.Context(), productionID)
	if err != nil {
		handleError(w, err)
		return
	}
	if turn == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, turn)
}

// SetActiveTurn points the production at an existing turn
// PUT /api/productions/{id}/active-turn
func (h *TurnHandler) SetActiveTurn(w http.ResponseWriter, r *http.Request) {
	productionID, ok := PathParam(w, r, "id", "Production ID")
	if !ok {
		return
	}

	var req struct {
		TurnID string `json:"turn_id"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.turnService.SetActiveTurn(r.Context(), productionID, req.TurnID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Navigate steps the view to an adjacent sibling branch
// POST /api/productions/{id}/navigate
func (h *TurnHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	productionID, ok := PathParam(w, r, "id", "Production ID")
	if !ok {
		return
	}

	var req services.NavigateRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ProductionID = productionID

	turn, err := h.turnService.Navigate(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	if turn == nil {
		// Empty forest: nothing to navigate
		w.WriteHeader(http.StatusNoContent)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, turn)
}

// UpdateTurn patches a turn's content or attribution
// PATCH /api/turns/{id}
func (h *TurnHandler) UpdateTurn(w http.ResponseWriter, r *http.Request) {
	turnID, ok := PathParam(w, r, "id", "Turn ID")
	if !ok {
		return
	}

	var req services.UpdateTurnRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	turn, err := h.turnService.UpdateTurn(r.Context(), turnID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, turn)
}

// DeleteTurn deletes a turn and its descendants
// DELETE /api/turns/{id}
func (h *TurnHandler) DeleteTurn(w http.ResponseWriter, r *http.Request) {
	turnID, ok := PathParam(w, r, "id", "Turn ID")
	if !ok {
		return
	}

	result, err := h.turnService.DeleteTurn(r.Context(), turnID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}
