package handler

import (
	"log/slog"
	"net/http"

	"stagehand/internal/domain/services"
	"stagehand/internal/httputil"
)

// ProductionHandler handles production HTTP requests
// Handlers only communicate with services, never repositories
type ProductionHandler struct {
	productionService services.ProductionService
	logger            *slog.Logger
}

// NewProductionHandler creates a new production handler
func NewProductionHandler(productionService services.ProductionService, logger *slog.Logger) *ProductionHandler {
	return &ProductionHandler{
		productionService: productionService,
		logger:            logger,
	}
}

// CreateProduction creates a new production
// POST /api/productions
func (h *ProductionHandler) CreateProduction(w http.ResponseWriter, r *http.Request) {
	var req services.CreateProductionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	production, err := h.productionService.CreateProduction(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, production)
}

// ListProductions retrieves all productions
// GET /api/productions
func (h *ProductionHandler) ListProductions(w http.ResponseWriter, r *http.Request) {
	productions, err := h.productionService.ListProductions(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, productions)
}

// GetProduction retrieves a production by ID, active turn pointer included
// GET /api/productions/{id}
func (h *ProductionHandler) GetProduction(w http.ResponseWriter, r *http.Request) {
	productionID, ok := PathParam(w, r, "id", "Production ID")
	if !ok {
		return
	}

	production, err := h.productionService.GetProduction(r.Context(), productionID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, production)
}

// DeleteProduction deletes a production and its whole forest
// DELETE /api/productions/{id}
func (h *ProductionHandler) DeleteProduction(w http.ResponseWriter, r *http.Request) {
	productionID, ok := PathParam(w, r, "id", "Production ID")
	if !ok {
		return
	}

	if err := h.productionService.DeleteProduction(r.Context(), productionID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
