// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libracheck/internal/errs"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the copy endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/copies", h.handleAddCopy)
	r.Get("/copies", h.handleListCopies)
	r.Get("/copies/{id}", h.handleGetCopy)
}

func (h *Handler) handleAddCopy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     string          `json:"title"`
		Author    string          `json:"author"`
		ISBN      string          `json:"isbn"`
		UnitPrice decimal.Decimal `json:"unit_price"`
		Stock     int             `json:"stock"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := h.service.AddCopy(r.Context(), req.Title, req.Author, req.ISBN, req.UnitPrice, req.Stock)
	if err != nil {
		errs.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

func (h *Handler) handleListCopies(w http.ResponseWriter, r *http.Request) {
	copies, err := h.service.ListCopies(r.Context())
	if err != nil {
		errs.Write(w, err)
		return
	}
	if copies == nil {
		copies = []*Copy{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(copies)
}

func (h *Handler) handleGetCopy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.Write(w, fmt.Errorf("invalid copy ID: %w", errs.ErrInvalid))
		return
	}

	c, err := h.service.GetCopy(r.Context(), id)
	if err != nil {
		errs.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}
