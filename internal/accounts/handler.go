// internal/accounts/handler.go
package accounts

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

// Routes mounts the student and ledger endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/students", h.handleAddStudent)
	r.Get("/students/{id}", h.handleGetStudent)
	r.Get("/students/{id}/fines", h.handleGetFines)
	r.Delete("/students/{id}/fines", h.handleClearFines)
}

func (h *Handler) handleAddStudent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string   `json:"name"`
		StudentNumber  string   `json:"student_number"`
		GuardianEmails []string `json:"guardian_emails"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	student, err := h.service.AddStudent(r.Context(), req.Name, req.StudentNumber, req.GuardianEmails)
	if err != nil {
		errs.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(student)
}

func (h *Handler) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(w, r)
	if !ok {
		return
	}

	student, err := h.service.GetStudent(r.Context(), id)
	if err != nil {
		errs.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(student)
}

func (h *Handler) handleGetFines(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetOutstanding(r.Context(), id)
	if err != nil {
		errs.Write(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		StudentID   uuid.UUID       `json:"student_id"`
		Outstanding decimal.Decimal `json:"outstanding"`
	}{id, balance})
}

func (h *Handler) handleClearFines(w http.ResponseWriter, r *http.Request) {
	id, ok := studentID(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearFines(r.Context(), id); err != nil {
		errs.Write(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func studentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.Write(w, fmt.Errorf("invalid student ID: %w", errs.ErrInvalid))
		return uuid.Nil, false
	}
	return id, true
}
