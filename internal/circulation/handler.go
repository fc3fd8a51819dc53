// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libracheck/internal/errs"
	"libracheck/internal/evidence"
)

const (
	maxUploadBytes = 64 << 20
	maxMemoryBytes = 16 << 20
)

type Handler struct {
	service   Service
	maxUpload int64
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, maxUpload: maxUploadBytes}
}

// WithUploadLimit caps the size of a multipart upload body.
func (h *Handler) WithUploadLimit(n int64) *Handler {
	h.maxUpload = n
	return h
}

// Routes mounts the lifecycle endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/borrow", h.handleBorrow)
	r.Put("/borrow/{recordID}/evidence", h.handleAttachEvidence)
	r.Put("/return/{studentNumber}/{copyID}", h.handleReturn)
	r.Get("/records/{id}", h.handleGetRecord)
	r.Get("/records/{id}/history", h.handleHistory)
	r.Get("/students/{id}/borrowed", h.handleBorrowed)
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID uuid.UUID  `json:"student_id"`
		CopyID    uuid.UUID  `json:"copy_id"`
		DueDate   *time.Time `json:"due_date,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.service.Borrow(r.Context(), req.StudentID, req.CopyID, req.DueDate)
	if err != nil {
		errs.Write(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleAttachEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		errs.Write(w, fmt.Errorf("invalid record ID: %w", errs.ErrInvalid))
		return
	}

	images, err := h.readImages(w, r)
	if err != nil {
		errs.Write(w, err)
		return
	}
	if len(images) == 0 {
		errs.Write(w, fmt.Errorf("no images uploaded: %w", errs.ErrInvalid))
		return
	}

	rec, err := h.service.AttachBorrowEvidence(r.Context(), id, images)
	if err != nil {
		errs.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	copyID, err := uuid.Parse(chi.URLParam(r, "copyID"))
	if err != nil {
		errs.Write(w, fmt.Errorf("invalid copy ID: %w", errs.ErrInvalid))
		return
	}

	images, err := h.readImages(w, r)
	if err != nil {
		errs.Write(w, err)
		return
	}

	rec, err := h.service.Return(r.Context(), chi.URLParam(r, "studentNumber"), copyID, images)
	if err != nil {
		errs.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.Write(w, fmt.Errorf("invalid record ID: %w", errs.ErrInvalid))
		return
	}

	rec, err := h.service.GetRecord(r.Context(), id)
	if err != nil {
		errs.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.Write(w, fmt.Errorf("invalid record ID: %w", errs.ErrInvalid))
		return
	}

	events, err := h.service.History(r.Context(), id)
	if err != nil {
		errs.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleBorrowed(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		errs.Write(w, fmt.Errorf("invalid student ID: %w", errs.ErrInvalid))
		return
	}

	recs, err := h.service.ListOpenBorrowings(r.Context(), id)
	if err != nil {
		errs.Write(w, err)
		return
	}
	if recs == nil {
		recs = []*BorrowingRecord{}
	}

	writeJSON(w, http.StatusOK, recs)
}

// readImages reads the "images" parts of a multipart body. A request that is
// not multipart carries no images.
func (h *Handler) readImages(w http.ResponseWriter, r *http.Request) ([]evidence.Image, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("upload exceeds %d bytes: %w", tooLarge.Limit, err)
		}
		return nil, fmt.Errorf("failed to parse upload: %v: %w", err, errs.ErrInvalid)
	}
	defer r.MultipartForm.RemoveAll()

	var images []evidence.Image
	for _, fh := range r.MultipartForm.File["images"] {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read upload %q: %w", fh.Filename, err)
		}
		images = append(images, evidence.Image{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return images, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
