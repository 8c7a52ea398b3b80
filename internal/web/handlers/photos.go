package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/lens-cleaner/internal/constants"
	"github.com/kozaktomas/lens-cleaner/internal/database"
	"github.com/kozaktomas/lens-cleaner/internal/embedding"
)

// PhotosHandler handles photo-related endpoints
type PhotosHandler struct {
	photos database.PhotoRepository
}

// NewPhotosHandler creates a new photos handler
func NewPhotosHandler(photos database.PhotoRepository) *PhotosHandler {
	return &PhotosHandler{photos: photos}
}

// photoIngestRequest is the payload accepted by the ingest endpoint.
// Image data arrives base64 encoded because the uploader is a browser script.
type photoIngestRequest struct {
	ID        string `json:"id"`
	TakenAt   string `json:"taken_at"`
	Image     string `json:"image_base64"`
	SourceURL string `json:"source_url"`
}

// photoResponse is the JSON shape for a photo without its image blob.
type photoResponse struct {
	ID                   string     `json:"id"`
	TakenAt              *time.Time `json:"taken_at,omitempty"`
	SourceURL            string     `json:"source_url,omitempty"`
	Status               string     `json:"status"`
	GroupID              *string    `json:"group_id,omitempty"`
	SuggestionReason     *string    `json:"suggestion_reason,omitempty"`
	SuggestionConfidence *string    `json:"suggestion_confidence,omitempty"`
	MarkedForDeletion    bool       `json:"marked_for_deletion"`
	HasEmbedding         bool       `json:"has_embedding"`
}

func newPhotoResponse(p *database.Photo) photoResponse {
	resp := photoResponse{
		ID:                   p.ID,
		SourceURL:            p.SourceURL,
		Status:               string(p.Status),
		GroupID:              p.GroupID,
		SuggestionReason:     p.SuggestionReason,
		SuggestionConfidence: p.SuggestionConfidence,
		MarkedForDeletion:    p.MarkedForDeletion,
		HasEmbedding:         p.HasEmbedding(),
	}
	if !p.TakenAt.IsZero() {
		t := p.TakenAt
		resp.TakenAt = &t
	}
	return resp
}

// Ingest stores a new photo from a JSON payload.
func (h *PhotosHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req photoIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.Image == "" {
		respondError(w, http.StatusBadRequest, "image_base64 is required")
		return
	}

	imageData, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "image_base64 is not valid base64")
		return
	}
	if len(imageData) > constants.MaxUploadSize {
		respondError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if embedding.DetectMIMEType(imageData) == "application/octet-stream" {
		respondError(w, http.StatusBadRequest, "unsupported image format")
		return
	}

	// Capture time is optional on ingest; photos without one are skipped by clustering.
	var takenAt time.Time
	if req.TakenAt != "" {
		takenAt, err = time.Parse(time.RFC3339, req.TakenAt)
		if err != nil {
			respondError(w, http.StatusBadRequest, "taken_at must be RFC 3339")
			return
		}
	}

	photo := &database.Photo{
		ID:        req.ID,
		TakenAt:   takenAt,
		SourceURL: req.SourceURL,
		ImageBlob: imageData,
		Status:    database.PhotoStatusIngested,
	}
	if err := h.photos.CreatePhoto(r.Context(), photo); err != nil {
		log.Printf("Failed to ingest photo %s: %v", sanitizeForLog(req.ID), err)
		respondError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"id": photo.ID})
}

// List returns photos without image data, optionally filtered by status.
func (h *PhotosHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := constants.DefaultPhotoPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, constants.MaxPhotoPageSize)
	}

	status := database.PhotoStatus(r.URL.Query().Get("status"))

	photos, err := h.photos.ListPhotos(r.Context(), status, limit)
	if err != nil {
		log.Printf("Failed to list photos: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list photos")
		return
	}

	responses := make([]photoResponse, 0, len(photos))
	for _, p := range photos {
		responses = append(responses, newPhotoResponse(p))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"photos": responses,
		"count":  len(responses),
	})
}

// Image serves the stored image blob for a photo.
func (h *PhotosHandler) Image(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing photo ID")
		return
	}

	photo, err := h.photos.GetPhoto(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	if err != nil {
		log.Printf("Failed to load photo %s: %v", sanitizeForLog(id), err)
		respondError(w, http.StatusInternalServerError, "failed to load photo")
		return
	}
	if len(photo.ImageBlob) == 0 {
		respondError(w, http.StatusNotFound, "photo has no image data")
		return
	}

	w.Header().Set("Content-Type", embedding.DetectMIMEType(photo.ImageBlob))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(photo.ImageBlob)
}

// reviewRequest carries the user's decision on a deletion suggestion.
type reviewRequest struct {
	Action string `json:"action"` // approve or reject
}

// Review records the user's decision on a deletion suggestion.
// Approving marks the photo for deletion, rejecting clears the suggestion.
func (h *PhotosHandler) Review(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing photo ID")
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Action != "approve" && req.Action != "reject" {
		respondError(w, http.StatusBadRequest, "action must be 'approve' or 'reject'")
		return
	}

	err := h.photos.SetMarkedForDeletion(r.Context(), id, req.Action == "approve")
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	if err != nil {
		log.Printf("Failed to review photo %s: %v", sanitizeForLog(id), err)
		respondError(w, http.StatusInternalServerError, "failed to update photo")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"action": req.Action,
	})
}
