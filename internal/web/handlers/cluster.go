package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/kozaktomas/lens-cleaner/internal/cluster"
	"github.com/kozaktomas/lens-cleaner/internal/database"
)

// ClusterHandler runs the grouping engine over embedded photos.
type ClusterHandler struct {
	photos           database.PhotoRepository
	defaultWindow    time.Duration
	defaultThreshold float64
}

// NewClusterHandler creates a new cluster handler.
func NewClusterHandler(photos database.PhotoRepository, window time.Duration, threshold float64) *ClusterHandler {
	return &ClusterHandler{
		photos:           photos,
		defaultWindow:    window,
		defaultThreshold: threshold,
	}
}

// clusterRequest carries optional per-run overrides of the engine defaults.
type clusterRequest struct {
	TimeWindow          string   `json:"time_window,omitempty"` // Go duration string, e.g. "10m"
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

// clusterGroupResponse summarizes one produced group.
type clusterGroupResponse struct {
	ID       string   `json:"id"`
	PhotoIDs []string `json:"photo_ids"`
}

// Run executes a clustering pass and persists the group assignments.
// Previous assignments are cleared first so each run starts from scratch.
func (h *ClusterHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	window := h.defaultWindow
	if req.TimeWindow != "" {
		parsed, err := time.ParseDuration(req.TimeWindow)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "time_window must be a positive duration")
			return
		}
		window = parsed
	}

	threshold := h.defaultThreshold
	if req.SimilarityThreshold != nil {
		if *req.SimilarityThreshold <= 0 || *req.SimilarityThreshold > 1 {
			respondError(w, http.StatusBadRequest, "similarity_threshold must be in (0, 1]")
			return
		}
		threshold = *req.SimilarityThreshold
	}

	photos, err := h.photos.ListPhotosForClustering(r.Context())
	if err != nil {
		log.Printf("Failed to load photos for clustering: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load photos")
		return
	}

	engine := cluster.NewEngine(
		cluster.WithTimeWindow(window),
		cluster.WithSimilarityThreshold(threshold),
	)
	groups := engine.GroupPhotos(photos)

	if err := h.photos.ClearGroups(r.Context()); err != nil {
		log.Printf("Failed to clear group assignments: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to clear groups")
		return
	}

	grouped := 0
	responses := make([]clusterGroupResponse, 0, len(groups))
	for _, group := range groups {
		resp := clusterGroupResponse{ID: group.ID}
		for _, photo := range group.Photos {
			groupID := group.ID
			if err := h.photos.SetPhotoGroup(r.Context(), photo.ID, &groupID); err != nil {
				log.Printf("Failed to assign photo %s to %s: %v", sanitizeForLog(photo.ID), group.ID, err)
				respondError(w, http.StatusInternalServerError, "failed to persist groups")
				return
			}
			resp.PhotoIDs = append(resp.PhotoIDs, photo.ID)
			grouped++
		}
		responses = append(responses, resp)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"groups":               responses,
		"group_count":          len(responses),
		"grouped_photos":       grouped,
		"time_window":          window.String(),
		"similarity_threshold": threshold,
	})
}
