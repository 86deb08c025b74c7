package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"draftkeep/internal/draft/model"
	"draftkeep/internal/draft/service"
	"draftkeep/middleware"
	"draftkeep/pkg/logger"
)

type DraftHandler struct {
	Service *service.DraftService
}

func NewDraftHandler(service *service.DraftService) *DraftHandler {
	return &DraftHandler{Service: service}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrConflict):
		// 409 is the contract signal for "another writer got there first".
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrEmptyContent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *DraftHandler) Push(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ownerID := r.Context().Value(middleware.UserIDKey).(string)

	resp, err := h.Service.Push(ownerID, req)
	if err != nil {
		if !errors.Is(err, model.ErrConflict) {
			logger.Sugar.Errorf("Handler: Failed to push draft: %v", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	draftID := r.URL.Query().Get("draftId")
	if draftID == "" {
		http.Error(w, "Missing draftId parameter", http.StatusBadRequest)
		return
	}

	ownerID := r.Context().Value(middleware.UserIDKey).(string)

	d, err := h.Service.Get(ownerID, draftID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, d)
}

func (h *DraftHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	}

	ownerID := r.Context().Value(middleware.UserIDKey).(string)

	latest, err := h.Service.LatestForSession(ownerID, sessionID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to load latest drafts: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, latest)
}

func (h *DraftHandler) ListManual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ownerID := r.Context().Value(middleware.UserIDKey).(string)

	drafts, err := h.Service.ListManual(ownerID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to list manual drafts: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, drafts)
}

func (h *DraftHandler) Discard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.DiscardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ownerID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.Discard(ownerID, req); err != nil {
		logger.Sugar.Errorf("Handler: Failed to discard draft: %v", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Draft discarded"))
}

func (h *DraftHandler) Promote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ownerID := r.Context().Value(middleware.UserIDKey).(string)

	resp, err := h.Service.PromoteToManual(ownerID, req)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to promote draft %s: %v", req.DraftID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (h *DraftHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ownerID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Service.Publish(ownerID, req); err != nil {
		logger.Sugar.Errorf("Handler: Failed to publish draft %s: %v", req.DraftID, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Draft published"))
}

func (h *DraftHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	draftID := r.URL.Query().Get("draftId")
	if draftID == "" {
		http.Error(w, "Missing draftId parameter", http.StatusBadRequest)
		return
	}

	ownerID := r.Context().Value(middleware.UserIDKey).(string)

	snapshots, err := h.Service.History(ownerID, draftID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, snapshots)
}

func (h *DraftHandler) Restore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SnapshotID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ownerID := r.Context().Value(middleware.UserIDKey).(string)

	d, err := h.Service.RestoreSnapshot(ownerID, req.SnapshotID)
	if err != nil {
		if !errors.Is(err, model.ErrConflict) {
			logger.Sugar.Errorf("Handler: Failed to restore snapshot %s: %v", req.SnapshotID, err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, d)
}
