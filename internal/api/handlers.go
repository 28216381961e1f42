/**
 * @description
 * This file contains the HTTP handlers for the drop-service's ops API.
 * Handlers parse incoming requests, call the application service, and write
 * the HTTP response. They are the bridge between the web layer and the
 * conversational business logic.
 *
 * @dependencies
 * - encoding/json, errors, net/http: Standard Go libraries.
 * - internal/app, internal/store: For service logic and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coindrop/drop-service/internal/app"
	"github.com/coindrop/drop-service/internal/store"
)

// OpsHandlers holds the application service that handlers will use.
type OpsHandlers struct {
	service *app.Service
}

// NewOpsHandlers creates the handler set for the ops router.
func NewOpsHandlers(service *app.Service) *OpsHandlers {
	return &OpsHandlers{service: service}
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type sessionOverrideRequest struct {
	Override bool `json:"override"`
}

// RequeueMessageHandler puts an ERROR mailbox message back in the queue.
func (h *OpsHandlers) RequeueMessageHandler(w http.ResponseWriter, r *http.Request) {
	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := h.service.RequeueMessage(r.Context(), messageID); err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "message not found or not in error state")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to requeue message")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "requeued"})
}

// SetSessionOverrideHandler flips a session's manual-override flag.
func (h *OpsHandlers) SetSessionOverrideHandler(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req sessionOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.SetSessionOverride(r.Context(), sessionID, req.Override); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update session override")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}

// GetDropStockHandler reports live stock levels for a drop.
func (h *OpsHandlers) GetDropStockHandler(w http.ResponseWriter, r *http.Request) {
	dropID, err := uuid.Parse(chi.URLParam(r, "dropID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid drop id")
		return
	}

	stock, err := h.service.GetDropStock(r.Context(), dropID)
	if err != nil {
		if errors.Is(err, store.ErrDropNotFound) {
			writeError(w, http.StatusNotFound, "drop not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load drop stock")
		return
	}

	writeJSON(w, http.StatusOK, stock)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, statusResponse{Status: "error", Message: message})
}
