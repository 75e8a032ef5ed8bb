package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mkadyrov/blastline/internal/dispatch"
	"github.com/mkadyrov/blastline/internal/models"
	"github.com/mkadyrov/blastline/internal/storage"
)

type CampaignHandler struct {
	store      storage.Storage
	dispatcher *dispatch.Dispatcher
}

func NewCampaignHandler(store storage.Storage, dispatcher *dispatch.Dispatcher) *CampaignHandler {
	return &CampaignHandler{store: store, dispatcher: dispatcher}
}

type createCampaignRequest struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

const maxBodySize = 64 * 1024

func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	now := time.Now().UTC()
	c := &models.Campaign{
		ID:        models.NewID("cmp"),
		Name:      req.Name,
		Body:      req.Body,
		Status:    models.CampaignDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateCampaign(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.store.ListCampaigns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	deliveries, err := h.store.ListDeliveriesByCampaign(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []models.Delivery{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign":   c,
		"deliveries": deliveries,
	})
}

func (h *CampaignHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.dispatcher.Dispatch(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":   "accepted",
			"campaign": id,
		})
	case errors.Is(err, dispatch.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrBusy), errors.Is(err, dispatch.ErrInvalidCampaignState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrNoRecipients):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, dispatch.ErrGatewayNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to dispatch campaign")
	}
}

func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.dispatcher.CancelCampaign(id) {
		writeError(w, http.StatusConflict, "campaign is not currently sending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "cancelling",
		"campaign": id,
	})
}
