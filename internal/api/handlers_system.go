package api

import (
	"net/http"

	"github.com/mkadyrov/blastline/internal/dispatch"
	"github.com/mkadyrov/blastline/internal/gateway"
	"github.com/mkadyrov/blastline/internal/storage"
)

type SystemHandler struct {
	store      storage.Storage
	dispatcher *dispatch.Dispatcher
	client     gateway.Client
}

func NewSystemHandler(store storage.Storage, dispatcher *dispatch.Dispatcher, client gateway.Client) *SystemHandler {
	return &SystemHandler{store: store, dispatcher: dispatcher, client: client}
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "blastline",
	})
}

func (h *SystemHandler) Progress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Progress().Snapshot())
}

func (h *SystemHandler) GatewayStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"state": h.client.State(),
		"ready": h.client.Ready(),
	}
	if code := h.client.PairingCode(); code != "" {
		resp["pairing_code"] = code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
