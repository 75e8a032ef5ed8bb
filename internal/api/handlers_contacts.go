package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mkadyrov/blastline/internal/models"
	"github.com/mkadyrov/blastline/internal/storage"
)

type ContactHandler struct {
	store storage.Storage
}

func NewContactHandler(store storage.Storage) *ContactHandler {
	return &ContactHandler{store: store}
}

type createContactRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	existing, err := h.store.GetContactByPhone(r.Context(), req.Phone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check contact")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "contact with this phone already exists")
		return
	}

	now := time.Now().UTC()
	c := &models.Contact{
		ID:        models.NewID("ct"),
		Phone:     req.Phone,
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateContact(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.store.GetContact(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get contact")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.store.ListContacts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

type updateContactRequest struct {
	Name string `json:"name"`
}

// Update changes the display name only. The phone is the contact's identity
// and stays immutable once created.
func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.store.GetContact(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get contact")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}

	if err := h.store.UpdateContactName(r.Context(), id, strings.TrimSpace(req.Name)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update contact")
		return
	}

	c.Name = strings.TrimSpace(req.Name)
	writeJSON(w, http.StatusOK, c)
}

func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteContact(r.Context(), id); err != nil {
		// FK RESTRICT: contacts referenced by deliveries cannot be removed.
		writeError(w, http.StatusConflict, "contact is referenced by campaign deliveries")
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
