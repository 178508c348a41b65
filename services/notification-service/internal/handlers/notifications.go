package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sattva-health/therapyflow/services/notification-service/internal/contacts"
	"github.com/sattva-health/therapyflow/services/notification-service/internal/storage"
)

type Handler struct {
	contacts      *contacts.Repository
	notifications *storage.Repository
}

func New(contactRepo *contacts.Repository, notificationRepo *storage.Repository) *Handler {
	return &Handler{contacts: contactRepo, notifications: notificationRepo}
}

func (h *Handler) UpsertContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PatientID string `json:"patient_id"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.PatientID) == "" {
		http.Error(w, "patient_id required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" && strings.TrimSpace(req.Phone) == "" {
		http.Error(w, "email or phone required", http.StatusBadRequest)
		return
	}

	if err := h.contacts.Upsert(r.Context(), contacts.Contact{
		PatientID: req.PatientID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
	}); err != nil {
		http.Error(w, "failed to save contact", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if patientID == "" {
		http.Error(w, "patient_id required", http.StatusBadRequest)
		return
	}

	c, err := h.contacts.Get(r.Context(), patientID)
	if err != nil {
		if contacts.IsNotFound(err) {
			http.Error(w, "contact not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load contact", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"patient_id": c.PatientID,
		"name":       c.Name,
		"email":      c.Email,
		"phone":      c.Phone,
	})
}

// Feed serves the in-app notification list for one patient.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if patientID == "" {
		http.Error(w, "patient_id required", http.StatusBadRequest)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := h.notifications.ListForPatient(r.Context(), patientID, limit)
	if err != nil {
		http.Error(w, "failed to load notifications", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(rows))
	for _, n := range rows {
		item := map[string]any{
			"id":             n.ID,
			"appointment_id": n.AppointmentID,
			"event_type":     n.EventType,
			"title":          n.Title,
			"body":           n.Body,
			"created_at":     n.CreatedAt.UTC().Format(time.RFC3339),
			"read":           n.ReadAt != nil,
		}
		items = append(items, item)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID        int64  `json:"id"`
		PatientID string `json:"patient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.ID <= 0 || strings.TrimSpace(req.PatientID) == "" {
		http.Error(w, "id and patient_id required", http.StatusBadRequest)
		return
	}

	ok, err := h.notifications.MarkRead(r.Context(), req.ID, req.PatientID)
	if err != nil {
		http.Error(w, "failed to mark read", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
