package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sattva-health/therapyflow/services/booking-service/internal/model"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/schedule"
	"github.com/sattva-health/therapyflow/services/booking-service/internal/storage"
)

// PractitionerStore is what the handlers need from practitioner storage,
// satisfied by storage.PractitionerRepository.
type PractitionerStore interface {
	Create(ctx context.Context, p *model.Practitioner) (string, error)
	Get(ctx context.Context, id string) (model.Practitioner, error)
	List(ctx context.Context, limit int) ([]model.Practitioner, error)
	UpsertAvailability(ctx context.Context, practitionerID string, weekday time.Weekday, window schedule.DayWindow) error
	UpdateSessionPolicy(ctx context.Context, practitionerID string, sessionMinutes, breakMinutes int) error
}

type PractitionerHandler struct {
	practitioners PractitionerStore
	logger        *slog.Logger
}

func NewPractitionerHandler(practitioners PractitionerStore, logger *slog.Logger) *PractitionerHandler {
	return &PractitionerHandler{practitioners: practitioners, logger: logger}
}

type createPractitionerRequest struct {
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Specializations []string `json:"specializations"`
	ConsultationFee float64  `json:"consultation_fee"`
	SessionMinutes  int      `json:"session_minutes"`
	BreakMinutes    int      `json:"break_minutes"`
}

type availabilityDay struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	IsAvailable bool   `json:"is_available"`
}

type practitionerResponse struct {
	PractitionerID  string                     `json:"practitioner_id"`
	Name            string                     `json:"name"`
	Specializations []string                   `json:"specializations"`
	ConsultationFee float64                    `json:"consultation_fee"`
	SessionMinutes  int                        `json:"session_minutes"`
	BreakMinutes    int                        `json:"break_minutes"`
	Availability    map[string]availabilityDay `json:"availability,omitempty"`
}

func (h *PractitionerHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createPractitionerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	if req.ConsultationFee < 0 {
		http.Error(w, "consultation_fee must not be negative", http.StatusBadRequest)
		return
	}
	if req.SessionMinutes != 0 && req.SessionMinutes < model.MinSessionPolicy {
		http.Error(w, "session_minutes must be at least 30", http.StatusBadRequest)
		return
	}
	if req.BreakMinutes < 0 {
		http.Error(w, "break_minutes must not be negative", http.StatusBadRequest)
		return
	}

	p := &model.Practitioner{
		Name:            req.Name,
		Email:           strings.TrimSpace(req.Email),
		Specializations: req.Specializations,
		ConsultationFee: req.ConsultationFee,
		SessionMinutes:  req.SessionMinutes,
		BreakMinutes:    req.BreakMinutes,
	}
	id, err := h.practitioners.Create(r.Context(), p)
	if err != nil {
		http.Error(w, "failed to create practitioner", http.StatusInternalServerError)
		return
	}

	created, err := h.practitioners.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to load practitioner", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toPractitionerResponse(created, true))
}

func (h *PractitionerHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	practitioners, err := h.practitioners.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list practitioners", http.StatusInternalServerError)
		return
	}
	items := make([]practitionerResponse, 0, len(practitioners))
	for _, p := range practitioners {
		items = append(items, toPractitionerResponse(p, false))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *PractitionerHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	p, err := h.practitioners.Get(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "practitioner not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load practitioner", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toPractitionerResponse(p, true))
}

type upsertAvailabilityRequest struct {
	PractitionerID string `json:"practitioner_id"`
	Weekday        string `json:"weekday"`
	Start          string `json:"start"`
	End            string `json:"end"`
	IsAvailable    bool   `json:"is_available"`
}

// Availability reads or edits the weekly template. The scheduling core only
// ever reads this data; edits stay on the practitioner admin surface.
func (h *PractitionerHandler) Availability(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getAvailability(w, r)
	case http.MethodPost:
		h.upsertAvailability(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PractitionerHandler) getAvailability(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("practitioner_id"))
	if id == "" {
		http.Error(w, "practitioner_id required", http.StatusBadRequest)
		return
	}
	p, err := h.practitioners.Get(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "practitioner not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load practitioner", http.StatusInternalServerError)
		return
	}
	resp := toPractitionerResponse(p, true)
	writeJSON(w, http.StatusOK, map[string]any{
		"practitioner_id": p.ID,
		"session_minutes": p.SessionMinutes,
		"break_minutes":   p.BreakMinutes,
		"availability":    resp.Availability,
	})
}

func (h *PractitionerHandler) upsertAvailability(w http.ResponseWriter, r *http.Request) {
	var req upsertAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.PractitionerID = strings.TrimSpace(req.PractitionerID)
	if req.PractitionerID == "" {
		http.Error(w, "practitioner_id required", http.StatusBadRequest)
		return
	}
	weekday, ok := parseWeekday(req.Weekday)
	if !ok {
		http.Error(w, "unknown weekday", http.StatusBadRequest)
		return
	}
	startMin, err := parseClockMinutes(req.Start)
	if err != nil {
		http.Error(w, "invalid start (want HH:MM)", http.StatusBadRequest)
		return
	}
	endMin, err := parseClockMinutes(req.End)
	if err != nil {
		http.Error(w, "invalid end (want HH:MM)", http.StatusBadRequest)
		return
	}
	if req.IsAvailable && endMin <= startMin {
		http.Error(w, "end must be after start", http.StatusBadRequest)
		return
	}

	window := schedule.DayWindow{StartMinute: startMin, EndMinute: endMin, Available: req.IsAvailable}
	if err := h.practitioners.UpsertAvailability(r.Context(), req.PractitionerID, weekday, window); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "practitioner not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update availability", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updatePolicyRequest struct {
	PractitionerID string `json:"practitioner_id"`
	SessionMinutes int    `json:"session_minutes"`
	BreakMinutes   int    `json:"break_minutes"`
}

func (h *PractitionerHandler) UpdateSessionPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.PractitionerID = strings.TrimSpace(req.PractitionerID)
	if req.PractitionerID == "" {
		http.Error(w, "practitioner_id required", http.StatusBadRequest)
		return
	}
	if req.SessionMinutes < model.MinSessionPolicy {
		http.Error(w, "session_minutes must be at least 30", http.StatusBadRequest)
		return
	}
	if req.BreakMinutes < 0 {
		http.Error(w, "break_minutes must not be negative", http.StatusBadRequest)
		return
	}

	if err := h.practitioners.UpdateSessionPolicy(r.Context(), req.PractitionerID, req.SessionMinutes, req.BreakMinutes); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "practitioner not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update session policy", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(raw string) (time.Weekday, bool) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(raw))]
	return wd, ok
}

func parseClockMinutes(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClockMinutes(minutes int) string {
	return time.Date(0, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC).Format("15:04")
}

func toPractitionerResponse(p model.Practitioner, includeAvailability bool) practitionerResponse {
	resp := practitionerResponse{
		PractitionerID:  p.ID,
		Name:            p.Name,
		Specializations: p.Specializations,
		ConsultationFee: p.ConsultationFee,
		SessionMinutes:  p.SessionMinutes,
		BreakMinutes:    p.BreakMinutes,
	}
	if includeAvailability {
		resp.Availability = make(map[string]availabilityDay, len(p.Availability))
		for name, wd := range weekdayNames {
			window, ok := p.Availability[wd]
			if !ok {
				continue
			}
			resp.Availability[name] = availabilityDay{
				Start:       formatClockMinutes(window.StartMinute),
				End:         formatClockMinutes(window.EndMinute),
				IsAvailable: window.Available,
			}
		}
	}
	return resp
}
