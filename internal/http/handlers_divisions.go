package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"financeflow/internal/core"
	applog "financeflow/internal/log"
)

// divisionPayload is the legacy wire shape: four fields, nothing else.
type divisionPayload struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
	Color      string  `json:"color"`
}

const defaultColor = "#10B981"

func (s *Server) handleCapitalDivisions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetDivisions(w, r)
	case http.MethodPost:
		s.handlePostDivisions(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetDivisions(w http.ResponseWriter, r *http.Request) {
	divisions, err := s.store.LoadDivisions(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to load divisions", applog.FieldError, err)
		http.Error(w, "failed to load divisions", http.StatusInternalServerError)
		return
	}

	payload := make([]divisionPayload, len(divisions))
	for i, d := range divisions {
		payload[i] = divisionPayload{ID: d.ID, Name: d.Name, Percentage: d.Percentage, Color: d.Color}
	}
	writeDivisions(w, payload)
}

// handlePostDivisions accepts whatever shape old clients send, coerces every
// entry into the canonical four fields, overwrites the persisted set and
// echoes the sanitized array back.
func (s *Server) handlePostDivisions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Divisions []map[string]any `json:"divisions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Malformed divisions payload", applog.FieldError, err)
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Divisions == nil {
		http.Error(w, "divisions must be an array", http.StatusBadRequest)
		return
	}

	sanitized := make([]divisionPayload, len(body.Divisions))
	divisions := make([]core.CapitalDivision, len(body.Divisions))
	for i, raw := range body.Divisions {
		d := s.sanitizeDivision(raw)
		sanitized[i] = d
		divisions[i] = core.CapitalDivision{ID: d.ID, Name: d.Name, Percentage: d.Percentage, Color: d.Color}
	}

	if err := s.store.SaveDivisions(r.Context(), divisions); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to save divisions", applog.FieldError, err)
		http.Error(w, "failed to save divisions", http.StatusInternalServerError)
		return
	}

	writeDivisions(w, sanitized)
}

func (s *Server) sanitizeDivision(raw map[string]any) divisionPayload {
	id := coerceString(raw["id"])
	if id == "" {
		id = strconv.FormatInt(s.clock().UnixMilli(), 10)
	}
	color := coerceString(raw["color"])
	if color == "" {
		color = defaultColor
	}
	return divisionPayload{
		ID:         id,
		Name:       coerceString(raw["name"]),
		Percentage: coerceNumber(raw["percentage"]),
		Color:      color,
	}
}

func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func coerceNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		return core.ParseAmount(n)
	default:
		return 0
	}
}

func writeDivisions(w http.ResponseWriter, divisions []divisionPayload) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"divisions": divisions}); err != nil {
		slog.Error("Failed to encode divisions response", applog.FieldError, err)
	}
}
