package incidents

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"socwatch/internal/auth"
	"socwatch/internal/events"
)

// View is an incident with its SLA computed at read time.
type View struct {
	Incident
	SLA SLA `json:"sla"`
}

type ListHandler struct {
	Service *Service
	Logger  *slog.Logger
}

func (h *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := ListFilter{}
	if v := q.Get("status"); v != "" {
		status, ok := ParseStatus(v)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "unknown status")
			return
		}
		filter.Status = status
	}
	if v := q.Get("severity"); v != "" {
		sev, ok := ParseSeverity(v)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "unknown severity")
			return
		}
		filter.Severity = sev
	}
	if v := q.Get("source"); v != "" {
		filter.Source = events.Source(strings.ToUpper(v))
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}

	incs, err := h.Service.List(r.Context(), filter)
	if err != nil {
		h.Logger.Error("list incidents", "err", err)
		writeError(w, err)
		return
	}
	views := make([]View, 0, len(incs))
	for i := range incs {
		views = append(views, View{Incident: incs[i], SLA: h.Service.SLA(&incs[i])})
	}
	writeJSON(w, http.StatusOK, views)
}

// DetailHandler serves /api/v1/incidents/{id} and its notes and assign
// sub-resources.
type DetailHandler struct {
	Service *Service
	Logger  *slog.Logger
}

func (h *DetailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// Path is /api/v1/incidents/{id}[/notes|/assign]
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 || len(parts) > 5 || parts[3] == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	id := parts[3]
	action := ""
	if len(parts) == 5 {
		action = parts[4]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.get(w, r, id)
		return
	case action == "" && r.Method == http.MethodPatch,
		action == "notes" && r.Method == http.MethodPost,
		action == "assign" && r.Method == http.MethodPost:
	case action != "" && action != "notes" && action != "assign":
		w.WriteHeader(http.StatusNotFound)
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !user.Role.CanWrite() {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	var (
		inc *Incident
		err error
	)
	switch action {
	case "":
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Status == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		to, ok := ParseStatus(payload.Status)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "unknown status")
			return
		}
		inc, err = h.Service.Transition(r.Context(), id, to, user.Username)
	case "notes":
		var payload struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.Text) == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		inc, err = h.Service.AddNote(r.Context(), id, user.Username, payload.Text)
	case "assign":
		var payload struct {
			Analyst string `json:"analyst"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if payload.Analyst == "" {
			payload.Analyst = user.Username
		}
		inc, err = h.Service.Assign(r.Context(), id, payload.Analyst)
	}
	if err != nil {
		h.logFailure("update incident", id, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, View{Incident: *inc, SLA: h.Service.SLA(inc)})
}

func (h *DetailHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	inc, err := h.Service.Get(r.Context(), id)
	if err != nil {
		h.logFailure("get incident", id, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, View{Incident: *inc, SLA: h.Service.SLA(inc)})
}

func (h *DetailHandler) logFailure(msg, id string, err error) {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		h.Logger.Error(msg, "err", err, "incident", id)
		return
	}
	h.Logger.Debug(msg, "err", err, "incident", id)
}

// TimelineHandler serves the ledger, newest entry first.
type TimelineHandler struct {
	Service *Service
	Logger  *slog.Logger
}

func (h *TimelineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := auth.UserFromContext(r.Context()); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	entries, err := h.Service.Timeline(r.Context(), q.Get("incident_id"), limit)
	if err != nil {
		h.Logger.Error("read timeline", "err", err)
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var ite *InvalidTransitionError
	var pe *PersistenceError
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ite):
		allowed := ite.Allowed
		if allowed == nil {
			allowed = []Status{}
		}
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   ite.Error(),
			"from":    ite.From,
			"to":      ite.To,
			"allowed": allowed,
		})
	case errors.As(err, &pe):
		writeJSONError(w, http.StatusInternalServerError, "storage failure")
	default:
		writeJSONError(w, http.StatusBadRequest, err.Error())
	}
}
