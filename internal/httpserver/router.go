package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"socwatch/internal/auth"
	"socwatch/internal/incidents"
	"socwatch/internal/pipeline"
	"socwatch/internal/scheduler"
)

type Deps struct {
	Logger      *slog.Logger
	Auth        *auth.Service
	Incidents   *incidents.Service
	Pipeline    *pipeline.Pipeline
	Scheduler   *scheduler.Scheduler
	Gatherer    prometheus.Gatherer
	IngestToken string
}

func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()
	logger := d.Logger

	// Health check
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	// Auth
	mux.Handle("/api/v1/auth/login", loginHandler(d.Auth, logger))

	// Ingest
	mux.Handle("/api/v1/ingest/lines", &pipeline.IngestHandler{
		Pipeline:    d.Pipeline,
		Logger:      logger,
		IngestToken: d.IngestToken,
	})

	secured := auth.JWTMiddleware(d.Auth)

	// Incidents
	mux.Handle("/api/v1/incidents", secured(&incidents.ListHandler{Service: d.Incidents, Logger: logger}))
	mux.Handle("/api/v1/incidents/", secured(&incidents.DetailHandler{Service: d.Incidents, Logger: logger}))
	mux.Handle("/api/v1/timeline", secured(&incidents.TimelineHandler{Service: d.Incidents, Logger: logger}))
	mux.Handle("/api/v1/iocs", secured(&pipeline.IOCHandler{Pipeline: d.Pipeline, Logger: logger}))

	if d.Scheduler != nil {
		mux.Handle("/api/v1/scheduler", secured(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(d.Scheduler.Status())
		})))
	}

	// CORS wrapper (simple, for local UI/tools).
	return withCORS(mux)
}

func loginHandler(svc *auth.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		user, token, err := svc.Authenticate(r.Context(), creds.Username, creds.Password)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidCredentials) {
				logger.Error("login", "err", err)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			logger.Info("login rejected", "username", creds.Username)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"token": token,
			"user":  user,
		})
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Api-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
