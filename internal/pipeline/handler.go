package pipeline

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"log/slog"
)

const maxIngestLines = 10000

// IngestHandler runs a detection pass over log lines posted by a collector.
type IngestHandler struct {
	Pipeline    *Pipeline
	Logger      *slog.Logger
	IngestToken string
}

type ingestRequest struct {
	SourceFile string   `json:"source_file"`
	Lines      []string `json:"lines"`
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.IngestToken != "" {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Api-Key")), []byte(h.IngestToken)) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.SourceFile == "" || len(req.Lines) == 0 || len(req.Lines) > maxIngestLines {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := h.Pipeline.RunLines(r.Context(), req.SourceFile, req.Lines)
	if err != nil {
		h.Logger.Error("ingest pass", "err", err, "pass", res.PassID)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error":    "storage failure",
			"pass_id":  res.PassID,
			"admitted": res.Admitted,
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

// IOCHandler reports the indicators of compromise in the log directory.
type IOCHandler struct {
	Pipeline *Pipeline
	Logger   *slog.Logger
}

func (h *IOCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	iocs, err := h.Pipeline.IOCs(r.Context())
	if err != nil {
		h.Logger.Error("extract iocs", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(iocs)
}
