package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"socwatch/internal/detect"
	"socwatch/internal/events"
	"socwatch/internal/metrics"
)

// PassResult summarizes one detection pass.
type PassResult struct {
	PassID     string      `json:"pass_id"`
	Events     int         `json:"events"`
	Candidates int         `json:"candidates"`
	Admitted   []string    `json:"admitted"`
	IOCs       detect.IOCs `json:"iocs"`
}

// Pipeline runs detection passes over the log directory or over lines handed
// in by a caller.
type Pipeline struct {
	Reader   *events.Reader
	Admitter *Admitter
	Logger   *slog.Logger
}

// RunDir reads every log file of the configured directory and runs one pass.
func (p *Pipeline) RunDir(ctx context.Context) (PassResult, error) {
	evts, err := p.Reader.ReadAll()
	if err != nil {
		return PassResult{PassID: uuid.NewString()}, err
	}
	return p.run(ctx, evts)
}

// RunLines runs one pass over lines that arrived for sourceFile.
func (p *Pipeline) RunLines(ctx context.Context, sourceFile string, lines []string) (PassResult, error) {
	return p.run(ctx, p.Reader.ReadLines(sourceFile, lines))
}

func (p *Pipeline) run(ctx context.Context, evts []events.Event) (PassResult, error) {
	start := time.Now()
	res := PassResult{PassID: uuid.NewString(), Events: len(evts), Admitted: []string{}}
	logger := p.Logger.With("pass", res.PassID)

	cands := p.Admitter.Detectors.Scan(evts)
	res.Candidates = len(cands)
	res.IOCs = detect.ExtractIOCs(evts, cands)
	ids, err := p.Admitter.Admit(ctx, cands)
	res.Admitted = ids
	metrics.ObserveDetectionPass(time.Since(start))
	if err != nil {
		logger.Error("detection pass aborted", "err", err, "admitted", len(ids))
		return res, err
	}
	logger.Info("detection pass complete",
		"events", res.Events,
		"candidates", res.Candidates,
		"admitted", len(ids),
		"took", time.Since(start))
	return res, nil
}

// IOCs scans the log directory and reports its indicators of compromise
// without admitting anything.
func (p *Pipeline) IOCs(ctx context.Context) (detect.IOCs, error) {
	if err := ctx.Err(); err != nil {
		return detect.IOCs{}, err
	}
	evts, err := p.Reader.ReadAll()
	if err != nil {
		return detect.IOCs{}, err
	}
	return detect.ExtractIOCs(evts, p.Admitter.Detectors.Scan(evts)), nil
}

func New(reader *events.Reader, admitter *Admitter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{Reader: reader, Admitter: admitter, Logger: logger}
}
