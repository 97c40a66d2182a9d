package cmd

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/db"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
	"github.com/abdul-hamid-achik/hitscript/packages/metrics"
)

// recorder observes step results for latency metrics and, when a results
// database is configured, persists them. Store failures are logged and
// never fail the run.
type recorder struct {
	ctx     context.Context
	store   *db.Store
	metrics *metrics.Metrics
	runID   string
}

func newRecorder(ctx context.Context, store *db.Store) *recorder {
	return &recorder{ctx: ctx, store: store, metrics: metrics.NewMetrics()}
}

func (r *recorder) begin(script *parser.Script) {
	r.runID = ""
	if r.store == nil {
		return
	}
	id, err := r.store.BeginRun(r.ctx, script.Name, script.Path)
	if err != nil {
		logging.Warn("Record", "cannot record run of %s: %v", script.Path, err)
		return
	}
	r.runID = id
}

func (r *recorder) observe(res *runner.StepResult) {
	if res.Status != 0 {
		r.metrics.Record(res.Path(), res.Duration, res.Passed())
	}
	if r.runID == "" {
		return
	}

	rec := db.StepRecord{
		Path:       res.Path(),
		Method:     res.Method,
		URL:        res.URL,
		Status:     res.Status,
		Passed:     res.Passed(),
		DurationMs: res.DurationMs,
		Result:     res,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := r.store.RecordStep(r.ctx, r.runID, rec); err != nil {
		logging.Warn("Record", "cannot record step %q: %v", rec.Path, err)
	}
}

func (r *recorder) finish(result *runner.RunResult) {
	if r.runID == "" || result == nil {
		return
	}
	// the run context may already be cancelled; the summary row still lands
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 5*time.Second)
	defer cancel()
	if err := r.store.FinishRun(ctx, r.runID, result.Passed, result.Failed, result.Duration); err != nil {
		logging.Warn("Record", "cannot finish run %s: %v", r.runID, err)
	}
	logging.Debug("Record", "recorded run %s", r.runID)
}

// reset starts a fresh latency window for a watch re-run.
func (r *recorder) reset() {
	r.metrics = metrics.NewMetrics()
}
