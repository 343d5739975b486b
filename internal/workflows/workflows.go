// Package workflows implements the scheduled sync jobs that pull plant,
// inverter, and power data from the upstream monitoring platform into the
// local store.
package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"solarsync/internal/models"
	"solarsync/internal/observability/logging"
	"solarsync/internal/observability/metrics"
	"solarsync/internal/storage"
	"solarsync/internal/sunsynk"
)

// Upstream is the slice of the platform client the sync jobs consume.
type Upstream interface {
	ListPlants(ctx context.Context, page, limit int, lan string) (sunsynk.Page[sunsynk.Plant], error)
	ListPlantInverters(ctx context.Context, plantID int64, q sunsynk.PlantInvertersQuery) (sunsynk.Page[sunsynk.Inverter], error)
	PlantEnergyDay(ctx context.Context, plantID int64, date, lan string) ([]sunsynk.EnergyChannel, error)
	PlantRealtime(ctx context.Context, plantID int64, lan string) (sunsynk.RealtimeSnapshot, error)
}

// PowerCacher receives the latest realtime snapshot per plant during realtime
// ingest runs.
type PowerCacher interface {
	StoreRealtime(ctx context.Context, snapshot models.RealtimePower) error
}

// Result tallies the per-item outcomes of one sync run.
type Result struct {
	RunID    string        `json:"runId"`
	Job      string        `json:"job"`
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Processed returns the total number of items the run touched.
func (r Result) Processed() int {
	return r.Inserted + r.Updated + r.Skipped + r.Failed
}

const (
	outcomeInserted = "inserted"
	outcomeUpdated  = "updated"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

// listPageSize is the upstream page size used when walking the full plant
// list.
const listPageSize = 100

// Config wires a Runner's dependencies.
type Config struct {
	Upstream Upstream
	Store    storage.Repository
	Cache    PowerCacher
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	// Lan selects the upstream response language.
	Lan string
	// Location is the local timezone of the monitored fleet, used to
	// anchor day-chart timestamps. Defaults to Africa/Johannesburg.
	Location *time.Location
}

// Runner executes sync jobs against the configured upstream and store.
type Runner struct {
	upstream Upstream
	store    storage.Repository
	cache    PowerCacher
	logger   *slog.Logger
	metrics  *metrics.Recorder
	lan      string
	location *time.Location
	now      func() time.Time
}

// NewRunner validates the configuration and returns a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Upstream == nil {
		return nil, fmt.Errorf("upstream client is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	runner := &Runner{
		upstream: cfg.Upstream,
		store:    cfg.Store,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		lan:      cfg.Lan,
		location: cfg.Location,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if runner.logger == nil {
		runner.logger = slog.Default()
	}
	if runner.metrics == nil {
		runner.metrics = metrics.Default()
	}
	if runner.lan == "" {
		runner.lan = "en"
	}
	if runner.location == nil {
		loc, err := time.LoadLocation("Africa/Johannesburg")
		if err != nil {
			loc = time.FixedZone("SAST", 2*60*60)
		}
		runner.location = loc
	}
	return runner, nil
}

// startRun stamps the context with a fresh run ID and records the job start.
func (r *Runner) startRun(ctx context.Context, job string) (context.Context, *slog.Logger, Result, time.Time) {
	runID := uuid.NewString()
	ctx = logging.ContextWithJobRunID(ctx, runID)
	logger := r.logger.With("job", job, "job_run_id", runID)
	r.metrics.SyncJobStarted()
	return ctx, logger, Result{RunID: runID, Job: job}, r.now()
}

func (r *Runner) finishRun(logger *slog.Logger, result *Result, started time.Time) {
	result.Duration = r.now().Sub(started)
	r.metrics.SyncJobFinished()
	logger.Info("sync run finished",
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration,
	)
}

func (r *Runner) observe(job, outcome string) {
	r.metrics.ObserveSyncItem(job, outcome)
}

// allPlantIDs walks the upstream plant list and returns every visible plant
// id. Malformed or failing pages after the first are logged and skipped.
func (r *Runner) allPlantIDs(ctx context.Context, logger *slog.Logger) ([]int64, error) {
	first, err := r.upstream.ListPlants(ctx, 1, listPageSize, r.lan)
	if err != nil {
		return nil, fmt.Errorf("list plants page 1: %w", err)
	}
	pageSize := first.PageSize
	if pageSize <= 0 {
		pageSize = listPageSize
	}
	pages := 1
	if first.Total > 0 {
		pages = (first.Total + pageSize - 1) / pageSize
	}

	ids := make([]int64, 0, first.Total)
	for _, plant := range first.Infos {
		ids = append(ids, plant.ID)
	}
	for page := 2; page <= pages; page++ {
		resp, err := r.upstream.ListPlants(ctx, page, pageSize, r.lan)
		if err != nil {
			logger.Warn("plant list page failed", "page", page, "error", err)
			continue
		}
		for _, plant := range resp.Infos {
			ids = append(ids, plant.ID)
		}
	}
	return ids, nil
}

// parsePlantTime decodes the timestamp strings the upstream emits. Returns
// nil when the value is empty or unparseable.
func parsePlantTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}
