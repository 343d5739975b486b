package workflows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"solarsync/internal/models"
	"solarsync/internal/storage"
)

const (
	jobPowerEnergy   = "power-energy"
	jobPowerRealtime = "power-realtime"
)

// IngestMode selects which upstream source a power ingest run reads.
type IngestMode string

const (
	// ModeEnergy replays today's 10-minute day chart per plant.
	ModeEnergy IngestMode = "energy"
	// ModeRealtime samples the current power flow per plant.
	ModeRealtime IngestMode = "realtime"
)

// ParseIngestMode converts a CLI or config string into an IngestMode.
func ParseIngestMode(raw string) (IngestMode, error) {
	switch IngestMode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeEnergy:
		return ModeEnergy, nil
	case ModeRealtime:
		return ModeRealtime, nil
	default:
		return "", fmt.Errorf("unknown ingest mode %q", raw)
	}
}

// IngestPower writes power samples for every upstream plant. Rows are always
// inserted; a sample that already exists for the same plant, timestamp, and
// metric counts as skipped, never as an error.
func (r *Runner) IngestPower(ctx context.Context, mode IngestMode) (Result, error) {
	job := jobPowerEnergy
	if mode == ModeRealtime {
		job = jobPowerRealtime
	}
	ctx, logger, result, started := r.startRun(ctx, job)
	defer r.finishRun(logger, &result, started)

	ids, err := r.allPlantIDs(ctx, logger)
	if err != nil {
		return result, err
	}
	logger.Info("power ingest started", "mode", mode, "plants", len(ids))

	for _, plantID := range ids {
		var points []models.PowerPoint
		var fetchErr error
		switch mode {
		case ModeRealtime:
			points, fetchErr = r.realtimePoints(ctx, plantID)
		default:
			points, fetchErr = r.energyPoints(ctx, plantID)
		}
		if fetchErr != nil {
			logger.Warn("power fetch failed", "plant_id", plantID, "error", fetchErr)
			result.Failed++
			r.observe(job, outcomeFailed)
			continue
		}
		for _, point := range points {
			err := r.store.InsertPowerPoint(ctx, point)
			switch {
			case err == nil:
				result.Inserted++
				r.observe(job, outcomeInserted)
			case errors.Is(err, storage.ErrDuplicate):
				result.Skipped++
				r.observe(job, outcomeSkipped)
			default:
				logger.Error("power insert failed", "plant_id", point.PlantID, "metric", point.Metric, "error", err)
				result.Failed++
				r.observe(job, outcomeFailed)
			}
		}
	}
	return result, nil
}

// energyPoints converts today's day-chart channels into power rows. Chart
// times are local to the fleet and stored in UTC.
func (r *Runner) energyPoints(ctx context.Context, plantID int64) ([]models.PowerPoint, error) {
	channels, err := r.upstream.PlantEnergyDay(ctx, plantID, "", r.lan)
	if err != nil {
		return nil, err
	}
	today := r.now().In(r.location)
	points := make([]models.PowerPoint, 0)
	for _, channel := range channels {
		metric := channel.Label
		if metric == "" {
			metric = "unknown"
		}
		for _, record := range channel.Records {
			ts, err := chartTime(today, record.Time, r.location)
			if err != nil {
				continue
			}
			points = append(points, models.PowerPoint{
				PlantID: plantID,
				TS:      ts,
				Metric:  metric,
				Value:   float64(record.Value),
			})
		}
	}
	return points, nil
}

// realtimePoints samples the current flow snapshot. The timestamp is the
// current minute so repeated runs within one minute dedupe via the row key.
// Alongside the instantaneous metrics the energy counters are recorded so
// estate hourly rollups have etoday and etotal series to aggregate.
func (r *Runner) realtimePoints(ctx context.Context, plantID int64) ([]models.PowerPoint, error) {
	snap, err := r.upstream.PlantRealtime(ctx, plantID, r.lan)
	if err != nil {
		return nil, err
	}
	ts := r.now().Truncate(time.Minute)
	points := []models.PowerPoint{
		{PlantID: plantID, TS: ts, Metric: models.MetricPV, Value: float64(snap.Pac)},
		{PlantID: plantID, TS: ts, Metric: models.MetricBattery, Value: float64(snap.Battery)},
		{PlantID: plantID, TS: ts, Metric: models.MetricGrid, Value: float64(snap.Grid)},
		{PlantID: plantID, TS: ts, Metric: models.MetricLoad, Value: float64(snap.Load)},
		{PlantID: plantID, TS: ts, Metric: models.MetricSOC, Value: float64(snap.SOC)},
		{PlantID: plantID, TS: ts, Metric: models.MetricEToday, Value: float64(snap.EToday)},
		{PlantID: plantID, TS: ts, Metric: models.MetricETotal, Value: float64(snap.ETotal)},
		{PlantID: plantID, TS: ts, Metric: models.MetricEfficiency, Value: float64(snap.Efficiency)},
	}

	if r.cache != nil {
		cacheErr := r.cache.StoreRealtime(ctx, models.RealtimePower{
			PlantID:   plantID,
			Pac:       float64(snap.Pac),
			Battery:   float64(snap.Battery),
			Grid:      float64(snap.Grid),
			Load:      float64(snap.Load),
			SOC:       float64(snap.SOC),
			UpdatedAt: ts,
		})
		if cacheErr != nil {
			r.logger.Warn("power snapshot cache write failed", "plant_id", plantID, "error", cacheErr)
		}
	}
	return points, nil
}

// chartTime anchors an HH:MM chart label on the given local day and converts
// it to UTC.
func chartTime(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("malformed chart time %q", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("malformed chart hour %q", hhmm)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("malformed chart minute %q", hhmm)
	}
	local := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	return local.UTC(), nil
}
