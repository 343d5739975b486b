package workflows

import (
	"context"
	"errors"
	"fmt"

	"solarsync/internal/models"
	"solarsync/internal/storage"
)

const jobDailyReport = "daily-report"

// SnapshotDailyReports writes one report row per stored plant for today's
// local date. Re-running the job on the same day skips plants that already
// have a row.
func (r *Runner) SnapshotDailyReports(ctx context.Context) (Result, error) {
	ctx, logger, result, started := r.startRun(ctx, jobDailyReport)
	defer r.finishRun(logger, &result, started)

	reportDate := r.now().In(r.location).Format("2006-01-02")
	logger.Info("daily report snapshot started", "report_date", reportDate)

	page := 1
	for {
		stored, err := r.store.ListPlants(ctx, page, storePageSize)
		if err != nil {
			return result, fmt.Errorf("list stored plants: %w", err)
		}
		if len(stored.Plants) == 0 {
			break
		}
		for _, plant := range stored.Plants {
			report := models.DailyReport{
				PlantID:    plant.ID,
				EstateID:   plant.EstateID,
				ReportDate: reportDate,
				Name:       plant.Name,
				Status:     plant.Status,
				Pac:        plant.Pac,
				Efficiency: plant.Efficiency,
				EToday:     plant.EToday,
				ETotal:     plant.ETotal,
			}
			err := r.store.InsertDailyReport(ctx, report)
			switch {
			case err == nil:
				result.Inserted++
				r.observe(jobDailyReport, outcomeInserted)
			case errors.Is(err, storage.ErrDuplicate):
				result.Skipped++
				r.observe(jobDailyReport, outcomeSkipped)
			default:
				logger.Error("daily report insert failed", "plant_id", plant.ID, "error", err)
				result.Failed++
				r.observe(jobDailyReport, outcomeFailed)
			}
		}
		if page*storePageSize >= stored.Total {
			break
		}
		page++
	}
	return result, nil
}
