package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"solarsync/internal/models"
	"solarsync/internal/sunsynk"
)

const jobPlants = "plants"

// SyncPlants walks the upstream plant list and upserts every plant into the
// store. Estate assignments and creation stamps on existing rows survive the
// refresh.
func (r *Runner) SyncPlants(ctx context.Context) (Result, error) {
	ctx, logger, result, started := r.startRun(ctx, jobPlants)
	defer r.finishRun(logger, &result, started)

	first, err := r.upstream.ListPlants(ctx, 1, 30, r.lan)
	if err != nil {
		return result, fmt.Errorf("list plants page 1: %w", err)
	}
	pageSize := first.PageSize
	if pageSize <= 0 {
		pageSize = 30
	}
	pages := 1
	if first.Total > 0 {
		pages = (first.Total + pageSize - 1) / pageSize
	}
	logger.Info("plant sync started", "total", first.Total, "pages", pages)

	r.syncPlantPage(ctx, logger, first.Infos, &result)
	for page := 2; page <= pages; page++ {
		resp, err := r.upstream.ListPlants(ctx, page, pageSize, r.lan)
		if err != nil {
			logger.Warn("plant list page failed", "page", page, "error", err)
			result.Failed++
			r.observe(jobPlants, outcomeFailed)
			continue
		}
		r.syncPlantPage(ctx, logger, resp.Infos, &result)
	}
	return result, nil
}

func (r *Runner) syncPlantPage(ctx context.Context, logger *slog.Logger, plants []sunsynk.Plant, result *Result) {
	for _, plant := range plants {
		created, err := r.store.UpsertPlant(ctx, plantToModel(plant))
		if err != nil {
			logger.Error("plant upsert failed", "plant_id", plant.ID, "error", err)
			result.Failed++
			r.observe(jobPlants, outcomeFailed)
			continue
		}
		if created {
			result.Inserted++
			r.observe(jobPlants, outcomeInserted)
			logger.Debug("plant inserted", "plant_id", plant.ID, "name", plant.Name)
		} else {
			result.Updated++
			r.observe(jobPlants, outcomeUpdated)
		}
	}
}

func plantToModel(plant sunsynk.Plant) models.EstatePlant {
	return models.EstatePlant{
		ID:          plant.ID,
		Name:        plant.Name,
		Status:      plant.Status,
		Address:     plant.Address,
		Pac:         float64(plant.Pac),
		Efficiency:  float64(plant.Efficiency),
		EToday:      float64(plant.EToday),
		ETotal:      float64(plant.ETotal),
		Type:        plant.Type,
		MasterID:    plant.MasterID,
		ThumbURL:    plant.ThumbURL,
		Email:       plant.Email,
		Phone:       plant.Phone,
		PlantCreate: parsePlantTime(plant.CreateAt),
		PlantUpdate: parsePlantTime(plant.UpdateAt),
	}
}
