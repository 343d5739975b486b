package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"solarsync/internal/models"
	"solarsync/internal/sunsynk"
)

const jobInverters = "inverters"

// storePageSize is the page size used when walking locally stored plants.
const storePageSize = 200

// SyncInverters fetches the inverters attached to every stored plant and
// upserts them keyed by serial number. A plant whose inverter fetch fails
// counts as one failure and the run continues.
func (r *Runner) SyncInverters(ctx context.Context) (Result, error) {
	ctx, logger, result, started := r.startRun(ctx, jobInverters)
	defer r.finishRun(logger, &result, started)

	page := 1
	plants := 0
	for {
		stored, err := r.store.ListPlants(ctx, page, storePageSize)
		if err != nil {
			return result, fmt.Errorf("list stored plants: %w", err)
		}
		if len(stored.Plants) == 0 {
			break
		}
		for _, plant := range stored.Plants {
			plants++
			r.syncPlantInverters(ctx, logger, plant.ID, &result)
		}
		if page*storePageSize >= stored.Total {
			break
		}
		page++
	}
	logger.Info("inverter sync walked plants", "plants", plants)
	return result, nil
}

func (r *Runner) syncPlantInverters(ctx context.Context, logger *slog.Logger, plantID int64, result *Result) {
	query := sunsynk.PlantInvertersQuery{Page: 1, Limit: 50, Lan: r.lan}
	for {
		resp, err := r.upstream.ListPlantInverters(ctx, plantID, query)
		if err != nil {
			logger.Warn("inverter fetch failed", "plant_id", plantID, "error", err)
			result.Failed++
			r.observe(jobInverters, outcomeFailed)
			return
		}
		for _, inverter := range resp.Infos {
			created, err := r.store.UpsertInverter(ctx, inverterToModel(inverter, plantID))
			if err != nil {
				logger.Error("inverter upsert failed", "sn", inverter.SN, "error", err)
				result.Failed++
				r.observe(jobInverters, outcomeFailed)
				continue
			}
			if created {
				result.Inserted++
				r.observe(jobInverters, outcomeInserted)
			} else {
				result.Updated++
				r.observe(jobInverters, outcomeUpdated)
			}
		}
		if query.Page*query.Limit >= resp.Total || len(resp.Infos) == 0 {
			return
		}
		query.Page++
	}
}

func inverterToModel(inverter sunsynk.Inverter, plantID int64) models.Inverter {
	return models.Inverter{
		ID:        inverter.ID,
		SN:        inverter.SN,
		PlantID:   plantID,
		Alias:     inverter.Alias,
		GSN:       inverter.GSN,
		Status:    inverter.Status,
		Type:      inverter.Type,
		CommType:  inverter.CommType,
		Model:     inverter.Model,
		Version:   inverter.Version,
		RatePower: float64(inverter.RatePower),
		Pac:       float64(inverter.Pac),
		EToday:    float64(inverter.EToday),
		ETotal:    float64(inverter.ETotal),
	}
}
