// Command migrate-json-to-postgres copies fleet data from the JSON datastore
// into Postgres. Estates receive new identifiers on import, so plant and
// report estate links are remapped along the way. User accounts and raw power
// samples are not migrated; accounts must be re-created with bootstrap-admin
// and power history refills from the next sync runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"solarsync/internal/models"
	"solarsync/internal/storage"
)

const reportHistoryLimit = 3650

func main() {
	jsonPath := flag.String("json", "data/store.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("SOLARSYNC_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, SOLARSYNC_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	source, err := storage.NewStorage(*jsonPath)
	if err != nil {
		logger.Error("failed to open JSON datastore", "error", err)
		os.Exit(1)
	}

	target, err := storage.NewPostgresRepository(dsn)
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = target.Close(closeCtx)
		cancel()
	}()

	counts, err := migrate(ctx, source, target)
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	logger.Info("migration completed",
		"estates", counts.Estates,
		"plants", counts.Plants,
		"inverters", counts.Inverters,
		"daily_reports", counts.DailyReports)
	logger.Info("user accounts were not migrated, re-create them with bootstrap-admin")
}

type migrationCounts struct {
	Estates      int
	Plants       int
	Inverters    int
	DailyReports int
}

func migrate(ctx context.Context, source, target storage.Repository) (migrationCounts, error) {
	var counts migrationCounts

	estates, err := source.ListEstates(ctx)
	if err != nil {
		return counts, fmt.Errorf("list estates: %w", err)
	}
	// Estate IDs are assigned by the target database, so plant and report
	// rows need the old-to-new mapping.
	estateIDs := make(map[int64]int64, len(estates))
	for _, estate := range estates {
		created, err := target.CreateEstate(ctx, storage.EstateParams{
			Name:        estate.Name,
			Address:     estate.Address,
			EstateType:  estate.EstateType,
			Description: estate.Description,
			AreaSqm:     estate.AreaSqm,
			NumUnits:    estate.NumUnits,
			Active:      estate.Active,
		})
		if err != nil {
			return counts, fmt.Errorf("create estate %q: %w", estate.Name, err)
		}
		estateIDs[estate.ID] = created.ID
		counts.Estates++
	}

	plants, err := allPlants(ctx, source)
	if err != nil {
		return counts, err
	}
	for _, plant := range plants {
		copied := plant
		copied.EstateID = estateIDs[plant.EstateID]
		if _, err := target.UpsertPlant(ctx, copied); err != nil {
			return counts, fmt.Errorf("upsert plant %d: %w", plant.ID, err)
		}
		if copied.EstateID != 0 {
			if err := target.AssignPlantEstate(ctx, copied.ID, copied.EstateID); err != nil {
				return counts, fmt.Errorf("assign plant %d to estate: %w", plant.ID, err)
			}
		}
		counts.Plants++

		inverters, err := source.ListInverters(ctx, plant.ID)
		if err != nil {
			return counts, fmt.Errorf("list inverters for plant %d: %w", plant.ID, err)
		}
		for _, inverter := range inverters {
			if _, err := target.UpsertInverter(ctx, inverter); err != nil {
				return counts, fmt.Errorf("upsert inverter %s: %w", inverter.SN, err)
			}
			counts.Inverters++
		}

		reports, err := source.ListDailyReports(ctx, plant.ID, reportHistoryLimit)
		if err != nil {
			return counts, fmt.Errorf("list reports for plant %d: %w", plant.ID, err)
		}
		for _, report := range reports {
			copiedReport := report
			copiedReport.ID = 0
			copiedReport.EstateID = estateIDs[report.EstateID]
			err := target.InsertDailyReport(ctx, copiedReport)
			if errors.Is(err, storage.ErrDuplicate) {
				continue
			}
			if err != nil {
				return counts, fmt.Errorf("insert report %s for plant %d: %w", report.ReportDate, plant.ID, err)
			}
			counts.DailyReports++
		}
	}

	return counts, nil
}

func allPlants(ctx context.Context, source storage.Repository) ([]models.EstatePlant, error) {
	const pageSize = 200
	var plants []models.EstatePlant
	for page := 1; ; page++ {
		result, err := source.ListPlants(ctx, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list plants page %d: %w", page, err)
		}
		plants = append(plants, result.Plants...)
		if len(result.Plants) == 0 || len(plants) >= result.Total {
			break
		}
	}
	return plants, nil
}
