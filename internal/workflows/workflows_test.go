package workflows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"solarsync/internal/models"
	"solarsync/internal/observability/metrics"
	"solarsync/internal/storage"
	"solarsync/internal/sunsynk"
)

type fakeUpstream struct {
	listPlants     func(ctx context.Context, page, limit int, lan string) (sunsynk.Page[sunsynk.Plant], error)
	plantInverters func(ctx context.Context, plantID int64, q sunsynk.PlantInvertersQuery) (sunsynk.Page[sunsynk.Inverter], error)
	energyDay      func(ctx context.Context, plantID int64, date, lan string) ([]sunsynk.EnergyChannel, error)
	realtime       func(ctx context.Context, plantID int64, lan string) (sunsynk.RealtimeSnapshot, error)
}

func (f *fakeUpstream) ListPlants(ctx context.Context, page, limit int, lan string) (sunsynk.Page[sunsynk.Plant], error) {
	if f.listPlants == nil {
		return sunsynk.Page[sunsynk.Plant]{}, errors.New("listPlants not stubbed")
	}
	return f.listPlants(ctx, page, limit, lan)
}

func (f *fakeUpstream) ListPlantInverters(ctx context.Context, plantID int64, q sunsynk.PlantInvertersQuery) (sunsynk.Page[sunsynk.Inverter], error) {
	if f.plantInverters == nil {
		return sunsynk.Page[sunsynk.Inverter]{}, errors.New("plantInverters not stubbed")
	}
	return f.plantInverters(ctx, plantID, q)
}

func (f *fakeUpstream) PlantEnergyDay(ctx context.Context, plantID int64, date, lan string) ([]sunsynk.EnergyChannel, error) {
	if f.energyDay == nil {
		return nil, errors.New("energyDay not stubbed")
	}
	return f.energyDay(ctx, plantID, date, lan)
}

func (f *fakeUpstream) PlantRealtime(ctx context.Context, plantID int64, lan string) (sunsynk.RealtimeSnapshot, error) {
	if f.realtime == nil {
		return sunsynk.RealtimeSnapshot{}, errors.New("realtime not stubbed")
	}
	return f.realtime(ctx, plantID, lan)
}

type fakeCache struct {
	mu        sync.Mutex
	snapshots []models.RealtimePower
	err       error
}

func (f *fakeCache) StoreRealtime(_ context.Context, snapshot models.RealtimePower) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

func newTestRunner(t *testing.T, upstream Upstream, cache PowerCacher) (*Runner, *storage.Storage, *metrics.Recorder) {
	t.Helper()
	store, err := storage.NewStorage("")
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	recorder := metrics.New()
	runner, err := NewRunner(Config{
		Upstream: upstream,
		Store:    store,
		Cache:    cache,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  recorder,
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner, store, recorder
}

func plantPage(total, pageSize int, plants ...sunsynk.Plant) sunsynk.Page[sunsynk.Plant] {
	return sunsynk.Page[sunsynk.Plant]{Total: total, PageSize: pageSize, Infos: plants}
}

func TestSyncPlantsInsertsAndUpdates(t *testing.T) {
	calls := 0
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, page, limit int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			calls++
			switch page {
			case 1:
				return plantPage(3, 2,
					sunsynk.Plant{ID: 101, Name: "Willow Creek A", Status: 1, Pac: 3.2, CreateAt: "2026-01-10 08:00:00"},
					sunsynk.Plant{ID: 102, Name: "Willow Creek B", Status: 1},
				), nil
			case 2:
				return plantPage(3, 2, sunsynk.Plant{ID: 103, Name: "Oak Lane", Status: 2}), nil
			default:
				return sunsynk.Page[sunsynk.Plant]{}, fmt.Errorf("unexpected page %d", page)
			}
		},
	}
	runner, store, recorder := newTestRunner(t, upstream, nil)

	result, err := runner.SyncPlants(context.Background())
	if err != nil {
		t.Fatalf("SyncPlants: %v", err)
	}
	if result.Inserted != 3 || result.Updated != 0 || result.Failed != 0 {
		t.Fatalf("first run counts = %+v", result)
	}
	if calls != 2 {
		t.Fatalf("upstream pages fetched = %d, want 2", calls)
	}
	if result.RunID == "" {
		t.Fatal("expected a run id")
	}

	plant, err := store.GetPlant(context.Background(), 101)
	if err != nil {
		t.Fatalf("GetPlant: %v", err)
	}
	if plant.Name != "Willow Creek A" || plant.Pac != 3.2 {
		t.Fatalf("stored plant = %+v", plant)
	}
	if plant.PlantCreate == nil || plant.PlantCreate.Format("2006-01-02") != "2026-01-10" {
		t.Fatalf("plant create stamp = %v", plant.PlantCreate)
	}

	result, err = runner.SyncPlants(context.Background())
	if err != nil {
		t.Fatalf("second SyncPlants: %v", err)
	}
	if result.Inserted != 0 || result.Updated != 3 {
		t.Fatalf("second run counts = %+v", result)
	}

	counts := recorder.SyncItemCounts()
	if counts[metrics.SyncItemLabel{Job: "plants", Outcome: "inserted"}] != 3 {
		t.Fatalf("inserted counter = %v", counts)
	}
	if counts[metrics.SyncItemLabel{Job: "plants", Outcome: "updated"}] != 3 {
		t.Fatalf("updated counter = %v", counts)
	}
}

func TestSyncPlantsCountsFailedPages(t *testing.T) {
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, page, _ int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			if page == 1 {
				return plantPage(60, 30, sunsynk.Plant{ID: 1, Name: "First"}), nil
			}
			return sunsynk.Page[sunsynk.Plant]{}, errors.New("upstream timeout")
		},
	}
	runner, _, _ := newTestRunner(t, upstream, nil)

	result, err := runner.SyncPlants(context.Background())
	if err != nil {
		t.Fatalf("SyncPlants: %v", err)
	}
	if result.Inserted != 1 || result.Failed != 1 {
		t.Fatalf("counts = %+v", result)
	}
}

func TestSyncPlantsPreservesEstateAssignment(t *testing.T) {
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, _, _ int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			return plantPage(1, 30, sunsynk.Plant{ID: 7, Name: "Fern Glen", Status: 1}), nil
		},
	}
	runner, store, _ := newTestRunner(t, upstream, nil)
	ctx := context.Background()

	if _, err := runner.SyncPlants(ctx); err != nil {
		t.Fatalf("SyncPlants: %v", err)
	}
	estate, err := store.CreateEstate(ctx, storage.EstateParams{Name: "Fern Glen Estate", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}
	if err := store.AssignPlantEstate(ctx, 7, estate.ID); err != nil {
		t.Fatalf("AssignPlantEstate: %v", err)
	}

	if _, err := runner.SyncPlants(ctx); err != nil {
		t.Fatalf("second SyncPlants: %v", err)
	}
	plant, err := store.GetPlant(ctx, 7)
	if err != nil {
		t.Fatalf("GetPlant: %v", err)
	}
	if plant.EstateID != estate.ID {
		t.Fatalf("estate link lost, EstateID = %d", plant.EstateID)
	}
}

func TestSyncInvertersWalksStoredPlants(t *testing.T) {
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, _, _ int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			return plantPage(2, 30,
				sunsynk.Plant{ID: 1, Name: "One"},
				sunsynk.Plant{ID: 2, Name: "Two"},
			), nil
		},
		plantInverters: func(_ context.Context, plantID int64, q sunsynk.PlantInvertersQuery) (sunsynk.Page[sunsynk.Inverter], error) {
			if plantID == 2 {
				return sunsynk.Page[sunsynk.Inverter]{}, errors.New("device gateway down")
			}
			return sunsynk.Page[sunsynk.Inverter]{
				Total:    1,
				PageSize: q.Limit,
				Infos:    []sunsynk.Inverter{{ID: 501, SN: "INV-501", Alias: "Roof East", Status: 1, RatePower: 8}},
			}, nil
		},
	}
	runner, store, _ := newTestRunner(t, upstream, nil)
	ctx := context.Background()

	if _, err := runner.SyncPlants(ctx); err != nil {
		t.Fatalf("SyncPlants: %v", err)
	}
	result, err := runner.SyncInverters(ctx)
	if err != nil {
		t.Fatalf("SyncInverters: %v", err)
	}
	if result.Inserted != 1 || result.Failed != 1 {
		t.Fatalf("counts = %+v", result)
	}

	inverters, err := store.ListInverters(ctx, 1)
	if err != nil {
		t.Fatalf("ListInverters: %v", err)
	}
	if len(inverters) != 1 || inverters[0].SN != "INV-501" || inverters[0].PlantID != 1 {
		t.Fatalf("stored inverters = %+v", inverters)
	}
}

func TestIngestPowerEnergyModeSkipsDuplicates(t *testing.T) {
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, _, _ int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			return plantPage(1, 100, sunsynk.Plant{ID: 9, Name: "Nine"}), nil
		},
		energyDay: func(_ context.Context, plantID int64, date, _ string) ([]sunsynk.EnergyChannel, error) {
			if plantID != 9 {
				return nil, fmt.Errorf("unexpected plant %d", plantID)
			}
			return []sunsynk.EnergyChannel{
				{Label: "PV", Records: []sunsynk.EnergyRecord{
					{Time: "08:00", Value: 1.5},
					{Time: "08:10", Value: 2.0},
					{Time: "bogus", Value: 3.0},
				}},
				{Label: "SOC", Records: []sunsynk.EnergyRecord{{Time: "08:00", Value: 80}}},
			}, nil
		},
	}
	runner, store, _ := newTestRunner(t, upstream, nil)
	ctx := context.Background()

	result, err := runner.IngestPower(ctx, ModeEnergy)
	if err != nil {
		t.Fatalf("IngestPower: %v", err)
	}
	if result.Inserted != 3 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("first run counts = %+v", result)
	}

	result, err = runner.IngestPower(ctx, ModeEnergy)
	if err != nil {
		t.Fatalf("second IngestPower: %v", err)
	}
	if result.Inserted != 0 || result.Skipped != 3 {
		t.Fatalf("second run counts = %+v", result)
	}

	latest, err := store.LatestPowerPoint(ctx, 9, "PV")
	if err != nil {
		t.Fatalf("LatestPowerPoint: %v", err)
	}
	if latest.Value != 2.0 {
		t.Fatalf("latest PV value = %v", latest.Value)
	}
	if latest.TS.Location() != time.UTC {
		t.Fatalf("sample stored in %v, want UTC", latest.TS.Location())
	}
}

func TestIngestPowerRealtimeModeCachesSnapshot(t *testing.T) {
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, _, _ int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			return plantPage(1, 100, sunsynk.Plant{ID: 4, Name: "Four"}), nil
		},
		realtime: func(_ context.Context, plantID int64, _ string) (sunsynk.RealtimeSnapshot, error) {
			return sunsynk.RealtimeSnapshot{Pac: 2.4, Battery: -0.5, Grid: 0.1, Load: 2.0, SOC: 88, EToday: 11, ETotal: 420, Efficiency: 61}, nil
		},
	}
	cache := &fakeCache{}
	runner, store, _ := newTestRunner(t, upstream, cache)
	ctx := context.Background()

	result, err := runner.IngestPower(ctx, ModeRealtime)
	if err != nil {
		t.Fatalf("IngestPower: %v", err)
	}
	if result.Inserted != 8 || result.Failed != 0 {
		t.Fatalf("counts = %+v", result)
	}

	if len(cache.snapshots) != 1 {
		t.Fatalf("cached snapshots = %d", len(cache.snapshots))
	}
	snap := cache.snapshots[0]
	if snap.PlantID != 4 || snap.Pac != 2.4 || snap.SOC != 88 {
		t.Fatalf("cached snapshot = %+v", snap)
	}
	if snap.UpdatedAt.Second() != 0 || snap.UpdatedAt.Nanosecond() != 0 {
		t.Fatalf("snapshot timestamp not truncated to the minute: %v", snap.UpdatedAt)
	}

	soc, err := store.LatestPowerPoint(ctx, 4, models.MetricSOC)
	if err != nil {
		t.Fatalf("LatestPowerPoint: %v", err)
	}
	if soc.Value != 88 {
		t.Fatalf("stored SOC = %v", soc.Value)
	}
}

func TestIngestPowerCacheFailureDoesNotFailRun(t *testing.T) {
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, _, _ int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			return plantPage(1, 100, sunsynk.Plant{ID: 4, Name: "Four"}), nil
		},
		realtime: func(_ context.Context, _ int64, _ string) (sunsynk.RealtimeSnapshot, error) {
			return sunsynk.RealtimeSnapshot{Pac: 1}, nil
		},
	}
	runner, _, _ := newTestRunner(t, upstream, &fakeCache{err: errors.New("redis gone")})

	result, err := runner.IngestPower(context.Background(), ModeRealtime)
	if err != nil {
		t.Fatalf("IngestPower: %v", err)
	}
	if result.Failed != 0 || result.Inserted != 8 {
		t.Fatalf("counts = %+v", result)
	}
}

func TestIngestPowerCountsFetchFailures(t *testing.T) {
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, _, _ int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			return plantPage(2, 100,
				sunsynk.Plant{ID: 1, Name: "One"},
				sunsynk.Plant{ID: 2, Name: "Two"},
			), nil
		},
		energyDay: func(_ context.Context, plantID int64, _, _ string) ([]sunsynk.EnergyChannel, error) {
			if plantID == 2 {
				return nil, errors.New("upstream 500")
			}
			return []sunsynk.EnergyChannel{{Label: "PV", Records: []sunsynk.EnergyRecord{{Time: "12:00", Value: 5}}}}, nil
		},
	}
	runner, _, recorder := newTestRunner(t, upstream, nil)

	result, err := runner.IngestPower(context.Background(), ModeEnergy)
	if err != nil {
		t.Fatalf("IngestPower: %v", err)
	}
	if result.Inserted != 1 || result.Failed != 1 {
		t.Fatalf("counts = %+v", result)
	}
	counts := recorder.SyncItemCounts()
	if counts[metrics.SyncItemLabel{Job: "power-energy", Outcome: "failed"}] != 1 {
		t.Fatalf("failed counter = %v", counts)
	}
}

func TestParseIngestMode(t *testing.T) {
	if mode, err := ParseIngestMode(" Energy "); err != nil || mode != ModeEnergy {
		t.Fatalf("ParseIngestMode energy = %v, %v", mode, err)
	}
	if mode, err := ParseIngestMode("realtime"); err != nil || mode != ModeRealtime {
		t.Fatalf("ParseIngestMode realtime = %v, %v", mode, err)
	}
	if _, err := ParseIngestMode("hourly"); err == nil {
		t.Fatal("expected an error for unknown mode")
	}
}

func TestSnapshotDailyReportsSkipsExisting(t *testing.T) {
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, _, _ int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			return plantPage(2, 30,
				sunsynk.Plant{ID: 1, Name: "One", Status: 1, Pac: 2, EToday: 10, ETotal: 100, Efficiency: 55},
				sunsynk.Plant{ID: 2, Name: "Two", Status: 2},
			), nil
		},
	}
	runner, store, _ := newTestRunner(t, upstream, nil)
	ctx := context.Background()

	if _, err := runner.SyncPlants(ctx); err != nil {
		t.Fatalf("SyncPlants: %v", err)
	}
	result, err := runner.SnapshotDailyReports(ctx)
	if err != nil {
		t.Fatalf("SnapshotDailyReports: %v", err)
	}
	if result.Inserted != 2 || result.Skipped != 0 {
		t.Fatalf("first run counts = %+v", result)
	}

	result, err = runner.SnapshotDailyReports(ctx)
	if err != nil {
		t.Fatalf("second SnapshotDailyReports: %v", err)
	}
	if result.Inserted != 0 || result.Skipped != 2 {
		t.Fatalf("second run counts = %+v", result)
	}

	reports, err := store.ListDailyReports(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListDailyReports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].EToday != 10 || reports[0].ETotal != 100 {
		t.Fatalf("report = %+v", reports[0])
	}
	if reports[0].ReportDate != time.Now().UTC().Format("2006-01-02") {
		t.Fatalf("report date = %q", reports[0].ReportDate)
	}
}

func TestMatchEstatesLinksByWordOverlap(t *testing.T) {
	upstream := &fakeUpstream{
		listPlants: func(_ context.Context, _, _ int, _ string) (sunsynk.Page[sunsynk.Plant], error) {
			return plantPage(3, 30,
				sunsynk.Plant{ID: 1, Name: "Willow Creek Unit 12"},
				sunsynk.Plant{ID: 2, Name: "Oak-Lane House 3"},
				sunsynk.Plant{ID: 3, Name: "Unlabelled Site"},
			), nil
		},
	}
	runner, store, _ := newTestRunner(t, upstream, nil)
	ctx := context.Background()

	if _, err := runner.SyncPlants(ctx); err != nil {
		t.Fatalf("SyncPlants: %v", err)
	}
	willow, err := store.CreateEstate(ctx, storage.EstateParams{Name: "Willow Creek Estate", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}
	oak, err := store.CreateEstate(ctx, storage.EstateParams{Name: "Oak Lane", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}

	result, err := runner.MatchEstates(ctx)
	if err != nil {
		t.Fatalf("MatchEstates: %v", err)
	}
	if result.Updated != 2 || result.Skipped != 1 || result.Failed != 0 {
		t.Fatalf("counts = %+v", result)
	}

	p1, _ := store.GetPlant(ctx, 1)
	p2, _ := store.GetPlant(ctx, 2)
	p3, _ := store.GetPlant(ctx, 3)
	if p1.EstateID != willow.ID {
		t.Fatalf("plant 1 estate = %d, want %d", p1.EstateID, willow.ID)
	}
	if p2.EstateID != oak.ID {
		t.Fatalf("plant 2 estate = %d, want %d", p2.EstateID, oak.ID)
	}
	if p3.EstateID != 0 {
		t.Fatalf("plant 3 unexpectedly matched estate %d", p3.EstateID)
	}

	result, err = runner.MatchEstates(ctx)
	if err != nil {
		t.Fatalf("second MatchEstates: %v", err)
	}
	if result.Updated != 0 || result.Skipped != 3 {
		t.Fatalf("second run counts = %+v", result)
	}
}

func TestExtractWords(t *testing.T) {
	words := extractWords("Willow-Creek (Phase 2)")
	for _, want := range []string{"willow", "creek", "phase", "2"} {
		if _, ok := words[want]; !ok {
			t.Fatalf("missing word %q in %v", want, words)
		}
	}
	if len(words) != 4 {
		t.Fatalf("words = %v", words)
	}
}

func TestNewRunnerValidation(t *testing.T) {
	if _, err := NewRunner(Config{Store: mustStorage(t)}); err == nil {
		t.Fatal("expected an error without an upstream client")
	}
	if _, err := NewRunner(Config{Upstream: &fakeUpstream{}}); err == nil {
		t.Fatal("expected an error without a store")
	}
}

func mustStorage(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.NewStorage("")
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}
