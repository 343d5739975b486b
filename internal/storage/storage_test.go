package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"solarsync/internal/models"
)

func newTestStorage(t *testing.T, opts ...Option) *Storage {
	t.Helper()
	store, err := NewStorage("", opts...)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, CreateUserParams{
		Email:       "Admin@Example.COM",
		DisplayName: "Admin",
		Password:    "correct horse",
		Roles:       []string{"admin"},
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "admin@example.com" {
		t.Fatalf("email not lowercased: %q", user.Email)
	}
	if !user.HasRole("admin") {
		t.Fatalf("expected admin role, got %v", user.Roles)
	}

	got, err := store.AuthenticateUser(ctx, "admin@example.com", "correct horse")
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("authenticated wrong user: %q != %q", got.ID, user.ID)
	}

	if _, err := store.AuthenticateUser(ctx, "admin@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := store.AuthenticateUser(ctx, "nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, CreateUserParams{Email: "ops@example.com", Password: "password1"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, err := store.CreateUser(ctx, CreateUserParams{Email: "OPS@example.com", Password: "password2"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestCreateUserDefaultsViewerRole(t *testing.T) {
	store := newTestStorage(t)

	user, err := store.CreateUser(context.Background(), CreateUserParams{Email: "viewer@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if len(user.Roles) != 1 || user.Roles[0] != "viewer" {
		t.Fatalf("expected default viewer role, got %v", user.Roles)
	}
}

func TestUpdateUserPartialFields(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, CreateUserParams{Email: "ops@example.com", Password: "password1", DisplayName: "Ops"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	name := "Operations"
	updated, err := store.UpdateUser(ctx, user.ID, UserUpdate{DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if updated.DisplayName != "Operations" {
		t.Fatalf("display name not updated: %q", updated.DisplayName)
	}
	if len(updated.Roles) != 1 || updated.Roles[0] != "viewer" {
		t.Fatalf("roles changed unexpectedly: %v", updated.Roles)
	}

	if _, err := store.UpdateUser(ctx, "missing", UserUpdate{DisplayName: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertPlantCreatedAndUpdatedFlags(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	created, err := store.UpsertPlant(ctx, models.EstatePlant{ID: 42, Name: "Willow Creek", Status: models.PlantStatusNormal, Pac: 3.4})
	if err != nil {
		t.Fatalf("UpsertPlant: %v", err)
	}
	if !created {
		t.Fatal("first upsert should report created")
	}

	created, err = store.UpsertPlant(ctx, models.EstatePlant{ID: 42, Name: "Willow Creek", Status: models.PlantStatusOffline, Pac: 0})
	if err != nil {
		t.Fatalf("UpsertPlant update: %v", err)
	}
	if created {
		t.Fatal("second upsert should report updated")
	}

	plant, err := store.GetPlant(ctx, 42)
	if err != nil {
		t.Fatalf("GetPlant: %v", err)
	}
	if plant.Status != models.PlantStatusOffline {
		t.Fatalf("status not refreshed: %d", plant.Status)
	}
}

func TestUpsertPlantPreservesEstateLink(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	estate, err := store.CreateEstate(ctx, EstateParams{Name: "Greenfields", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}
	if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: 7, Name: "Unit 7"}); err != nil {
		t.Fatalf("UpsertPlant: %v", err)
	}
	if err := store.AssignPlantEstate(ctx, 7, estate.ID); err != nil {
		t.Fatalf("AssignPlantEstate: %v", err)
	}

	// A later sync write must not clobber the assignment.
	if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: 7, Name: "Unit 7", Pac: 1.2}); err != nil {
		t.Fatalf("UpsertPlant refresh: %v", err)
	}
	plant, err := store.GetPlant(ctx, 7)
	if err != nil {
		t.Fatalf("GetPlant: %v", err)
	}
	if plant.EstateID != estate.ID {
		t.Fatalf("estate link lost: %d", plant.EstateID)
	}
}

func TestListPlantsPagination(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: id, Name: "Plant"}); err != nil {
			t.Fatalf("UpsertPlant %d: %v", id, err)
		}
	}

	page, err := store.ListPlants(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListPlants: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("total = %d, want 5", page.Total)
	}
	if len(page.Plants) != 2 || page.Plants[0].ID != 3 || page.Plants[1].ID != 4 {
		t.Fatalf("unexpected page contents: %+v", page.Plants)
	}

	empty, err := store.ListPlants(ctx, 4, 2)
	if err != nil {
		t.Fatalf("ListPlants past end: %v", err)
	}
	if len(empty.Plants) != 0 || empty.Total != 5 {
		t.Fatalf("expected empty page with total 5, got %+v", empty)
	}
}

func TestInsertPowerPointRejectsDuplicates(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	point := models.PowerPoint{PlantID: 42, TS: ts, Metric: models.MetricPV, Value: 3.5}
	if err := store.InsertPowerPoint(ctx, point); err != nil {
		t.Fatalf("InsertPowerPoint: %v", err)
	}
	if err := store.InsertPowerPoint(ctx, point); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same instant in a different zone is still the same sample.
	local := models.PowerPoint{PlantID: 42, TS: ts.In(time.FixedZone("SAST", 2*60*60)), Metric: models.MetricPV, Value: 3.5}
	if err := store.InsertPowerPoint(ctx, local); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same instant, got %v", err)
	}

	// A different metric at the same instant is a distinct sample.
	other := models.PowerPoint{PlantID: 42, TS: ts, Metric: models.MetricLoad, Value: 1.1}
	if err := store.InsertPowerPoint(ctx, other); err != nil {
		t.Fatalf("InsertPowerPoint other metric: %v", err)
	}
}

func TestLatestPowerPoint(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	for i, value := range []float64{1.0, 2.0, 3.0} {
		point := models.PowerPoint{PlantID: 9, TS: base.Add(time.Duration(i) * 10 * time.Minute), Metric: models.MetricPV, Value: value}
		if err := store.InsertPowerPoint(ctx, point); err != nil {
			t.Fatalf("InsertPowerPoint: %v", err)
		}
	}

	latest, err := store.LatestPowerPoint(ctx, 9, models.MetricPV)
	if err != nil {
		t.Fatalf("LatestPowerPoint: %v", err)
	}
	if latest.Value != 3.0 {
		t.Fatalf("latest value = %v, want 3.0", latest.Value)
	}

	if _, err := store.LatestPowerPoint(ctx, 9, models.MetricSOC); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEstateTotalsAndOfflinePlants(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	estate, err := store.CreateEstate(ctx, EstateParams{Name: "Greenfields", NumUnits: 40, Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}

	plants := []models.EstatePlant{
		{ID: 1, Name: "Unit 1", Status: models.PlantStatusNormal, Pac: 2.0, EToday: 10, ETotal: 100, Efficiency: 80},
		{ID: 2, Name: "Unit 2", Status: models.PlantStatusOffline, Pac: 0, EToday: 0, ETotal: 50, Efficiency: 0},
		{ID: 3, Name: "Unit 3", Status: models.PlantStatusWarning, Pac: 1.5, EToday: 6, ETotal: 70, Efficiency: 70},
	}
	for _, plant := range plants {
		if _, err := store.UpsertPlant(ctx, plant); err != nil {
			t.Fatalf("UpsertPlant %d: %v", plant.ID, err)
		}
		if err := store.AssignPlantEstate(ctx, plant.ID, estate.ID); err != nil {
			t.Fatalf("AssignPlantEstate %d: %v", plant.ID, err)
		}
	}

	totals, err := store.EstateTotals(ctx, estate.ID)
	if err != nil {
		t.Fatalf("EstateTotals: %v", err)
	}
	if totals.Plants != 3 || totals.Online != 2 || totals.Offline != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/2/1", totals.Plants, totals.Online, totals.Offline)
	}
	if totals.Pac != 3.5 || totals.EToday != 16 || totals.ETotal != 220 {
		t.Fatalf("sums wrong: %+v", totals)
	}
	if totals.Efficiency != 50 {
		t.Fatalf("efficiency = %v, want 50", totals.Efficiency)
	}

	offline, err := store.OfflinePlants(ctx, estate.ID)
	if err != nil {
		t.Fatalf("OfflinePlants: %v", err)
	}
	if len(offline) != 1 || offline[0].ID != 2 {
		t.Fatalf("unexpected offline plants: %+v", offline)
	}

	if _, err := store.EstateTotals(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown estate, got %v", err)
	}
}

func TestDeleteEstateDetachesPlants(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	estate, err := store.CreateEstate(ctx, EstateParams{Name: "Greenfields", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}
	if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: 1, Name: "Unit 1"}); err != nil {
		t.Fatalf("UpsertPlant: %v", err)
	}
	if err := store.AssignPlantEstate(ctx, 1, estate.ID); err != nil {
		t.Fatalf("AssignPlantEstate: %v", err)
	}

	if err := store.DeleteEstate(ctx, estate.ID); err != nil {
		t.Fatalf("DeleteEstate: %v", err)
	}
	plant, err := store.GetPlant(ctx, 1)
	if err != nil {
		t.Fatalf("GetPlant after delete: %v", err)
	}
	if plant.EstateID != 0 {
		t.Fatalf("plant still linked to deleted estate: %d", plant.EstateID)
	}
}

func TestHourlyMetricsBucketsLatestSample(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	estate, err := store.CreateEstate(ctx, EstateParams{Name: "Greenfields", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}
	for _, id := range []int64{1, 2} {
		if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: id, Name: "Unit"}); err != nil {
			t.Fatalf("UpsertPlant: %v", err)
		}
		if err := store.AssignPlantEstate(ctx, id, estate.ID); err != nil {
			t.Fatalf("AssignPlantEstate: %v", err)
		}
	}

	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	insert := func(plantID int64, ts time.Time, metric string, value float64) {
		t.Helper()
		if err := store.InsertPowerPoint(ctx, models.PowerPoint{PlantID: plantID, TS: ts, Metric: metric, Value: value}); err != nil {
			t.Fatalf("InsertPowerPoint: %v", err)
		}
	}

	// Two samples for plant 1 within hour 10; only the later one should count.
	insert(1, day.Add(10*time.Hour+10*time.Minute), models.MetricEToday, 4.0)
	insert(1, day.Add(10*time.Hour+50*time.Minute), models.MetricEToday, 6.0)
	insert(2, day.Add(10*time.Hour+30*time.Minute), models.MetricEToday, 3.0)
	insert(1, day.Add(10*time.Hour+50*time.Minute), models.MetricEfficiency, 80)
	insert(2, day.Add(10*time.Hour+30*time.Minute), models.MetricEfficiency, 60)
	// Non-energy metrics are ignored by the hourly rollup.
	insert(1, day.Add(10*time.Hour+40*time.Minute), models.MetricPV, 2.5)
	// Sample on the following day must not leak in.
	insert(1, day.Add(25*time.Hour), models.MetricEToday, 99)

	metrics, err := store.HourlyMetrics(ctx, []int64{estate.ID}, day)
	if err != nil {
		t.Fatalf("HourlyMetrics: %v", err)
	}
	if len(metrics) != 1 {
		t.Fatalf("expected 1 bucket, got %d: %+v", len(metrics), metrics)
	}
	bucket := metrics[0]
	if bucket.EstateID != estate.ID || bucket.Hour != 10 {
		t.Fatalf("unexpected bucket key: %+v", bucket)
	}
	if bucket.EToday != 9.0 {
		t.Fatalf("etoday = %v, want 9.0", bucket.EToday)
	}
	if bucket.Efficiency != 70 {
		t.Fatalf("efficiency = %v, want 70", bucket.Efficiency)
	}
	wantSample := day.Add(10*time.Hour + 50*time.Minute)
	if !bucket.SampleTime.Equal(wantSample) {
		t.Fatalf("sample time = %v, want %v", bucket.SampleTime, wantSample)
	}
}

func TestInsertDailyReportRejectsDuplicates(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	report := models.DailyReport{PlantID: 42, ReportDate: "2026-03-14", Name: "Willow Creek", EToday: 21.5}
	if err := store.InsertDailyReport(ctx, report); err != nil {
		t.Fatalf("InsertDailyReport: %v", err)
	}
	if err := store.InsertDailyReport(ctx, report); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	next := models.DailyReport{PlantID: 42, ReportDate: "2026-03-15", Name: "Willow Creek", EToday: 18.0}
	if err := store.InsertDailyReport(ctx, next); err != nil {
		t.Fatalf("InsertDailyReport next day: %v", err)
	}

	reports, err := store.ListDailyReports(ctx, 42, 10)
	if err != nil {
		t.Fatalf("ListDailyReports: %v", err)
	}
	if len(reports) != 2 || reports[0].ReportDate != "2026-03-15" {
		t.Fatalf("unexpected report order: %+v", reports)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "snapshot.json")
	ctx := context.Background()

	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	estate, err := store.CreateEstate(ctx, EstateParams{Name: "Greenfields", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}
	if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: 42, Name: "Willow Creek"}); err != nil {
		t.Fatalf("UpsertPlant: %v", err)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage reload: %v", err)
	}
	got, err := reloaded.GetEstate(ctx, estate.ID)
	if err != nil {
		t.Fatalf("GetEstate after reload: %v", err)
	}
	if got.Name != "Greenfields" {
		t.Fatalf("estate name = %q", got.Name)
	}
	if _, err := reloaded.GetPlant(ctx, 42); err != nil {
		t.Fatalf("GetPlant after reload: %v", err)
	}

	// The next estate id continues from the snapshot.
	second, err := reloaded.CreateEstate(ctx, EstateParams{Name: "Riverside", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate after reload: %v", err)
	}
	if second.ID != estate.ID+1 {
		t.Fatalf("estate id sequence broken: %d after %d", second.ID, estate.ID)
	}
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: 1, Name: "Unit 1"}); err != nil {
		t.Fatalf("UpsertPlant: %v", err)
	}

	store.persistOverride = func(dataset) error { return errors.New("disk full") }
	if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: 2, Name: "Unit 2"}); err == nil {
		t.Fatal("expected persist error")
	}
	store.persistOverride = nil

	if _, err := store.GetPlant(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed write leaked into state: %v", err)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := hashPassword("hunter22")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if err := verifyPassword(hash, "hunter22"); err != nil {
		t.Fatalf("verifyPassword: %v", err)
	}
	if err := verifyPassword(hash, "hunter23"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := verifyPassword("not-a-hash", "hunter22"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}
