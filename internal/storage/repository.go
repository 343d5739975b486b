package storage

import (
	"context"
	"time"

	"solarsync/internal/models"
)

// CreateUserParams carries the fields accepted when registering a user.
type CreateUserParams struct {
	Email       string
	DisplayName string
	Password    string
	Roles       []string
}

// UserUpdate mutates a subset of user fields. Nil pointers leave the field
// untouched.
type UserUpdate struct {
	DisplayName *string
	Roles       *[]string
}

// EstateParams carries the fields accepted when creating a residential
// estate.
type EstateParams struct {
	Name        string
	Address     string
	EstateType  string
	Description string
	AreaSqm     float64
	NumUnits    int
	Active      bool
}

// EstateUpdate mutates a subset of estate fields. Nil pointers leave the
// field untouched.
type EstateUpdate struct {
	Name        *string
	Address     *string
	EstateType  *string
	Description *string
	AreaSqm     *float64
	NumUnits    *int
	Active      *bool
}

// PlantPage is one page of stored plants together with the exact total row
// count.
type PlantPage struct {
	Plants []models.EstatePlant
	Total  int
}

// Repository exposes the datastore operations required by the web API and the
// sync workflows.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, id string, update UserUpdate) (models.User, error)
	SetUserPassword(ctx context.Context, id, password string) error
	DeleteUser(ctx context.Context, id string) error

	CreateEstate(ctx context.Context, params EstateParams) (models.ResidentialEstate, error)
	GetEstate(ctx context.Context, id int64) (models.ResidentialEstate, error)
	ListEstates(ctx context.Context) ([]models.ResidentialEstate, error)
	UpdateEstate(ctx context.Context, id int64, update EstateUpdate) (models.ResidentialEstate, error)
	DeleteEstate(ctx context.Context, id int64) error
	EstateStructure(ctx context.Context) ([]models.EstateStructure, error)
	EstateTotals(ctx context.Context, estateID int64) (models.EstateTotals, error)
	OfflinePlants(ctx context.Context, estateID int64) ([]models.EstatePlant, error)

	// UpsertPlant inserts the plant or, when the upstream id already
	// exists, refreshes the mutable columns. The returned flag reports
	// whether a new row was created.
	UpsertPlant(ctx context.Context, plant models.EstatePlant) (bool, error)
	GetPlant(ctx context.Context, id int64) (models.EstatePlant, error)
	ListPlants(ctx context.Context, page, limit int) (PlantPage, error)
	AssignPlantEstate(ctx context.Context, plantID, estateID int64) error

	UpsertInverter(ctx context.Context, inverter models.Inverter) (bool, error)
	ListInverters(ctx context.Context, plantID int64) ([]models.Inverter, error)

	// InsertPowerPoint stores one metric sample; a second sample for the
	// same (plant, timestamp, metric) key returns ErrDuplicate.
	InsertPowerPoint(ctx context.Context, point models.PowerPoint) error
	LatestPowerPoint(ctx context.Context, plantID int64, metric string) (models.PowerPoint, error)
	HourlyMetrics(ctx context.Context, estateIDs []int64, day time.Time) ([]models.HourlyMetric, error)

	// InsertDailyReport stores one snapshot row; a second snapshot for the
	// same (plant, report date) returns ErrDuplicate.
	InsertDailyReport(ctx context.Context, report models.DailyReport) error
	ListDailyReports(ctx context.Context, plantID int64, limit int) ([]models.DailyReport, error)
}

var _ Repository = (*Storage)(nil)
var _ Repository = (*postgresRepository)(nil)
