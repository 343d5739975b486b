package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"solarsync/internal/models"
)

const pgUniqueViolation = "23505"

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
	now  func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository. Call Migrate to
// apply the schema before serving traffic.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	return &postgresRepository{pool: pool, cfg: cfg, now: cfg.Clock}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// --- users ---

func (r *postgresRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" || !strings.Contains(email, "@") {
		return models.User{}, errors.New("valid email is required")
	}
	if len(params.Password) < minPasswordLength {
		return models.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		displayName = email
	}
	roles := append([]string(nil), params.Roles...)
	if len(roles) == 0 {
		roles = []string{"viewer"}
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := newUserID()
	if err != nil {
		return models.User{}, err
	}

	now := r.now()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO users (id, email, display_name, roles, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		id, email, displayName, roles, hashed, now)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return models.User{
		ID:           id,
		Email:        email,
		DisplayName:  displayName,
		Roles:        roles,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

const userColumns = `id, email, display_name, roles, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Roles, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (r *postgresRepository) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, err := r.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, id string) (models.User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	needle := strings.ToLower(strings.TrimSpace(email))
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, needle))
	if err != nil {
		if isNoRows(err) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by email: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *postgresRepository) UpdateUser(ctx context.Context, id string, update UserUpdate) (models.User, error) {
	user, err := r.GetUser(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if update.DisplayName != nil {
		trimmed := strings.TrimSpace(*update.DisplayName)
		if trimmed == "" {
			return models.User{}, errors.New("display name cannot be empty")
		}
		user.DisplayName = trimmed
	}
	if update.Roles != nil {
		user.Roles = append([]string(nil), (*update.Roles)...)
	}
	user.UpdatedAt = r.now()

	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET display_name = $2, roles = $3, updated_at = $4 WHERE id = $1`,
		id, user.DisplayName, user.Roles, user.UpdatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (r *postgresRepository) SetUserPassword(ctx context.Context, id, password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hashed, r.now())
	if err != nil {
		return fmt.Errorf("set user password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteUser(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- estates ---

const estateColumns = `id, name, address, estate_type, description, area_sqm, num_units, active, created_at, updated_at`

func scanEstate(row pgx.Row) (models.ResidentialEstate, error) {
	var estate models.ResidentialEstate
	err := row.Scan(&estate.ID, &estate.Name, &estate.Address, &estate.EstateType, &estate.Description,
		&estate.AreaSqm, &estate.NumUnits, &estate.Active, &estate.CreatedAt, &estate.UpdatedAt)
	return estate, err
}

func (r *postgresRepository) CreateEstate(ctx context.Context, params EstateParams) (models.ResidentialEstate, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.ResidentialEstate{}, errors.New("estate name is required")
	}
	now := r.now()
	estate := models.ResidentialEstate{
		Name:        name,
		Address:     strings.TrimSpace(params.Address),
		EstateType:  strings.TrimSpace(params.EstateType),
		Description: strings.TrimSpace(params.Description),
		AreaSqm:     params.AreaSqm,
		NumUnits:    params.NumUnits,
		Active:      params.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO residential_estates (name, address, estate_type, description, area_sqm, num_units, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`,
		estate.Name, estate.Address, estate.EstateType, estate.Description,
		estate.AreaSqm, estate.NumUnits, estate.Active, now).Scan(&estate.ID)
	if err != nil {
		return models.ResidentialEstate{}, fmt.Errorf("insert estate: %w", err)
	}
	return estate, nil
}

func (r *postgresRepository) GetEstate(ctx context.Context, id int64) (models.ResidentialEstate, error) {
	estate, err := scanEstate(r.pool.QueryRow(ctx, `SELECT `+estateColumns+` FROM residential_estates WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return models.ResidentialEstate{}, ErrNotFound
		}
		return models.ResidentialEstate{}, fmt.Errorf("select estate: %w", err)
	}
	return estate, nil
}

func (r *postgresRepository) ListEstates(ctx context.Context) ([]models.ResidentialEstate, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+estateColumns+` FROM residential_estates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list estates: %w", err)
	}
	defer rows.Close()

	estates := make([]models.ResidentialEstate, 0)
	for rows.Next() {
		estate, err := scanEstate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan estate: %w", err)
		}
		estates = append(estates, estate)
	}
	return estates, rows.Err()
}

func (r *postgresRepository) UpdateEstate(ctx context.Context, id int64, update EstateUpdate) (models.ResidentialEstate, error) {
	estate, err := r.GetEstate(ctx, id)
	if err != nil {
		return models.ResidentialEstate{}, err
	}
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return models.ResidentialEstate{}, errors.New("estate name cannot be empty")
		}
		estate.Name = trimmed
	}
	if update.Address != nil {
		estate.Address = strings.TrimSpace(*update.Address)
	}
	if update.EstateType != nil {
		estate.EstateType = strings.TrimSpace(*update.EstateType)
	}
	if update.Description != nil {
		estate.Description = strings.TrimSpace(*update.Description)
	}
	if update.AreaSqm != nil {
		estate.AreaSqm = *update.AreaSqm
	}
	if update.NumUnits != nil {
		estate.NumUnits = *update.NumUnits
	}
	if update.Active != nil {
		estate.Active = *update.Active
	}
	estate.UpdatedAt = r.now()

	tag, err := r.pool.Exec(ctx, `
		UPDATE residential_estates
		SET name = $2, address = $3, estate_type = $4, description = $5,
		    area_sqm = $6, num_units = $7, active = $8, updated_at = $9
		WHERE id = $1`,
		id, estate.Name, estate.Address, estate.EstateType, estate.Description,
		estate.AreaSqm, estate.NumUnits, estate.Active, estate.UpdatedAt)
	if err != nil {
		return models.ResidentialEstate{}, fmt.Errorf("update estate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ResidentialEstate{}, ErrNotFound
	}
	return estate, nil
}

func (r *postgresRepository) DeleteEstate(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM residential_estates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete estate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) EstateStructure(ctx context.Context) ([]models.EstateStructure, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.name, e.num_units, e.active, COUNT(p.id)
		FROM residential_estates e
		LEFT JOIN estate_plant p ON p.estate_id = e.id
		GROUP BY e.id, e.name, e.num_units, e.active
		ORDER BY e.id`)
	if err != nil {
		return nil, fmt.Errorf("estate structure: %w", err)
	}
	defer rows.Close()

	structure := make([]models.EstateStructure, 0)
	for rows.Next() {
		var item models.EstateStructure
		var plants int64
		if err := rows.Scan(&item.ID, &item.Name, &item.NumUnits, &item.Active, &plants); err != nil {
			return nil, fmt.Errorf("scan estate structure: %w", err)
		}
		item.Plants = int(plants)
		structure = append(structure, item)
	}
	return structure, rows.Err()
}

func (r *postgresRepository) EstateTotals(ctx context.Context, estateID int64) (models.EstateTotals, error) {
	if _, err := r.GetEstate(ctx, estateID); err != nil {
		return models.EstateTotals{}, err
	}

	totals := models.EstateTotals{EstateID: estateID}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status <> $2),
		       COUNT(*) FILTER (WHERE status = $2),
		       COALESCE(SUM(pac), 0),
		       COALESCE(SUM(etoday), 0),
		       COALESCE(SUM(etotal), 0),
		       COALESCE(AVG(efficiency), 0)
		FROM estate_plant WHERE estate_id = $1`,
		estateID, models.PlantStatusOffline).Scan(
		&totals.Plants, &totals.Online, &totals.Offline,
		&totals.Pac, &totals.EToday, &totals.ETotal, &totals.Efficiency)
	if err != nil {
		return models.EstateTotals{}, fmt.Errorf("estate totals: %w", err)
	}
	return totals, nil
}

func (r *postgresRepository) OfflinePlants(ctx context.Context, estateID int64) ([]models.EstatePlant, error) {
	if _, err := r.GetEstate(ctx, estateID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+plantColumns+` FROM estate_plant
		WHERE estate_id = $1 AND status = $2 ORDER BY id`,
		estateID, models.PlantStatusOffline)
	if err != nil {
		return nil, fmt.Errorf("offline plants: %w", err)
	}
	defer rows.Close()
	return collectPlants(rows)
}

// --- plants ---

const plantColumns = `id, COALESCE(estate_id, 0), name, status, address, pac, efficiency, etoday, etotal,
	type, master_id, thumb_url, email, phone, plant_create, plant_update, created_at, updated_at`

func scanPlant(row pgx.Row) (models.EstatePlant, error) {
	var plant models.EstatePlant
	err := row.Scan(&plant.ID, &plant.EstateID, &plant.Name, &plant.Status, &plant.Address,
		&plant.Pac, &plant.Efficiency, &plant.EToday, &plant.ETotal,
		&plant.Type, &plant.MasterID, &plant.ThumbURL, &plant.Email, &plant.Phone,
		&plant.PlantCreate, &plant.PlantUpdate, &plant.CreatedAt, &plant.UpdatedAt)
	return plant, err
}

func collectPlants(rows pgx.Rows) ([]models.EstatePlant, error) {
	plants := make([]models.EstatePlant, 0)
	for rows.Next() {
		plant, err := scanPlant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plant: %w", err)
		}
		plants = append(plants, plant)
	}
	return plants, rows.Err()
}

func (r *postgresRepository) UpsertPlant(ctx context.Context, plant models.EstatePlant) (bool, error) {
	if plant.ID == 0 {
		return false, errors.New("plant id is required")
	}
	now := r.now()
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO estate_plant (id, name, status, address, pac, efficiency, etoday, etotal,
			type, master_id, thumb_url, email, phone, plant_create, plant_update, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, status = EXCLUDED.status, address = EXCLUDED.address,
			pac = EXCLUDED.pac, efficiency = EXCLUDED.efficiency,
			etoday = EXCLUDED.etoday, etotal = EXCLUDED.etotal,
			type = EXCLUDED.type, master_id = EXCLUDED.master_id, thumb_url = EXCLUDED.thumb_url,
			email = EXCLUDED.email, phone = EXCLUDED.phone,
			plant_create = EXCLUDED.plant_create, plant_update = EXCLUDED.plant_update,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)`,
		plant.ID, plant.Name, plant.Status, plant.Address, plant.Pac, plant.Efficiency,
		plant.EToday, plant.ETotal, plant.Type, plant.MasterID, plant.ThumbURL,
		plant.Email, plant.Phone, plant.PlantCreate, plant.PlantUpdate, now).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert plant: %w", err)
	}
	return inserted, nil
}

func (r *postgresRepository) GetPlant(ctx context.Context, id int64) (models.EstatePlant, error) {
	plant, err := scanPlant(r.pool.QueryRow(ctx, `SELECT `+plantColumns+` FROM estate_plant WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return models.EstatePlant{}, ErrNotFound
		}
		return models.EstatePlant{}, fmt.Errorf("select plant: %w", err)
	}
	return plant, nil
}

func (r *postgresRepository) ListPlants(ctx context.Context, page, limit int) (PlantPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM estate_plant`).Scan(&total); err != nil {
		return PlantPage{}, fmt.Errorf("count plants: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+plantColumns+` FROM estate_plant ORDER BY id LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit)
	if err != nil {
		return PlantPage{}, fmt.Errorf("list plants: %w", err)
	}
	defer rows.Close()

	plants, err := collectPlants(rows)
	if err != nil {
		return PlantPage{}, err
	}
	return PlantPage{Plants: plants, Total: total}, nil
}

func (r *postgresRepository) AssignPlantEstate(ctx context.Context, plantID, estateID int64) error {
	var estateArg any
	if estateID != 0 {
		if _, err := r.GetEstate(ctx, estateID); err != nil {
			return err
		}
		estateArg = estateID
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE estate_plant SET estate_id = $2, updated_at = $3 WHERE id = $1`,
		plantID, estateArg, r.now())
	if err != nil {
		return fmt.Errorf("assign plant estate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- inverters ---

const inverterColumns = `sn, id, plant_id, alias, gsn, status, type, comm_type, model, version,
	rate_power, pac, etoday, etotal, created_at, updated_at`

func (r *postgresRepository) UpsertInverter(ctx context.Context, inverter models.Inverter) (bool, error) {
	if strings.TrimSpace(inverter.SN) == "" {
		return false, errors.New("inverter serial number is required")
	}
	now := r.now()
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO inverters (sn, id, plant_id, alias, gsn, status, type, comm_type, model, version,
			rate_power, pac, etoday, etotal, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT (sn) DO UPDATE SET
			id = EXCLUDED.id, plant_id = EXCLUDED.plant_id, alias = EXCLUDED.alias,
			gsn = EXCLUDED.gsn, status = EXCLUDED.status, type = EXCLUDED.type,
			comm_type = EXCLUDED.comm_type, model = EXCLUDED.model, version = EXCLUDED.version,
			rate_power = EXCLUDED.rate_power, pac = EXCLUDED.pac,
			etoday = EXCLUDED.etoday, etotal = EXCLUDED.etotal,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)`,
		inverter.SN, inverter.ID, inverter.PlantID, inverter.Alias, inverter.GSN,
		inverter.Status, inverter.Type, inverter.CommType, inverter.Model, inverter.Version,
		inverter.RatePower, inverter.Pac, inverter.EToday, inverter.ETotal, now).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert inverter: %w", err)
	}
	return inserted, nil
}

func (r *postgresRepository) ListInverters(ctx context.Context, plantID int64) ([]models.Inverter, error) {
	query := `SELECT ` + inverterColumns + ` FROM inverters ORDER BY sn`
	args := []any{}
	if plantID != 0 {
		query = `SELECT ` + inverterColumns + ` FROM inverters WHERE plant_id = $1 ORDER BY sn`
		args = append(args, plantID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inverters: %w", err)
	}
	defer rows.Close()

	inverters := make([]models.Inverter, 0)
	for rows.Next() {
		var inverter models.Inverter
		if err := rows.Scan(&inverter.SN, &inverter.ID, &inverter.PlantID, &inverter.Alias, &inverter.GSN,
			&inverter.Status, &inverter.Type, &inverter.CommType, &inverter.Model, &inverter.Version,
			&inverter.RatePower, &inverter.Pac, &inverter.EToday, &inverter.ETotal,
			&inverter.CreatedAt, &inverter.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan inverter: %w", err)
		}
		inverters = append(inverters, inverter)
	}
	return inverters, rows.Err()
}

// --- power points ---

func (r *postgresRepository) InsertPowerPoint(ctx context.Context, point models.PowerPoint) error {
	if point.PlantID == 0 || point.Metric == "" || point.TS.IsZero() {
		return errors.New("plant id, metric, and timestamp are required")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO plant_power_10min (plant_id, ts, metric, value) VALUES ($1, $2, $3, $4)`,
		point.PlantID, point.TS.UTC(), point.Metric, point.Value)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert power point: %w", err)
	}
	return nil
}

func (r *postgresRepository) LatestPowerPoint(ctx context.Context, plantID int64, metric string) (models.PowerPoint, error) {
	var point models.PowerPoint
	err := r.pool.QueryRow(ctx, `
		SELECT plant_id, ts, metric, value FROM plant_power_10min
		WHERE plant_id = $1 AND metric = $2 ORDER BY ts DESC LIMIT 1`,
		plantID, metric).Scan(&point.PlantID, &point.TS, &point.Metric, &point.Value)
	if err != nil {
		if isNoRows(err) {
			return models.PowerPoint{}, ErrNotFound
		}
		return models.PowerPoint{}, fmt.Errorf("latest power point: %w", err)
	}
	return point, nil
}

func (r *postgresRepository) HourlyMetrics(ctx context.Context, estateIDs []int64, day time.Time) ([]models.HourlyMetric, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := r.pool.Query(ctx, `
		WITH samples AS (
			SELECT ep.estate_id,
			       EXTRACT(HOUR FROM pp.ts AT TIME ZONE 'UTC')::INT AS hour,
			       pp.plant_id, pp.metric, pp.value, pp.ts,
			       ROW_NUMBER() OVER (
			           PARTITION BY ep.estate_id, EXTRACT(HOUR FROM pp.ts AT TIME ZONE 'UTC'), pp.plant_id, pp.metric
			           ORDER BY pp.ts DESC
			       ) AS rn
			FROM plant_power_10min pp
			JOIN estate_plant ep ON ep.id = pp.plant_id
			WHERE ep.estate_id = ANY($1)
			  AND pp.ts >= $2 AND pp.ts < $3
			  AND pp.metric IN ('etoday', 'etotal', 'efficiency')
		)
		SELECT estate_id, hour, MAX(ts),
		       COALESCE(SUM(value) FILTER (WHERE metric = 'etoday'), 0),
		       COALESCE(SUM(value) FILTER (WHERE metric = 'etotal'), 0),
		       COALESCE(AVG(value) FILTER (WHERE metric = 'efficiency'), 0)
		FROM samples
		WHERE rn = 1
		GROUP BY estate_id, hour
		ORDER BY estate_id, hour`,
		estateIDs, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("hourly metrics: %w", err)
	}
	defer rows.Close()

	metricsOut := make([]models.HourlyMetric, 0)
	for rows.Next() {
		var metric models.HourlyMetric
		if err := rows.Scan(&metric.EstateID, &metric.Hour, &metric.SampleTime,
			&metric.EToday, &metric.ETotal, &metric.Efficiency); err != nil {
			return nil, fmt.Errorf("scan hourly metric: %w", err)
		}
		metricsOut = append(metricsOut, metric)
	}
	return metricsOut, rows.Err()
}

// --- daily reports ---

func (r *postgresRepository) InsertDailyReport(ctx context.Context, report models.DailyReport) error {
	if report.PlantID == 0 || report.ReportDate == "" {
		return errors.New("plant id and report date are required")
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO estate_plant_daily_report
			(plant_id, estate_id, report_date, name, status, pac, efficiency, etoday, etotal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		report.PlantID, report.EstateID, report.ReportDate, report.Name, report.Status,
		report.Pac, report.Efficiency, report.EToday, report.ETotal, r.now()).Scan(&report.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert daily report: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListDailyReports(ctx context.Context, plantID int64, limit int) ([]models.DailyReport, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, plant_id, estate_id, to_char(report_date, 'YYYY-MM-DD'), name, status,
		       pac, efficiency, etoday, etotal, created_at
		FROM estate_plant_daily_report`
	args := []any{}
	if plantID != 0 {
		query += ` WHERE plant_id = $1 ORDER BY report_date DESC LIMIT $2`
		args = append(args, plantID, limit)
	} else {
		query += ` ORDER BY report_date DESC, plant_id LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list daily reports: %w", err)
	}
	defer rows.Close()

	reports := make([]models.DailyReport, 0)
	for rows.Next() {
		var report models.DailyReport
		if err := rows.Scan(&report.ID, &report.PlantID, &report.EstateID, &report.ReportDate,
			&report.Name, &report.Status, &report.Pac, &report.Efficiency,
			&report.EToday, &report.ETotal, &report.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan daily report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}
