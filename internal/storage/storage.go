package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"solarsync/internal/models"
)

type dataset struct {
	Users        map[string]models.User             `json:"users"`
	Estates      map[int64]models.ResidentialEstate `json:"estates"`
	Plants       map[int64]models.EstatePlant       `json:"plants"`
	Inverters    map[string]models.Inverter         `json:"inverters"`
	PowerPoints  map[string]models.PowerPoint       `json:"powerPoints"`
	DailyReports map[string]models.DailyReport      `json:"dailyReports"`
	NextEstateID int64                              `json:"nextEstateId"`
	NextRowID    int64                              `json:"nextRowId"`
}

// Storage is the in-memory repository used for development and tests. When a
// file path is configured every mutation is persisted as a JSON snapshot
// before the in-memory view is replaced.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	now      func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Users:        make(map[string]models.User),
		Estates:      make(map[int64]models.ResidentialEstate),
		Plants:       make(map[int64]models.EstatePlant),
		Inverters:    make(map[string]models.Inverter),
		PowerPoints:  make(map[string]models.PowerPoint),
		DailyReports: make(map[string]models.DailyReport),
	}
}

func (d *dataset) ensureInitialized() {
	if d.Users == nil {
		d.Users = make(map[string]models.User)
	}
	if d.Estates == nil {
		d.Estates = make(map[int64]models.ResidentialEstate)
	}
	if d.Plants == nil {
		d.Plants = make(map[int64]models.EstatePlant)
	}
	if d.Inverters == nil {
		d.Inverters = make(map[string]models.Inverter)
	}
	if d.PowerPoints == nil {
		d.PowerPoints = make(map[string]models.PowerPoint)
	}
	if d.DailyReports == nil {
		d.DailyReports = make(map[string]models.DailyReport)
	}
}

// NewStorage constructs an in-memory repository. When path is non-empty the
// snapshot stored there is loaded and every mutation is written back to it.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	s := &Storage{
		filePath: strings.TrimSpace(path),
		data:     newDataset(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyMemory(s)
		}
	}
	if s.filePath != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Storage) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read snapshot %s: %w", s.filePath, err)
	}
	if len(raw) == 0 {
		return nil
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.filePath, err)
	}
	data.ensureInitialized()
	s.data = data
	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}
	if s.filePath == "" {
		return nil
	}
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func cloneDataset(data dataset) dataset {
	clone := newDataset()
	for k, v := range data.Users {
		clone.Users[k] = v
	}
	for k, v := range data.Estates {
		clone.Estates[k] = v
	}
	for k, v := range data.Plants {
		clone.Plants[k] = v
	}
	for k, v := range data.Inverters {
		clone.Inverters[k] = v
	}
	for k, v := range data.PowerPoints {
		clone.PowerPoints[k] = v
	}
	for k, v := range data.DailyReports {
		clone.DailyReports[k] = v
	}
	clone.NextEstateID = data.NextEstateID
	clone.NextRowID = data.NextRowID
	return clone
}

func newUserID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate user id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func powerPointKey(point models.PowerPoint) string {
	return fmt.Sprintf("%d|%s|%s", point.PlantID, point.TS.UTC().Format(time.RFC3339), point.Metric)
}

func dailyReportKey(report models.DailyReport) string {
	return fmt.Sprintf("%d|%s", report.PlantID, report.ReportDate)
}

// Ping reports the repository as reachable; the in-memory store has no
// external dependency to probe.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) Close(ctx context.Context) error {
	return nil
}

// --- users ---

func (s *Storage) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
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

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := newUserID()
	if err != nil {
		return models.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Users {
		if strings.EqualFold(existing.Email, email) {
			return models.User{}, ErrEmailTaken
		}
	}

	roles := append([]string(nil), params.Roles...)
	if len(roles) == 0 {
		roles = []string{"viewer"}
	}

	now := s.now()
	user := models.User{
		ID:           id,
		Email:        email,
		DisplayName:  displayName,
		Roles:        roles,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	updated := cloneDataset(s.data)
	updated.Users[user.ID] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

func (s *Storage) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, err := s.FindUserByEmail(ctx, email)
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

func (s *Storage) GetUser(ctx context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (s *Storage) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	needle := strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if strings.ToLower(user.Email) == needle {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (s *Storage) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (s *Storage) UpdateUser(ctx context.Context, id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
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
	user.UpdatedAt = s.now()

	updated := cloneDataset(s.data)
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

func (s *Storage) SetUserPassword(ctx context.Context, id, password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = hashed
	user.UpdatedAt = s.now()

	updated := cloneDataset(s.data)
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *Storage) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[id]; !ok {
		return ErrNotFound
	}
	updated := cloneDataset(s.data)
	delete(updated.Users, id)
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// --- estates ---

func (s *Storage) CreateEstate(ctx context.Context, params EstateParams) (models.ResidentialEstate, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.ResidentialEstate{}, errors.New("estate name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	updated := cloneDataset(s.data)
	updated.NextEstateID++
	estate := models.ResidentialEstate{
		ID:          updated.NextEstateID,
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
	updated.Estates[estate.ID] = estate
	if err := s.persistDataset(updated); err != nil {
		return models.ResidentialEstate{}, err
	}
	s.data = updated
	return estate, nil
}

func (s *Storage) GetEstate(ctx context.Context, id int64) (models.ResidentialEstate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	estate, ok := s.data.Estates[id]
	if !ok {
		return models.ResidentialEstate{}, ErrNotFound
	}
	return estate, nil
}

func (s *Storage) ListEstates(ctx context.Context) ([]models.ResidentialEstate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	estates := make([]models.ResidentialEstate, 0, len(s.data.Estates))
	for _, estate := range s.data.Estates {
		estates = append(estates, estate)
	}
	sort.Slice(estates, func(i, j int) bool { return estates[i].ID < estates[j].ID })
	return estates, nil
}

func (s *Storage) UpdateEstate(ctx context.Context, id int64, update EstateUpdate) (models.ResidentialEstate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	estate, ok := s.data.Estates[id]
	if !ok {
		return models.ResidentialEstate{}, ErrNotFound
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
	estate.UpdatedAt = s.now()

	updated := cloneDataset(s.data)
	updated.Estates[id] = estate
	if err := s.persistDataset(updated); err != nil {
		return models.ResidentialEstate{}, err
	}
	s.data = updated
	return estate, nil
}

func (s *Storage) DeleteEstate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Estates[id]; !ok {
		return ErrNotFound
	}
	updated := cloneDataset(s.data)
	delete(updated.Estates, id)
	// Detach plants rather than deleting their history.
	for plantID, plant := range updated.Plants {
		if plant.EstateID == id {
			plant.EstateID = 0
			updated.Plants[plantID] = plant
		}
	}
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *Storage) EstateStructure(ctx context.Context) ([]models.EstateStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plantCounts := make(map[int64]int)
	for _, plant := range s.data.Plants {
		if plant.EstateID != 0 {
			plantCounts[plant.EstateID]++
		}
	}

	structure := make([]models.EstateStructure, 0, len(s.data.Estates))
	for _, estate := range s.data.Estates {
		structure = append(structure, models.EstateStructure{
			ID:       estate.ID,
			Name:     estate.Name,
			NumUnits: estate.NumUnits,
			Active:   estate.Active,
			Plants:   plantCounts[estate.ID],
		})
	}
	sort.Slice(structure, func(i, j int) bool { return structure[i].ID < structure[j].ID })
	return structure, nil
}

func (s *Storage) EstateTotals(ctx context.Context, estateID int64) (models.EstateTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Estates[estateID]; !ok {
		return models.EstateTotals{}, ErrNotFound
	}

	totals := models.EstateTotals{EstateID: estateID}
	var efficiencySum float64
	for _, plant := range s.data.Plants {
		if plant.EstateID != estateID {
			continue
		}
		totals.Plants++
		if plant.Status == models.PlantStatusOffline {
			totals.Offline++
		} else {
			totals.Online++
		}
		totals.Pac += plant.Pac
		totals.EToday += plant.EToday
		totals.ETotal += plant.ETotal
		efficiencySum += plant.Efficiency
	}
	if totals.Plants > 0 {
		totals.Efficiency = efficiencySum / float64(totals.Plants)
	}
	return totals, nil
}

func (s *Storage) OfflinePlants(ctx context.Context, estateID int64) ([]models.EstatePlant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Estates[estateID]; !ok {
		return nil, ErrNotFound
	}

	offline := make([]models.EstatePlant, 0)
	for _, plant := range s.data.Plants {
		if plant.EstateID == estateID && plant.Status == models.PlantStatusOffline {
			offline = append(offline, plant)
		}
	}
	sort.Slice(offline, func(i, j int) bool { return offline[i].ID < offline[j].ID })
	return offline, nil
}

// --- plants ---

func (s *Storage) UpsertPlant(ctx context.Context, plant models.EstatePlant) (bool, error) {
	if plant.ID == 0 {
		return false, errors.New("plant id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	updated := cloneDataset(s.data)
	existing, ok := updated.Plants[plant.ID]
	if ok {
		// Keep the estate link and creation stamp from the stored row.
		plant.EstateID = existing.EstateID
		plant.CreatedAt = existing.CreatedAt
	} else {
		plant.CreatedAt = now
	}
	plant.UpdatedAt = now
	updated.Plants[plant.ID] = plant
	if err := s.persistDataset(updated); err != nil {
		return false, err
	}
	s.data = updated
	return !ok, nil
}

func (s *Storage) GetPlant(ctx context.Context, id int64) (models.EstatePlant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plant, ok := s.data.Plants[id]
	if !ok {
		return models.EstatePlant{}, ErrNotFound
	}
	return plant, nil
}

func (s *Storage) ListPlants(ctx context.Context, page, limit int) (PlantPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	plants := make([]models.EstatePlant, 0, len(s.data.Plants))
	for _, plant := range s.data.Plants {
		plants = append(plants, plant)
	}
	sort.Slice(plants, func(i, j int) bool { return plants[i].ID < plants[j].ID })

	total := len(plants)
	start := (page - 1) * limit
	if start >= total {
		return PlantPage{Plants: []models.EstatePlant{}, Total: total}, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return PlantPage{Plants: plants[start:end], Total: total}, nil
}

func (s *Storage) AssignPlantEstate(ctx context.Context, plantID, estateID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plant, ok := s.data.Plants[plantID]
	if !ok {
		return ErrNotFound
	}
	if estateID != 0 {
		if _, ok := s.data.Estates[estateID]; !ok {
			return ErrNotFound
		}
	}
	plant.EstateID = estateID
	plant.UpdatedAt = s.now()

	updated := cloneDataset(s.data)
	updated.Plants[plantID] = plant
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// --- inverters ---

func (s *Storage) UpsertInverter(ctx context.Context, inverter models.Inverter) (bool, error) {
	if strings.TrimSpace(inverter.SN) == "" {
		return false, errors.New("inverter serial number is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	updated := cloneDataset(s.data)
	existing, ok := updated.Inverters[inverter.SN]
	if ok {
		inverter.CreatedAt = existing.CreatedAt
	} else {
		inverter.CreatedAt = now
	}
	inverter.UpdatedAt = now
	updated.Inverters[inverter.SN] = inverter
	if err := s.persistDataset(updated); err != nil {
		return false, err
	}
	s.data = updated
	return !ok, nil
}

func (s *Storage) ListInverters(ctx context.Context, plantID int64) ([]models.Inverter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inverters := make([]models.Inverter, 0)
	for _, inverter := range s.data.Inverters {
		if plantID == 0 || inverter.PlantID == plantID {
			inverters = append(inverters, inverter)
		}
	}
	sort.Slice(inverters, func(i, j int) bool { return inverters[i].SN < inverters[j].SN })
	return inverters, nil
}

// --- power points ---

func (s *Storage) InsertPowerPoint(ctx context.Context, point models.PowerPoint) error {
	if point.PlantID == 0 || point.Metric == "" || point.TS.IsZero() {
		return errors.New("plant id, metric, and timestamp are required")
	}
	point.TS = point.TS.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := powerPointKey(point)
	if _, ok := s.data.PowerPoints[key]; ok {
		return ErrDuplicate
	}
	updated := cloneDataset(s.data)
	updated.PowerPoints[key] = point
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *Storage) LatestPowerPoint(ctx context.Context, plantID int64, metric string) (models.PowerPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest models.PowerPoint
	found := false
	for _, point := range s.data.PowerPoints {
		if point.PlantID != plantID || point.Metric != metric {
			continue
		}
		if !found || point.TS.After(latest.TS) {
			latest = point
			found = true
		}
	}
	if !found {
		return models.PowerPoint{}, ErrNotFound
	}
	return latest, nil
}

// HourlyMetrics buckets the requested day's samples per estate and hour. For
// every bucket the most recent sample per plant wins; etoday and etotal sum
// across plants while efficiency averages.
func (s *Storage) HourlyMetrics(ctx context.Context, estateIDs []int64, day time.Time) ([]models.HourlyMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]bool, len(estateIDs))
	for _, id := range estateIDs {
		wanted[id] = true
	}

	plantEstate := make(map[int64]int64)
	for _, plant := range s.data.Plants {
		if plant.EstateID != 0 && wanted[plant.EstateID] {
			plantEstate[plant.ID] = plant.EstateID
		}
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	type bucketKey struct {
		estateID int64
		hour     int
	}
	type plantSample struct {
		ts    time.Time
		value float64
	}
	// latest sample per (bucket, plant, metric)
	latest := make(map[bucketKey]map[int64]map[string]plantSample)

	for _, point := range s.data.PowerPoints {
		estateID, ok := plantEstate[point.PlantID]
		if !ok {
			continue
		}
		ts := point.TS.UTC()
		if ts.Before(dayStart) || !ts.Before(dayEnd) {
			continue
		}
		switch point.Metric {
		case models.MetricEToday, models.MetricETotal, models.MetricEfficiency:
		default:
			continue
		}
		key := bucketKey{estateID: estateID, hour: ts.Hour()}
		plants, ok := latest[key]
		if !ok {
			plants = make(map[int64]map[string]plantSample)
			latest[key] = plants
		}
		samples, ok := plants[point.PlantID]
		if !ok {
			samples = make(map[string]plantSample)
			plants[point.PlantID] = samples
		}
		if current, ok := samples[point.Metric]; !ok || ts.After(current.ts) {
			samples[point.Metric] = plantSample{ts: ts, value: point.Value}
		}
	}

	metricsOut := make([]models.HourlyMetric, 0, len(latest))
	for key, plants := range latest {
		metric := models.HourlyMetric{EstateID: key.estateID, Hour: key.hour}
		var efficiencySum float64
		var efficiencyCount int
		for _, samples := range plants {
			if sample, ok := samples[models.MetricEToday]; ok {
				metric.EToday += sample.value
				if sample.ts.After(metric.SampleTime) {
					metric.SampleTime = sample.ts
				}
			}
			if sample, ok := samples[models.MetricETotal]; ok {
				metric.ETotal += sample.value
				if sample.ts.After(metric.SampleTime) {
					metric.SampleTime = sample.ts
				}
			}
			if sample, ok := samples[models.MetricEfficiency]; ok {
				efficiencySum += sample.value
				efficiencyCount++
				if sample.ts.After(metric.SampleTime) {
					metric.SampleTime = sample.ts
				}
			}
		}
		if efficiencyCount > 0 {
			metric.Efficiency = efficiencySum / float64(efficiencyCount)
		}
		metricsOut = append(metricsOut, metric)
	}
	sort.Slice(metricsOut, func(i, j int) bool {
		if metricsOut[i].EstateID != metricsOut[j].EstateID {
			return metricsOut[i].EstateID < metricsOut[j].EstateID
		}
		return metricsOut[i].Hour < metricsOut[j].Hour
	})
	return metricsOut, nil
}

// --- daily reports ---

func (s *Storage) InsertDailyReport(ctx context.Context, report models.DailyReport) error {
	if report.PlantID == 0 || report.ReportDate == "" {
		return errors.New("plant id and report date are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dailyReportKey(report)
	if _, ok := s.data.DailyReports[key]; ok {
		return ErrDuplicate
	}
	updated := cloneDataset(s.data)
	updated.NextRowID++
	report.ID = updated.NextRowID
	report.CreatedAt = s.now()
	updated.DailyReports[key] = report
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *Storage) ListDailyReports(ctx context.Context, plantID int64, limit int) ([]models.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]models.DailyReport, 0)
	for _, report := range s.data.DailyReports {
		if plantID == 0 || report.PlantID == plantID {
			reports = append(reports, report)
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].ReportDate != reports[j].ReportDate {
			return reports[i].ReportDate > reports[j].ReportDate
		}
		return reports[i].PlantID < reports[j].PlantID
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}
