package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"solarsync/internal/cache"
	"solarsync/internal/models"
	"solarsync/internal/storage"
)

const (
	defaultPlantPageSize = 50
	maxPlantPageSize     = 200
)

type plantListResponse struct {
	Plants []models.EstatePlant `json:"plants"`
	Total  int                  `json:"total"`
	Page   int                  `json:"page"`
	Limit  int                  `json:"limit"`
}

func pageParams(r *http.Request) (int, int) {
	page := 1
	limit := defaultPlantPageSize
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			page = parsed
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPlantPageSize {
		limit = maxPlantPageSize
	}
	return page, limit
}

// Plants lists the locally stored plants with pagination.
func (h *Handler) Plants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	page, limit := pageParams(r)
	stored, err := h.Store.ListPlants(r.Context(), page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, plantListResponse{
		Plants: stored.Plants,
		Total:  stored.Total,
		Page:   page,
		Limit:  limit,
	})
}

// PlantsLive proxies the upstream plant list without touching the store.
func (h *Handler) PlantsLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	if h.Live == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("upstream client not configured"))
		return
	}
	page, limit := pageParams(r)
	resp, err := h.Live.ListPlants(r.Context(), page, limit, "en")
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("upstream plant list: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PlantByID dispatches /api/plants/{id} and its power, inverters, reports,
// and estate subresources.
func (h *Handler) PlantByID(w http.ResponseWriter, r *http.Request) {
	suffix := pathSuffix(r, "/api/plants/")
	parts := strings.Split(suffix, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("plant id missing"))
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid plant id %q", parts[0]))
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "power":
			h.plantPower(w, r, id)
		case "inverters":
			h.plantInverters(w, r, id)
		case "reports":
			h.plantReports(w, r, id)
		case "estate":
			h.plantEstate(w, r, id)
		default:
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown plant path"))
		}
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown plant path"))
		return
	}

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	plant, err := h.Store.GetPlant(r.Context(), id)
	if err != nil {
		writeError(w, storageErrorStatus(err), fmt.Errorf("plant %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

// plantPower serves the latest realtime snapshot. The Redis cache is
// consulted first and the stored power samples back it up on a miss.
func (h *Handler) plantPower(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}

	if h.Power != nil {
		snapshot, err := h.Power.Realtime(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, snapshot)
			return
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger().Warn("power cache read failed", "plant_id", id, "error", err)
		}
	}

	snapshot, err := h.storedPower(r, id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no power data for plant %d", id))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// storedPower rebuilds a snapshot from the latest stored sample per metric.
func (h *Handler) storedPower(r *http.Request, id int64) (models.RealtimePower, error) {
	snapshot := models.RealtimePower{PlantID: id}
	found := false
	for _, metric := range []string{models.MetricPV, models.MetricBattery, models.MetricGrid, models.MetricLoad, models.MetricSOC} {
		point, err := h.Store.LatestPowerPoint(r.Context(), id, metric)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return models.RealtimePower{}, err
		}
		found = true
		if point.TS.After(snapshot.UpdatedAt) {
			snapshot.UpdatedAt = point.TS
		}
		switch metric {
		case models.MetricPV:
			snapshot.Pac = point.Value
		case models.MetricBattery:
			snapshot.Battery = point.Value
		case models.MetricGrid:
			snapshot.Grid = point.Value
		case models.MetricLoad:
			snapshot.Load = point.Value
		case models.MetricSOC:
			snapshot.SOC = point.Value
		}
	}
	if !found {
		return models.RealtimePower{}, storage.ErrNotFound
	}
	return snapshot, nil
}

func (h *Handler) plantInverters(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	inverters, err := h.Store.ListInverters(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, inverters)
}

func (h *Handler) plantReports(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}
	limit := 30
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	reports, err := h.Store.ListDailyReports(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

type assignEstateRequest struct {
	EstateID int64 `json:"estateId"`
}

// plantEstate links or unlinks a plant from an estate. An estateId of zero
// detaches the plant.
func (h *Handler) plantEstate(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", "PUT")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireRole(w, r, roleAdmin, roleOperator); !ok {
		return
	}
	var req assignEstateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Store.AssignPlantEstate(r.Context(), id, req.EstateID); err != nil {
		writeError(w, storageErrorStatus(err), err)
		return
	}
	plant, err := h.Store.GetPlant(r.Context(), id)
	if err != nil {
		writeError(w, storageErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

// MetricsHourly aggregates stored power samples per estate and hour for the
// requested day.
func (h *Handler) MetricsHourly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if _, ok := h.requireAuthenticatedUser(w, r); !ok {
		return
	}

	query := r.URL.Query()
	rawEstates := strings.TrimSpace(query.Get("estates"))
	if rawEstates == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("estates parameter is required"))
		return
	}
	var estateIDs []int64
	for _, part := range strings.Split(rawEstates, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid estate id %q", part))
			return
		}
		estateIDs = append(estateIDs, id)
	}
	if len(estateIDs) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("estates parameter is required"))
		return
	}

	dayOffset := 0
	if raw := query.Get("day_offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid day_offset %q", raw))
			return
		}
		dayOffset = parsed
	}
	day := time.Now().UTC().AddDate(0, 0, -dayOffset)

	rows, err := h.Store.HourlyMetrics(r.Context(), estateIDs, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"day":     day.Format("2006-01-02"),
		"metrics": rows,
	})
}
