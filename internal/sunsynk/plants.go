package sunsynk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListPlants returns one page of the plants visible to the account.
func (c *Client) ListPlants(ctx context.Context, page, limit int, lan string) (Page[Plant], error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 30
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("lan", normalizeLang(lan))

	var out Page[Plant]
	data, err := c.request(ctx, http.MethodGet, "/plants", query)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode plants page: %w", err)
	}
	return out, nil
}

// PlantCount returns the aggregate plant status breakdown for a tenant
// account.
func (c *Client) PlantCount(ctx context.Context, tenantID int64) (StatusSummary, error) {
	query := url.Values{}
	query.Set("id", strconv.FormatInt(tenantID, 10))

	var out StatusSummary
	data, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/user/%d/plantCount", tenantID), query)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode plant count: %w", err)
	}
	return out, nil
}

// PlantDetail returns the full record for a single plant.
func (c *Client) PlantDetail(ctx context.Context, plantID int64, lan string) (Plant, error) {
	query := url.Values{}
	query.Set("lan", normalizeLang(lan))

	var out Plant
	data, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/plant/%d", plantID), query)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode plant detail: %w", err)
	}
	return out, nil
}

// PlantRealtime returns the current power flow snapshot for a plant.
func (c *Client) PlantRealtime(ctx context.Context, plantID int64, lan string) (RealtimeSnapshot, error) {
	query := url.Values{}
	query.Set("lan", normalizeLang(lan))
	query.Set("id", strconv.FormatInt(plantID, 10))

	var out RealtimeSnapshot
	data, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/plant/%d/realtime", plantID), query)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode plant realtime: %w", err)
	}
	return out, nil
}

type energyDayPayload struct {
	Infos []EnergyChannel `json:"infos"`
}

// PlantEnergyDay returns the 10-minute resolution day chart channels for a
// plant. Date uses YYYY-MM-DD; an empty date means the current day upstream.
func (c *Client) PlantEnergyDay(ctx context.Context, plantID int64, date, lan string) ([]EnergyChannel, error) {
	query := url.Values{}
	query.Set("lan", normalizeLang(lan))
	query.Set("id", strconv.FormatInt(plantID, 10))
	if date != "" {
		query.Set("date", date)
	}

	data, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/plant/energy/%d/day", plantID), query)
	if err != nil {
		return nil, err
	}
	var payload energyDayPayload
	if err := decodeInto(data, &payload); err != nil {
		return nil, fmt.Errorf("decode energy day chart: %w", err)
	}
	return payload.Infos, nil
}
