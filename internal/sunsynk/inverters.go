package sunsynk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// InverterCount returns the aggregate inverter status breakdown for the
// authenticated account.
func (c *Client) InverterCount(ctx context.Context) (StatusSummary, error) {
	var out StatusSummary
	data, err := c.request(ctx, http.MethodGet, "/inverters/count", nil)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode inverter count: %w", err)
	}
	return out, nil
}

// ListInverters returns one page of all inverters visible to the account.
func (c *Client) ListInverters(ctx context.Context, page, limit int, lan string) (Page[Inverter], error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("lan", normalizeLang(lan))

	var out Page[Inverter]
	data, err := c.request(ctx, http.MethodGet, "/inverters", query)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode inverters page: %w", err)
	}
	return out, nil
}

// PlantInvertersQuery filters ListPlantInverters. Zero values select the
// upstream defaults (any status, any type).
type PlantInvertersQuery struct {
	Page   int
	Limit  int
	Status int
	SN     string
	Type   int
	Lan    string
}

// ListPlantInverters returns one page of the inverters attached to a plant.
func (c *Client) ListPlantInverters(ctx context.Context, plantID int64, q PlantInvertersQuery) (Page[Inverter], error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}
	if q.Status == 0 {
		q.Status = -1
	}
	if q.Type == 0 {
		q.Type = -2
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("limit", strconv.Itoa(q.Limit))
	query.Set("status", strconv.Itoa(q.Status))
	query.Set("sn", q.SN)
	query.Set("id", strconv.FormatInt(plantID, 10))
	query.Set("type", strconv.Itoa(q.Type))
	query.Set("lan", normalizeLang(q.Lan))

	var out Page[Inverter]
	data, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/plant/%d/inverters", plantID), query)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode plant inverters page: %w", err)
	}
	return out, nil
}

// InverterRealtimeOutput returns the realtime AC output for an inverter
// identified by serial number.
func (c *Client) InverterRealtimeOutput(ctx context.Context, sn string) (InverterOutput, error) {
	var out InverterOutput
	data, err := c.request(ctx, http.MethodGet, "/inverter/"+url.PathEscape(sn)+"/realtime/output", nil)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode inverter output: %w", err)
	}
	return out, nil
}

// BatteryRealtime returns the realtime battery state for an inverter.
func (c *Client) BatteryRealtime(ctx context.Context, sn string) (BatteryRealtime, error) {
	var out BatteryRealtime
	data, err := c.request(ctx, http.MethodGet, "/inverter/battery/"+url.PathEscape(sn)+"/realtime", nil)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode battery realtime: %w", err)
	}
	return out, nil
}

// GridRealtime returns the realtime grid exchange for an inverter.
func (c *Client) GridRealtime(ctx context.Context, sn string) (GridRealtime, error) {
	var out GridRealtime
	data, err := c.request(ctx, http.MethodGet, "/inverter/grid/"+url.PathEscape(sn)+"/realtime", nil)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode grid realtime: %w", err)
	}
	return out, nil
}

// LoadRealtime returns the realtime load consumption for an inverter.
func (c *Client) LoadRealtime(ctx context.Context, sn string) (LoadRealtime, error) {
	var out LoadRealtime
	data, err := c.request(ctx, http.MethodGet, "/inverter/load/"+url.PathEscape(sn)+"/realtime", nil)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode load realtime: %w", err)
	}
	return out, nil
}
