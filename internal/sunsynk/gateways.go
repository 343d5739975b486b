package sunsynk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListGateways returns one page of communication gateways.
func (c *Client) ListGateways(ctx context.Context, page, limit int, lan string) (Page[Gateway], error) {
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

	var out Page[Gateway]
	data, err := c.request(ctx, http.MethodGet, "/gateways", query)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode gateways page: %w", err)
	}
	return out, nil
}

// GatewayCount returns the aggregate gateway status breakdown.
func (c *Client) GatewayCount(ctx context.Context) (StatusSummary, error) {
	var out StatusSummary
	data, err := c.request(ctx, http.MethodGet, "/gateways/count", nil)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode gateway count: %w", err)
	}
	return out, nil
}

// EventsQuery filters ListEvents. Zero values are omitted from the request.
type EventsQuery struct {
	Page    int
	Limit   int
	PlantID int64
	SN      string
	Level   int
	Lan     string
}

// ListEvents returns one page of device alerts and fault notifications.
func (c *Client) ListEvents(ctx context.Context, q EventsQuery) (Page[Event], error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("limit", strconv.Itoa(q.Limit))
	query.Set("lan", normalizeLang(q.Lan))
	if q.PlantID > 0 {
		query.Set("plantId", strconv.FormatInt(q.PlantID, 10))
	}
	if q.SN != "" {
		query.Set("sn", q.SN)
	}
	if q.Level > 0 {
		query.Set("level", strconv.Itoa(q.Level))
	}

	var out Page[Event]
	data, err := c.request(ctx, http.MethodGet, "/events", query)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode events page: %w", err)
	}
	return out, nil
}

// WorkDataQuery filters WorkData. SN is required upstream; the time bounds use
// the platform's "YYYY-MM-DD HH:MM:SS" format.
type WorkDataQuery struct {
	SN      string
	StartAt string
	EndAt   string
	Page    int
	Limit   int
}

// WorkData returns one page of the dynamic inverter work data table.
func (c *Client) WorkData(ctx context.Context, q WorkDataQuery) (Page[WorkDataPoint], error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}
	query := url.Values{}
	query.Set("sn", q.SN)
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("limit", strconv.Itoa(q.Limit))
	if q.StartAt != "" {
		query.Set("startAt", q.StartAt)
	}
	if q.EndAt != "" {
		query.Set("endAt", q.EndAt)
	}

	var out Page[WorkDataPoint]
	data, err := c.request(ctx, http.MethodGet, "/workdata/dynamic", query)
	if err != nil {
		return out, err
	}
	if err := decodeInto(data, &out); err != nil {
		return out, fmt.Errorf("decode work data page: %w", err)
	}
	return out, nil
}
