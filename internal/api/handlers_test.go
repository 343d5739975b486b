package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"solarsync/internal/auth"
	"solarsync/internal/cache"
	"solarsync/internal/messaging"
	"solarsync/internal/models"
	"solarsync/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *storage.Storage) {
	t.Helper()
	store, err := storage.NewStorage("")
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	tokens, err := auth.NewTokenIssuer([]byte("test-secret-test-secret-test-1234"), "solarsync-test")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	handler := NewHandler(store, auth.NewSessionManager(time.Hour), tokens)
	return handler, store
}

func asUser(r *http.Request, user models.User) *http.Request {
	return r.WithContext(ContextWithUser(r.Context(), user))
}

func adminUser() models.User {
	return models.User{ID: "admin-1", Email: "admin@example.com", Roles: []string{"admin"}}
}

func viewerUser() models.User {
	return models.User{ID: "viewer-1", Email: "viewer@example.com", Roles: []string{"viewer"}}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSignupLoginRefreshFlow(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	body := `{"displayName":"Ops","email":"ops@example.com","password":"supersecret"}`
	handler.Signup(rec, httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d body %s", rec.Code, rec.Body.String())
	}
	var created tokenResponse
	decodeBody(t, rec, &created)
	if created.AccessToken == "" || created.RefreshToken == "" {
		t.Fatalf("signup tokens missing: %+v", created)
	}
	if created.TokenType != "Bearer" || created.ExpiresIn <= 0 {
		t.Fatalf("token envelope = %+v", created)
	}
	if created.User.Email != "ops@example.com" {
		t.Fatalf("signup user = %+v", created.User)
	}

	rec = httptest.NewRecorder()
	handler.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"ops@example.com","password":"supersecret"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body %s", rec.Code, rec.Body.String())
	}
	var session tokenResponse
	decodeBody(t, rec, &session)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	handler.Session(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	refreshBody := fmt.Sprintf(`{"refresh_token":%q}`, session.RefreshToken)
	handler.Refresh(rec, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(refreshBody)))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body %s", rec.Code, rec.Body.String())
	}
	var rotated tokenResponse
	decodeBody(t, rec, &rotated)
	if rotated.RefreshToken == session.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	rec = httptest.NewRecorder()
	handler.Refresh(rec, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(refreshBody)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	deleteBody := fmt.Sprintf(`{"refresh_token":%q}`, rotated.RefreshToken)
	handler.Session(rec, httptest.NewRequest(http.MethodDelete, "/api/auth/session", strings.NewReader(deleteBody)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("session delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Refresh(rec, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(deleteBody)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked refresh token status = %d", rec.Code)
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.Signup(rec, httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(`{"email":"a@b.co","password":"short"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"ghost@example.com","password":"whatever1"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestEstateCRUD(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/estates", strings.NewReader(`{"name":"Willow Creek","numUnits":40}`)), adminUser())
	handler.Estates(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body.String())
	}
	var created estateResponse
	decodeBody(t, rec, &created)
	if created.ID == 0 || !created.Active {
		t.Fatalf("created estate = %+v", created)
	}

	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodGet, "/api/estates", nil), viewerUser())
	handler.Estates(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var estates []estateResponse
	decodeBody(t, rec, &estates)
	if len(estates) != 1 {
		t.Fatalf("estates = %d", len(estates))
	}

	rec = httptest.NewRecorder()
	path := fmt.Sprintf("/api/estates/%d", created.ID)
	body := `{"name":"Willow Creek","address":"12 Creek Rd","numUnits":42,"active":true}`
	req = asUser(httptest.NewRequest(http.MethodPut, path, strings.NewReader(body)), adminUser())
	handler.EstateByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body %s", rec.Code, rec.Body.String())
	}
	var updated estateResponse
	decodeBody(t, rec, &updated)
	if updated.NumUnits != 42 || updated.Address != "12 Creek Rd" {
		t.Fatalf("updated estate = %+v", updated)
	}

	if _, err := store.GetEstate(ctx, created.ID); err != nil {
		t.Fatalf("GetEstate: %v", err)
	}

	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodDelete, path, nil), adminUser())
	handler.EstateByID(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodGet, path, nil), viewerUser())
	handler.EstateByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", rec.Code)
	}
}

func TestEstateCreateRequiresOperatorRole(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/estates", strings.NewReader(`{"name":"X"}`)), viewerUser())
	handler.Estates(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestEstatesRequireAuthentication(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.Estates(rec, httptest.NewRequest(http.MethodGet, "/api/estates", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestEstateSummaryAndOffline(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	estate, err := store.CreateEstate(ctx, storage.EstateParams{Name: "Fern Glen", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}
	plants := []models.EstatePlant{
		{ID: 1, Name: "Fern Glen 1", Status: 1, Pac: 2.5, EToday: 8, ETotal: 100, Efficiency: 60},
		{ID: 2, Name: "Fern Glen 2", Status: models.PlantStatusOffline},
	}
	for _, plant := range plants {
		if _, err := store.UpsertPlant(ctx, plant); err != nil {
			t.Fatalf("UpsertPlant: %v", err)
		}
		if err := store.AssignPlantEstate(ctx, plant.ID, estate.ID); err != nil {
			t.Fatalf("AssignPlantEstate: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/estates/%d/summary", estate.ID), nil), viewerUser())
	handler.EstateByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d body %s", rec.Code, rec.Body.String())
	}
	var totals models.EstateTotals
	decodeBody(t, rec, &totals)
	if totals.Plants != 2 || totals.Offline != 1 {
		t.Fatalf("totals = %+v", totals)
	}

	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/estates/%d/offline", estate.ID), nil), viewerUser())
	handler.EstateByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("offline status = %d", rec.Code)
	}
	var offline []models.EstatePlant
	decodeBody(t, rec, &offline)
	if len(offline) != 1 || offline[0].ID != 2 {
		t.Fatalf("offline plants = %+v", offline)
	}
}

func TestPlantsListPagination(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: i, Name: fmt.Sprintf("Plant %d", i)}); err != nil {
			t.Fatalf("UpsertPlant: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/plants?page=2&limit=2", nil), viewerUser())
	handler.Plants(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var page plantListResponse
	decodeBody(t, rec, &page)
	if page.Total != 5 || len(page.Plants) != 2 || page.Page != 2 {
		t.Fatalf("page = %+v", page)
	}
}

type stubPowerCache struct {
	snapshot models.RealtimePower
	err      error
}

func (s *stubPowerCache) Realtime(context.Context, int64) (models.RealtimePower, error) {
	if s.err != nil {
		return models.RealtimePower{}, s.err
	}
	return s.snapshot, nil
}

func TestPlantPowerServedFromCache(t *testing.T) {
	handler, _ := newTestHandler(t)
	handler.Power = &stubPowerCache{snapshot: models.RealtimePower{PlantID: 9, Pac: 3.3, SOC: 77}}

	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/plants/9/power", nil), viewerUser())
	handler.PlantByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var snap models.RealtimePower
	decodeBody(t, rec, &snap)
	if snap.Pac != 3.3 || snap.SOC != 77 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPlantPowerFallsThroughToStore(t *testing.T) {
	handler, store := newTestHandler(t)
	handler.Power = &stubPowerCache{err: cache.ErrCacheMiss}
	ctx := context.Background()

	ts := time.Date(2026, 8, 25, 11, 30, 0, 0, time.UTC)
	points := []models.PowerPoint{
		{PlantID: 9, TS: ts, Metric: models.MetricPV, Value: 4.1},
		{PlantID: 9, TS: ts, Metric: models.MetricSOC, Value: 65},
	}
	for _, point := range points {
		if err := store.InsertPowerPoint(ctx, point); err != nil {
			t.Fatalf("InsertPowerPoint: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/plants/9/power", nil), viewerUser())
	handler.PlantByID(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var snap models.RealtimePower
	decodeBody(t, rec, &snap)
	if snap.Pac != 4.1 || snap.SOC != 65 || !snap.UpdatedAt.Equal(ts) {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPlantPowerMissingEverywhere(t *testing.T) {
	handler, _ := newTestHandler(t)
	handler.Power = &stubPowerCache{err: cache.ErrCacheMiss}

	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/plants/404/power", nil), viewerUser())
	handler.PlantByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsHourlyRequiresEstates(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodGet, "/api/metrics/hourly", nil), viewerUser())
	handler.MetricsHourly(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = asUser(httptest.NewRequest(http.MethodGet, "/api/metrics/hourly?estates=1&day_offset=bad", nil), viewerUser())
	handler.MetricsHourly(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad offset status = %d", rec.Code)
	}
}

func TestMetricsHourlyReturnsRows(t *testing.T) {
	handler, store := newTestHandler(t)
	ctx := context.Background()

	estate, err := store.CreateEstate(ctx, storage.EstateParams{Name: "Oak Lane", Active: true})
	if err != nil {
		t.Fatalf("CreateEstate: %v", err)
	}
	if _, err := store.UpsertPlant(ctx, models.EstatePlant{ID: 1, Name: "Oak Lane 1"}); err != nil {
		t.Fatalf("UpsertPlant: %v", err)
	}
	if err := store.AssignPlantEstate(ctx, 1, estate.ID); err != nil {
		t.Fatalf("AssignPlantEstate: %v", err)
	}
	ts := time.Now().UTC().Truncate(time.Hour).Add(10 * time.Minute)
	if err := store.InsertPowerPoint(ctx, models.PowerPoint{PlantID: 1, TS: ts, Metric: models.MetricEToday, Value: 6}); err != nil {
		t.Fatalf("InsertPowerPoint: %v", err)
	}

	rec := httptest.NewRecorder()
	url := fmt.Sprintf("/api/metrics/hourly?estates=%d", estate.ID)
	req := asUser(httptest.NewRequest(http.MethodGet, url, nil), viewerUser())
	handler.MetricsHourly(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Day     string                `json:"day"`
		Metrics []models.HourlyMetric `json:"metrics"`
	}
	decodeBody(t, rec, &payload)
	if len(payload.Metrics) != 1 || payload.Metrics[0].EToday != 6 {
		t.Fatalf("metrics = %+v", payload.Metrics)
	}
}

type stubSMS struct {
	receipt messaging.SMSReceipt
	err     error
	lastTo  string
}

func (s *stubSMS) Send(_ context.Context, phone, _ string) (messaging.SMSReceipt, error) {
	s.lastTo = phone
	if s.err != nil {
		return messaging.SMSReceipt{}, s.err
	}
	return s.receipt, nil
}

func TestSendSMSHandler(t *testing.T) {
	handler, _ := newTestHandler(t)
	sms := &stubSMS{receipt: messaging.SMSReceipt{APIMessageID: "msg-1", To: "27821234567", Status: "queued"}}
	handler.SMS = sms

	rec := httptest.NewRecorder()
	body := `{"phone":"0821234567","message":"Inverter offline"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/messages/sms", strings.NewReader(body)), adminUser())
	handler.SendSMS(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var receipt messaging.SMSReceipt
	decodeBody(t, rec, &receipt)
	if receipt.APIMessageID != "msg-1" {
		t.Fatalf("receipt = %+v", receipt)
	}
	if sms.lastTo != "0821234567" {
		t.Fatalf("sender received phone %q", sms.lastTo)
	}
}

func TestSendSMSRejectsUnsupportedPhone(t *testing.T) {
	handler, _ := newTestHandler(t)
	handler.SMS = &stubSMS{err: fmt.Errorf("format recipient: %w", messaging.ErrUnsupportedPhone)}

	rec := httptest.NewRecorder()
	body := `{"phone":"+447700900000","message":"hello"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/messages/sms", strings.NewReader(body)), adminUser())
	handler.SendSMS(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSendSMSUnconfigured(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/messages/sms", strings.NewReader(`{"phone":"0821234567","message":"x"}`)), adminUser())
	handler.SendSMS(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestContactVCard(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	body := `{"fullName":"Thandi Ops","phone":"'821234567","phoneType":"iphone"}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/contacts/vcard", strings.NewReader(body)), viewerUser())
	handler.ContactVCard(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/vcard") {
		t.Fatalf("content type = %q", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "BEGIN:VCARD") || !strings.Contains(out, "TEL;TYPE=IPHONE") {
		t.Fatalf("vcard = %q", out)
	}
}

func TestHealthReportsOK(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Status   string        `json:"status"`
		Services []healthCheck `json:"services"`
	}
	decodeBody(t, rec, &payload)
	if payload.Status != "ok" {
		t.Fatalf("health = %+v", payload)
	}
}
