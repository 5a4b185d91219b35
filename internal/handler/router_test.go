package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mrvl/livesync/internal/auth"
	"github.com/mrvl/livesync/internal/model"
	"github.com/mrvl/livesync/internal/service"
)

const testSecret = "test-secret"

type routerFixture struct {
	sync   *service.Sync
	router http.Handler
	jwt    *auth.JWTManager
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	s := newTestSync(t)
	mgr := auth.NewJWTManager(testSecret)
	return &routerFixture{sync: s, router: NewRouter(s, mgr, "*"), jwt: mgr}
}

func (f *routerFixture) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := f.jwt.GenerateAccessToken("user-1", role)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (f *routerFixture) do(t *testing.T, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, role))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	if rec := f.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	f.sync.Destroy()
	if rec := f.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after destroy, got %d", rec.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/matches/m1/snapshot", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestScorerRoutesRejectViewers(t *testing.T) {
	f := newRouterFixture(t)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/matches/m1/broadcast"},
		{http.MethodDelete, "/api/v1/matches/m1/snapshot"},
		{http.MethodPost, "/api/v1/sync/pause"},
		{http.MethodPost, "/api/v1/sync/resume"},
	}
	for _, rt := range routes {
		rec := f.do(t, rt.method, rt.path, auth.RoleViewer, `{"status":"live"}`)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected 403, got %d", rt.method, rt.path, rec.Code)
		}
	}
}

func TestBroadcastThenSnapshot(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/matches/m1/snapshot", auth.RoleViewer, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any update, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/matches/m1/broadcast", auth.RoleScorer,
		`{"data":{"status":"live","team1_score":3,"team2_score":1,"current_map":"Ilios"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var sent model.StampedUpdate
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode broadcast response: %v", err)
	}
	if sent.Origin != model.OriginBroadcast || sent.Timestamp == 0 {
		t.Errorf("unexpected stamp: %+v", sent)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/matches/m1/snapshot", auth.RoleViewer, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got model.StampedUpdate
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.Team1Score != 3 || got.CurrentMap != "Ilios" || got.Timestamp != sent.Timestamp {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}

func TestBroadcastInvalidBody(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/matches/m1/broadcast", auth.RoleScorer, "not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBroadcastPlayerStatsObject(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/matches/m1/broadcast", auth.RoleScorer,
		`{"data":{"status":"live","player_stats":{"17":{"eliminations":12}},"round":"final"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Update-Origin") != string(model.OriginBroadcast) {
		t.Errorf("origin header = %q", rec.Header().Get("X-Update-Origin"))
	}

	rec = f.do(t, http.MethodGet, "/api/v1/matches/m1/snapshot", auth.RoleViewer, "")
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	stats, _ := body["player_stats"].(map[string]any)
	if _, ok := stats["17"]; !ok {
		t.Errorf("player_stats lost: %v", body["player_stats"])
	}
	if body["round"] != "final" {
		t.Errorf("unknown field lost: %v", body)
	}
}

func TestBroadcastAfterDestroy(t *testing.T) {
	f := newRouterFixture(t)
	f.sync.Destroy()
	rec := f.do(t, http.MethodPost, "/api/v1/matches/m1/broadcast", auth.RoleScorer, `{"status":"live"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestClearSnapshot(t *testing.T) {
	f := newRouterFixture(t)
	f.do(t, http.MethodPost, "/api/v1/matches/m1/broadcast", auth.RoleScorer, `{"status":"live"}`)

	rec := f.do(t, http.MethodDelete, "/api/v1/matches/m1/snapshot", auth.RoleScorer, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/matches/m1/snapshot", auth.RoleViewer, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after clear, got %d", rec.Code)
	}
}

func TestPauseResumeStatus(t *testing.T) {
	f := newRouterFixture(t)

	status := func() map[string]any {
		t.Helper()
		rec := f.do(t, http.MethodGet, "/api/v1/sync/status", auth.RoleViewer, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		return body
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/sync/pause", auth.RoleScorer, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("pause: expected 204, got %d", rec.Code)
	}
	if body := status(); body["paused"] != true || body["instance"] != "test" {
		t.Errorf("unexpected status after pause: %v", body)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/sync/resume", auth.RoleScorer, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("resume: expected 204, got %d", rec.Code)
	}
	if body := status(); body["paused"] != false {
		t.Errorf("unexpected status after resume: %v", body)
	}
}
