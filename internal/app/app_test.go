package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"habitquest_backend/internal/config"
	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestApp(t *testing.T, tokenURL string) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Defaults()
	cfg.Database.Driver = util.DriverMemory
	cfg.JWT.Secret = testSecret
	cfg.Strava.ClientID = "client"
	cfg.Strava.ClientSecret = "secret"
	cfg.Strava.TokenURL = tokenURL
	cfg.Strava.RetryBackoff = time.Millisecond
	cfg.Missions = []config.MissionConfig{
		{ID: "daily-walk", Title: "Daily Walk", Rank: "F", XPReward: 40, GoldReward: 15},
	}
	return New(cfg, nil, nil)
}

func bearer(t *testing.T, userID uint, role model.UserRole) string {
	t.Helper()
	token, err := util.GenerateJWT(userID, role, "tester", testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func do(t *testing.T, a *App, method, path, auth string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealthWithMemoryDriver(t *testing.T) {
	a := newTestApp(t, "http://unused")
	w, body := do(t, a, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
}

func TestAPIRequiresToken(t *testing.T) {
	a := newTestApp(t, "http://unused")
	w, _ := do(t, a, http.MethodGet, "/api/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, a, http.MethodGet, "/api/profile", "Bearer garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProfileAndStudyCap(t *testing.T) {
	a := newTestApp(t, "http://unused")
	auth := bearer(t, 11, model.Player)

	w, body := do(t, a, http.MethodGet, "/api/profile", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["currentLevel"])
	assert.Equal(t, "tester", data["displayName"])

	w, _ = do(t, a, http.MethodPost, "/api/progression/study", auth, gin.H{"xp": 1400})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, a, http.MethodPost, "/api/progression/study", auth, gin.H{"xp": 101})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, util.ErrDailyCapExceeded.Error(), body["message"])

	w, body = do(t, a, http.MethodGet, "/api/activity-log?limit=2", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 2)
}

func TestSyncWithoutConnection(t *testing.T) {
	a := newTestApp(t, "http://unused")
	auth := bearer(t, 12, model.Player)
	do(t, a, http.MethodGet, "/api/profile", auth, nil)

	w, _ := do(t, a, http.MethodPost, "/api/strava/sync", auth, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body := do(t, a, http.MethodGet, "/api/strava/status", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "disconnected", data["state"])
}

func TestTokenExchangeEndpoint(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Bad Request"}`))
	}))
	defer provider.Close()

	a := newTestApp(t, provider.URL)
	auth := bearer(t, 13, model.Player)

	w, _ := do(t, a, http.MethodPost, "/api/strava/token", auth, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := do(t, a, http.MethodPost, "/api/strava/token", auth, gin.H{"refresh_token": "r1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Bad Request", body["message"])
	_, wrapped := body["code"]
	assert.False(t, wrapped)
}

func TestTokenExchangeProviderDown(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer provider.Close()

	a := newTestApp(t, provider.URL)
	w, _ := do(t, a, http.MethodPost, "/api/strava/token", bearer(t, 14, model.Player), gin.H{"code": "c1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestTokenExchangeUnconfigured(t *testing.T) {
	a := newTestApp(t, "http://unused")
	cfg := *a.Config
	cfg.Strava.ClientSecret = ""
	a.ApplyConfig(&cfg)

	w, _ := do(t, a, http.MethodPost, "/api/strava/token", bearer(t, 15, model.Player), gin.H{})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	a := newTestApp(t, "http://unused")
	player := bearer(t, 16, model.Player)
	do(t, a, http.MethodGet, "/api/profile", player, nil)

	w, _ := do(t, a, http.MethodPut, "/api/admin/players/16/xp", player, gin.H{"totalXp": 500, "reason": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := bearer(t, 1, model.Admin)
	w, body := do(t, a, http.MethodPut, "/api/admin/players/16/xp", admin, gin.H{"totalXp": 500, "reason": "backfill"})
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(4), data["newLevel"])
}

func TestPlayersCannotGrantThemselvesXP(t *testing.T) {
	a := newTestApp(t, "http://unused")
	player := bearer(t, 17, model.Player)
	do(t, a, http.MethodGet, "/api/profile", player, nil)

	w, _ := do(t, a, http.MethodPost, "/api/progression/xp", player, gin.H{"amount": 5000000, "source": "mission"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = do(t, a, http.MethodPost, "/api/admin/players/17/xp", player, gin.H{"amount": 5000000})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := do(t, a, http.MethodGet, "/api/profile", player, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["data"].(map[string]interface{})["totalXp"])

	admin := bearer(t, 1, model.Admin)
	w, body = do(t, a, http.MethodPost, "/api/admin/players/17/xp", admin, gin.H{"amount": 60, "source": "mission"})
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(60), data["newTotalXp"])
	assert.Equal(t, float64(2), data["newLevel"])

	w, _ = do(t, a, http.MethodPost, "/api/admin/players/17/xp", admin, gin.H{"amount": 10, "source": "strava_sync"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMissionFlow(t *testing.T) {
	a := newTestApp(t, "http://unused")
	player := bearer(t, 18, model.Player)
	do(t, a, http.MethodGet, "/api/profile", player, nil)

	w, body := do(t, a, http.MethodGet, "/api/missions", player, nil)
	require.Equal(t, http.StatusOK, w.Code)
	missions := body["data"].([]interface{})
	require.Len(t, missions, 1)
	first := missions[0].(map[string]interface{})
	assert.Equal(t, "daily-walk", first["id"])
	assert.Equal(t, "pending", first["status"])

	w, body = do(t, a, http.MethodPost, "/api/missions/daily-walk/complete", player, nil)
	require.Equal(t, http.StatusOK, w.Code)
	reward := body["data"].(map[string]interface{})
	assert.Equal(t, float64(15), reward["gold"])
	assert.Equal(t, float64(40), reward["progress"].(map[string]interface{})["newTotalXp"])

	w, _ = do(t, a, http.MethodPost, "/api/missions/daily-walk/complete", player, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w, _ = do(t, a, http.MethodPost, "/api/missions/unknown/complete", player, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = do(t, a, http.MethodPost, "/api/shop/purchase", player, gin.H{"item": "potion", "cost": 10})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), body["data"].(map[string]interface{})["gold"])
}

func TestGuildFlow(t *testing.T) {
	a := newTestApp(t, "http://unused")
	leader := bearer(t, 21, model.Player)
	member := bearer(t, 22, model.Player)
	do(t, a, http.MethodGet, "/api/profile", leader, nil)
	do(t, a, http.MethodGet, "/api/profile", member, nil)

	w, body := do(t, a, http.MethodPost, "/api/guilds", leader, gin.H{"name": "Early Birds"})
	require.Equal(t, http.StatusCreated, w.Code)
	guild := body["data"].(map[string]interface{})
	guildID := guild["id"].(string)

	w, _ = do(t, a, http.MethodPost, "/api/guilds/"+guildID+"/join", member, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, a, http.MethodPost, "/api/missions/daily-walk/complete", member, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, a, http.MethodGet, "/api/guilds/leaderboard", member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := body["data"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, float64(40), entries[0].(map[string]interface{})["totalXp"])

	w, _ = do(t, a, http.MethodPost, "/api/guilds/leave", leader, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
