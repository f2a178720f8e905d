package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"habitquest_backend/internal/config"
	"habitquest_backend/internal/model"
	"habitquest_backend/internal/repository/memory"
	"habitquest_backend/internal/stravaapi"
	"habitquest_backend/internal/util"
	"habitquest_backend/pkg/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActivityClient struct {
	mu sync.Mutex

	activities []stravaapi.Activity
	listErr    error
	listCalls  int
	lastAfter  int64
	lastToken  string

	refreshed    *stravaapi.TokenResponse
	refreshErr   error
	refreshCalls int

	exchanged *stravaapi.TokenResponse

	// onList 在下一次拉取开始时执行一次
	onList func()
}

func (f *fakeActivityClient) AuthorizationURL(state string) string {
	return "https://provider.test/oauth/authorize?state=" + state
}

func (f *fakeActivityClient) ExchangeCode(_ context.Context, code string) (*stravaapi.TokenResponse, error) {
	if code != "good-code" {
		return nil, &util.ProviderError{Op: "exchange_code", StatusCode: 400, Body: "bad code"}
	}
	return f.exchanged, nil
}

func (f *fakeActivityClient) RefreshToken(_ context.Context, refreshToken string) (*stravaapi.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

// ListActivities 与真实接口一致：按 after 过滤、按开始时间升序分页
func (f *fakeActivityClient) ListActivities(ctx context.Context, accessToken string, after int64, page, perPage int) ([]stravaapi.Activity, error) {
	f.mu.Lock()
	hook := f.onList
	f.onList = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	f.lastAfter = after
	f.lastToken = accessToken
	if f.listErr != nil {
		return nil, f.listErr
	}

	var matched []stravaapi.Activity
	for _, a := range f.activities {
		start, _ := a.StartUnix()
		if start >= after {
			matched = append(matched, a)
		}
	}
	from := (page - 1) * perPage
	if from >= len(matched) {
		return nil, nil
	}
	to := from + perPage
	if to > len(matched) {
		to = len(matched)
	}
	return matched[from:to], nil
}

func (f *fakeActivityClient) Exchange(context.Context, string, string) (*stravaapi.RawResponse, error) {
	return &stravaapi.RawResponse{StatusCode: 200, Body: []byte(`{}`)}, nil
}

func activityAt(id int64, start int64, kind string, meters float64, manual bool) stravaapi.Activity {
	return stravaapi.Activity{
		ID:        id,
		Type:      kind,
		Distance:  meters,
		StartDate: time.Unix(start, 0).UTC().Format(time.RFC3339),
		Manual:    manual,
	}
}

// 游标 1000：边界记录不计，其余 270 + 90 + 2 + 0
func sampleActivities() []stravaapi.Activity {
	return []stravaapi.Activity{
		activityAt(1, 1000, "Run", 5000, false),
		activityAt(2, 1100, "Run", 1000, false),
		activityAt(3, 1200, "Ride", 1000, false),
		activityAt(4, 1300, "Walk", 10, false),
		activityAt(5, 1400, "Yoga", 3000, false),
	}
}

func testStravaConfig() config.StravaConfig {
	return config.StravaConfig{
		ClientID:      "client",
		ClientSecret:  "secret",
		SyncCooldown:  5 * time.Minute,
		SyncLockTTL:   time.Minute,
		RefreshLeeway: time.Minute,
		PageSize:      30,
		MaxPages:      5,
	}
}

type syncFixture struct {
	store  *memory.Store
	gate   *memory.SyncGate
	client *fakeActivityClient
	clock  *testClock
	ledger *ProgressionService
	strava *StravaSyncService
}

func newSyncFixture(t *testing.T, cipherKey string) *syncFixture {
	t.Helper()
	store := memory.NewStore()
	clock := newTestClock()
	gate := memory.NewSyncGate().WithClock(clock.Now)
	client := &fakeActivityClient{activities: sampleActivities()}
	ledger := NewProgressionService(store, store, nil, testProgressionConfig()).WithClock(clock.Now)
	svc := NewStravaSyncService(store, ledger, client, gate, security.NewTokenCipher(cipherKey),
		testStravaConfig(), testProgressionConfig()).WithClock(clock.Now)

	_, err := ledger.Bootstrap(context.Background(), 1, "runner")
	require.NoError(t, err)
	return &syncFixture{store: store, gate: gate, client: client, clock: clock, ledger: ledger, strava: svc}
}

// connect 写入令牌并把游标设为 cursor
func (f *syncFixture) connect(t *testing.T, expiresIn time.Duration, cursor int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.strava.CompleteAuthorization(ctx, 1, AuthorizationGrant{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    f.clock.Now().Add(expiresIn).Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateProfile(ctx, 1, map[string]interface{}{
		model.ColExternalSyncCursor: cursor,
	}))
}

func TestActivityXP(t *testing.T) {
	cfg := testProgressionConfig()
	cases := []struct {
		kind   string
		meters float64
		xp     int64
	}{
		{"Run", 1000, 270},
		{"Walk", 1000, 270},
		{"Hike", 1000, 270},
		{"Ride", 1000, 90},
		{"VirtualRide", 1000, 90},
		{"EBikeRide", 1000, 90},
		{"Walk", 10, 2},
		{"Ride", 5, 0},
		{"Swim", 1000, 0},
		{"Run", 0, 0},
		{"Run", -10, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.xp, ActivityXP(tc.kind, tc.meters, cfg), "%s %.0fm", tc.kind, tc.meters)
	}
}

func TestSyncAwardsXPAndAdvancesCursor(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, time.Hour, 1000)
	ctx := context.Background()

	res, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(362), res.XPAwarded)
	assert.Equal(t, 3, res.ActivitiesCounted)
	assert.Equal(t, 2, res.ActivitiesSkipped)
	assert.Equal(t, int64(1000), res.PreviousCursor)
	assert.Equal(t, int64(1400), res.Cursor)
	require.NotNil(t, res.Progress)
	assert.Equal(t, 3, res.Progress.NewLevel)

	assert.Equal(t, int64(1000), f.client.lastAfter)
	assert.Equal(t, "access-1", f.client.lastToken)
	assert.Equal(t, 0, f.client.refreshCalls)

	p, _ := f.store.GetProfile(ctx, 1)
	assert.Equal(t, int64(362), p.TotalXP)
	assert.Equal(t, 3, p.CurrentLevel)
	assert.Equal(t, int64(1400), p.ExternalSyncCursor)

	logs, _ := f.store.ListActivityLogs(ctx, 1, 10)
	var syncLogs int
	for _, l := range logs {
		if l.ActionKind == model.ActionStravaSync {
			syncLogs++
			assert.Equal(t, int64(362), l.XPAmount)
		}
	}
	assert.Equal(t, 1, syncLogs)
}

func TestSyncCooldownThenNoop(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, time.Hour, 1000)
	ctx := context.Background()

	_, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)

	_, err = f.strava.Sync(ctx, 1)
	var cooldown *util.CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, 5*time.Minute, cooldown.Remaining)

	status, err := f.strava.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, status.State)
	assert.Equal(t, int64(300), status.CooldownRemaining)

	f.clock.Advance(5*time.Minute + time.Second)
	res, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.XPAwarded)
	assert.Equal(t, int64(1400), res.Cursor)
	assert.Nil(t, res.Progress)

	p, _ := f.store.GetProfile(ctx, 1)
	assert.Equal(t, int64(362), p.TotalXP)
	assert.Equal(t, int64(1400), p.ExternalSyncCursor)
}

func TestSyncRejectsOverlap(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, time.Hour, 0)
	ctx := context.Background()

	_, ok, err := f.gate.TryLock(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	status, err := f.strava.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateSyncing, status.State)

	_, err = f.strava.Sync(ctx, 1)
	assert.ErrorIs(t, err, util.ErrSyncInProgress)
	assert.Equal(t, 0, f.client.listCalls)

	// 过期的标志不会永久阻塞
	f.clock.Advance(2 * time.Minute)
	_, err = f.strava.Sync(ctx, 1)
	assert.NoError(t, err)
}

func TestSyncAfterFlagExpiryCreditsActivitiesOnce(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, time.Hour, 1000)
	ctx := context.Background()

	// 第一次同步拉取期间标志过期，第二次同步拿到标志并完成入账
	var (
		inner    *SyncResult
		innerErr error
	)
	f.client.onList = func() {
		f.clock.Advance(testStravaConfig().SyncFlagTTL() + time.Second)
		inner, innerErr = f.strava.Sync(ctx, 1)
	}

	_, err := f.strava.Sync(ctx, 1)
	assert.ErrorIs(t, err, util.ErrSyncConflict)
	require.NoError(t, innerErr)
	assert.Equal(t, int64(362), inner.XPAwarded)

	p, _ := f.store.GetProfile(ctx, 1)
	assert.Equal(t, int64(362), p.TotalXP)
	assert.Equal(t, int64(1400), p.ExternalSyncCursor)

	logs, _ := f.store.ListActivityLogs(ctx, 1, 20)
	var syncLogs int
	for _, l := range logs {
		if l.ActionKind == model.ActionStravaSync {
			syncLogs++
		}
	}
	assert.Equal(t, 1, syncLogs)

	locked, _ := f.gate.Locked(ctx, 1)
	assert.False(t, locked)
}

func TestSyncCompletesAfterCallerCancels(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, 30*time.Second, 1000)
	f.client.refreshed = &stravaapi.TokenResponse{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    f.clock.Now().Add(6 * time.Hour).Unix(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.client.onList = cancel

	res, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(362), res.XPAwarded)

	p, _ := f.store.GetProfile(context.Background(), 1)
	assert.Equal(t, int64(362), p.TotalXP)
	assert.Equal(t, int64(1400), p.ExternalSyncCursor)
	assert.Equal(t, "refresh-2", *p.ExternalRefreshToken)

	remaining, _ := f.gate.CooldownRemaining(context.Background(), 1)
	assert.Equal(t, 5*time.Minute, remaining)
}

func TestSyncConfigurationErrorKeepsTokens(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, -time.Minute, 1000)
	f.client.refreshErr = fmt.Errorf("%w: bad client secret", util.ErrConfiguration)
	ctx := context.Background()

	_, err := f.strava.Sync(ctx, 1)
	assert.ErrorIs(t, err, util.ErrConfiguration)
	assert.NotErrorIs(t, err, util.ErrTokenInvalid)

	p, _ := f.store.GetProfile(ctx, 1)
	assert.True(t, p.Connected())
	assert.Equal(t, "refresh-1", *p.ExternalRefreshToken)
}

func TestSyncReleasesFlagAfterRun(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, time.Hour, 1000)
	ctx := context.Background()

	_, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)
	locked, err := f.gate.Locked(ctx, 1)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestSyncRequiresConnection(t *testing.T) {
	f := newSyncFixture(t, "")
	ctx := context.Background()

	_, err := f.strava.Sync(ctx, 1)
	assert.ErrorIs(t, err, util.ErrNotConnected)

	status, err := f.strava.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, status.State)

	_, err = f.strava.Sync(ctx, 42)
	assert.ErrorIs(t, err, util.ErrProfileNotFound)
}

func TestSyncRefreshesExpiringToken(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, 30*time.Second, 1000)
	newExpiry := f.clock.Now().Add(6 * time.Hour).Unix()
	f.client.refreshed = &stravaapi.TokenResponse{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    newExpiry,
	}
	ctx := context.Background()

	_, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.refreshCalls)
	assert.Equal(t, "access-2", f.client.lastToken)

	p, _ := f.store.GetProfile(ctx, 1)
	require.NotNil(t, p.ExternalTokenExpiry)
	assert.Equal(t, newExpiry, *p.ExternalTokenExpiry)
	assert.Equal(t, "refresh-2", *p.ExternalRefreshToken)
}

func TestSyncKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, -time.Minute, 1000)
	f.client.refreshed = &stravaapi.TokenResponse{AccessToken: "access-2", ExpiresIn: 3600}
	ctx := context.Background()

	_, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)

	p, _ := f.store.GetProfile(ctx, 1)
	assert.Equal(t, "refresh-1", *p.ExternalRefreshToken)
	assert.Equal(t, f.clock.Now().Add(time.Hour).Unix(), *p.ExternalTokenExpiry)
}

func TestSyncInvalidRefreshDisconnects(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, -time.Minute, 1000)
	f.client.refreshErr = fmt.Errorf("%w: revoked", util.ErrTokenInvalid)
	ctx := context.Background()

	_, err := f.strava.Sync(ctx, 1)
	assert.ErrorIs(t, err, util.ErrTokenInvalid)
	assert.Equal(t, 0, f.client.listCalls)

	p, _ := f.store.GetProfile(ctx, 1)
	assert.False(t, p.Connected())
	assert.Nil(t, p.ExternalAccessToken)
	assert.Equal(t, int64(1000), p.ExternalSyncCursor)

	remaining, _ := f.gate.CooldownRemaining(ctx, 1)
	assert.Zero(t, remaining)

	_, err = f.strava.Sync(ctx, 1)
	assert.ErrorIs(t, err, util.ErrNotConnected)
}

func TestSyncProviderErrorLeavesStateUntouched(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, time.Hour, 1000)
	f.client.listErr = &util.ProviderError{Op: "list_activities", StatusCode: 503, Body: "down"}
	ctx := context.Background()

	_, err := f.strava.Sync(ctx, 1)
	assert.ErrorIs(t, err, util.ErrProvider)

	p, _ := f.store.GetProfile(ctx, 1)
	assert.Equal(t, int64(0), p.TotalXP)
	assert.Equal(t, int64(1000), p.ExternalSyncCursor)
	assert.True(t, p.Connected())

	// 失败不进入冷却，可立即重试
	f.client.listErr = nil
	res, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(362), res.XPAwarded)
}

func TestSyncPagesThroughResults(t *testing.T) {
	f := newSyncFixture(t, "")
	cfg := testStravaConfig()
	cfg.PageSize = 2
	f.strava.UpdateConfig(cfg, testProgressionConfig())
	f.connect(t, time.Hour, 1000)

	res, err := f.strava.Sync(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, f.client.listCalls)
	assert.Equal(t, int64(362), res.XPAwarded)
	assert.Equal(t, int64(1400), res.Cursor)
}

func TestSyncStopsAtMaxPages(t *testing.T) {
	f := newSyncFixture(t, "")
	cfg := testStravaConfig()
	cfg.PageSize = 2
	cfg.MaxPages = 2
	f.strava.UpdateConfig(cfg, testProgressionConfig())
	f.connect(t, time.Hour, 1000)

	res, err := f.strava.Sync(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, f.client.listCalls)
	assert.Equal(t, int64(362), res.XPAwarded)
	assert.Equal(t, int64(1300), res.Cursor)
}

func TestManualActivityAdvancesCursorOnly(t *testing.T) {
	f := newSyncFixture(t, "")
	f.client.activities = []stravaapi.Activity{
		activityAt(1, 2000, "Run", 10000, true),
	}
	f.connect(t, time.Hour, 1000)
	ctx := context.Background()

	res, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.XPAwarded)
	assert.Equal(t, int64(2000), res.Cursor)
	require.NotNil(t, res.Progress)
	assert.False(t, res.Progress.LeveledUp)

	p, _ := f.store.GetProfile(ctx, 1)
	assert.Equal(t, int64(0), p.TotalXP)
	assert.Equal(t, int64(2000), p.ExternalSyncCursor)
}

func TestDisconnectKeepsCursorByDefault(t *testing.T) {
	f := newSyncFixture(t, "")
	f.connect(t, time.Hour, 1000)
	ctx := context.Background()

	require.NoError(t, f.strava.Disconnect(ctx, 1))
	p, _ := f.store.GetProfile(ctx, 1)
	assert.False(t, p.Connected())
	assert.Nil(t, p.ExternalTokenExpiry)
	assert.Equal(t, int64(1000), p.ExternalSyncCursor)

	cfg := testStravaConfig()
	cfg.ResetCursorOnDisconnect = true
	f.strava.UpdateConfig(cfg, testProgressionConfig())
	f.connect(t, time.Hour, 1000)

	require.NoError(t, f.strava.Disconnect(ctx, 1))
	p, _ = f.store.GetProfile(ctx, 1)
	assert.Equal(t, int64(0), p.ExternalSyncCursor)
}

func TestCompleteAuthorizationWithCode(t *testing.T) {
	f := newSyncFixture(t, "")
	f.client.exchanged = &stravaapi.TokenResponse{
		AccessToken:  "access-code",
		RefreshToken: "refresh-code",
		ExpiresIn:    21600,
	}
	ctx := context.Background()

	status, err := f.strava.CompleteAuthorization(ctx, 1, AuthorizationGrant{Code: "good-code"})
	require.NoError(t, err)
	assert.Equal(t, StateConnected, status.State)
	require.NotNil(t, status.TokenExpiresAt)
	assert.Equal(t, f.clock.Now().Add(6*time.Hour).Unix(), *status.TokenExpiresAt)

	_, err = f.strava.CompleteAuthorization(ctx, 1, AuthorizationGrant{Code: "bad"})
	assert.ErrorIs(t, err, util.ErrProvider)

	_, err = f.strava.CompleteAuthorization(ctx, 1, AuthorizationGrant{})
	assert.ErrorIs(t, err, util.ErrInvalidInput)
}

func TestTokensAreSealedAtRest(t *testing.T) {
	f := newSyncFixture(t, "at-rest-key")
	f.connect(t, time.Hour, 1000)
	ctx := context.Background()

	p, _ := f.store.GetProfile(ctx, 1)
	require.NotNil(t, p.ExternalAccessToken)
	assert.True(t, strings.HasPrefix(*p.ExternalAccessToken, "enc:"))
	assert.NotContains(t, *p.ExternalRefreshToken, "refresh-1")

	_, err := f.strava.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "access-1", f.client.lastToken)
}

func TestAuthorizationURL(t *testing.T) {
	f := newSyncFixture(t, "")
	u, err := f.strava.AuthorizationURL(7)
	require.NoError(t, err)
	assert.Contains(t, u, "state=7")

	cfg := testStravaConfig()
	cfg.ClientID = ""
	f.strava.UpdateConfig(cfg, testProgressionConfig())
	_, err = f.strava.AuthorizationURL(7)
	assert.ErrorIs(t, err, util.ErrConfiguration)
}

func TestSyncOutcomeLabels(t *testing.T) {
	assert.Equal(t, "success", syncOutcome(nil))
	assert.Equal(t, "cooldown", syncOutcome(&util.CooldownError{Remaining: time.Second}))
	assert.Equal(t, "in_progress", syncOutcome(util.ErrSyncInProgress))
	assert.Equal(t, "conflict", syncOutcome(fmt.Errorf("persist: %w", util.ErrSyncConflict)))
	assert.Equal(t, "token_invalid", syncOutcome(fmt.Errorf("wrap: %w", util.ErrTokenInvalid)))
	assert.Equal(t, "provider_error", syncOutcome(&util.ProviderError{Op: "x", StatusCode: 500}))
	assert.Equal(t, "error", syncOutcome(errors.New("boom")))
}
