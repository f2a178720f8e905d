package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"habitquest_backend/internal/config"
	"habitquest_backend/internal/model"
	"habitquest_backend/internal/stravaapi"
	"habitquest_backend/internal/util"
	"habitquest_backend/pkg/logger"
	"habitquest_backend/pkg/monitoring"
	"habitquest_backend/pkg/security"
	"habitquest_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ConnectionState 外部活动连接状态
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateSyncing      ConnectionState = "syncing"
)

// ActivityClient 外部活动服务，stravaapi.Client 为默认实现
type ActivityClient interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*stravaapi.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*stravaapi.TokenResponse, error)
	ListActivities(ctx context.Context, accessToken string, after int64, page, perPage int) ([]stravaapi.Activity, error)
	Exchange(ctx context.Context, code, refreshToken string) (*stravaapi.RawResponse, error)
}

// AuthorizationGrant 授权码，或客户端已换好的令牌三元组
type AuthorizationGrant struct {
	Code         string `json:"code"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// SyncResult 一次同步的汇总
type SyncResult struct {
	XPAwarded         int64     `json:"xpAwarded"`
	ActivitiesCounted int       `json:"activitiesCounted"`
	ActivitiesSkipped int       `json:"activitiesSkipped"`
	PreviousCursor    int64     `json:"previousCursor"`
	Cursor            int64     `json:"cursor"`
	Progress          *XPResult `json:"progress,omitempty"`
}

// SyncStatus 连接与同步状态
type SyncStatus struct {
	State             ConnectionState `json:"state"`
	Syncing           bool            `json:"syncing"`
	CooldownRemaining int64           `json:"cooldownRemainingSeconds"`
	Cursor            int64           `json:"cursor"`
	TokenExpiresAt    *int64          `json:"tokenExpiresAt,omitempty"`
}

// activityRule 活动类型对应的每米经验
type activityRule func(p config.ProgressionConfig) float64

var activityRules = map[string]activityRule{
	"Run":         footRate,
	"Walk":        footRate,
	"Hike":        footRate,
	"Ride":        wheelRate,
	"VirtualRide": wheelRate,
	"EBikeRide":   wheelRate,
}

func footRate(p config.ProgressionConfig) float64  { return p.FootXPPerMeter }
func wheelRate(p config.ProgressionConfig) float64 { return p.WheelXPPerMeter }

// ActivityXP 单条记录的经验；未知类型为 0
func ActivityXP(activityType string, distance float64, p config.ProgressionConfig) int64 {
	rule, ok := activityRules[activityType]
	if !ok || distance <= 0 {
		return 0
	}
	return int64(math.Floor(distance * rule(p)))
}

type StravaSyncService struct {
	profiles ProfileStore
	ledger   *ProgressionService
	client   ActivityClient
	gate     SyncGate
	cipher   *security.TokenCipher

	mu          sync.RWMutex
	cfg         config.StravaConfig
	progression config.ProgressionConfig
	now         func() time.Time

	// 授权进行中的玩家，仅用于状态展示
	connecting sync.Map
}

func NewStravaSyncService(
	profiles ProfileStore,
	ledger *ProgressionService,
	client ActivityClient,
	gate SyncGate,
	cipher *security.TokenCipher,
	cfg config.StravaConfig,
	progression config.ProgressionConfig,
) *StravaSyncService {
	return &StravaSyncService{
		profiles:    profiles,
		ledger:      ledger,
		client:      client,
		gate:        gate,
		cipher:      cipher,
		cfg:         cfg,
		progression: progression,
		now:         time.Now,
	}
}

func (s *StravaSyncService) WithClock(now func() time.Time) *StravaSyncService {
	s.now = now
	return s
}

func (s *StravaSyncService) UpdateConfig(cfg config.StravaConfig, progression config.ProgressionConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.progression = progression
	s.mu.Unlock()
}

func (s *StravaSyncService) settings() (config.StravaConfig, config.ProgressionConfig) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.progression
}

func (s *StravaSyncService) AuthorizationURL(playerID uint) (string, error) {
	cfg, _ := s.settings()
	if cfg.ClientID == "" {
		return "", util.ErrConfiguration
	}
	return s.client.AuthorizationURL(strconv.FormatUint(uint64(playerID), 10)), nil
}

// CompleteAuthorization 保存令牌，进入 connected 状态；游标保持不变
func (s *StravaSyncService) CompleteAuthorization(ctx context.Context, playerID uint, grant AuthorizationGrant) (*SyncStatus, error) {
	ctx, span := tracing.StartSpan(ctx, "strava.complete_authorization",
		attribute.Int64("player.id", int64(playerID)))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	s.connecting.Store(playerID, struct{}{})
	defer s.connecting.Delete(playerID)

	if _, err = s.profiles.GetProfile(ctx, playerID); err != nil {
		return nil, err
	}

	var tok *stravaapi.TokenResponse
	switch {
	case grant.Code != "":
		tok, err = s.client.ExchangeCode(ctx, grant.Code)
		if err != nil {
			return nil, err
		}
	case grant.AccessToken != "" && grant.RefreshToken != "":
		tok = &stravaapi.TokenResponse{
			AccessToken:  grant.AccessToken,
			RefreshToken: grant.RefreshToken,
			ExpiresAt:    grant.ExpiresAt,
		}
	default:
		err = fmt.Errorf("%w: code or access and refresh tokens are required", util.ErrInvalidInput)
		return nil, err
	}

	if err = s.storeTokens(ctx, playerID, tok); err != nil {
		return nil, err
	}

	logger.Log.Info("Activity provider connected", zap.Uint("playerId", playerID))
	return s.Status(ctx, playerID)
}

// Sync 拉取游标之后的活动并一次性入账
func (s *StravaSyncService) Sync(ctx context.Context, playerID uint) (result *SyncResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "strava.sync", attribute.Int64("player.id", int64(playerID)))
	defer func() {
		monitoring.SyncOutcomes.WithLabelValues(syncOutcome(err)).Inc()
		if result != nil {
			span.SetAttributes(
				attribute.Int64("sync.xp", result.XPAwarded),
				attribute.Int64("sync.cursor", result.Cursor),
			)
		}
		tracing.EndSpan(span, err)
	}()

	cfg, progression := s.settings()

	remaining, err := s.gate.CooldownRemaining(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return nil, &util.CooldownError{Remaining: remaining}
	}

	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if !p.Connected() {
		return nil, util.ErrNotConnected
	}

	ttl := cfg.SyncFlagTTL()
	token, ok, err := s.gate.TryLock(ctx, playerID, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.ErrSyncInProgress
	}
	defer func() {
		// 请求可能已取消，释放标志不能依赖它
		if uerr := s.gate.Unlock(context.Background(), playerID, token); uerr != nil {
			logger.Log.Error("Failed to clear sync flag", zap.Uint("playerId", playerID), zap.Error(uerr))
		}
	}()

	// 拿到标志后不再跟随请求取消，运行时长以标志有效期为上限
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ttl)
	defer cancel()

	accessToken, err := s.ensureAccessToken(ctx, p, cfg)
	if err != nil {
		return nil, err
	}

	result = &SyncResult{PreviousCursor: p.ExternalSyncCursor, Cursor: p.ExternalSyncCursor}
	for page := 1; page <= cfg.MaxPages; page++ {
		activities, err := s.client.ListActivities(ctx, accessToken, p.ExternalSyncCursor, page, cfg.PageSize)
		if err != nil {
			return nil, err
		}
		s.tally(result, activities, p.ExternalSyncCursor, progression)
		if len(activities) < cfg.PageSize {
			break
		}
	}

	if result.XPAwarded > 0 || result.Cursor > result.PreviousCursor {
		desc := fmt.Sprintf("Synced %d activit(ies) from Strava", result.ActivitiesCounted)
		progress, err := s.ledger.ApplySync(ctx, playerID, result.XPAwarded, result.PreviousCursor, result.Cursor, desc)
		if errors.Is(err, util.ErrSyncConflict) {
			logger.Log.Warn("Sync result discarded, cursor moved by another sync",
				zap.Uint("playerId", playerID),
				zap.Int64("fromCursor", result.PreviousCursor))
		}
		if err != nil {
			return nil, err
		}
		result.Progress = progress
	}

	if err := s.gate.StartCooldown(ctx, playerID, cfg.SyncCooldown); err != nil {
		logger.Log.Warn("Failed to start sync cooldown", zap.Uint("playerId", playerID), zap.Error(err))
	}

	logger.Log.Info("Activity sync completed",
		zap.Uint("playerId", playerID),
		zap.Int64("xp", result.XPAwarded),
		zap.Int("counted", result.ActivitiesCounted),
		zap.Int("skipped", result.ActivitiesSkipped),
		zap.Int64("cursor", result.Cursor))
	return result, nil
}

// tally 严格大于游标才计入；手动与未知类型不给经验但推进游标
func (s *StravaSyncService) tally(result *SyncResult, activities []stravaapi.Activity, cursor int64, progression config.ProgressionConfig) {
	for _, a := range activities {
		start, err := a.StartUnix()
		if err != nil {
			logger.Log.Warn("Skipping activity with unreadable start date",
				zap.Int64("activityId", a.ID), zap.Error(err))
			result.ActivitiesSkipped++
			continue
		}
		if start <= cursor {
			result.ActivitiesSkipped++
			continue
		}
		if start > result.Cursor {
			result.Cursor = start
		}
		if a.Manual {
			result.ActivitiesSkipped++
			continue
		}
		xp := ActivityXP(a.Type, a.Distance, progression)
		if xp <= 0 {
			result.ActivitiesSkipped++
			continue
		}
		result.XPAwarded += xp
		result.ActivitiesCounted++
	}
}

// Disconnect 清除令牌；默认保留游标，避免重连后重复计入
func (s *StravaSyncService) Disconnect(ctx context.Context, playerID uint) error {
	cfg, _ := s.settings()
	if _, err := s.profiles.GetProfile(ctx, playerID); err != nil {
		return err
	}

	fields := clearedTokenFields()
	if cfg.ResetCursorOnDisconnect {
		fields[model.ColExternalSyncCursor] = int64(0)
	}
	if err := s.profiles.UpdateProfile(ctx, playerID, fields); err != nil {
		return err
	}
	logger.Log.Info("Activity provider disconnected",
		zap.Uint("playerId", playerID),
		zap.Bool("cursorReset", cfg.ResetCursorOnDisconnect))
	return nil
}

func (s *StravaSyncService) Status(ctx context.Context, playerID uint) (*SyncStatus, error) {
	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}
	syncing, err := s.gate.Locked(ctx, playerID)
	if err != nil {
		return nil, err
	}
	remaining, err := s.gate.CooldownRemaining(ctx, playerID)
	if err != nil {
		return nil, err
	}

	state := StateDisconnected
	switch {
	case p.Connected() && syncing:
		state = StateSyncing
	case p.Connected():
		state = StateConnected
	default:
		if _, ok := s.connecting.Load(playerID); ok {
			state = StateConnecting
		}
	}

	return &SyncStatus{
		State:             state,
		Syncing:           syncing,
		CooldownRemaining: int64(math.Ceil(remaining.Seconds())),
		Cursor:            p.ExternalSyncCursor,
		TokenExpiresAt:    p.ExternalTokenExpiry,
	}, nil
}

// ExchangeToken 令牌端点透传
func (s *StravaSyncService) ExchangeToken(ctx context.Context, code, refreshToken string) (*stravaapi.RawResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "strava.token_exchange")
	raw, err := s.client.Exchange(ctx, code, refreshToken)
	tracing.EndSpan(span, err)
	return raw, err
}

// ensureAccessToken 令牌缺失或即将过期时刷新；刷新令牌失效则断开连接
func (s *StravaSyncService) ensureAccessToken(ctx context.Context, p *model.PlayerProfile, cfg config.StravaConfig) (string, error) {
	var access string
	if p.ExternalAccessToken != nil {
		plain, err := s.cipher.Open(*p.ExternalAccessToken)
		if err != nil {
			logger.Log.Warn("Stored access token unreadable, refreshing", zap.Uint("playerId", p.ID), zap.Error(err))
		} else {
			access = plain
		}
	}

	fresh := access != "" && p.ExternalTokenExpiry != nil &&
		time.Unix(*p.ExternalTokenExpiry, 0).After(s.now().Add(cfg.RefreshLeeway))
	if fresh {
		return access, nil
	}

	refresh, err := s.cipher.Open(*p.ExternalRefreshToken)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}

	tok, err := s.client.RefreshToken(ctx, refresh)
	if errors.Is(err, util.ErrTokenInvalid) {
		logger.Log.Warn("Refresh token rejected, disconnecting", zap.Uint("playerId", p.ID))
		if uerr := s.profiles.UpdateProfile(ctx, p.ID, clearedTokenFields()); uerr != nil {
			logger.Log.Error("Failed to clear rejected tokens", zap.Uint("playerId", p.ID), zap.Error(uerr))
		}
		return "", err
	}
	if err != nil {
		return "", err
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = refresh
	}
	if err := s.storeTokens(ctx, p.ID, tok); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (s *StravaSyncService) storeTokens(ctx context.Context, playerID uint, tok *stravaapi.TokenResponse) error {
	access, err := s.cipher.Seal(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := s.cipher.Seal(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	expiry := tok.ExpiresAt
	if expiry == 0 && tok.ExpiresIn > 0 {
		expiry = s.now().Add(time.Duration(tok.ExpiresIn) * time.Second).Unix()
	}

	fields := map[string]interface{}{
		model.ColExternalAccessToken:  access,
		model.ColExternalRefreshToken: refresh,
		model.ColExternalTokenExpiry:  nil,
	}
	if expiry > 0 {
		fields[model.ColExternalTokenExpiry] = expiry
	}
	return s.profiles.UpdateProfile(ctx, playerID, fields)
}

func clearedTokenFields() map[string]interface{} {
	return map[string]interface{}{
		model.ColExternalAccessToken:  nil,
		model.ColExternalRefreshToken: nil,
		model.ColExternalTokenExpiry:  nil,
	}
}

func syncOutcome(err error) string {
	var cooldown *util.CooldownError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &cooldown):
		return "cooldown"
	case errors.Is(err, util.ErrSyncInProgress):
		return "in_progress"
	case errors.Is(err, util.ErrSyncConflict):
		return "conflict"
	case errors.Is(err, util.ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, util.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, util.ErrProvider):
		return "provider_error"
	default:
		return "error"
	}
}
