package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"habitquest_backend/internal/config"
	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"
	"habitquest_backend/pkg/logger"
	"habitquest_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// ContributionSink 每次成功入账后接收公会贡献
type ContributionSink interface {
	Contribute(ctx context.Context, guildID string, playerID uint, amount int64) error
}

// ProgressionState 玩家进度的只读快照，所有修改都必须经由 ProgressionService
type ProgressionState struct {
	PlayerID           uint          `json:"playerId"`
	DisplayName        string        `json:"displayName"`
	TotalXP            int64         `json:"totalXp"`
	CurrentLevel       int           `json:"currentLevel"`
	Progress           LevelProgress `json:"progress"`
	TodayStudyXP       int           `json:"todayStudyXp"`
	StudyDailyCap      int           `json:"studyDailyCap"`
	LastResetDate      string        `json:"lastResetDate"`
	StreakCount        int           `json:"streakCount"`
	StreakLastDate     *string       `json:"streakLastDate,omitempty"`
	Gold               int64         `json:"gold"`
	GuildID            *string       `json:"guildId,omitempty"`
	ExternalConnected  bool          `json:"externalConnected"`
	ExternalSyncCursor int64         `json:"externalSyncCursor"`
}

// XPResult 一次入账的结果
type XPResult struct {
	Amount        int64 `json:"amount"`
	NewTotalXP    int64 `json:"newTotalXp"`
	NewLevel      int   `json:"newLevel"`
	PreviousLevel int   `json:"previousLevel"`
	LeveledUp     bool  `json:"leveledUp"`
}

// ProgressionService 进度账本：经验、等级、金币的唯一修改入口
type ProgressionService struct {
	profiles ProfileStore
	logs     ActivityLogStore
	guilds   ContributionSink

	mu  sync.RWMutex
	cfg config.ProgressionConfig
	now func() time.Time

	// 同一进程内按玩家串行化读改写
	locks sync.Map
}

func NewProgressionService(
	profiles ProfileStore,
	logs ActivityLogStore,
	guilds ContributionSink,
	cfg config.ProgressionConfig,
) *ProgressionService {
	return &ProgressionService{
		profiles: profiles,
		logs:     logs,
		guilds:   guilds,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock 替换时钟，测试用
func (s *ProgressionService) WithClock(now func() time.Time) *ProgressionService {
	s.now = now
	return s
}

// UpdateConfig 配置热更新
func (s *ProgressionService) UpdateConfig(cfg config.ProgressionConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *ProgressionService) settings() config.ProgressionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *ProgressionService) lock(playerID uint) func() {
	m, _ := s.locks.LoadOrStore(playerID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Bootstrap 会话启动时调用：首次登录创建档案，并执行每日重置与连续天数判定
func (s *ProgressionService) Bootstrap(ctx context.Context, playerID uint, displayName string) (*ProgressionState, error) {
	defer s.lock(playerID)()

	cfg := s.settings()
	now := s.now()
	loc := cfg.Location()

	p, err := s.profiles.GetProfile(ctx, playerID)
	if errors.Is(err, util.ErrProfileNotFound) {
		p = &model.PlayerProfile{
			ID:           playerID,
			DisplayName:  displayName,
			CurrentLevel: 1,
		}
		if err := s.profiles.CreateProfile(ctx, p); err != nil {
			return nil, fmt.Errorf("create profile: %w", err)
		}
		logger.Log.Info("Player profile created", zap.Uint("playerId", playerID))
	} else if err != nil {
		return nil, err
	}

	fields := DailyRollover(p, CalendarDay(now, loc))
	streakFields, outcome := EvaluateStreak(p, now, loc)
	if fields == nil {
		fields = map[string]interface{}{}
	}
	for k, v := range streakFields {
		fields[k] = v
	}
	if displayName != "" && displayName != p.DisplayName {
		fields[model.ColDisplayName] = displayName
	}

	if len(fields) > 0 {
		if err := s.profiles.UpdateProfile(ctx, playerID, fields); err != nil {
			return nil, err
		}
		if p, err = s.profiles.GetProfile(ctx, playerID); err != nil {
			return nil, err
		}
	}

	if outcome == StreakExtended || outcome == StreakStarted || outcome == StreakReset {
		s.appendLog(ctx, &model.ActivityLog{
			PlayerID:    playerID,
			ActionKind:  model.ActionStreak,
			Description: fmt.Sprintf("Streak: %d day(s)", p.StreakCount),
			Metadata:    model.Metadata{"streak": p.StreakCount},
		})
	}

	return s.snapshot(p, cfg), nil
}

// State 返回当前快照，不触发每日判定
func (s *ProgressionService) State(ctx context.Context, playerID uint) (*ProgressionState, error) {
	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(p, s.settings()), nil
}

// AddXP amount <= 0 时不做任何修改
func (s *ProgressionService) AddXP(ctx context.Context, playerID uint, amount int64, source model.ActionKind, description string) (*XPResult, error) {
	defer s.lock(playerID)()

	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return unchanged(p), nil
	}
	return s.grant(ctx, p, amount, source, description, nil, nil)
}

// AddStudyXP 先做每日上限校验，通过后与经验一起写入今日学习经验
func (s *ProgressionService) AddStudyXP(ctx context.Context, playerID uint, amount int) (*XPResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: study xp must be positive", util.ErrInvalidInput)
	}
	defer s.lock(playerID)()

	cfg := s.settings()
	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}

	// 会话跨过零点时这里补做一次日重置，重置本身是幂等的
	today := CalendarDay(s.now(), cfg.Location())
	current := p.TodayStudyXP
	if p.LastResetDate != today {
		current = 0
	}

	if err := CheckStudyCap(current, amount, cfg.StudyDailyCap); err != nil {
		monitoring.DailyCapRejections.Inc()
		logger.Log.Debug("Study xp rejected by daily cap",
			zap.Uint("playerId", playerID),
			zap.Int("todayStudyXp", current),
			zap.Int("amount", amount))
		return nil, err
	}

	extra := map[string]interface{}{
		model.ColTodayStudyXP:  current + amount,
		model.ColLastResetDate: today,
	}
	return s.grant(ctx, p, int64(amount), model.ActionStudy, "Study session", extra, nil)
}

// AddStudyMinutes 按学习时长换算经验
func (s *ProgressionService) AddStudyMinutes(ctx context.Context, playerID uint, minutes int) (*XPResult, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive", util.ErrInvalidInput)
	}
	return s.AddStudyXP(ctx, playerID, minutes*s.settings().StudyXPPerMinute)
}

// ApplySync 同步引擎入口：经验与游标在同一次条件更新中写入。
// fromCursor 为本次同步开始时读到的游标，存储中的游标已变化时整次结果作废并返回 ErrSyncConflict。
func (s *ProgressionService) ApplySync(ctx context.Context, playerID uint, amount, fromCursor, cursor int64, description string) (*XPResult, error) {
	defer s.lock(playerID)()

	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.ExternalSyncCursor != fromCursor {
		return nil, util.ErrSyncConflict
	}

	newCursor := fromCursor
	if cursor > newCursor {
		newCursor = cursor
	}
	fields := map[string]interface{}{model.ColExternalSyncCursor: newCursor}

	if amount <= 0 {
		if newCursor != fromCursor {
			if err := s.persist(ctx, playerID, fields, &fromCursor); err != nil {
				return nil, err
			}
		}
		return unchanged(p), nil
	}

	return s.grant(ctx, p, amount, model.ActionStravaSync, description, fields, &fromCursor)
}

// UpdateGold 调整金币，结果不低于 0
func (s *ProgressionService) UpdateGold(ctx context.Context, playerID uint, delta int64, kind model.ActionKind, description string) (int64, error) {
	defer s.lock(playerID)()
	return s.updateGold(ctx, playerID, delta, kind, description)
}

// Purchase 余额不足时拒绝
func (s *ProgressionService) Purchase(ctx context.Context, playerID uint, item string, cost int64) (int64, error) {
	if cost <= 0 || item == "" {
		return 0, fmt.Errorf("%w: item and positive cost are required", util.ErrInvalidInput)
	}
	defer s.lock(playerID)()

	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return 0, err
	}
	if p.Gold < cost {
		return p.Gold, util.ErrInsufficientGold
	}
	return s.updateGold(ctx, playerID, -cost, model.ActionPurchase, "Purchased "+item)
}

// CorrectXP 管理员修正，允许经验回退，等级从 1 级重新计算
func (s *ProgressionService) CorrectXP(ctx context.Context, playerID uint, totalXP int64, reason string) (*XPResult, error) {
	if totalXP < 0 {
		return nil, fmt.Errorf("%w: total xp must not be negative", util.ErrInvalidInput)
	}
	defer s.lock(playerID)()

	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}

	newLevel := LevelForXP(totalXP, 1)
	if err := s.profiles.UpdateProfile(ctx, playerID, map[string]interface{}{
		model.ColTotalXP:      totalXP,
		model.ColCurrentLevel: newLevel,
	}); err != nil {
		return nil, err
	}

	s.appendLog(ctx, &model.ActivityLog{
		PlayerID:    playerID,
		ActionKind:  model.ActionXPGain,
		Description: "Administrative correction: " + reason,
		XPAmount:    totalXP - p.TotalXP,
		Metadata:    model.Metadata{"correction": true, "previousTotalXp": p.TotalXP},
	})

	logger.Log.Warn("Player xp corrected",
		zap.Uint("playerId", playerID),
		zap.Int64("from", p.TotalXP),
		zap.Int64("to", totalXP))

	return &XPResult{
		Amount:        totalXP - p.TotalXP,
		NewTotalXP:    totalXP,
		NewLevel:      newLevel,
		PreviousLevel: p.CurrentLevel,
		LeveledUp:     newLevel > p.CurrentLevel,
	}, nil
}

// ActivityLog 最近的活动日志，新的在前
func (s *ProgressionService) ActivityLog(ctx context.Context, playerID uint, limit int) ([]model.ActivityLog, error) {
	return s.logs.ListActivityLogs(ctx, playerID, limit)
}

// grant 调用方需持有玩家锁；expectCursor 非空时按游标条件写入
func (s *ProgressionService) grant(
	ctx context.Context,
	p *model.PlayerProfile,
	amount int64,
	source model.ActionKind,
	description string,
	extra map[string]interface{},
	expectCursor *int64,
) (*XPResult, error) {
	newTotal := p.TotalXP + amount
	newLevel := LevelForXP(newTotal, p.CurrentLevel)

	fields := map[string]interface{}{
		model.ColTotalXP:      newTotal,
		model.ColCurrentLevel: newLevel,
	}
	for k, v := range extra {
		fields[k] = v
	}
	if err := s.persist(ctx, p.ID, fields, expectCursor); err != nil {
		return nil, fmt.Errorf("persist xp grant: %w", err)
	}

	monitoring.XPGranted.WithLabelValues(string(source)).Add(float64(amount))

	s.appendLog(ctx, &model.ActivityLog{
		PlayerID:    p.ID,
		ActionKind:  source,
		Description: description,
		XPAmount:    amount,
		Metadata:    model.Metadata{"totalXp": newTotal},
	})

	leveledUp := newLevel > p.CurrentLevel
	if leveledUp {
		monitoring.LevelUps.Inc()
		s.appendLog(ctx, &model.ActivityLog{
			PlayerID:    p.ID,
			ActionKind:  model.ActionLevelUp,
			Description: fmt.Sprintf("Reached level %d", newLevel),
			Metadata:    model.Metadata{"level": newLevel, "previousLevel": p.CurrentLevel},
		})
	}

	if p.GuildID != nil && s.guilds != nil {
		if err := s.guilds.Contribute(ctx, *p.GuildID, p.ID, amount); err != nil {
			logger.Log.Error("Guild contribution failed",
				zap.Uint("playerId", p.ID),
				zap.String("guildId", *p.GuildID),
				zap.Int64("amount", amount),
				zap.Error(err))
		}
	}

	return &XPResult{
		Amount:        amount,
		NewTotalXP:    newTotal,
		NewLevel:      newLevel,
		PreviousLevel: p.CurrentLevel,
		LeveledUp:     leveledUp,
	}, nil
}

func (s *ProgressionService) persist(ctx context.Context, playerID uint, fields map[string]interface{}, expectCursor *int64) error {
	if expectCursor == nil {
		return s.profiles.UpdateProfile(ctx, playerID, fields)
	}
	ok, err := s.profiles.UpdateProfileIfCursor(ctx, playerID, *expectCursor, fields)
	if err != nil {
		return err
	}
	if !ok {
		return util.ErrSyncConflict
	}
	return nil
}

func (s *ProgressionService) updateGold(ctx context.Context, playerID uint, delta int64, kind model.ActionKind, description string) (int64, error) {
	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return 0, err
	}
	if delta == 0 {
		return p.Gold, nil
	}

	newGold := p.Gold + delta
	if newGold < 0 {
		newGold = 0
	}
	if err := s.profiles.UpdateProfile(ctx, playerID, map[string]interface{}{
		model.ColGold: newGold,
	}); err != nil {
		return 0, err
	}

	s.appendLog(ctx, &model.ActivityLog{
		PlayerID:    playerID,
		ActionKind:  kind,
		Description: description,
		GoldAmount:  newGold - p.Gold,
	})
	return newGold, nil
}

// appendLog 日志写入失败只记录，不回滚已完成的修改
func (s *ProgressionService) appendLog(ctx context.Context, entry *model.ActivityLog) {
	if err := s.logs.AppendActivityLog(ctx, entry); err != nil {
		logger.Log.Error("Failed to append activity log",
			zap.Uint("playerId", entry.PlayerID),
			zap.String("action", string(entry.ActionKind)),
			zap.Error(err))
	}
}

func (s *ProgressionService) snapshot(p *model.PlayerProfile, cfg config.ProgressionConfig) *ProgressionState {
	return &ProgressionState{
		PlayerID:           p.ID,
		DisplayName:        p.DisplayName,
		TotalXP:            p.TotalXP,
		CurrentLevel:       p.CurrentLevel,
		Progress:           ProgressWithinLevel(p.TotalXP, p.CurrentLevel),
		TodayStudyXP:       p.TodayStudyXP,
		StudyDailyCap:      cfg.StudyDailyCap,
		LastResetDate:      p.LastResetDate,
		StreakCount:        p.StreakCount,
		StreakLastDate:     p.StreakLastDate,
		Gold:               p.Gold,
		GuildID:            p.GuildID,
		ExternalConnected:  p.Connected(),
		ExternalSyncCursor: p.ExternalSyncCursor,
	}
}

func unchanged(p *model.PlayerProfile) *XPResult {
	return &XPResult{
		NewTotalXP:    p.TotalXP,
		NewLevel:      p.CurrentLevel,
		PreviousLevel: p.CurrentLevel,
	}
}
