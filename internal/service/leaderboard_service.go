package service

import (
	"context"
	"fmt"
	"time"

	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"
	"habitquest_backend/pkg/logger"

	"go.uber.org/zap"
)

type LeaderboardFilter string

const (
	FilterAllTime LeaderboardFilter = "all_time"
	FilterWeekly  LeaderboardFilter = "weekly"
	FilterByLevel LeaderboardFilter = "by_level"
)

func ParseLeaderboardFilter(s string) (LeaderboardFilter, error) {
	switch LeaderboardFilter(s) {
	case "":
		return FilterAllTime, nil
	case FilterAllTime, FilterWeekly, FilterByLevel:
		return LeaderboardFilter(s), nil
	}
	return "", fmt.Errorf("%w: unknown leaderboard filter %q", util.ErrInvalidInput, s)
}

type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	PlayerID     uint   `json:"playerId"`
	DisplayName  string `json:"displayName"`
	TotalXP      int64  `json:"totalXp"`
	CurrentLevel int    `json:"currentLevel"`
	// WeeklyXP 仅 weekly 榜单有值
	WeeklyXP int64   `json:"weeklyXp,omitempty"`
	GuildID  *string `json:"guildId,omitempty"`
}

type GuildRankEntry struct {
	Rank        int    `json:"rank"`
	GuildID     string `json:"guildId"`
	Name        string `json:"name"`
	TotalXP     int64  `json:"totalXp"`
	MemberCount int    `json:"memberCount"`
	MaxMembers  int    `json:"maxMembers"`
}

// LeaderboardService 只读排行榜，cache 为空时直接查询
type LeaderboardService struct {
	profiles ProfileStore
	logs     ActivityLogStore
	guilds   GuildStore
	cache    Cache
	ttl      time.Duration
	now      func() time.Time
}

func NewLeaderboardService(profiles ProfileStore, logs ActivityLogStore, guilds GuildStore, cache Cache, ttl time.Duration) *LeaderboardService {
	return &LeaderboardService{
		profiles: profiles,
		logs:     logs,
		guilds:   guilds,
		cache:    cache,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *LeaderboardService) WithClock(now func() time.Time) *LeaderboardService {
	s.now = now
	return s
}

func (s *LeaderboardService) Players(ctx context.Context, filter LeaderboardFilter, limit int) ([]LeaderboardEntry, error) {
	key := fmt.Sprintf("leaderboard:players:%s:%d", filter, limit)
	var entries []LeaderboardEntry
	if s.cached(ctx, key, &entries) {
		return entries, nil
	}

	var err error
	switch filter {
	case FilterWeekly:
		entries, err = s.weekly(ctx, limit)
	case FilterByLevel:
		entries, err = s.ranked(ctx, model.ColCurrentLevel, limit)
	default:
		entries, err = s.ranked(ctx, model.ColTotalXP, limit)
	}
	if err != nil {
		return nil, err
	}

	s.store(ctx, key, entries)
	return entries, nil
}

func (s *LeaderboardService) Guilds(ctx context.Context, limit int) ([]GuildRankEntry, error) {
	key := fmt.Sprintf("leaderboard:guilds:%d", limit)
	var entries []GuildRankEntry
	if s.cached(ctx, key, &entries) {
		return entries, nil
	}

	guilds, err := s.guilds.TopGuilds(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries = make([]GuildRankEntry, 0, len(guilds))
	for i, g := range guilds {
		entries = append(entries, GuildRankEntry{
			Rank:        i + 1,
			GuildID:     g.ID,
			Name:        g.Name,
			TotalXP:     g.TotalXP,
			MemberCount: g.MemberCount,
			MaxMembers:  g.MaxMembers,
		})
	}

	s.store(ctx, key, entries)
	return entries, nil
}

func (s *LeaderboardService) ranked(ctx context.Context, orderBy string, limit int) ([]LeaderboardEntry, error) {
	profiles, err := s.profiles.ListTopProfiles(ctx, orderBy, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(profiles))
	for i, p := range profiles {
		entries = append(entries, entryFor(i+1, p))
	}
	return entries, nil
}

// weekly 汇总最近 7 天活动日志中的经验
func (s *LeaderboardService) weekly(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	totals, err := s.logs.SumXPSince(ctx, s.now().AddDate(0, 0, -7), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(totals))
	for _, t := range totals {
		ids = append(ids, t.PlayerID)
	}
	profiles, err := s.profiles.GetProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]model.PlayerProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	entries := make([]LeaderboardEntry, 0, len(totals))
	for _, t := range totals {
		p, ok := byID[t.PlayerID]
		if !ok {
			continue
		}
		e := entryFor(len(entries)+1, p)
		e.WeeklyXP = t.XP
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *LeaderboardService) cached(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil || s.ttl <= 0 {
		return false
	}
	ok, err := s.cache.GetJSON(ctx, key, dest)
	if err != nil {
		logger.Log.Warn("Leaderboard cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (s *LeaderboardService) store(ctx context.Context, key string, value interface{}) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	if err := s.cache.SetJSON(ctx, key, value, s.ttl); err != nil {
		logger.Log.Warn("Leaderboard cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func entryFor(rank int, p model.PlayerProfile) LeaderboardEntry {
	return LeaderboardEntry{
		Rank:         rank,
		PlayerID:     p.ID,
		DisplayName:  p.DisplayName,
		TotalXP:      p.TotalXP,
		CurrentLevel: p.CurrentLevel,
		GuildID:      p.GuildID,
	}
}
