package service

import (
	"context"
	"time"

	"habitquest_backend/internal/model"
)

// 以下接口即进度引擎所依赖的持久化契约，
// 每个调用都可能独立失败，多步操作之间不假设跨实体事务。

type ProfileStore interface {
	GetProfile(ctx context.Context, id uint) (*model.PlayerProfile, error)
	CreateProfile(ctx context.Context, profile *model.PlayerProfile) error
	// UpdateProfile 合并语义，只写入给定的列
	UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) error
	// UpdateProfileIfCursor 仅当同步游标仍为 cursor 时写入，返回是否写入
	UpdateProfileIfCursor(ctx context.Context, id uint, cursor int64, fields map[string]interface{}) (bool, error)
	GetProfiles(ctx context.Context, ids []uint) ([]model.PlayerProfile, error)
	ListTopProfiles(ctx context.Context, orderBy string, limit int) ([]model.PlayerProfile, error)
}

type ActivityLogStore interface {
	AppendActivityLog(ctx context.Context, entry *model.ActivityLog) error
	ListActivityLogs(ctx context.Context, playerID uint, limit int) ([]model.ActivityLog, error)
	SumXPSince(ctx context.Context, since time.Time, limit int) ([]model.PlayerXPTotal, error)
}

type GuildStore interface {
	// CreateGuild 同时写入公会与会长成员关系
	CreateGuild(ctx context.Context, guild *model.Guild, leader *model.GuildMembership) error
	GetGuild(ctx context.Context, id string) (*model.Guild, error)
	FindGuildByInviteCode(ctx context.Context, code string) (*model.Guild, error)
	UpdateGuild(ctx context.Context, id string, fields map[string]interface{}) error
	DeleteGuild(ctx context.Context, id string) error
	TopGuilds(ctx context.Context, limit int) ([]model.Guild, error)

	IncrementGuildXP(ctx context.Context, id string, amount int64) error
	// ReserveSlot 仅当 member_count < max_members 时加一
	ReserveSlot(ctx context.Context, id string) (bool, error)
	ReleaseSlot(ctx context.Context, id string) error

	AddMembership(ctx context.Context, membership *model.GuildMembership) error
	GetMembership(ctx context.Context, guildID string, userID uint) (*model.GuildMembership, error)
	UpdateMembership(ctx context.Context, guildID string, userID uint, fields map[string]interface{}) error
	IncrementContribution(ctx context.Context, guildID string, userID uint, amount int64) error
	RemoveMembership(ctx context.Context, guildID string, userID uint) error
	ListMembers(ctx context.Context, guildID string) ([]model.GuildMembership, error)
}

type MissionStore interface {
	// ClaimMission 同一玩家同一任务每天只能领取一次，重复领取返回 false
	ClaimMission(ctx context.Context, claim *model.MissionClaim) (bool, error)
	ListMissionClaims(ctx context.Context, playerID uint, day string) ([]model.MissionClaim, error)
}

// SyncGate 每个玩家的同步标志与冷却窗口
type SyncGate interface {
	// TryLock 成功时返回持有者令牌，Unlock 只释放令牌匹配的标志
	TryLock(ctx context.Context, playerID uint, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, playerID uint, token string) error
	Locked(ctx context.Context, playerID uint) (bool, error)
	StartCooldown(ctx context.Context, playerID uint, d time.Duration) error
	CooldownRemaining(ctx context.Context, playerID uint) (time.Duration, error)
}

// Cache 排行榜缓存，可为空
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}
