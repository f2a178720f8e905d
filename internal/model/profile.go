package model

import "time"

// 部分更新使用的列名
const (
	ColTotalXP              = "total_xp"
	ColCurrentLevel         = "current_level"
	ColTodayStudyXP         = "today_study_xp"
	ColLastResetDate        = "last_reset_date"
	ColStreakCount          = "streak_count"
	ColStreakLastDate       = "streak_last_date"
	ColGold                 = "gold"
	ColExternalSyncCursor   = "external_sync_cursor"
	ColExternalAccessToken  = "external_access_token"
	ColExternalRefreshToken = "external_refresh_token"
	ColExternalTokenExpiry  = "external_token_expiry"
	ColGuildID              = "guild_id"
	ColDisplayName          = "display_name"
)

// PlayerProfile 每个玩家一条，只能经由进度账本修改
// swagger:model PlayerProfile
type PlayerProfile struct {
	ID           uint   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	DisplayName  string `gorm:"size:100" json:"displayName"`
	TotalXP      int64  `gorm:"not null;default:0;index" json:"totalXp"`
	CurrentLevel int    `gorm:"not null;default:1;index" json:"currentLevel"`

	TodayStudyXP  int    `gorm:"not null;default:0" json:"todayStudyXp"`
	LastResetDate string `gorm:"size:10" json:"lastResetDate"`

	StreakCount    int     `gorm:"not null;default:0" json:"streakCount"`
	StreakLastDate *string `gorm:"size:10" json:"streakLastDate,omitempty"`

	Gold int64 `gorm:"not null;default:0" json:"gold"`

	// ExternalSyncCursor 下一次拉取的开区间下界（Unix 秒）
	ExternalSyncCursor   int64   `gorm:"not null;default:0" json:"externalSyncCursor"`
	ExternalAccessToken  *string `gorm:"size:512" json:"-"`
	ExternalRefreshToken *string `gorm:"size:512" json:"-"`
	ExternalTokenExpiry  *int64  `json:"-"`

	GuildID *string `gorm:"type:varchar(36);index" json:"guildId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (PlayerProfile) TableName() string {
	return "player_profiles"
}

// Connected 是否持有外部服务的刷新令牌
func (p *PlayerProfile) Connected() bool {
	return p.ExternalRefreshToken != nil && *p.ExternalRefreshToken != ""
}
