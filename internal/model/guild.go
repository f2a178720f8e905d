package model

import "time"

type GuildRole string

const (
	GuildLeader  GuildRole = "leader"
	GuildOfficer GuildRole = "officer"
	GuildMember  GuildRole = "member"
)

func (r GuildRole) Valid() bool {
	switch r {
	case GuildLeader, GuildOfficer, GuildMember:
		return true
	}
	return false
}

const (
	ColGuildTotalXP     = "total_xp"
	ColGuildMemberCount = "member_count"
	ColGuildLeaderID    = "leader_id"
	ColMemberRole       = "role"
	ColContributionXP   = "contribution_xp"
)

// Guild 公会，总经验为全部成员历史贡献之和（最终一致）
// swagger:model Guild
type Guild struct {
	UUIDBase
	Name        string `gorm:"size:50;uniqueIndex;not null" json:"name"`
	Description string `gorm:"size:255" json:"description"`
	LeaderID    uint   `gorm:"not null;index" json:"leaderId"`
	TotalXP     int64  `gorm:"not null;default:0;index" json:"totalXp"`
	MemberCount int    `gorm:"not null;default:0" json:"memberCount"`
	MaxMembers  int    `gorm:"not null;default:6" json:"maxMembers"`
	IsPublic    bool   `gorm:"default:true" json:"isPublic"`
	InviteCode  string `gorm:"size:21;uniqueIndex" json:"inviteCode"`
}

func (Guild) TableName() string {
	return "guilds"
}

// GuildMembership 成员关系，一个玩家同时只能属于一个公会
// swagger:model GuildMembership
type GuildMembership struct {
	GuildID        string    `gorm:"primaryKey;type:varchar(36)" json:"guildId"`
	UserID         uint      `gorm:"primaryKey;uniqueIndex" json:"userId"`
	Role           GuildRole `gorm:"size:10;not null;default:'member'" json:"role"`
	ContributionXP int64     `gorm:"not null;default:0" json:"contributionXp"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joinedAt"`

	DisplayName  string `gorm:"-" json:"displayName,omitempty"`
	CurrentLevel int    `gorm:"-" json:"currentLevel,omitempty"`
}

func (GuildMembership) TableName() string {
	return "guild_members"
}
