package model

// MissionClaim 任务完成记录，唯一索引保证同一任务每天只领取一次奖励
// swagger:model MissionClaim
type MissionClaim struct {
	UUIDBase
	PlayerID   uint   `gorm:"not null;uniqueIndex:idx_mission_claim_day" json:"playerId"`
	MissionID  string `gorm:"size:64;not null;uniqueIndex:idx_mission_claim_day" json:"missionId"`
	Day        string `gorm:"size:10;not null;uniqueIndex:idx_mission_claim_day" json:"day"`
	XPReward   int64  `gorm:"not null;default:0" json:"xpReward"`
	GoldReward int64  `gorm:"not null;default:0" json:"goldReward"`
}

func (MissionClaim) TableName() string {
	return "mission_claims"
}
