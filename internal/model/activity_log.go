package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type ActionKind string

const (
	ActionXPGain     ActionKind = "xp_gain"
	ActionLevelUp    ActionKind = "level_up"
	ActionStudy      ActionKind = "study"
	ActionStravaSync ActionKind = "strava_sync"
	ActionMission    ActionKind = "mission"
	ActionPurchase   ActionKind = "purchase"
	ActionStreak     ActionKind = "streak"
)

// Metadata 以 JSON 存储的附加信息
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// ActivityLog 只追加的活动日志
// swagger:model ActivityLog
type ActivityLog struct {
	UUIDBase
	PlayerID    uint       `gorm:"index;not null" json:"playerId"`
	ActionKind  ActionKind `gorm:"size:20;index;not null" json:"actionKind"`
	Description string     `gorm:"size:255" json:"description"`
	XPAmount    int64      `gorm:"not null;default:0" json:"xpAmount"`
	GoldAmount  int64      `gorm:"not null;default:0" json:"goldAmount"`
	Metadata    Metadata   `gorm:"type:json" json:"metadata"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}

// PlayerXPTotal 时间窗口内的经验汇总，用于周榜
type PlayerXPTotal struct {
	PlayerID uint  `json:"playerId"`
	XP       int64 `json:"xp"`
}
