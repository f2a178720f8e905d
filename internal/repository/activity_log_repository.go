package repository

import (
	"context"
	"time"

	"habitquest_backend/internal/model"

	"gorm.io/gorm"
)

type ActivityLogRepository struct {
	DB *gorm.DB
}

func NewActivityLogRepository(db *gorm.DB) *ActivityLogRepository {
	return &ActivityLogRepository{DB: db}
}

func (r *ActivityLogRepository) AppendActivityLog(ctx context.Context, entry *model.ActivityLog) error {
	return r.DB.WithContext(ctx).Create(entry).Error
}

// ListActivityLogs 新的在前
func (r *ActivityLogRepository) ListActivityLogs(ctx context.Context, playerID uint, limit int) ([]model.ActivityLog, error) {
	var logs []model.ActivityLog
	err := r.DB.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// SumXPSince 周榜：level_up 条目不带经验，排除在外
func (r *ActivityLogRepository) SumXPSince(ctx context.Context, since time.Time, limit int) ([]model.PlayerXPTotal, error) {
	var totals []model.PlayerXPTotal
	err := r.DB.WithContext(ctx).
		Model(&model.ActivityLog{}).
		Select("player_id, SUM(xp_amount) AS xp").
		Where("created_at >= ? AND action_kind <> ?", since, model.ActionLevelUp).
		Group("player_id").
		Having("SUM(xp_amount) > 0").
		Order("xp DESC").
		Order("player_id ASC").
		Limit(limit).
		Scan(&totals).Error
	return totals, err
}
