package repository

import (
	"context"

	"habitquest_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MissionRepository struct {
	DB *gorm.DB
}

func NewMissionRepository(db *gorm.DB) *MissionRepository {
	return &MissionRepository{DB: db}
}

// ClaimMission 依赖唯一索引，重复插入不报错且影响行数为 0
func (r *MissionRepository) ClaimMission(ctx context.Context, claim *model.MissionClaim) (bool, error) {
	res := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(claim)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *MissionRepository) ListMissionClaims(ctx context.Context, playerID uint, day string) ([]model.MissionClaim, error) {
	var claims []model.MissionClaim
	err := r.DB.WithContext(ctx).
		Where("player_id = ? AND day = ?", playerID, day).
		Order("mission_id ASC").
		Find(&claims).Error
	return claims, err
}
