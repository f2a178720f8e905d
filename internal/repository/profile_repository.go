package repository

import (
	"context"
	"errors"

	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"

	"gorm.io/gorm"
)

type ProfileRepository struct {
	DB *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{DB: db}
}

func (r *ProfileRepository) GetProfile(ctx context.Context, id uint) (*model.PlayerProfile, error) {
	var p model.PlayerProfile
	err := r.DB.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepository) CreateProfile(ctx context.Context, profile *model.PlayerProfile) error {
	return r.DB.WithContext(ctx).Create(profile).Error
}

// UpdateProfile 只写入给定的列，nil 写为 NULL；受影响行数为 0 不代表记录不存在
func (r *ProfileRepository) UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).
		Model(&model.PlayerProfile{}).
		Where("id = ?", id).
		Updates(fields).
		Error
}

// UpdateProfileIfCursor 以游标作比较条件的更新，updated_at 总会变化，影响行数为 0 即游标已被推进
func (r *ProfileRepository) UpdateProfileIfCursor(ctx context.Context, id uint, cursor int64, fields map[string]interface{}) (bool, error) {
	res := r.DB.WithContext(ctx).
		Model(&model.PlayerProfile{}).
		Where("id = ? AND "+model.ColExternalSyncCursor+" = ?", id, cursor).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ProfileRepository) GetProfiles(ctx context.Context, ids []uint) ([]model.PlayerProfile, error) {
	var profiles []model.PlayerProfile
	if len(ids) == 0 {
		return profiles, nil
	}
	err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&profiles).Error
	return profiles, err
}

func (r *ProfileRepository) ListTopProfiles(ctx context.Context, orderBy string, limit int) ([]model.PlayerProfile, error) {
	var profiles []model.PlayerProfile
	q := r.DB.WithContext(ctx)
	if orderBy == model.ColCurrentLevel {
		q = q.Order("current_level DESC")
	}
	err := q.Order("total_xp DESC").Order("id ASC").Limit(limit).Find(&profiles).Error
	return profiles, err
}
