package repository

import (
	"context"
	"errors"

	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"

	"gorm.io/gorm"
)

type GuildRepository struct {
	DB *gorm.DB
}

func NewGuildRepository(db *gorm.DB) *GuildRepository {
	return &GuildRepository{DB: db}
}

// CreateGuild 公会与会长成员关系在同一事务中写入
func (r *GuildRepository) CreateGuild(ctx context.Context, guild *model.Guild, leader *model.GuildMembership) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.GuildMembership{}).Where("user_id = ?", leader.UserID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return util.ErrAlreadyInGuild
		}
		if err := tx.Create(guild).Error; err != nil {
			return err
		}
		leader.GuildID = guild.ID
		return tx.Create(leader).Error
	})
}

func (r *GuildRepository) GetGuild(ctx context.Context, id string) (*model.Guild, error) {
	var g model.Guild
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrGuildNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GuildRepository) FindGuildByInviteCode(ctx context.Context, code string) (*model.Guild, error) {
	var g model.Guild
	err := r.DB.WithContext(ctx).Where("invite_code = ?", code).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrGuildNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *GuildRepository) UpdateGuild(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.DB.WithContext(ctx).Model(&model.Guild{}).Where("id = ?", id).Updates(fields).Error
}

func (r *GuildRepository) DeleteGuild(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Where("id = ?", id).Delete(&model.Guild{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrGuildNotFound
	}
	return nil
}

func (r *GuildRepository) TopGuilds(ctx context.Context, limit int) ([]model.Guild, error) {
	var guilds []model.Guild
	err := r.DB.WithContext(ctx).
		Order("total_xp DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&guilds).Error
	return guilds, err
}

func (r *GuildRepository) IncrementGuildXP(ctx context.Context, id string, amount int64) error {
	res := r.DB.WithContext(ctx).
		Model(&model.Guild{}).
		Where("id = ?", id).
		Update(model.ColGuildTotalXP, gorm.Expr("total_xp + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrGuildNotFound
	}
	return nil
}

// ReserveSlot 条件自增，满员时不修改
func (r *GuildRepository) ReserveSlot(ctx context.Context, id string) (bool, error) {
	res := r.DB.WithContext(ctx).
		Model(&model.Guild{}).
		Where("id = ? AND member_count < max_members", id).
		Update(model.ColGuildMemberCount, gorm.Expr("member_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := r.GetGuild(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *GuildRepository) ReleaseSlot(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).
		Model(&model.Guild{}).
		Where("id = ? AND member_count > 0", id).
		Update(model.ColGuildMemberCount, gorm.Expr("member_count - 1")).
		Error
}

func (r *GuildRepository) AddMembership(ctx context.Context, membership *model.GuildMembership) error {
	err := r.DB.WithContext(ctx).Create(membership).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return util.ErrAlreadyInGuild
	}
	return err
}

func (r *GuildRepository) GetMembership(ctx context.Context, guildID string, userID uint) (*model.GuildMembership, error) {
	var m model.GuildMembership
	err := r.DB.WithContext(ctx).Where("guild_id = ? AND user_id = ?", guildID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrNotGuildMember
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *GuildRepository) UpdateMembership(ctx context.Context, guildID string, userID uint, fields map[string]interface{}) error {
	res := r.DB.WithContext(ctx).
		Model(&model.GuildMembership{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Updates(fields)
	return res.Error
}

func (r *GuildRepository) IncrementContribution(ctx context.Context, guildID string, userID uint, amount int64) error {
	res := r.DB.WithContext(ctx).
		Model(&model.GuildMembership{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Update(model.ColContributionXP, gorm.Expr("contribution_xp + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrNotGuildMember
	}
	return nil
}

func (r *GuildRepository) RemoveMembership(ctx context.Context, guildID string, userID uint) error {
	res := r.DB.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Delete(&model.GuildMembership{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return util.ErrNotGuildMember
	}
	return nil
}

func (r *GuildRepository) ListMembers(ctx context.Context, guildID string) ([]model.GuildMembership, error) {
	var members []model.GuildMembership
	err := r.DB.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("contribution_xp DESC").
		Order("user_id ASC").
		Find(&members).Error
	return members, err
}
