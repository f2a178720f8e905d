package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"
	"habitquest_backend/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// GuildDetail 公会详情与按贡献排序的成员
type GuildDetail struct {
	Guild   *model.Guild            `json:"guild"`
	Members []model.GuildMembership `json:"members"`
}

// ReconcileReport 贡献之和与公会总经验的差异
type ReconcileReport struct {
	GuildID           string `json:"guildId"`
	GuildTotalXP      int64  `json:"guildTotalXp"`
	ContributionSum   int64  `json:"contributionSum"`
	Drift             int64  `json:"drift"`
	MemberCount       int    `json:"memberCount"`
	RecordedMembers   int    `json:"recordedMembers"`
	MemberCountDrifts bool   `json:"memberCountDrifts"`
}

type GuildService struct {
	guilds     GuildStore
	profiles   ProfileStore
	maxMembers int
}

func NewGuildService(guilds GuildStore, profiles ProfileStore, maxMembers int) *GuildService {
	if maxMembers <= 0 {
		maxMembers = 6
	}
	return &GuildService{guilds: guilds, profiles: profiles, maxMembers: maxMembers}
}

// Contribute 两次独立的原子自增，中间失败只记录日志，不回滚
func (s *GuildService) Contribute(ctx context.Context, guildID string, playerID uint, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := s.guilds.IncrementGuildXP(ctx, guildID, amount); err != nil {
		return fmt.Errorf("increment guild xp: %w", err)
	}
	if err := s.guilds.IncrementContribution(ctx, guildID, playerID, amount); err != nil {
		logger.Log.Warn("Guild total credited but member contribution was not",
			zap.String("guildId", guildID),
			zap.Uint("playerId", playerID),
			zap.Int64("amount", amount),
			zap.Error(err))
		return fmt.Errorf("increment member contribution: %w", err)
	}
	return nil
}

func (s *GuildService) CreateGuild(ctx context.Context, leaderID uint, name, description string, isPublic bool) (*model.Guild, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: guild name is required", util.ErrInvalidInput)
	}

	p, err := s.profiles.GetProfile(ctx, leaderID)
	if err != nil {
		return nil, err
	}
	if p.GuildID != nil {
		return nil, util.ErrAlreadyInGuild
	}

	code, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate invite code: %w", err)
	}

	guild := &model.Guild{
		Name:        name,
		Description: description,
		LeaderID:    leaderID,
		MemberCount: 1,
		MaxMembers:  s.maxMembers,
		IsPublic:    isPublic,
		InviteCode:  code,
	}
	leader := &model.GuildMembership{
		UserID: leaderID,
		Role:   model.GuildLeader,
	}
	if err := s.guilds.CreateGuild(ctx, guild, leader); err != nil {
		return nil, err
	}

	if err := s.profiles.UpdateProfile(ctx, leaderID, map[string]interface{}{
		model.ColGuildID: guild.ID,
	}); err != nil {
		logger.Log.Error("Failed to attach leader profile to guild",
			zap.String("guildId", guild.ID),
			zap.Uint("playerId", leaderID),
			zap.Error(err))
		return nil, err
	}

	logger.Log.Info("Guild created", zap.String("guildId", guild.ID), zap.Uint("leaderId", leaderID))
	return guild, nil
}

func (s *GuildService) JoinGuild(ctx context.Context, playerID uint, guildID string) (*model.Guild, error) {
	guild, err := s.guilds.GetGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !guild.IsPublic {
		return nil, fmt.Errorf("%w: guild is invite only", util.ErrPermissionDenied)
	}
	return s.join(ctx, playerID, guild)
}

func (s *GuildService) JoinByInviteCode(ctx context.Context, playerID uint, code string) (*model.Guild, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: invite code is required", util.ErrInvalidInput)
	}
	guild, err := s.guilds.FindGuildByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.join(ctx, playerID, guild)
}

// join 先条件占位，再写成员关系与档案；后续步骤失败时释放占位
func (s *GuildService) join(ctx context.Context, playerID uint, guild *model.Guild) (*model.Guild, error) {
	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.GuildID != nil {
		return nil, util.ErrAlreadyInGuild
	}

	ok, err := s.guilds.ReserveSlot(ctx, guild.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, util.ErrGuildFull
	}

	if err := s.guilds.AddMembership(ctx, &model.GuildMembership{
		GuildID: guild.ID,
		UserID:  playerID,
		Role:    model.GuildMember,
	}); err != nil {
		s.releaseSlot(ctx, guild.ID)
		return nil, err
	}

	if err := s.profiles.UpdateProfile(ctx, playerID, map[string]interface{}{
		model.ColGuildID: guild.ID,
	}); err != nil {
		if rmErr := s.guilds.RemoveMembership(ctx, guild.ID, playerID); rmErr != nil {
			logger.Log.Error("Failed to roll back membership", zap.String("guildId", guild.ID), zap.Error(rmErr))
		}
		s.releaseSlot(ctx, guild.ID)
		return nil, err
	}

	logger.Log.Info("Player joined guild", zap.String("guildId", guild.ID), zap.Uint("playerId", playerID))
	return s.guilds.GetGuild(ctx, guild.ID)
}

// LeaveGuild 已贡献的经验保留在公会总经验中
func (s *GuildService) LeaveGuild(ctx context.Context, playerID uint) error {
	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return err
	}
	if p.GuildID == nil {
		return util.ErrNotGuildMember
	}
	guildID := *p.GuildID

	m, err := s.guilds.GetMembership(ctx, guildID, playerID)
	if err != nil && !errors.Is(err, util.ErrNotGuildMember) {
		return err
	}
	if m != nil && m.Role == model.GuildLeader {
		guild, err := s.guilds.GetGuild(ctx, guildID)
		if err != nil {
			return err
		}
		if guild.MemberCount > 1 {
			return util.ErrLeaderMustDisband
		}
		return s.DisbandGuild(ctx, playerID)
	}

	return s.removeMember(ctx, guildID, playerID, m != nil)
}

// KickMember 会长可踢任何人，官员只能踢普通成员
func (s *GuildService) KickMember(ctx context.Context, actorID, targetID uint) error {
	guildID, actor, err := s.actorMembership(ctx, actorID)
	if err != nil {
		return err
	}
	if actorID == targetID {
		return fmt.Errorf("%w: use leave instead", util.ErrInvalidInput)
	}
	target, err := s.guilds.GetMembership(ctx, guildID, targetID)
	if err != nil {
		return err
	}

	switch actor.Role {
	case model.GuildLeader:
	case model.GuildOfficer:
		if target.Role != model.GuildMember {
			return util.ErrPermissionDenied
		}
	default:
		return util.ErrPermissionDenied
	}

	return s.removeMember(ctx, guildID, targetID, true)
}

// PromoteMember 仅会长；授予 leader 即转让会长
func (s *GuildService) PromoteMember(ctx context.Context, leaderID, targetID uint, role model.GuildRole) error {
	if !role.Valid() {
		return util.ErrInvalidRole
	}
	guildID, actor, err := s.actorMembership(ctx, leaderID)
	if err != nil {
		return err
	}
	if actor.Role != model.GuildLeader {
		return util.ErrPermissionDenied
	}
	if leaderID == targetID {
		return fmt.Errorf("%w: cannot change own role", util.ErrInvalidInput)
	}
	if _, err := s.guilds.GetMembership(ctx, guildID, targetID); err != nil {
		return err
	}

	if role == model.GuildLeader {
		if err := s.guilds.UpdateMembership(ctx, guildID, targetID, map[string]interface{}{
			model.ColMemberRole: model.GuildLeader,
		}); err != nil {
			return err
		}
		if err := s.guilds.UpdateMembership(ctx, guildID, leaderID, map[string]interface{}{
			model.ColMemberRole: model.GuildOfficer,
		}); err != nil {
			return err
		}
		return s.guilds.UpdateGuild(ctx, guildID, map[string]interface{}{
			model.ColGuildLeaderID: targetID,
		})
	}

	return s.guilds.UpdateMembership(ctx, guildID, targetID, map[string]interface{}{
		model.ColMemberRole: role,
	})
}

// DisbandGuild 清空所有成员的公会归属后删除公会
func (s *GuildService) DisbandGuild(ctx context.Context, leaderID uint) error {
	guildID, actor, err := s.actorMembership(ctx, leaderID)
	if err != nil {
		return err
	}
	if actor.Role != model.GuildLeader {
		return util.ErrPermissionDenied
	}

	members, err := s.guilds.ListMembers(ctx, guildID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := s.guilds.RemoveMembership(ctx, guildID, m.UserID); err != nil {
			logger.Log.Error("Failed to remove membership during disband",
				zap.String("guildId", guildID), zap.Uint("playerId", m.UserID), zap.Error(err))
		}
		if err := s.profiles.UpdateProfile(ctx, m.UserID, map[string]interface{}{
			model.ColGuildID: nil,
		}); err != nil {
			logger.Log.Error("Failed to detach profile during disband",
				zap.String("guildId", guildID), zap.Uint("playerId", m.UserID), zap.Error(err))
		}
	}

	if err := s.guilds.DeleteGuild(ctx, guildID); err != nil {
		return err
	}
	logger.Log.Info("Guild disbanded", zap.String("guildId", guildID), zap.Uint("leaderId", leaderID))
	return nil
}

func (s *GuildService) GetGuildDetail(ctx context.Context, guildID string) (*GuildDetail, error) {
	guild, err := s.guilds.GetGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	members, err := s.guilds.ListMembers(ctx, guildID)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	profiles, err := s.profiles.GetProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]model.PlayerProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	for i := range members {
		if p, ok := byID[members[i].UserID]; ok {
			members[i].DisplayName = p.DisplayName
			members[i].CurrentLevel = p.CurrentLevel
		}
	}

	return &GuildDetail{Guild: guild, Members: members}, nil
}

// Reconcile 只报告差异，不改写历史
func (s *GuildService) Reconcile(ctx context.Context, guildID string) (*ReconcileReport, error) {
	guild, err := s.guilds.GetGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	members, err := s.guilds.ListMembers(ctx, guildID)
	if err != nil {
		return nil, err
	}

	var sum int64
	for _, m := range members {
		sum += m.ContributionXP
	}

	report := &ReconcileReport{
		GuildID:           guildID,
		GuildTotalXP:      guild.TotalXP,
		ContributionSum:   sum,
		Drift:             guild.TotalXP - sum,
		MemberCount:       guild.MemberCount,
		RecordedMembers:   len(members),
		MemberCountDrifts: guild.MemberCount != len(members),
	}
	if report.Drift != 0 || report.MemberCountDrifts {
		logger.Log.Warn("Guild aggregate drift detected",
			zap.String("guildId", guildID),
			zap.Int64("drift", report.Drift),
			zap.Int("memberCount", guild.MemberCount),
			zap.Int("recordedMembers", len(members)))
	}
	return report, nil
}

// actorMembership 返回操作者所在公会与其成员关系
func (s *GuildService) actorMembership(ctx context.Context, playerID uint) (string, *model.GuildMembership, error) {
	p, err := s.profiles.GetProfile(ctx, playerID)
	if err != nil {
		return "", nil, err
	}
	if p.GuildID == nil {
		return "", nil, util.ErrNotGuildMember
	}
	m, err := s.guilds.GetMembership(ctx, *p.GuildID, playerID)
	if err != nil {
		return "", nil, err
	}
	return *p.GuildID, m, nil
}

func (s *GuildService) removeMember(ctx context.Context, guildID string, playerID uint, hasMembership bool) error {
	if hasMembership {
		if err := s.guilds.RemoveMembership(ctx, guildID, playerID); err != nil {
			return err
		}
		s.releaseSlot(ctx, guildID)
	}
	if err := s.profiles.UpdateProfile(ctx, playerID, map[string]interface{}{
		model.ColGuildID: nil,
	}); err != nil {
		logger.Log.Error("Failed to clear profile guild", zap.Uint("playerId", playerID), zap.Error(err))
		return err
	}
	logger.Log.Info("Player left guild", zap.String("guildId", guildID), zap.Uint("playerId", playerID))
	return nil
}

func (s *GuildService) releaseSlot(ctx context.Context, guildID string) {
	if err := s.guilds.ReleaseSlot(ctx, guildID); err != nil {
		logger.Log.Error("Failed to release guild slot", zap.String("guildId", guildID), zap.Error(err))
	}
}
