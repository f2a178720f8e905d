// Package memory 提供持久化契约的进程内实现，用于测试与本地调试。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"
)

type memberKey struct {
	guildID string
	userID  uint
}

type claimKey struct {
	playerID  uint
	missionID string
	day       string
}

// Store 实现 ProfileStore、ActivityLogStore、GuildStore 与 MissionStore
type Store struct {
	mu       sync.RWMutex
	profiles map[uint]*model.PlayerProfile
	logs     []model.ActivityLog
	guilds   map[string]*model.Guild
	members  map[memberKey]*model.GuildMembership
	claims   map[claimKey]model.MissionClaim
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		profiles: make(map[uint]*model.PlayerProfile),
		guilds:   make(map[string]*model.Guild),
		members:  make(map[memberKey]*model.GuildMembership),
		claims:   make(map[claimKey]model.MissionClaim),
		now:      time.Now,
	}
}

func (s *Store) GetProfile(_ context.Context, id uint) (*model.PlayerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, util.ErrProfileNotFound
	}
	return cloneProfile(p), nil
}

func (s *Store) CreateProfile(_ context.Context, profile *model.PlayerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; ok {
		return fmt.Errorf("profile %d already exists", profile.ID)
	}
	now := s.now()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	s.profiles[profile.ID] = cloneProfile(profile)
	return nil
}

func (s *Store) UpdateProfile(_ context.Context, id uint, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return util.ErrProfileNotFound
	}
	return s.updateProfileLocked(p, fields)
}

func (s *Store) UpdateProfileIfCursor(_ context.Context, id uint, cursor int64, fields map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok || p.ExternalSyncCursor != cursor {
		return false, nil
	}
	if err := s.updateProfileLocked(p, fields); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) updateProfileLocked(p *model.PlayerProfile, fields map[string]interface{}) error {
	updated := cloneProfile(p)
	for col, v := range fields {
		if err := applyProfileField(updated, col, v); err != nil {
			return err
		}
	}
	updated.UpdatedAt = s.now()
	s.profiles[p.ID] = updated
	return nil
}

func (s *Store) GetProfiles(_ context.Context, ids []uint) ([]model.PlayerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PlayerProfile, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, *cloneProfile(p))
		}
	}
	return out, nil
}

func (s *Store) ListTopProfiles(_ context.Context, orderBy string, limit int) ([]model.PlayerProfile, error) {
	s.mu.RLock()
	out := make([]model.PlayerProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, *cloneProfile(p))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if orderBy == model.ColCurrentLevel && out[i].CurrentLevel != out[j].CurrentLevel {
			return out[i].CurrentLevel > out[j].CurrentLevel
		}
		if out[i].TotalXP != out[j].TotalXP {
			return out[i].TotalXP > out[j].TotalXP
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendActivityLog(_ context.Context, entry *model.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = model.GenerateUUID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.UpdatedAt = entry.CreatedAt
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *Store) ListActivityLogs(_ context.Context, playerID uint, limit int) ([]model.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ActivityLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].PlayerID != playerID {
			continue
		}
		out = append(out, s.logs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) SumXPSince(_ context.Context, since time.Time, limit int) ([]model.PlayerXPTotal, error) {
	s.mu.RLock()
	totals := make(map[uint]int64)
	for _, l := range s.logs {
		if l.CreatedAt.Before(since) || l.ActionKind == model.ActionLevelUp {
			continue
		}
		totals[l.PlayerID] += l.XPAmount
	}
	s.mu.RUnlock()

	out := make([]model.PlayerXPTotal, 0, len(totals))
	for id, xp := range totals {
		if xp > 0 {
			out = append(out, model.PlayerXPTotal{PlayerID: id, XP: xp})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XP != out[j].XP {
			return out[i].XP > out[j].XP
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimMission(_ context.Context, claim *model.MissionClaim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := claimKey{playerID: claim.PlayerID, missionID: claim.MissionID, day: claim.Day}
	if _, ok := s.claims[key]; ok {
		return false, nil
	}
	if claim.ID == "" {
		claim.ID = model.GenerateUUID()
	}
	claim.CreatedAt = s.now()
	claim.UpdatedAt = claim.CreatedAt
	s.claims[key] = *claim
	return true, nil
}

func (s *Store) ListMissionClaims(_ context.Context, playerID uint, day string) ([]model.MissionClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.MissionClaim
	for k, c := range s.claims {
		if k.playerID == playerID && k.day == day {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MissionID < out[j].MissionID })
	return out, nil
}

func (s *Store) CreateGuild(_ context.Context, guild *model.Guild, leader *model.GuildMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.guilds {
		if g.Name == guild.Name {
			return fmt.Errorf("guild name %q already taken", guild.Name)
		}
	}
	if guild.ID == "" {
		guild.ID = model.GenerateUUID()
	}
	if _, ok := s.memberOf(leader.UserID); ok {
		return util.ErrAlreadyInGuild
	}
	now := s.now()
	guild.CreatedAt, guild.UpdatedAt = now, now
	g := *guild
	s.guilds[g.ID] = &g

	leader.GuildID = g.ID
	leader.JoinedAt = now
	m := *leader
	s.members[memberKey{g.ID, m.UserID}] = &m
	return nil
}

func (s *Store) GetGuild(_ context.Context, id string) (*model.Guild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[id]
	if !ok {
		return nil, util.ErrGuildNotFound
	}
	out := *g
	return &out, nil
}

func (s *Store) FindGuildByInviteCode(_ context.Context, code string) (*model.Guild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.guilds {
		if g.InviteCode == code {
			out := *g
			return &out, nil
		}
	}
	return nil, util.ErrGuildNotFound
}

func (s *Store) UpdateGuild(_ context.Context, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[id]
	if !ok {
		return util.ErrGuildNotFound
	}
	for col, v := range fields {
		switch col {
		case model.ColGuildTotalXP:
			g.TotalXP = toInt64(v)
		case model.ColGuildMemberCount:
			g.MemberCount = int(toInt64(v))
		case model.ColGuildLeaderID:
			g.LeaderID = uint(toInt64(v))
		case "name":
			g.Name = v.(string)
		case "description":
			g.Description = v.(string)
		case "is_public":
			g.IsPublic = v.(bool)
		default:
			return fmt.Errorf("unknown guild column %q", col)
		}
	}
	g.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteGuild(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guilds[id]; !ok {
		return util.ErrGuildNotFound
	}
	delete(s.guilds, id)
	return nil
}

func (s *Store) TopGuilds(_ context.Context, limit int) ([]model.Guild, error) {
	s.mu.RLock()
	out := make([]model.Guild, 0, len(s.guilds))
	for _, g := range s.guilds {
		out = append(out, *g)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalXP != out[j].TotalXP {
			return out[i].TotalXP > out[j].TotalXP
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) IncrementGuildXP(_ context.Context, id string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[id]
	if !ok {
		return util.ErrGuildNotFound
	}
	g.TotalXP += amount
	return nil
}

func (s *Store) ReserveSlot(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[id]
	if !ok {
		return false, util.ErrGuildNotFound
	}
	if g.MemberCount >= g.MaxMembers {
		return false, nil
	}
	g.MemberCount++
	return true, nil
}

func (s *Store) ReleaseSlot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[id]
	if !ok {
		return util.ErrGuildNotFound
	}
	if g.MemberCount > 0 {
		g.MemberCount--
	}
	return nil
}

func (s *Store) AddMembership(_ context.Context, membership *model.GuildMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberOf(membership.UserID); ok {
		return util.ErrAlreadyInGuild
	}
	membership.JoinedAt = s.now()
	m := *membership
	s.members[memberKey{m.GuildID, m.UserID}] = &m
	return nil
}

func (s *Store) GetMembership(_ context.Context, guildID string, userID uint) (*model.GuildMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberKey{guildID, userID}]
	if !ok {
		return nil, util.ErrNotGuildMember
	}
	out := *m
	return &out, nil
}

func (s *Store) UpdateMembership(_ context.Context, guildID string, userID uint, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberKey{guildID, userID}]
	if !ok {
		return util.ErrNotGuildMember
	}
	for col, v := range fields {
		switch col {
		case model.ColMemberRole:
			m.Role = v.(model.GuildRole)
		case model.ColContributionXP:
			m.ContributionXP = toInt64(v)
		default:
			return fmt.Errorf("unknown membership column %q", col)
		}
	}
	return nil
}

func (s *Store) IncrementContribution(_ context.Context, guildID string, userID uint, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberKey{guildID, userID}]
	if !ok {
		return util.ErrNotGuildMember
	}
	m.ContributionXP += amount
	return nil
}

func (s *Store) RemoveMembership(_ context.Context, guildID string, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{guildID, userID}
	if _, ok := s.members[key]; !ok {
		return util.ErrNotGuildMember
	}
	delete(s.members, key)
	return nil
}

func (s *Store) ListMembers(_ context.Context, guildID string) ([]model.GuildMembership, error) {
	s.mu.RLock()
	var out []model.GuildMembership
	for k, m := range s.members {
		if k.guildID == guildID {
			out = append(out, *m)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ContributionXP != out[j].ContributionXP {
			return out[i].ContributionXP > out[j].ContributionXP
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// memberOf 调用方需持有锁
func (s *Store) memberOf(userID uint) (*model.GuildMembership, bool) {
	for k, m := range s.members {
		if k.userID == userID {
			return m, true
		}
	}
	return nil, false
}

func cloneProfile(p *model.PlayerProfile) *model.PlayerProfile {
	out := *p
	if p.StreakLastDate != nil {
		v := *p.StreakLastDate
		out.StreakLastDate = &v
	}
	if p.ExternalAccessToken != nil {
		v := *p.ExternalAccessToken
		out.ExternalAccessToken = &v
	}
	if p.ExternalRefreshToken != nil {
		v := *p.ExternalRefreshToken
		out.ExternalRefreshToken = &v
	}
	if p.ExternalTokenExpiry != nil {
		v := *p.ExternalTokenExpiry
		out.ExternalTokenExpiry = &v
	}
	if p.GuildID != nil {
		v := *p.GuildID
		out.GuildID = &v
	}
	return &out
}

func applyProfileField(p *model.PlayerProfile, col string, v interface{}) error {
	switch col {
	case model.ColTotalXP:
		p.TotalXP = toInt64(v)
	case model.ColCurrentLevel:
		p.CurrentLevel = int(toInt64(v))
	case model.ColTodayStudyXP:
		p.TodayStudyXP = int(toInt64(v))
	case model.ColLastResetDate:
		p.LastResetDate = v.(string)
	case model.ColStreakCount:
		p.StreakCount = int(toInt64(v))
	case model.ColStreakLastDate:
		p.StreakLastDate = toStringPtr(v)
	case model.ColGold:
		p.Gold = toInt64(v)
	case model.ColExternalSyncCursor:
		p.ExternalSyncCursor = toInt64(v)
	case model.ColExternalAccessToken:
		p.ExternalAccessToken = toStringPtr(v)
	case model.ColExternalRefreshToken:
		p.ExternalRefreshToken = toStringPtr(v)
	case model.ColExternalTokenExpiry:
		if v == nil {
			p.ExternalTokenExpiry = nil
		} else {
			n := toInt64(v)
			p.ExternalTokenExpiry = &n
		}
	case model.ColGuildID:
		p.GuildID = toStringPtr(v)
	case model.ColDisplayName:
		p.DisplayName = v.(string)
	default:
		return fmt.Errorf("unknown profile column %q", col)
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case *int64:
		if n == nil {
			return 0
		}
		return *n
	}
	panic(fmt.Sprintf("memory store: unsupported numeric value %T", v))
}

func toStringPtr(v interface{}) *string {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		return &s
	case *string:
		if s == nil {
			return nil
		}
		c := *s
		return &c
	}
	panic(fmt.Sprintf("memory store: unsupported string value %T", v))
}
