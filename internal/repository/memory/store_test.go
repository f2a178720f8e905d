package memory

import (
	"context"
	"testing"

	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilePartialUpdate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateProfile(ctx, &model.PlayerProfile{ID: 1, CurrentLevel: 1, Gold: 10}))
	assert.Error(t, s.CreateProfile(ctx, &model.PlayerProfile{ID: 1}))

	require.NoError(t, s.UpdateProfile(ctx, 1, map[string]interface{}{
		model.ColTotalXP:             int64(60),
		model.ColGuildID:             "g",
		model.ColExternalTokenExpiry: int64(99),
	}))
	p, err := s.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), p.TotalXP)
	assert.Equal(t, int64(10), p.Gold)
	assert.Equal(t, "g", *p.GuildID)
	assert.Equal(t, int64(99), *p.ExternalTokenExpiry)

	require.NoError(t, s.UpdateProfile(ctx, 1, map[string]interface{}{
		model.ColGuildID:             nil,
		model.ColExternalTokenExpiry: nil,
	}))
	p, _ = s.GetProfile(ctx, 1)
	assert.Nil(t, p.GuildID)
	assert.Nil(t, p.ExternalTokenExpiry)

	assert.Error(t, s.UpdateProfile(ctx, 1, map[string]interface{}{"nope": 1}))
	assert.ErrorIs(t, s.UpdateProfile(ctx, 2, map[string]interface{}{}), util.ErrProfileNotFound)
}

func TestGetProfileReturnsCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.CreateProfile(ctx, &model.PlayerProfile{ID: 1}))

	p, _ := s.GetProfile(ctx, 1)
	p.TotalXP = 999
	again, _ := s.GetProfile(ctx, 1)
	assert.Equal(t, int64(0), again.TotalXP)
}

func TestActivityLogsNewestFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.AppendActivityLog(ctx, &model.ActivityLog{PlayerID: 1, XPAmount: i, ActionKind: model.ActionXPGain}))
	}
	require.NoError(t, s.AppendActivityLog(ctx, &model.ActivityLog{PlayerID: 2, XPAmount: 7, ActionKind: model.ActionXPGain}))

	logs, err := s.ListActivityLogs(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(3), logs[0].XPAmount)
	assert.Equal(t, int64(2), logs[1].XPAmount)
	assert.NotEmpty(t, logs[0].ID)
}

func TestReserveSlotRespectsCapacity(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	g := &model.Guild{Name: "g", MemberCount: 1, MaxMembers: 2}
	require.NoError(t, s.CreateGuild(ctx, g, &model.GuildMembership{UserID: 1, Role: model.GuildLeader}))

	ok, err := s.ReserveSlot(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.ReserveSlot(ctx, g.ID)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseSlot(ctx, g.ID))
	got, _ := s.GetGuild(ctx, g.ID)
	assert.Equal(t, 1, got.MemberCount)

	_, err = s.ReserveSlot(ctx, "missing")
	assert.ErrorIs(t, err, util.ErrGuildNotFound)
}

func TestOneGuildPerPlayer(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	a := &model.Guild{Name: "a", MaxMembers: 6}
	require.NoError(t, s.CreateGuild(ctx, a, &model.GuildMembership{UserID: 1, Role: model.GuildLeader}))

	err := s.CreateGuild(ctx, &model.Guild{Name: "b", MaxMembers: 6}, &model.GuildMembership{UserID: 1, Role: model.GuildLeader})
	assert.ErrorIs(t, err, util.ErrAlreadyInGuild)

	err = s.AddMembership(ctx, &model.GuildMembership{GuildID: a.ID, UserID: 1})
	assert.ErrorIs(t, err, util.ErrAlreadyInGuild)

	assert.Error(t, s.CreateGuild(ctx, &model.Guild{Name: "a"}, &model.GuildMembership{UserID: 2}))
}
