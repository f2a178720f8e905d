package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"habitquest_backend/internal/model"
	"habitquest_backend/internal/repository/memory"
	"habitquest_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu    sync.Mutex
	items map[string][]byte
	hits  int
}

func newMapCache() *mapCache {
	return &mapCache{items: make(map[string][]byte)}
}

func (c *mapCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items[key] = raw
	c.mu.Unlock()
	return nil
}

func seedLeaderboard(t *testing.T) (*memory.Store, *ProgressionService) {
	t.Helper()
	store := memory.NewStore()
	ledger := NewProgressionService(store, store, nil, testProgressionConfig())
	ctx := context.Background()
	for id, xp := range map[uint]int64{1: 100, 2: 900, 3: 460} {
		_, err := ledger.Bootstrap(ctx, id, "")
		require.NoError(t, err)
		_, err = ledger.AddXP(ctx, id, xp, model.ActionXPGain, "seed")
		require.NoError(t, err)
	}
	return store, ledger
}

func TestParseLeaderboardFilter(t *testing.T) {
	f, err := ParseLeaderboardFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAllTime, f)

	f, err = ParseLeaderboardFilter("weekly")
	require.NoError(t, err)
	assert.Equal(t, FilterWeekly, f)

	_, err = ParseLeaderboardFilter("monthly")
	assert.ErrorIs(t, err, util.ErrInvalidInput)
}

func TestPlayersAllTime(t *testing.T) {
	store, _ := seedLeaderboard(t)
	svc := NewLeaderboardService(store, store, store, nil, 0)

	entries, err := svc.Players(context.Background(), FilterAllTime, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, uint(2), entries[0].PlayerID)
	assert.Equal(t, int64(900), entries[0].TotalXP)
	assert.Equal(t, uint(3), entries[1].PlayerID)
}

func TestPlayersByLevel(t *testing.T) {
	store, _ := seedLeaderboard(t)
	svc := NewLeaderboardService(store, store, store, nil, 0)

	entries, err := svc.Players(context.Background(), FilterByLevel, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 5, entries[0].CurrentLevel)
	assert.Equal(t, 4, entries[1].CurrentLevel)
	assert.Equal(t, 2, entries[2].CurrentLevel)
}

func TestPlayersWeeklyIgnoresOldEntries(t *testing.T) {
	store, ledger := seedLeaderboard(t)
	ctx := context.Background()

	// 十天前的记录不计入周榜
	require.NoError(t, store.AppendActivityLog(ctx, &model.ActivityLog{
		UUIDBase:   model.UUIDBase{CreatedAt: time.Now().AddDate(0, 0, -10)},
		PlayerID:   1,
		ActionKind: model.ActionXPGain,
		XPAmount:   5000,
	}))
	_, err := ledger.AddXP(ctx, 1, 850, model.ActionMission, "recent")
	require.NoError(t, err)

	svc := NewLeaderboardService(store, store, store, nil, 0)
	entries, err := svc.Players(ctx, FilterWeekly, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, uint(1), entries[0].PlayerID)
	assert.Equal(t, int64(950), entries[0].WeeklyXP)
	assert.Equal(t, uint(2), entries[1].PlayerID)
	assert.Equal(t, int64(900), entries[1].WeeklyXP)
}

func TestLeaderboardUsesCache(t *testing.T) {
	store, ledger := seedLeaderboard(t)
	cache := newMapCache()
	svc := NewLeaderboardService(store, store, store, cache, time.Minute)
	ctx := context.Background()

	first, err := svc.Players(ctx, FilterAllTime, 10)
	require.NoError(t, err)

	_, err = ledger.AddXP(ctx, 1, 5000, model.ActionXPGain, "jump")
	require.NoError(t, err)

	second, err := svc.Players(ctx, FilterAllTime, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)

	uncached := NewLeaderboardService(store, store, store, nil, 0)
	fresh, err := uncached.Players(ctx, FilterAllTime, 10)
	require.NoError(t, err)
	assert.Equal(t, uint(1), fresh[0].PlayerID)
}

func TestGuildRanking(t *testing.T) {
	store := memory.NewStore()
	guilds := NewGuildService(store, store, 6)
	ledger := NewProgressionService(store, store, guilds, testProgressionConfig())
	ctx := context.Background()

	for _, id := range []uint{1, 2} {
		_, err := ledger.Bootstrap(ctx, id, "")
		require.NoError(t, err)
	}
	a, err := guilds.CreateGuild(ctx, 1, "Alpha", "", true)
	require.NoError(t, err)
	b, err := guilds.CreateGuild(ctx, 2, "Beta", "", true)
	require.NoError(t, err)

	_, err = ledger.AddXP(ctx, 1, 10, model.ActionXPGain, "a")
	require.NoError(t, err)
	_, err = ledger.AddXP(ctx, 2, 99, model.ActionXPGain, "b")
	require.NoError(t, err)

	svc := NewLeaderboardService(store, store, store, nil, 0)
	entries, err := svc.Guilds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, b.ID, entries[0].GuildID)
	assert.Equal(t, int64(99), entries[0].TotalXP)
	assert.Equal(t, a.ID, entries[1].GuildID)
	assert.Equal(t, 2, entries[1].Rank)
}
