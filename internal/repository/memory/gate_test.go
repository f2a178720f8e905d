package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncGateLock(t *testing.T) {
	now := time.Unix(1000, 0)
	g := NewSyncGate().WithClock(func() time.Time { return now })
	ctx := context.Background()

	token, ok, err := g.TryLock(ctx, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, _ = g.TryLock(ctx, 1, time.Minute)
	assert.False(t, ok)
	_, ok, _ = g.TryLock(ctx, 2, time.Minute)
	assert.True(t, ok)

	locked, _ := g.Locked(ctx, 1)
	assert.True(t, locked)

	require.NoError(t, g.Unlock(ctx, 1, token))
	locked, _ = g.Locked(ctx, 1)
	assert.False(t, locked)

	// 超过 TTL 的标志视为已释放
	_, ok, _ = g.TryLock(ctx, 3, time.Minute)
	require.True(t, ok)
	now = now.Add(61 * time.Second)
	_, ok, _ = g.TryLock(ctx, 3, time.Minute)
	assert.True(t, ok)
}

func TestSyncGateUnlockRequiresOwnerToken(t *testing.T) {
	now := time.Unix(1000, 0)
	g := NewSyncGate().WithClock(func() time.Time { return now })
	ctx := context.Background()

	first, ok, err := g.TryLock(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	second, ok, err := g.TryLock(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	// 过期持有者的释放不影响新的持有者
	require.NoError(t, g.Unlock(ctx, 1, first))
	locked, _ := g.Locked(ctx, 1)
	assert.True(t, locked)

	require.NoError(t, g.Unlock(ctx, 1, second))
	locked, _ = g.Locked(ctx, 1)
	assert.False(t, locked)
}

func TestSyncGateCooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	g := NewSyncGate().WithClock(func() time.Time { return now })
	ctx := context.Background()

	remaining, err := g.CooldownRemaining(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	require.NoError(t, g.StartCooldown(ctx, 1, 5*time.Minute))
	now = now.Add(2 * time.Minute)
	remaining, _ = g.CooldownRemaining(ctx, 1)
	assert.Equal(t, 3*time.Minute, remaining)

	now = now.Add(3 * time.Minute)
	remaining, _ = g.CooldownRemaining(ctx, 1)
	assert.Zero(t, remaining)

	require.NoError(t, g.StartCooldown(ctx, 1, 0))
	remaining, _ = g.CooldownRemaining(ctx, 1)
	assert.Zero(t, remaining)
}
