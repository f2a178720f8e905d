package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// unlockScript 只删除仍由调用方持有的标志
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSyncGate 多实例部署时的同步标志与冷却，依赖键过期自动清理
type RedisSyncGate struct {
	rdb *redis.Client
}

func NewRedisSyncGate(rdb *redis.Client) *RedisSyncGate {
	return &RedisSyncGate{rdb: rdb}
}

func lockKey(playerID uint) string {
	return fmt.Sprintf("habitquest:sync:lock:%d", playerID)
}

func cooldownKey(playerID uint) string {
	return fmt.Sprintf("habitquest:sync:cooldown:%d", playerID)
}

func (g *RedisSyncGate) TryLock(ctx context.Context, playerID uint, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, lockKey(playerID), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (g *RedisSyncGate) Unlock(ctx context.Context, playerID uint, token string) error {
	return unlockScript.Run(ctx, g.rdb, []string{lockKey(playerID)}, token).Err()
}

func (g *RedisSyncGate) Locked(ctx context.Context, playerID uint) (bool, error) {
	n, err := g.rdb.Exists(ctx, lockKey(playerID)).Result()
	return n > 0, err
}

func (g *RedisSyncGate) StartCooldown(ctx context.Context, playerID uint, d time.Duration) error {
	if d <= 0 {
		return g.rdb.Del(ctx, cooldownKey(playerID)).Err()
	}
	return g.rdb.Set(ctx, cooldownKey(playerID), 1, d).Err()
}

// CooldownRemaining 键不存在时 PTTL 返回负值
func (g *RedisSyncGate) CooldownRemaining(ctx context.Context, playerID uint) (time.Duration, error) {
	d, err := g.rdb.PTTL(ctx, cooldownKey(playerID)).Result()
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, nil
	}
	return d, nil
}
