package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type syncFlag struct {
	token string
	until time.Time
}

// SyncGate 进程内的同步标志与冷却实现，单实例部署时使用
type SyncGate struct {
	mu        sync.Mutex
	locks     map[uint]syncFlag
	cooldowns map[uint]time.Time
	now       func() time.Time
}

func NewSyncGate() *SyncGate {
	return &SyncGate{
		locks:     make(map[uint]syncFlag),
		cooldowns: make(map[uint]time.Time),
		now:       time.Now,
	}
}

// WithClock 测试用
func (g *SyncGate) WithClock(now func() time.Time) *SyncGate {
	g.now = now
	return g
}

func (g *SyncGate) TryLock(_ context.Context, playerID uint, ttl time.Duration) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.locks[playerID]; ok && g.now().Before(f.until) {
		return "", false, nil
	}
	token := uuid.NewString()
	g.locks[playerID] = syncFlag{token: token, until: g.now().Add(ttl)}
	return token, true, nil
}

// Unlock 标志过期后可能已被其他同步重新获取，令牌不匹配时不做任何事
func (g *SyncGate) Unlock(_ context.Context, playerID uint, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.locks[playerID]; ok && f.token == token {
		delete(g.locks, playerID)
	}
	return nil
}

func (g *SyncGate) Locked(_ context.Context, playerID uint) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.locks[playerID]
	return ok && g.now().Before(f.until), nil
}

func (g *SyncGate) StartCooldown(_ context.Context, playerID uint, d time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d <= 0 {
		delete(g.cooldowns, playerID)
		return nil
	}
	g.cooldowns[playerID] = g.now().Add(d)
	return nil
}

func (g *SyncGate) CooldownRemaining(_ context.Context, playerID uint) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.cooldowns[playerID]
	if !ok {
		return 0, nil
	}
	remaining := until.Sub(g.now())
	if remaining <= 0 {
		delete(g.cooldowns, playerID)
		return 0, nil
	}
	return remaining, nil
}
