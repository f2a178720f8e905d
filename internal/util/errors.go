package util

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration 服务端凭证缺失，不可重试
	ErrConfiguration = errors.New("provider credentials are not configured")
	// ErrInvalidInput 缺少授权码或刷新令牌等可由客户端修正的错误
	ErrInvalidInput = errors.New("invalid input")
	// ErrProvider 外部服务网络错误或非 2xx 响应，可手动重试
	ErrProvider = errors.New("activity provider unavailable")
	// ErrTokenInvalid 刷新令牌被拒绝，必须重新授权
	ErrTokenInvalid = errors.New("provider rejected the refresh token")
	// ErrDailyCapExceeded 超过学习经验每日上限，不做任何修改
	ErrDailyCapExceeded = errors.New("daily study xp cap reached")

	ErrProfileNotFound = errors.New("profile not found")
	ErrNotConnected    = errors.New("activity provider is not connected")
	ErrSyncInProgress  = errors.New("a sync is already running for this player")
	// ErrSyncConflict 同步期间游标已被另一次同步推进，本次结果不入账
	ErrSyncConflict      = errors.New("sync cursor moved while this sync was running")
	ErrMissionNotFound   = errors.New("mission not found")
	ErrMissionCompleted  = errors.New("mission already completed today")
	ErrInsufficientGold  = errors.New("not enough gold")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrGuildNotFound     = errors.New("guild not found")
	ErrGuildFull         = errors.New("guild is full")
	ErrAlreadyInGuild    = errors.New("player already belongs to a guild")
	ErrNotGuildMember    = errors.New("player is not a member of this guild")
	ErrLeaderMustDisband = errors.New("guild leader must disband or hand over the guild")
	ErrInvalidRole       = errors.New("invalid guild role")
)

// ProviderError 外部服务返回的非 2xx 响应
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: provider returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return ErrProvider
}

// Transient 网络错误或 5xx 才值得重试，4xx 永远不重试
func (e *ProviderError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// CooldownError 同步冷却尚未结束，调用方可展示剩余等待时间
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("sync not ready, retry in %s", e.Remaining.Round(time.Second))
}
