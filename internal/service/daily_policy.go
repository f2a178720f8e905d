package service

import (
	"time"

	"habitquest_backend/internal/model"
	"habitquest_backend/internal/util"
)

// StreakOutcome 本次加载对连续天数的影响
type StreakOutcome int

const (
	StreakUnchanged StreakOutcome = iota
	StreakStarted
	StreakExtended
	StreakReset
)

// CalendarDay 返回 loc 时区下的日期字符串
func CalendarDay(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(util.DateFormat)
}

// DailyRollover 日期变化时返回重置今日学习经验所需的列，否则返回 nil
func DailyRollover(p *model.PlayerProfile, today string) map[string]interface{} {
	if p.LastResetDate == today {
		return nil
	}
	return map[string]interface{}{
		model.ColTodayStudyXP:  0,
		model.ColLastResetDate: today,
	}
}

// EvaluateStreak 昨天 → +1；为空 → 1；其他间隔 → 重置为 1；已是今天 → 不变
func EvaluateStreak(p *model.PlayerProfile, now time.Time, loc *time.Location) (map[string]interface{}, StreakOutcome) {
	local := now.In(loc)
	today := local.Format(util.DateFormat)
	yesterday := local.AddDate(0, 0, -1).Format(util.DateFormat)

	var count int
	var outcome StreakOutcome
	switch {
	case p.StreakLastDate != nil && *p.StreakLastDate == today:
		return nil, StreakUnchanged
	case p.StreakLastDate == nil:
		count, outcome = 1, StreakStarted
	case *p.StreakLastDate == yesterday:
		count, outcome = p.StreakCount+1, StreakExtended
	default:
		count, outcome = 1, StreakReset
	}

	return map[string]interface{}{
		model.ColStreakCount:    count,
		model.ColStreakLastDate: today,
	}, outcome
}

// CheckStudyCap 纯校验，超过上限时不做任何部分入账
func CheckStudyCap(todayStudyXP, amount, dailyCap int) error {
	if todayStudyXP+amount > dailyCap {
		return util.ErrDailyCapExceeded
	}
	return nil
}
