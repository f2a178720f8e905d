package service

// 等级计算：纯函数，无状态。
// XPThreshold(level) 表示"完成"该等级所需的累计经验，也就是升到 level+1 的门槛。

const xpCurveFactor = 50

// XPThreshold 返回 50 * level²
func XPThreshold(level int) int64 {
	l := int64(level)
	return xpCurveFactor * l * l
}

// LevelForXP 从 fromLevel 开始逐级推进，避免小额多次累加时每次都从 1 级重算。
// fromLevel 小于 1 时按 1 处理；调用方需保证 totalXP 没有低于 fromLevel 的下界，
// 经验回退（管理员修正）时应传入 1。
func LevelForXP(totalXP int64, fromLevel int) int {
	level := fromLevel
	if level < 1 {
		level = 1
	}
	for totalXP >= XPThreshold(level) {
		level++
	}
	return level
}

// LevelProgress 当前等级内的进度
type LevelProgress struct {
	Level       int   `json:"level"`
	IntoLevel   int64 `json:"intoLevel"`
	LevelSpan   int64 `json:"levelSpan"`
	Percent     int   `json:"percent"`
	NextLevelXP int64 `json:"nextLevelXp"`
}

// ProgressWithinLevel 返回 (totalXP - T(level-1), T(level) - T(level-1))，百分比截断到 [0, 100]
func ProgressWithinLevel(totalXP int64, level int) LevelProgress {
	if level < 1 {
		level = 1
	}
	floor := XPThreshold(level - 1)
	ceil := XPThreshold(level)
	into := totalXP - floor
	span := ceil - floor

	percent := 0
	if span > 0 {
		percent = int(into * 100 / span)
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	return LevelProgress{
		Level:       level,
		IntoLevel:   into,
		LevelSpan:   span,
		Percent:     percent,
		NextLevelXP: ceil,
	}
}
