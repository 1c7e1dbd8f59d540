package service

import (
	"time"

	"dailybonus/internal/model"
)

// StreakResult 本次领取在周期中的位置
type StreakResult struct {
	CyclePosition int
	Continuing    bool
}

// DayGap 返回 from 到 to 在参考时区下相差的自然日数
func DayGap(from, to time.Time, loc *time.Location) int {
	return int(civilDay(to, loc).Sub(civilDay(from, loc)).Hours() / 24)
}

// civilDay 取参考时区的日期，落到 UTC 零点上比较，避开夏令时的 23/25 小时日
func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CalculateStreak 根据领取历史（新的在前）计算今天领取所处的周期位置
//
//	相差 0 天：今天已领过，返回 ErrSameDayClaim
//	相差 1 天：连续，位置 = ((上次位置 + 1 - 1) mod 周期) + 1
//	相差更多或没有历史：从 1 开始
//
// 最近一次领取时间晚于 now（时钟偏差）按当天已领处理
func CalculateStreak(history []*model.UserClaim, now time.Time, loc *time.Location, cycleLength int) (StreakResult, error) {
	if cycleLength < 1 {
		cycleLength = 1
	}
	if len(history) == 0 {
		return StreakResult{CyclePosition: 1}, nil
	}

	last := history[0]
	gap := DayGap(last.ClaimedAt, now, loc)
	switch {
	case gap <= 0:
		return StreakResult{}, ErrSameDayClaim
	case gap == 1:
		raw := last.StreakPosition + 1
		return StreakResult{
			CyclePosition: ((raw-1)%cycleLength+cycleLength)%cycleLength + 1,
			Continuing:    true,
		}, nil
	default:
		return StreakResult{CyclePosition: 1}, nil
	}
}

// CurrentStreak 以今天或昨天结尾的连续领取天数，用于展示
// 最近一次领取早于昨天时返回 0
func CurrentStreak(history []*model.UserClaim, now time.Time, loc *time.Location) int {
	if len(history) == 0 {
		return 0
	}
	if DayGap(history[0].ClaimedAt, now, loc) > 1 {
		return 0
	}

	streak := 1
	prev := history[0].ClaimedAt
	for _, claim := range history[1:] {
		gap := DayGap(claim.ClaimedAt, prev, loc)
		if gap == 0 {
			continue
		}
		if gap != 1 {
			break
		}
		streak++
		prev = claim.ClaimedAt
	}
	return streak
}

// ClaimedToday 最近一次领取是否在参考时区的今天
func ClaimedToday(history []*model.UserClaim, now time.Time, loc *time.Location) bool {
	return len(history) > 0 && DayGap(history[0].ClaimedAt, now, loc) <= 0
}
