package service

import (
	"dailybonus/internal/model"
)

// CalculateReward 周期位置对应的奖励金额，结果总在 [base, max] 之间
//
//	fixed:      base + (p-1) * increment，不超过 max
//	calculated: 在周期内从 base 线性增长到 max，周期为 1 时恒为 base
func CalculateReward(position int, cfg model.BonusConfig) int64 {
	if position < 1 {
		position = 1
	}
	base, ceiling := cfg.BaseAmount, cfg.MaxAmount
	if ceiling < base {
		ceiling = base
	}

	var amount int64
	switch cfg.IncrementType {
	case model.IncrementTypeFixed:
		amount = base + int64(position-1)*cfg.FixedIncrement
	default:
		if cfg.CycleLengthDays > 1 {
			// round((max-base)*(p-1)/(L-1))，整数运算，.5 向上取整
			span := int64(cfg.CycleLengthDays - 1)
			amount = base + ((ceiling-base)*int64(position-1)*2+span)/(2*span)
		} else {
			amount = base
		}
	}

	if amount < base {
		return base
	}
	if amount > ceiling {
		return ceiling
	}
	return amount
}

// RewardForClaim 今天领取可以得到的金额
func RewardForClaim(position int, cfg model.BonusConfig) int64 {
	return CalculateReward(position, cfg)
}

// RewardForDisplay 已连续 currentStreak 天后，下一次领取的金额
func RewardForDisplay(currentStreak int, cfg model.BonusConfig) int64 {
	return CalculateReward(NextPosition(currentStreak, cfg.CycleLengthDays), cfg)
}

// NextPosition 已连续 currentStreak 天后，下一次领取的周期位置
func NextPosition(currentStreak, cycleLength int) int {
	if cycleLength < 1 {
		cycleLength = 1
	}
	if currentStreak < 0 {
		currentStreak = 0
	}
	return currentStreak%cycleLength + 1
}
