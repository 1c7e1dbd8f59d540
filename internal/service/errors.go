package service

import "errors"

// 业务错误，handler 按类型映射 HTTP 状态码
var (
	ErrUnauthorized   = errors.New("未登录或登录已过期")
	ErrForbidden      = errors.New("需要管理员权限")
	ErrSystemDisabled = errors.New("每日奖励系统已关闭")
	ErrCodeNotFound   = errors.New("兑换码不存在")
	ErrCodeExpired    = errors.New("兑换码已过期")
	ErrAlreadyClaimed = errors.New("已经领取过该兑换码")
	ErrSameDayClaim   = errors.New("今天已经领取过每日奖励")
	ErrUnknownAction  = errors.New("不支持的操作")
	ErrInvalidParam   = errors.New("参数错误")

	// 以下两类对外只返回通用提示，细节写日志
	ErrPersistence   = errors.New("保存领取记录失败")
	ErrBalanceUpdate = errors.New("更新余额失败")
)
