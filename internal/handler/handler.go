package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dailybonus/internal/model"
	"dailybonus/internal/service"
	"dailybonus/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 以下接口由 service 层实现，handler 只依赖需要的方法
type BonusService interface {
	Claim(ctx context.Context, req service.ClaimRequest) (*service.ClaimResult, error)
	CanClaim(ctx context.Context, userID string) (*service.Eligibility, error)
	CurrentCode(ctx context.Context, userID string) (*service.CurrentCode, error)
	StreakStatus(ctx context.Context, userID string) (*service.StreakStatus, error)
}

type CodeAdmin interface {
	EnsureActiveCode(ctx context.Context) (*model.DailyCode, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type ConfigAdmin interface {
	Invalidate(ctx context.Context) error
	Update(ctx context.Context, key, value string) error
}

type AccountService interface {
	Overview(ctx context.Context, userID string, page, pageSize int) (*service.AccountOverview, error)
	EarnForAction(ctx context.Context, userID, action string) (*service.EarnResult, error)
}

type EventAdmin interface {
	RequeueFailed(ctx context.Context, limit int) (int64, error)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	bonus    BonusService
	codes    CodeAdmin
	configs  ConfigAdmin
	accounts AccountService
	events   EventAdmin
}

func NewHandler(bonus BonusService, codes CodeAdmin, configs ConfigAdmin, accounts AccountService, events EventAdmin) *Handler {
	return &Handler{
		bonus:    bonus,
		codes:    codes,
		configs:  configs,
		accounts: accounts,
		events:   events,
	}
}

// BonusRequest 每日奖励统一入口的请求体
type BonusRequest struct {
	Action string `json:"action" binding:"required"`
	Code   string `json:"code"`
	Key    string `json:"key"`
	Value  string `json:"value"`
	Limit  int    `json:"limit"`
}

type actionFunc func(c *gin.Context, req *BonusRequest) (interface{}, error)

type action struct {
	admin   bool
	message string
	run     actionFunc
}

const defaultRequeueLimit = 100

// resolveAction 精确匹配优先，其次按前缀兼容历史客户端的操作名，
// 都不匹配时按“完成行为获得金币”处理
func (h *Handler) resolveAction(name string) action {
	switch name {
	case "get_current_code":
		return action{run: h.getCurrentCode}
	case "claim_code":
		return action{message: "领取成功", run: h.claim(service.StrategyExplicit, model.ClaimReasonDailyCode)}
	case "claim_daily_bonus":
		return action{message: "领取成功", run: h.claim(service.StrategyLatestActive, model.ClaimReasonDailyBonus)}
	case "get_streak_status":
		return action{run: h.getStreakStatus}
	case "daily_login":
		return action{message: "登录奖励已发放", run: h.claim(service.StrategyLatestActive, model.ClaimReasonDailyLogin)}
	case "generate_daily_code":
		return action{admin: true, run: h.generateDailyCode}
	case "cleanup_old_codes":
		return action{admin: true, run: h.cleanupOldCodes}
	case "reload_config":
		return action{admin: true, message: "配置已重新加载", run: h.reloadConfig}
	case "update_config":
		return action{admin: true, message: "配置已更新", run: h.updateConfig}
	case "requeue_failed_events":
		return action{admin: true, run: h.requeueFailedEvents}
	}

	switch {
	case strings.HasPrefix(name, "can_claim_daily_bonus"):
		return action{run: h.canClaim}
	case strings.HasPrefix(name, "process_daily_login"):
		return action{message: "登录奖励已发放", run: h.claim(service.StrategyLatestActive, model.ClaimReasonDailyLogin)}
	}
	return action{run: h.earnForAction}
}

// HandleBonus 每日奖励统一入口
// POST /api/v1/bonus
func (h *Handler) HandleBonus(c *gin.Context) {
	var req BonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// 匿名请求先按未认证处理，不暴露参数校验结果
		if c.GetString(ctxUserID) == "" && !c.GetBool(ctxIsAdmin) {
			writeError(c, service.ErrUnauthorized)
			return
		}
		response.ParamError(c, "action 不能为空")
		return
	}
	req.Action = strings.TrimSpace(req.Action)

	act := h.resolveAction(req.Action)
	if err := authorize(c, act.admin); err != nil {
		writeError(c, err)
		return
	}

	data, err := act.run(c, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	if act.message != "" {
		response.SuccessWithMessage(c, act.message, data)
		return
	}
	response.Success(c, data)
}

// authorize 普通操作需要用户身份，管理操作需要管理员身份
func authorize(c *gin.Context, admin bool) error {
	if admin {
		if c.GetBool(ctxIsAdmin) {
			return nil
		}
		if c.GetString(ctxUserID) == "" {
			return service.ErrUnauthorized
		}
		return service.ErrForbidden
	}
	if c.GetString(ctxUserID) == "" {
		return service.ErrUnauthorized
	}
	return nil
}

func (h *Handler) getCurrentCode(c *gin.Context, _ *BonusRequest) (interface{}, error) {
	return h.bonus.CurrentCode(c.Request.Context(), c.GetString(ctxUserID))
}

func (h *Handler) claim(strategy service.ResolveStrategy, reason string) actionFunc {
	return func(c *gin.Context, req *BonusRequest) (interface{}, error) {
		code := strings.TrimSpace(req.Code)
		if strategy == service.StrategyExplicit && code == "" {
			return nil, fmt.Errorf("%w: code 不能为空", service.ErrInvalidParam)
		}
		return h.bonus.Claim(c.Request.Context(), service.ClaimRequest{
			UserID:   c.GetString(ctxUserID),
			Code:     code,
			Strategy: strategy,
			Reason:   reason,
		})
	}
}

func (h *Handler) canClaim(c *gin.Context, _ *BonusRequest) (interface{}, error) {
	return h.bonus.CanClaim(c.Request.Context(), c.GetString(ctxUserID))
}

func (h *Handler) getStreakStatus(c *gin.Context, _ *BonusRequest) (interface{}, error) {
	return h.bonus.StreakStatus(c.Request.Context(), c.GetString(ctxUserID))
}

func (h *Handler) earnForAction(c *gin.Context, req *BonusRequest) (interface{}, error) {
	return h.accounts.EarnForAction(c.Request.Context(), c.GetString(ctxUserID), req.Action)
}

func (h *Handler) generateDailyCode(c *gin.Context, _ *BonusRequest) (interface{}, error) {
	code, err := h.codes.EnsureActiveCode(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{
		"code":              code.Code,
		"generated_at":      code.GeneratedAt,
		"claimable_until":   code.ClaimableUntil,
		"valid_until":       code.ValidUntil,
		"base_bonus_amount": code.BaseBonusAmount,
		"is_test_mode":      code.IsTestMode,
	}, nil
}

func (h *Handler) cleanupOldCodes(c *gin.Context, _ *BonusRequest) (interface{}, error) {
	deleted, err := h.codes.CleanupExpired(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{"deleted": deleted}, nil
}

func (h *Handler) reloadConfig(c *gin.Context, _ *BonusRequest) (interface{}, error) {
	return nil, h.configs.Invalidate(c.Request.Context())
}

func (h *Handler) updateConfig(c *gin.Context, req *BonusRequest) (interface{}, error) {
	if req.Key == "" {
		return nil, fmt.Errorf("%w: key 不能为空", service.ErrInvalidParam)
	}
	if err := h.configs.Update(c.Request.Context(), req.Key, req.Value); err != nil {
		return nil, err
	}
	return gin.H{"key": req.Key, "value": req.Value}, nil
}

func (h *Handler) requeueFailedEvents(c *gin.Context, req *BonusRequest) (interface{}, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultRequeueLimit
	}
	requeued, err := h.events.RequeueFailed(c.Request.Context(), limit)
	if err != nil {
		return nil, err
	}
	return gin.H{"requeued": requeued}, nil
}

// BalanceQuery 余额查询参数
type BalanceQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

// GetBalance 查询当前用户余额和流水
// GET /api/v1/account/balance?page=1&page_size=20
func (h *Handler) GetBalance(c *gin.Context) {
	var q BalanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, "分页参数错误")
		return
	}

	overview, err := h.accounts.Overview(c.Request.Context(), c.GetString(ctxUserID), q.Page, q.PageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, overview)
}

// writeError 业务错误映射为对应状态码，其余错误统一 500 且不暴露细节
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrSystemDisabled):
		response.Fail(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrCodeNotFound):
		response.Fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrCodeExpired),
		errors.Is(err, service.ErrAlreadyClaimed),
		errors.Is(err, service.ErrSameDayClaim),
		errors.Is(err, service.ErrUnknownAction),
		errors.Is(err, service.ErrInvalidParam):
		response.ParamError(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logrus.WithField("request_id", c.GetString(ctxRequestID)).Warn("请求处理超时")
		response.Fail(c, http.StatusGatewayTimeout, "请求超时")
	default:
		logrus.WithFields(logrus.Fields{
			"request_id": c.GetString(ctxRequestID),
			"user_id":    c.GetString(ctxUserID),
			"path":       c.Request.URL.Path,
		}).WithError(err).Error("请求处理失败")
		response.ServerError(c)
	}
}

// Health 健康检查
func Health(startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(startedAt).Truncate(time.Second).String(),
		})
	}
}
