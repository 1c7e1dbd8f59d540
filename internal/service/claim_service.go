package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dailybonus/internal/config"
	"dailybonus/internal/model"
	"dailybonus/internal/repository"
	"dailybonus/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type ClaimRepo interface {
	Exists(ctx context.Context, userID string, codeID int64) (bool, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]*model.UserClaim, error)
	Settle(ctx context.Context, s *repository.Settlement) (int64, error)
}

type CodeProvider interface {
	EnsureActiveCode(ctx context.Context) (*model.DailyCode, error)
	GetLatestCode(ctx context.Context) (*model.DailyCode, error)
	GetByCode(ctx context.Context, code string) (*model.DailyCode, error)
	ListValidCodes(ctx context.Context) ([]*model.DailyCode, error)
}

// ResolveStrategy 领取时如何确定兑换码
type ResolveStrategy string

const (
	// StrategyExplicit 使用请求中携带的兑换码
	StrategyExplicit ResolveStrategy = "explicit"
	// StrategyLatestActive 自动使用当前可领取的兑换码，不存在时生成
	StrategyLatestActive ResolveStrategy = "latest_active"
)

type ClaimRequest struct {
	UserID   string
	Code     string
	Strategy ResolveStrategy
	Reason   string
}

type ClaimResult struct {
	Code             string    `json:"code"`
	BonusEarned      int64     `json:"bonus_earned"`
	CyclePosition    int       `json:"cycle_position"`
	CycleLength      int       `json:"cycle_length"`
	ContinuingStreak bool      `json:"continuing_streak"`
	NewBalance       int64     `json:"new_balance"`
	NextReward       int64     `json:"next_reward"`
	ClaimedAt        time.Time `json:"claimed_at"`
}

// Eligibility 只读的领取资格检查结果
type Eligibility struct {
	CanClaim       bool       `json:"can_claim"`
	Reason         string     `json:"reason,omitempty"`
	Code           string     `json:"code,omitempty"`
	ClaimableUntil *time.Time `json:"claimable_until,omitempty"`
	CyclePosition  int        `json:"cycle_position,omitempty"`
	BonusAmount    int64      `json:"bonus_amount,omitempty"`
}

type CurrentCode struct {
	Code           string    `json:"code"`
	GeneratedAt    time.Time `json:"generated_at"`
	ClaimableUntil time.Time `json:"claimable_until"`
	ValidUntil     time.Time `json:"valid_until"`
	IsTestMode     bool      `json:"is_test_mode"`
	State          string    `json:"state"`
	Eligibility
}

type CodeStatus struct {
	Code           string    `json:"code"`
	ClaimableUntil time.Time `json:"claimable_until"`
	ValidUntil     time.Time `json:"valid_until"`
	State          string    `json:"state"`
	Claimed        bool      `json:"claimed"`
}

type StreakStatus struct {
	CurrentStreak int          `json:"current_streak"`
	ClaimedToday  bool         `json:"claimed_today"`
	LastClaimedAt *time.Time   `json:"last_claimed_at,omitempty"`
	CycleLength   int          `json:"cycle_length"`
	NextPosition  int          `json:"next_position"`
	NextReward    int64        `json:"next_reward"`
	IncrementType string       `json:"increment_type"`
	BaseAmount    int64        `json:"base_amount"`
	MaxAmount     int64        `json:"max_amount"`
	ValidCodes    []CodeStatus `json:"valid_codes"`
}

// ClaimService 所有领取入口共用的流程：
// 校验开关 -> 确定兑换码 -> 是否已领 -> 连续天数 -> 奖励金额 -> 单事务入账
type ClaimService struct {
	claims       ClaimRepo
	codes        CodeProvider
	config       ConfigLoader
	topics       config.KafkaTopicConfig
	loc          *time.Location
	historyLimit int
	now          func() time.Time
}

func NewClaimService(claims ClaimRepo, codes CodeProvider, configLoader ConfigLoader, cfg *config.Config) *ClaimService {
	historyLimit := cfg.Bonus.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 400
	}
	return &ClaimService{
		claims:       claims,
		codes:        codes,
		config:       configLoader,
		topics:       cfg.Kafka.Topic,
		loc:          cfg.Bonus.Location(),
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

func (s *ClaimService) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	// 1. 系统开关
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return nil, err
	}

	// 2. 确定兑换码
	code, err := s.resolveCode(ctx, req)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !code.IsClaimable(now) {
		return nil, ErrCodeExpired
	}

	// 3~4. 是否已领、连续天数。这两步都是只读的，并发请求可能同时通过，
	// 真正的拦截在 Settle 的唯一索引上
	history, err := s.claims.ListRecent(ctx, req.UserID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("查询领取记录失败: %w", err)
	}
	streak, err := s.checkEligible(ctx, req.UserID, code, history, now, cfg)
	if err != nil {
		return nil, err
	}

	// 5. 奖励金额
	amount := RewardForClaim(streak.CyclePosition, cfg)

	// 6~8. 领取记录、流水、余额、事件在同一事务中提交
	claim := &model.UserClaim{
		UserID:         req.UserID,
		CodeID:         code.ID,
		Code:           code.Code,
		ClaimedAt:      now,
		StreakPosition: streak.CyclePosition,
		BonusReceived:  amount,
		Reason:         req.Reason,
	}
	settlement, err := s.buildSettlement(claim, streak, cfg)
	if err != nil {
		return nil, err
	}

	newBalance, err := s.claims.Settle(ctx, settlement)
	if err != nil {
		return nil, s.settleError(err, claim)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  req.UserID,
		"code":     code.Code,
		"amount":   amount,
		"position": streak.CyclePosition,
		"reason":   req.Reason,
	}).Info("每日奖励领取成功")

	return &ClaimResult{
		Code:             code.Code,
		BonusEarned:      amount,
		CyclePosition:    streak.CyclePosition,
		CycleLength:      cfg.CycleLengthDays,
		ContinuingStreak: streak.Continuing,
		NewBalance:       newBalance,
		NextReward:       RewardForDisplay(streak.CyclePosition, cfg),
		ClaimedAt:        now,
	}, nil
}

func (s *ClaimService) enabledConfig(ctx context.Context) (model.BonusConfig, error) {
	cfg, err := s.config.Load(ctx)
	if err != nil {
		return model.BonusConfig{}, err
	}
	if !cfg.SystemEnabled {
		return model.BonusConfig{}, ErrSystemDisabled
	}
	return cfg, nil
}

func (s *ClaimService) resolveCode(ctx context.Context, req ClaimRequest) (*model.DailyCode, error) {
	switch req.Strategy {
	case StrategyExplicit:
		code := strings.TrimSpace(req.Code)
		if code == "" {
			return nil, fmt.Errorf("%w: 兑换码不能为空", ErrInvalidParam)
		}
		return s.codes.GetByCode(ctx, code)
	case StrategyLatestActive:
		return s.codes.EnsureActiveCode(ctx)
	default:
		return nil, fmt.Errorf("%w: 未知的兑换码解析方式 %q", ErrInvalidParam, req.Strategy)
	}
}

// checkEligible 判断能否领取 code，返回本次领取的周期位置
func (s *ClaimService) checkEligible(ctx context.Context, userID string, code *model.DailyCode, history []*model.UserClaim, now time.Time, cfg model.BonusConfig) (StreakResult, error) {
	claimed, err := s.claims.Exists(ctx, userID, code.ID)
	if err != nil {
		return StreakResult{}, fmt.Errorf("查询领取记录失败: %w", err)
	}
	if claimed {
		return StreakResult{}, ErrAlreadyClaimed
	}

	streak, err := CalculateStreak(history, now, s.loc, cfg.CycleLengthDays)
	if errors.Is(err, ErrSameDayClaim) && history[0].CodeID == code.ID {
		// 并发的另一次请求刚领完同一个兑换码
		return StreakResult{}, ErrAlreadyClaimed
	}
	return streak, err
}

type claimMetadata struct {
	Code             string            `json:"code"`
	CodeID           int64             `json:"code_id"`
	StreakPosition   int               `json:"streak_position"`
	ContinuingStreak bool              `json:"continuing_streak"`
	Config           model.BonusConfig `json:"config"`
}

type claimEvent struct {
	TransactionNo string    `json:"transaction_no"`
	UserID        string    `json:"user_id"`
	Code          string    `json:"code"`
	Amount        int64     `json:"amount"`
	CyclePosition int       `json:"cycle_position"`
	Reason        string    `json:"reason"`
	ClaimedAt     time.Time `json:"claimed_at"`
}

func (s *ClaimService) buildSettlement(claim *model.UserClaim, streak StreakResult, cfg model.BonusConfig) (*repository.Settlement, error) {
	metadata, err := json.Marshal(claimMetadata{
		Code:             claim.Code,
		CodeID:           claim.CodeID,
		StreakPosition:   streak.CyclePosition,
		ContinuingStreak: streak.Continuing,
		Config:           cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化流水元数据失败: %w", err)
	}

	transaction := &model.CoinTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        claim.UserID,
		Amount:        claim.BonusReceived,
		Type:          model.TransactionTypeEarned,
		Reason:        claim.Reason,
		Description:   fmt.Sprintf("每日奖励-连续第%d天", streak.CyclePosition),
		Metadata:      datatypes.JSON(metadata),
	}

	payload, err := json.Marshal(claimEvent{
		TransactionNo: transaction.TransactionNo,
		UserID:        claim.UserID,
		Code:          claim.Code,
		Amount:        claim.BonusReceived,
		CyclePosition: streak.CyclePosition,
		Reason:        claim.Reason,
		ClaimedAt:     claim.ClaimedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化领取事件失败: %w", err)
	}

	return &repository.Settlement{
		Claim:       claim,
		Transaction: transaction,
		Events: []*model.OutboxMessage{
			model.NewOutboxMessage(model.EventBonusClaimed, s.topics.BonusClaimed, claim.UserID, string(payload)),
		},
	}, nil
}

// settleError 唯一键冲突原样报告为已领取，其余错误记录完整上下文
func (s *ClaimService) settleError(err error, claim *model.UserClaim) error {
	if errors.Is(err, repository.ErrDuplicateClaim) {
		return ErrAlreadyClaimed
	}

	entry := logrus.WithError(err).WithFields(logrus.Fields{
		"user_id":  claim.UserID,
		"code":     claim.Code,
		"amount":   claim.BonusReceived,
		"position": claim.StreakPosition,
	})
	if errors.Is(err, repository.ErrBalanceIncrease) {
		entry.Error("更新余额失败，领取已回滚")
		return fmt.Errorf("%w: %w", ErrBalanceUpdate, err)
	}
	entry.Error("写入领取记录失败，领取已回滚")
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// CanClaim 只读检查用户现在能否领取每日奖励
// 当前没有可领取的兑换码时，按领取时会自动生成新兑换码来判断
func (s *ClaimService) CanClaim(ctx context.Context, userID string) (*Eligibility, error) {
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.claims.ListRecent(ctx, userID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("查询领取记录失败: %w", err)
	}

	now := s.now()
	code, err := s.codes.GetLatestCode(ctx)
	if err != nil && !errors.Is(err, ErrCodeNotFound) {
		return nil, err
	}
	if code == nil || !code.IsClaimable(now) {
		return s.eligibilityFromHistory(history, now, cfg)
	}
	return s.eligibility(ctx, userID, code, history, now, cfg)
}

func (s *ClaimService) eligibility(ctx context.Context, userID string, code *model.DailyCode, history []*model.UserClaim, now time.Time, cfg model.BonusConfig) (*Eligibility, error) {
	result := &Eligibility{Code: code.Code}
	if code.IsClaimable(now) {
		until := code.ClaimableUntil
		result.ClaimableUntil = &until
	} else {
		result.Reason = ErrCodeExpired.Error()
		return result, nil
	}

	streak, err := s.checkEligible(ctx, userID, code, history, now, cfg)
	if err != nil {
		if errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrSameDayClaim) {
			result.Reason = err.Error()
			return result, nil
		}
		return nil, err
	}
	result.CanClaim = true
	result.CyclePosition = streak.CyclePosition
	result.BonusAmount = RewardForClaim(streak.CyclePosition, cfg)
	return result, nil
}

func (s *ClaimService) eligibilityFromHistory(history []*model.UserClaim, now time.Time, cfg model.BonusConfig) (*Eligibility, error) {
	streak, err := CalculateStreak(history, now, s.loc, cfg.CycleLengthDays)
	if errors.Is(err, ErrSameDayClaim) {
		return &Eligibility{Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Eligibility{
		CanClaim:      true,
		CyclePosition: streak.CyclePosition,
		BonusAmount:   RewardForClaim(streak.CyclePosition, cfg),
	}, nil
}

// CurrentCode 当前可领取的兑换码以及该用户能否领取，没有时生成
func (s *ClaimService) CurrentCode(ctx context.Context, userID string) (*CurrentCode, error) {
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return nil, err
	}
	code, err := s.codes.EnsureActiveCode(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.claims.ListRecent(ctx, userID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("查询领取记录失败: %w", err)
	}

	now := s.now()
	eligibility, err := s.eligibility(ctx, userID, code, history, now, cfg)
	if err != nil {
		return nil, err
	}
	return &CurrentCode{
		Code:           code.Code,
		GeneratedAt:    code.GeneratedAt,
		ClaimableUntil: code.ClaimableUntil,
		ValidUntil:     code.ValidUntil,
		IsTestMode:     code.IsTestMode,
		State:          code.State(now),
		Eligibility:    *eligibility,
	}, nil
}

// StreakStatus 连续天数、下一次奖励和尚未过期的兑换码
func (s *ClaimService) StreakStatus(ctx context.Context, userID string) (*StreakStatus, error) {
	cfg, err := s.enabledConfig(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.claims.ListRecent(ctx, userID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("查询领取记录失败: %w", err)
	}
	codes, err := s.codes.ListValidCodes(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	current := CurrentStreak(history, now, s.loc)
	status := &StreakStatus{
		CurrentStreak: current,
		ClaimedToday:  ClaimedToday(history, now, s.loc),
		CycleLength:   cfg.CycleLengthDays,
		NextPosition:  NextPosition(current, cfg.CycleLengthDays),
		NextReward:    RewardForDisplay(current, cfg),
		IncrementType: cfg.IncrementType,
		BaseAmount:    cfg.BaseAmount,
		MaxAmount:     cfg.MaxAmount,
		ValidCodes:    make([]CodeStatus, 0, len(codes)),
	}
	if len(history) > 0 {
		last := history[0].ClaimedAt
		status.LastClaimedAt = &last
	}

	claimed := make(map[int64]bool, len(history))
	for _, c := range history {
		claimed[c.CodeID] = true
	}
	for _, code := range codes {
		status.ValidCodes = append(status.ValidCodes, CodeStatus{
			Code:           code.Code,
			ClaimableUntil: code.ClaimableUntil,
			ValidUntil:     code.ValidUntil,
			State:          code.State(now),
			Claimed:        claimed[code.ID],
		})
	}
	return status, nil
}
