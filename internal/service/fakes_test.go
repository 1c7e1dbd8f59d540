package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"dailybonus/internal/infrastructure/lock"
	"dailybonus/internal/model"
	"dailybonus/internal/repository"
)

type staticConfig struct {
	cfg model.BonusConfig
	err error
}

func (s staticConfig) Load(ctx context.Context) (model.BonusConfig, error) {
	return s.cfg, s.err
}

type fakeLocker struct {
	acquired bool
	err      error
	mu       sync.Mutex
	unlocks  int
}

func (l *fakeLocker) TryLock(ctx context.Context) (bool, error) {
	return l.acquired, l.err
}

func (l *fakeLocker) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocks++
	return nil
}

func lockerFactory(l *fakeLocker) func() lock.Locker {
	return func() lock.Locker { return l }
}

// fakeCodeRepo 模拟 active_slot 唯一索引
type fakeCodeRepo struct {
	mu           sync.Mutex
	codes        []*model.DailyCode
	nextID       int64
	created      int
	getByCode    int
	createErr    error
	createCtxErr error
	onGetActive  func()
	beforeCreate func()
}

func (r *fakeCodeRepo) add(code *model.DailyCode) *model.DailyCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	code.ID = r.nextID
	r.codes = append(r.codes, code)
	return code
}

func (r *fakeCodeRepo) GetActive(ctx context.Context, now time.Time) (*model.DailyCode, error) {
	if r.onGetActive != nil {
		r.onGetActive()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.codes) - 1; i >= 0; i-- {
		if r.codes[i].ClaimableUntil.After(now) {
			return r.codes[i], nil
		}
	}
	return nil, repository.ErrDailyCodeNotFound
}

func (r *fakeCodeRepo) GetLatest(ctx context.Context) (*model.DailyCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.codes) == 0 {
		return nil, repository.ErrDailyCodeNotFound
	}
	return r.codes[len(r.codes)-1], nil
}

func (r *fakeCodeRepo) GetByCode(ctx context.Context, code string) (*model.DailyCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getByCode++
	for _, c := range r.codes {
		if c.Code == code {
			return c, nil
		}
	}
	return nil, repository.ErrDailyCodeNotFound
}

func (r *fakeCodeRepo) ListValid(ctx context.Context, now time.Time) ([]*model.DailyCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var codes []*model.DailyCode
	for i := len(r.codes) - 1; i >= 0; i-- {
		if r.codes[i].ValidUntil.After(now) {
			codes = append(codes, r.codes[i])
		}
	}
	return codes, nil
}

func (r *fakeCodeRepo) CreateActive(ctx context.Context, code *model.DailyCode, now time.Time) error {
	if r.beforeCreate != nil {
		r.beforeCreate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		r.createCtxErr = err
		return err
	}
	if r.createErr != nil {
		return r.createErr
	}
	for _, c := range r.codes {
		if c.ActiveSlot != nil && c.ClaimableUntil.After(now) {
			return repository.ErrActiveCodeExists
		}
	}
	for _, c := range r.codes {
		c.ActiveSlot = nil
	}
	slot := model.ActiveSlotValue
	code.ActiveSlot = &slot
	r.nextID++
	code.ID = r.nextID
	r.codes = append(r.codes, code)
	r.created++
	return nil
}

func (r *fakeCodeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.codes[:0]
	var deleted int64
	for _, c := range r.codes {
		if c.ValidUntil.Before(now) {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	r.codes = kept
	return deleted, nil
}

type claimKey struct {
	userID string
	codeID int64
}

// fakeLedger 模拟领取表唯一索引、流水和余额，Settle 失败时不留下任何数据
type fakeLedger struct {
	mu           sync.Mutex
	claims       map[claimKey]*model.UserClaim
	history      map[string][]*model.UserClaim
	transactions []*model.CoinTransaction
	balances     map[string]int64
	events       []*model.OutboxMessage
	settleErr    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		claims:   make(map[claimKey]*model.UserClaim),
		history:  make(map[string][]*model.UserClaim),
		balances: make(map[string]int64),
	}
}

func (l *fakeLedger) Exists(ctx context.Context, userID string, codeID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.claims[claimKey{userID, codeID}]
	return ok, nil
}

func (l *fakeLedger) ListRecent(ctx context.Context, userID string, limit int) ([]*model.UserClaim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	claims := append([]*model.UserClaim(nil), l.history[userID]...)
	sort.Slice(claims, func(i, j int) bool { return claims[i].ClaimedAt.After(claims[j].ClaimedAt) })
	if len(claims) > limit {
		claims = claims[:limit]
	}
	return claims, nil
}

func (l *fakeLedger) Settle(ctx context.Context, s *repository.Settlement) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.Claim != nil {
		key := claimKey{s.Claim.UserID, s.Claim.CodeID}
		if _, ok := l.claims[key]; ok {
			return 0, repository.ErrDuplicateClaim
		}
	}
	if l.settleErr != nil {
		return 0, l.settleErr
	}
	if s.Claim != nil {
		l.claims[claimKey{s.Claim.UserID, s.Claim.CodeID}] = s.Claim
		l.history[s.Claim.UserID] = append(l.history[s.Claim.UserID], s.Claim)
	}
	l.transactions = append(l.transactions, s.Transaction)
	l.balances[s.Transaction.UserID] += s.Transaction.Amount
	l.events = append(l.events, s.Events...)
	return l.balances[s.Transaction.UserID], nil
}
