package trader

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"sigbridge/config"
	"sigbridge/market"
	"sigbridge/pkg/logger"
	"sigbridge/signal"
)

// Leg 订单腿，翻转时先平后开
type Leg string

const (
	LegClose Leg = "close"
	LegOpen  Leg = "open"
)

// 单条腿的交易所调用超时上限
const orderTimeout = 10 * time.Second

// Result 一次信号处理的终态
type Result struct {
	Status       signal.Outcome `json:"status"`
	Symbol       string         `json:"symbol,omitempty"` // 内部统一标识
	Side         signal.Side    `json:"side,omitempty"`
	Contracts    int            `json:"contracts,omitempty"`
	PriceUsed    float64        `json:"price_used,omitempty"`
	OrderID      string         `json:"order_id,omitempty"`
	CloseOrderID string         `json:"close_order_id,omitempty"`
	// 止盈止损按配置百分比从开仓价推算，只随响应返回，不会挂到交易所
	TakeProfit float64 `json:"take_profit,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	DryRun     bool    `json:"dry_run"`
	FailedLeg  Leg     `json:"failed_leg,omitempty"`
	Reason     string  `json:"reason,omitempty"`

	Err error `json:"-"`
}

// Notifier 成交/失败通知回调（Telegram 等），可为 nil
type Notifier interface {
	NotifyFill(res *Result)
	NotifyError(res *Result)
}

// Engine 订单执行引擎
// 两条信号通道（webhook、邮件轮询）都汇聚到 Handle 这一个入口
// 处理顺序固定：幂等 → 校验 → 冷却 → 持仓决策 → 下单 → 回写状态
//
// 同一合约的处理全程持锁串行，杜绝两个并发信号都看到 flat 而双开；
// 不同合约完全并行
type Engine struct {
	cfg       *config.Config
	exchange  Exchange
	store     *PositionStore
	gate      *signal.Gate
	validator *signal.Validator
	db        *config.Database // 可为 nil（无持久化部署）
	notifier  Notifier         // 可为 nil

	// OnResult 每个终态回调一次（指标采集用），可为 nil
	OnResult func(sig *signal.Signal, res *Result)

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	// 测试注入用
	now func() time.Time

	log *zap.Logger
}

// NewEngine 创建执行引擎
func NewEngine(cfg *config.Config, exchange Exchange, store *PositionStore, gate *signal.Gate, db *config.Database) *Engine {
	e := &Engine{
		cfg:       cfg,
		exchange:  exchange,
		store:     store,
		gate:      gate,
		validator: signal.NewValidator(cfg.WebhookSecret, cfg.MaxMessageAge),
		db:        db,
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
		log:       logger.NewModuleLogger("engine"),
	}
	// 时效校验与冷却判断共用同一只时钟
	e.validator.SetClock(func() time.Time { return e.now() })
	return e
}

// SetNotifier 挂接通知器
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Exchange 当前交易所（状态接口用）
func (e *Engine) Exchange() Exchange {
	return e.exchange
}

// Gate 幂等闸门（状态接口用）
func (e *Engine) Gate() *signal.Gate {
	return e.gate
}

// lockFor 取合约级别的锁，没有就建
func (e *Engine) lockFor(canonical string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	mu, ok := e.locks[canonical]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[canonical] = mu
	}
	return mu
}

// Handle 处理一条信号，返回终态结果
func (e *Engine) Handle(ctx context.Context, sig *signal.Signal) *Result {
	res := e.process(ctx, sig)
	e.record(sig, res)
	return res
}

// process 主流水线
func (e *Engine) process(ctx context.Context, sig *signal.Signal) *Result {
	// 1. 幂等：同一去重键至多准入一次，键在这里即被消耗，
	//    后续因冷却等原因中止也不归还
	if !e.gate.Admit(sig) {
		e.log.Info("重复信号已忽略",
			zap.String("key", sig.DedupKey()), zap.String("origin", string(sig.Origin)))
		return &Result{Status: signal.OutcomeDuplicateIgnored, DryRun: e.cfg.DryRun}
	}

	// 2. 校验：密钥 → 时效 → 交易对/方向
	inst, err := e.validator.Check(sig)
	if err != nil {
		return e.rejectResult(sig, err)
	}

	// 3. 同合约串行；跨合约并行
	mu := e.lockFor(inst.Canonical)
	mu.Lock()
	defer mu.Unlock()

	now := e.now()
	pos := e.store.Get(inst.Canonical)

	// 4. 冷却：上次成交后的静默期内不接新信号，持仓记录不动
	if pos.CoolingDown(now) {
		e.log.Info("信号落在冷却期内",
			zap.String("symbol", inst.Canonical),
			zap.Time("cooldown_until", pos.CooldownUntil))
		return &Result{
			Status: signal.OutcomeCooldown, Symbol: inst.Canonical, Side: sig.Side,
			DryRun: e.cfg.DryRun,
			Reason: fmt.Sprintf("cooling down until %s", pos.CooldownUntil.UTC().Format(time.RFC3339)),
		}
	}

	// 5. 同向持仓：什么都不做，冷却也不重置
	if pos.Side == sig.Side {
		return &Result{
			Status: signal.OutcomeAlreadyInPosition, Symbol: inst.Canonical, Side: sig.Side,
			Contracts: pos.Size, DryRun: e.cfg.DryRun,
		}
	}

	// 6. 参考价与张数
	price, err := e.price(ctx, inst)
	if err != nil {
		e.log.Error("获取参考价失败", zap.String("symbol", inst.Canonical), zap.Error(err))
		return &Result{
			Status: signal.OutcomeExchangeError, Symbol: inst.Canonical, Side: sig.Side,
			DryRun: e.cfg.DryRun, Reason: "fetch price failed", Err: err,
		}
	}

	contracts, err := market.ContractsFor(inst, e.cfg.PositionUSDT, price)
	if err != nil {
		e.log.Warn("名义金额不足一张，跳过",
			zap.String("symbol", inst.Canonical), zap.Float64("price", price), zap.Error(err))
		return &Result{
			Status: signal.OutcomeInvalidQuantity, Symbol: inst.Canonical, Side: sig.Side,
			PriceUsed: price, DryRun: e.cfg.DryRun, Reason: err.Error(), Err: err,
		}
	}

	// 7. 杠杆尽力而为，失败只告警
	if e.cfg.Leverage > 0 {
		if err := e.setLeverage(ctx, inst); err != nil {
			e.log.Warn("设置杠杆失败（忽略）", zap.String("symbol", inst.Canonical), zap.Error(err))
		}
	}

	res := &Result{
		Symbol: inst.Canonical, Side: sig.Side,
		Contracts: contracts, PriceUsed: price, DryRun: e.cfg.DryRun,
	}

	// 8. 翻转：先把现有仓位全量 reduce-only 平掉
	if pos.Side == signal.SideLong || pos.Side == signal.SideShort {
		closeID, err := e.placeOrder(ctx, inst, pos.Side.Opposite(), pos.Size, true)
		if err != nil {
			// 平仓腿失败：仓位原样保留，直接上报
			e.log.Error("翻转平仓腿失败",
				zap.String("symbol", inst.Canonical),
				zap.String("from", string(pos.Side)), zap.String("to", string(sig.Side)),
				zap.Error(err))
			res.Status = signal.OutcomeExchangeError
			res.FailedLeg = LegClose
			res.Reason = fmt.Sprintf("close %s leg failed: %v", pos.Side, err)
			res.Err = err
			return res
		}
		res.CloseOrderID = closeID

		// 平仓已确认：真实状态是 flat，先落账再尝试开仓腿
		e.store.SetFlat(inst.Canonical, e.now())

		// 平仓腿确认后就不再响应取消，开仓腿用独立的超时预算
		ctx = context.WithoutCancel(ctx)
	}

	// 9. 开仓腿
	openID, err := e.placeOrder(ctx, inst, sig.Side, contracts, false)
	if err != nil {
		// 翻转途中开仓失败：记录里就是 flat（上面已写入），如实上报，不自动补单
		e.log.Error("开仓腿失败",
			zap.String("symbol", inst.Canonical), zap.String("side", string(sig.Side)),
			zap.Bool("was_flip", res.CloseOrderID != ""), zap.Error(err))
		res.Status = signal.OutcomeExchangeError
		res.FailedLeg = LegOpen
		res.Reason = fmt.Sprintf("open %s leg failed: %v", sig.Side, err)
		res.Err = err
		return res
	}
	res.OrderID = openID

	// 10. 成交落账：新持仓 + 冷却窗口
	fillAt := e.now()
	e.store.SetOpen(inst.Canonical, sig.Side, contracts, price, fillAt, fillAt.Add(e.cfg.Cooldown))

	res.TakeProfit, res.StopLoss = e.targetPrices(sig.Side, price)
	if e.cfg.DryRun {
		res.Status = signal.OutcomeSimulatedOK
	} else {
		res.Status = signal.OutcomeOK
	}

	e.log.Info("✅ 信号执行完成",
		zap.String("symbol", inst.Canonical), zap.String("side", string(sig.Side)),
		zap.Int("contracts", contracts), zap.Float64("price", price),
		zap.String("order_id", openID), zap.Bool("dry_run", e.cfg.DryRun))
	return res
}

// price 带超时的查价
func (e *Engine) price(ctx context.Context, inst market.Instrument) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()
	return e.exchange.Price(ctx, inst)
}

// setLeverage 带超时的调杠杆
func (e *Engine) setLeverage(ctx context.Context, inst market.Instrument) error {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()
	return e.exchange.SetLeverage(ctx, inst, e.cfg.Leverage)
}

// placeOrder 带超时的下单，超时视为该腿失败
func (e *Engine) placeOrder(ctx context.Context, inst market.Instrument, side signal.Side, contracts int, reduceOnly bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()
	return e.exchange.PlaceMarketOrder(ctx, inst, side, contracts, reduceOnly)
}

// targetPrices 按配置百分比推算止盈止损（仅随响应返回）
func (e *Engine) targetPrices(side signal.Side, entry float64) (tp, sl float64) {
	tpPct := e.cfg.TPPercent / 100
	slPct := e.cfg.SLPercent / 100
	if side == signal.SideLong {
		return entry * (1 + tpPct), entry * (1 - slPct)
	}
	return entry * (1 - tpPct), entry * (1 + slPct)
}

// rejectResult 校验失败映射成结果码
func (e *Engine) rejectResult(sig *signal.Signal, err error) *Result {
	res := &Result{Side: sig.Side, DryRun: e.cfg.DryRun, Reason: err.Error(), Err: err}
	switch {
	case errors.Is(err, signal.ErrUnauthorized):
		res.Status = signal.OutcomeUnauthorized
		// 不回显细节，避免给探测者反馈
		res.Reason = "bad secret"
	case errors.Is(err, signal.ErrStale):
		res.Status = signal.OutcomeStale
	default:
		res.Status = signal.OutcomeMalformed
	}
	e.log.Warn("信号被拒",
		zap.String("status", string(res.Status)),
		zap.String("symbol_raw", sig.SymbolRaw), zap.String("origin", string(sig.Origin)))
	return res
}

// record 终态落账：邮件信号回写持久化去重库，触发通知与指标回调
func (e *Engine) record(sig *signal.Signal, res *Result) {
	if sig.Origin == signal.OriginEmail && e.db != nil && res.Status != signal.OutcomeDuplicateIgnored {
		barTS := sig.BarTime.UTC().Format(time.RFC3339)
		if err := e.db.MarkEmailProcessed(sig.SourceIdentity, barTS, sig.SymbolRaw, string(sig.Side), string(res.Status)); err != nil {
			e.log.Error("回写邮件处理结果失败", zap.Error(err))
		}
		timeMS := strconv.FormatInt(sig.BarTime.UnixMilli(), 10)
		if err := e.db.MarkSignalProcessed(sig.DedupKey(), sig.Exchange, res.Symbol, string(sig.Side), sig.Timeframe, timeMS, string(res.Status)); err != nil {
			e.log.Error("回写信号处理结果失败", zap.Error(err))
		}
	}

	if e.notifier != nil {
		switch res.Status {
		case signal.OutcomeOK, signal.OutcomeSimulatedOK:
			e.notifier.NotifyFill(res)
		case signal.OutcomeExchangeError:
			e.notifier.NotifyError(res)
		}
	}

	if e.OnResult != nil {
		e.OnResult(sig, res)
	}
}
