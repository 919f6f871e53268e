package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sigbridge/config"
	"sigbridge/market"
	"sigbridge/signal"
)

// fakeOrder 假交易所收到的一笔订单
type fakeOrder struct {
	Symbol     string
	Side       signal.Side
	Contracts  int
	ReduceOnly bool
}

// fakeExchange 可编程的交易所假实现
type fakeExchange struct {
	mu        sync.Mutex
	price     float64
	priceErr  error
	failClose bool
	failOpen  bool
	orders    []fakeOrder
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) Price(ctx context.Context, inst market.Instrument) (float64, error) {
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.price, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, inst market.Instrument, leverage int) error {
	return nil
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, inst market.Instrument, side signal.Side, contracts int, reduceOnly bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reduceOnly && f.failClose {
		return "", errors.New("close rejected")
	}
	if !reduceOnly && f.failOpen {
		return "", errors.New("open rejected")
	}
	f.orders = append(f.orders, fakeOrder{
		Symbol: inst.Canonical, Side: side, Contracts: contracts, ReduceOnly: reduceOnly,
	})
	return fmt.Sprintf("ord-%d", len(f.orders)), nil
}

func (f *fakeExchange) placedOrders() []fakeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeOrder(nil), f.orders...)
}

var engineEpoch = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		WebhookSecret: "s3cret",
		MaxMessageAge: 5 * time.Minute,
		PositionUSDT:  20,
		Cooldown:      5 * time.Minute,
		TPPercent:     2.0,
		SLPercent:     1.0,
	}
}

func newTestEngine(t *testing.T, ex Exchange) *Engine {
	t.Helper()
	e := NewEngine(testConfig(), ex, NewPositionStore(), signal.NewGate(nil), nil)
	e.now = func() time.Time { return engineEpoch }
	return e
}

// engineSignal 默认是一条刚出炉的合法 webhook 信号
func engineSignal(side signal.Side, bar time.Time) *signal.Signal {
	return &signal.Signal{
		Side:           side,
		SymbolRaw:      "ETHUSDT",
		BarTime:        bar,
		Secret:         "s3cret",
		SourceIdentity: fmt.Sprintf("hash-%s-%s", side, bar.Format(time.RFC3339)),
		Origin:         signal.OriginWebhook,
		ReceivedAt:     bar,
	}
}

func TestOpenFromFlat(t *testing.T) {
	ex := &fakeExchange{price: 2000} // floor(20/(2000*0.01)) = 1 张
	e := newTestEngine(t, ex)

	res := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))

	require.Equal(t, signal.OutcomeOK, res.Status)
	require.Equal(t, "ETH/USDT:USDT", res.Symbol)
	require.Equal(t, 1, res.Contracts)
	require.Equal(t, 2000.0, res.PriceUsed)
	require.Equal(t, "ord-1", res.OrderID)
	require.Empty(t, res.CloseOrderID)

	// 止盈止损按百分比推算，只随响应返回
	require.InDelta(t, 2040.0, res.TakeProfit, 1e-9)
	require.InDelta(t, 1980.0, res.StopLoss, 1e-9)

	pos := e.store.Get("ETH/USDT:USDT")
	require.Equal(t, signal.SideLong, pos.Side)
	require.Equal(t, 1, pos.Size)
	require.Equal(t, 2000.0, pos.EntryPrice)
	require.Equal(t, engineEpoch, pos.LastFillAt)
	require.Equal(t, engineEpoch.Add(5*time.Minute), pos.CooldownUntil)

	orders := ex.placedOrders()
	require.Len(t, orders, 1)
	require.False(t, orders[0].ReduceOnly)
}

func TestSimulatedOutcome(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	cfg := testConfig()
	cfg.DryRun = true
	e := NewEngine(cfg, ex, NewPositionStore(), signal.NewGate(nil), nil)
	e.now = func() time.Time { return engineEpoch }

	res := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))
	require.Equal(t, signal.OutcomeSimulatedOK, res.Status)
	require.True(t, res.DryRun)

	// 模拟模式下状态机照常推进
	require.Equal(t, signal.SideLong, e.store.Get("ETH/USDT:USDT").Side)
}

func TestAlreadyInPosition(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	first := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))
	require.Equal(t, signal.OutcomeOK, first.Status)
	before := e.store.Get("ETH/USDT:USDT")

	// 冷却期过后又来一条同向信号
	e.now = func() time.Time { return engineEpoch.Add(10 * time.Minute) }
	res := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(9*time.Minute)))

	require.Equal(t, signal.OutcomeAlreadyInPosition, res.Status)
	require.Len(t, ex.placedOrders(), 1, "no new order")

	// 持仓记录原封不动，冷却也不重置
	require.Equal(t, before, e.store.Get("ETH/USDT:USDT"))
}

func TestCooldownRejectsWithoutMutation(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	first := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))
	require.Equal(t, signal.OutcomeOK, first.Status)
	before := e.store.Get("ETH/USDT:USDT")

	// 冷却期内来了反向信号：拒绝，不平仓不开仓
	e.now = func() time.Time { return engineEpoch.Add(2 * time.Minute) }
	res := e.Handle(context.Background(), engineSignal(signal.SideShort, engineEpoch.Add(time.Minute)))

	require.Equal(t, signal.OutcomeCooldown, res.Status)
	require.Len(t, ex.placedOrders(), 1)
	require.Equal(t, before, e.store.Get("ETH/USDT:USDT"))
}

func TestFlipPlacesCloseThenOpen(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	first := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))
	require.Equal(t, signal.OutcomeOK, first.Status)

	// 冷却过后反向信号触发翻转
	flipAt := engineEpoch.Add(10 * time.Minute)
	e.now = func() time.Time { return flipAt }
	res := e.Handle(context.Background(), engineSignal(signal.SideShort, flipAt.Add(-time.Minute)))

	require.Equal(t, signal.OutcomeOK, res.Status)
	require.NotEmpty(t, res.CloseOrderID)
	require.NotEmpty(t, res.OrderID)

	orders := ex.placedOrders()
	require.Len(t, orders, 3) // 首次开多 + 平多 + 开空

	closeLeg := orders[1]
	require.True(t, closeLeg.ReduceOnly)
	require.Equal(t, signal.SideShort, closeLeg.Side, "closing a long sells")
	require.Equal(t, 1, closeLeg.Contracts, "full current size")

	openLeg := orders[2]
	require.False(t, openLeg.ReduceOnly)
	require.Equal(t, signal.SideShort, openLeg.Side)

	pos := e.store.Get("ETH/USDT:USDT")
	require.Equal(t, signal.SideShort, pos.Side)
	require.Equal(t, flipAt.Add(5*time.Minute), pos.CooldownUntil)
}

func TestFlipCloseLegFails(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))
	before := e.store.Get("ETH/USDT:USDT")

	ex.failClose = true
	flipAt := engineEpoch.Add(10 * time.Minute)
	e.now = func() time.Time { return flipAt }
	res := e.Handle(context.Background(), engineSignal(signal.SideShort, flipAt.Add(-time.Minute)))

	require.Equal(t, signal.OutcomeExchangeError, res.Status)
	require.Equal(t, LegClose, res.FailedLeg)
	require.Error(t, res.Err)

	// 平仓腿失败：原仓位保持不动
	require.Equal(t, before, e.store.Get("ETH/USDT:USDT"))
	require.Len(t, ex.placedOrders(), 1)
}

func TestFlipOpenLegFailsLeavesFlat(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))

	ex.failOpen = true
	flipAt := engineEpoch.Add(10 * time.Minute)
	e.now = func() time.Time { return flipAt }
	res := e.Handle(context.Background(), engineSignal(signal.SideShort, flipAt.Add(-time.Minute)))

	require.Equal(t, signal.OutcomeExchangeError, res.Status)
	require.Equal(t, LegOpen, res.FailedLeg)
	require.NotEmpty(t, res.CloseOrderID, "close leg did succeed")

	// 平仓成功开仓失败：如实记为 flat，不自动补单
	pos := e.store.Get("ETH/USDT:USDT")
	require.Equal(t, signal.SideFlat, pos.Side)
	require.Equal(t, 0, pos.Size)

	orders := ex.placedOrders()
	require.Len(t, orders, 2)
	require.True(t, orders[1].ReduceOnly)
}

func TestOpenFromFlatFailsLeavesFlat(t *testing.T) {
	ex := &fakeExchange{price: 2000, failOpen: true}
	e := newTestEngine(t, ex)

	res := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))
	require.Equal(t, signal.OutcomeExchangeError, res.Status)
	require.Equal(t, LegOpen, res.FailedLeg)
	require.Equal(t, signal.SideFlat, e.store.Get("ETH/USDT:USDT").Side)
}

func TestInvalidQuantity(t *testing.T) {
	// floor(20/(2500*0.01)) = floor(0.8) = 0 张
	ex := &fakeExchange{price: 2500}
	e := newTestEngine(t, ex)

	res := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))

	require.Equal(t, signal.OutcomeInvalidQuantity, res.Status)
	require.Empty(t, ex.placedOrders())

	pos := e.store.Get("ETH/USDT:USDT")
	require.Equal(t, signal.SideFlat, pos.Side)
	require.True(t, pos.CooldownUntil.IsZero(), "no cooldown on skip")
}

func TestPriceFetchFails(t *testing.T) {
	ex := &fakeExchange{priceErr: errors.New("ticker down")}
	e := newTestEngine(t, ex)

	res := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute)))
	require.Equal(t, signal.OutcomeExchangeError, res.Status)
	require.Empty(t, ex.placedOrders())
}

func TestStaleNeverReachesExchange(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	res := e.Handle(context.Background(), engineSignal(signal.SideLong, engineEpoch.Add(-6*time.Minute)))
	require.Equal(t, signal.OutcomeStale, res.Status)
	require.Empty(t, ex.placedOrders())
}

func TestUnauthorized(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	sig := engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute))
	sig.Secret = "wrong"
	res := e.Handle(context.Background(), sig)

	require.Equal(t, signal.OutcomeUnauthorized, res.Status)
	require.Equal(t, "bad secret", res.Reason)
	require.Empty(t, ex.placedOrders())
}

func TestUnknownSymbolMalformed(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	sig := engineSignal(signal.SideLong, engineEpoch.Add(-time.Minute))
	sig.SymbolRaw = "DOGEUSDT"
	res := e.Handle(context.Background(), sig)

	require.Equal(t, signal.OutcomeMalformed, res.Status)
	require.Empty(t, ex.placedOrders())
}

func TestDuplicateSignalsAtMostOneFill(t *testing.T) {
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	bar := engineEpoch.Add(-time.Minute)
	first := e.Handle(context.Background(), engineSignal(signal.SideLong, bar))
	second := e.Handle(context.Background(), engineSignal(signal.SideLong, bar))

	require.Equal(t, signal.OutcomeOK, first.Status)
	require.Equal(t, signal.OutcomeDuplicateIgnored, second.Status)
	require.Len(t, ex.placedOrders(), 1)
}

func TestConcurrentDuplicatesAtMostOneFill(t *testing.T) {
	// 相同去重键并发打进来，不管时序如何至多一单成交
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)
	bar := engineEpoch.Add(-time.Minute)

	const n = 16
	results := make(chan signal.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.Handle(context.Background(), engineSignal(signal.SideLong, bar)).Status
		}()
	}
	wg.Wait()
	close(results)

	fills := 0
	for status := range results {
		if status == signal.OutcomeOK {
			fills++
		}
	}
	require.Equal(t, 1, fills)
	require.Len(t, ex.placedOrders(), 1)
}

func TestConcurrentFreshSignalsSameSymbolNoDoubleOpen(t *testing.T) {
	// 两条不同K线（不同去重键）的同向信号并发：合约锁串行化后
	// 第二条要么 already_in_position 要么 cooldown，绝不会双开
	ex := &fakeExchange{price: 2000}
	e := newTestEngine(t, ex)

	var wg sync.WaitGroup
	results := make(chan signal.Outcome, 2)
	for i := 0; i < 2; i++ {
		bar := engineEpoch.Add(-time.Duration(i+1) * time.Minute)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.Handle(context.Background(), engineSignal(signal.SideLong, bar)).Status
		}()
	}
	wg.Wait()
	close(results)

	var outcomes []signal.Outcome
	for s := range results {
		outcomes = append(outcomes, s)
	}
	require.Contains(t, outcomes, signal.OutcomeOK)
	require.Len(t, ex.placedOrders(), 1, "exactly one open order")
	require.Equal(t, 1, e.store.Get("ETH/USDT:USDT").Size)
}

func TestTargetPricesShort(t *testing.T) {
	e := newTestEngine(t, &fakeExchange{price: 2000})
	tp, sl := e.targetPrices(signal.SideShort, 2000)
	require.InDelta(t, 1960.0, tp, 1e-9)
	require.InDelta(t, 2020.0, sl, 1e-9)
}
