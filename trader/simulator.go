package trader

import (
	"context"
	"fmt"
	"log"

	"sigbridge/market"
	"sigbridge/signal"
)

// PriceSource 模拟盘的参考价来源
type PriceSource interface {
	Price(ctx context.Context, inst market.Instrument) (float64, error)
}

// Simulator DRY_RUN 模式的交易所
// 查价走真实行情（公共接口无需密钥），下单和调杠杆只记日志不出网
type Simulator struct {
	prices PriceSource
	inner  string // 被模拟的交易所名
}

// NewSimulator 创建模拟交易所
func NewSimulator(prices PriceSource, innerName string) *Simulator {
	return &Simulator{prices: prices, inner: innerName}
}

// Name 交易所标识
func (s *Simulator) Name() string {
	return fmt.Sprintf("simulator(%s)", s.inner)
}

// Price 参考价来自真实行情
func (s *Simulator) Price(ctx context.Context, inst market.Instrument) (float64, error) {
	return s.prices.Price(ctx, inst)
}

// SetLeverage 模拟盘不调杠杆
func (s *Simulator) SetLeverage(ctx context.Context, inst market.Instrument, leverage int) error {
	log.Printf("🧪 [模拟] 设置杠杆: %s %dx", inst.Canonical, leverage)
	return nil
}

// PlaceMarketOrder 模拟下单，订单号固定格式 sim-<合约>-<方向>
func (s *Simulator) PlaceMarketOrder(ctx context.Context, inst market.Instrument, side signal.Side, contracts int, reduceOnly bool) (string, error) {
	leg := "开仓"
	if reduceOnly {
		leg = "平仓"
	}
	log.Printf("🧪 [模拟] %s: %s %s %d张", leg, inst.Canonical, side, contracts)
	return fmt.Sprintf("sim-%s-%s", inst.Canonical, side), nil
}
