package trader

import (
	"context"

	"sigbridge/market"
	"sigbridge/signal"
)

// Exchange 交易所统一接口
// 所有调用都带 context：上层保证每条腿有有界超时，超时按失败处理
type Exchange interface {
	// Name 交易所标识（日志和 /health 用）
	Name() string

	// Price 合约最新成交价，作为按名义金额换算张数的参考价
	Price(ctx context.Context, inst market.Instrument) (float64, error)

	// SetLeverage 设置杠杆，开仓前尽力而为地调用，失败只告警不阻断
	SetLeverage(ctx context.Context, inst market.Instrument, leverage int) error

	// PlaceMarketOrder 市价单
	// side 是订单方向（long=买入，short=卖出），contracts 是张数
	// reduceOnly 为 true 时只减仓，用于翻转前的平仓腿
	PlaceMarketOrder(ctx context.Context, inst market.Instrument, side signal.Side, contracts int, reduceOnly bool) (orderID string, err error)
}
