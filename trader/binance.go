package trader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"sigbridge/market"
	"sigbridge/signal"
)

// BinanceExchange 币安 USDT-M 合约客户端
type BinanceExchange struct {
	client     *futures.Client
	priceCache *PriceCache
}

// NewBinanceExchange 创建币安客户端
func NewBinanceExchange(apiKey, secretKey string, testnet bool, priceCache *PriceCache) *BinanceExchange {
	if testnet {
		futures.UseTestnet = true
	}
	if priceCache == nil {
		priceCache = NewPriceCache(5 * time.Second)
	}
	return &BinanceExchange{
		client:     futures.NewClient(apiKey, secretKey),
		priceCache: priceCache,
	}
}

// Name 交易所标识
func (t *BinanceExchange) Name() string {
	return "binance"
}

// Price 获取最新成交价
func (t *BinanceExchange) Price(ctx context.Context, inst market.Instrument) (float64, error) {
	if price, ok := t.priceCache.Get(inst.BinanceSymbol); ok {
		return price, nil
	}

	prices, err := t.client.NewListPricesService().Symbol(inst.BinanceSymbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("get market price failed: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("empty ticker for %s", inst.BinanceSymbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price failed: %w", err)
	}

	t.priceCache.Put(inst.BinanceSymbol, price)
	return price, nil
}

// SetLeverage 设置杠杆
func (t *BinanceExchange) SetLeverage(ctx context.Context, inst market.Instrument, leverage int) error {
	_, err := t.client.NewChangeLeverageService().
		Symbol(inst.BinanceSymbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("set leverage failed: %w", err)
	}
	return nil
}

// PlaceMarketOrder 市价下单
func (t *BinanceExchange) PlaceMarketOrder(ctx context.Context, inst market.Instrument, side signal.Side, contracts int, reduceOnly bool) (string, error) {
	orderSide := futures.SideTypeBuy
	if side == signal.SideShort {
		orderSide = futures.SideTypeSell
	}

	// 币安按币量下单
	quantity := strconv.FormatFloat(market.CoinQuantity(inst, contracts), 'f', -1, 64)

	svc := t.client.NewCreateOrderService().
		Symbol(inst.BinanceSymbol).
		Side(orderSide).
		Type(futures.OrderTypeMarket).
		Quantity(quantity)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return "", fmt.Errorf("place order failed: %w", err)
	}
	return strconv.FormatInt(order.OrderID, 10), nil
}
