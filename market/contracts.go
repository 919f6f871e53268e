package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrUnknownSymbol 信号里的交易对不在映射表里
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrInvalidQuantity 按名义金额换算出的张数不足一张
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// Instrument 合约元数据
// Canonical 是内部统一标识（ccxt 风格），各交易所字段是下单时实际使用的符号
type Instrument struct {
	Canonical     string  `json:"canonical"`      // 例: ETH/USDT:USDT
	BitgetSymbol  string  `json:"bitget_symbol"`  // 例: ETHUSDT
	BinanceSymbol string  `json:"binance_symbol"` // 例: ETHUSDT
	ContractSize  float64 `json:"contract_size"`  // 每张合约的币量
}

// instruments 静态合约表（新增交易对时在这里扩展）
var instruments = map[string]Instrument{
	"BTCUSDT": {
		Canonical:     "BTC/USDT:USDT",
		BitgetSymbol:  "BTCUSDT",
		BinanceSymbol: "BTCUSDT",
		ContractSize:  0.0001,
	},
	"ETHUSDT": {
		Canonical:     "ETH/USDT:USDT",
		BitgetSymbol:  "ETHUSDT",
		BinanceSymbol: "ETHUSDT",
		ContractSize:  0.01,
	},
	"SOLUSDT": {
		Canonical:     "SOL/USDT:USDT",
		BitgetSymbol:  "SOLUSDT",
		BinanceSymbol: "SOLUSDT",
		ContractSize:  1,
	},
}

// byCanonical 反向索引，供按内部标识查询使用
var byCanonical = func() map[string]Instrument {
	m := make(map[string]Instrument, len(instruments))
	for _, inst := range instruments {
		m[inst.Canonical] = inst
	}
	return m
}()

// Clean 去掉 TradingView ticker 的交易所前缀和永续后缀
// "MEXC:ETHUSDT" -> "ETHUSDT", "ethusdt.p" -> "ETHUSDT", "BTCUSDTPERP" -> "BTCUSDT"
// 去重键的计算也依赖它，保证同一交易对的不同写法归一到同一个键
func Clean(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(s, ".P")
	s = strings.TrimSuffix(s, "PERP")
	return s
}

// Normalize 把信号里的原始交易对映射为内部 Instrument
// 找不到映射时返回 ErrUnknownSymbol（不再默认回退到 ETH，避免错单）
func Normalize(raw string) (Instrument, error) {
	key := Clean(raw)
	if key == "" {
		return Instrument{}, fmt.Errorf("%w: empty symbol", ErrUnknownSymbol)
	}
	inst, ok := instruments[key]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, raw)
	}
	return inst, nil
}

// GetByCanonical 按内部标识查询合约元数据
func GetByCanonical(canonical string) (Instrument, bool) {
	inst, ok := byCanonical[canonical]
	return inst, ok
}

// Canonicals 返回所有内部标识（排序不保证）
func Canonicals() []string {
	result := make([]string, 0, len(byCanonical))
	for c := range byCanonical {
		result = append(result, c)
	}
	return result
}

// ContractsFor 按固定名义金额换算整数张数
// contracts = floor(notionalUSDT / (referencePrice * contractSize))
// 价格非法或不足一张时返回 ErrInvalidQuantity，调用方不应下单
func ContractsFor(inst Instrument, notionalUSDT, referencePrice float64) (int, error) {
	if referencePrice <= 0 {
		return 0, fmt.Errorf("%w: reference price %.4f", ErrInvalidQuantity, referencePrice)
	}
	if inst.ContractSize <= 0 {
		return 0, fmt.Errorf("%w: contract size %.6f", ErrInvalidQuantity, inst.ContractSize)
	}

	contracts := int(math.Floor(notionalUSDT / (referencePrice * inst.ContractSize)))
	if contracts <= 0 {
		return 0, fmt.Errorf("%w: notional %.2f too small at price %.2f (size %.4f)",
			ErrInvalidQuantity, notionalUSDT, referencePrice, inst.ContractSize)
	}
	return contracts, nil
}

// CoinQuantity 张数换算成币量（交易所下单时使用）
func CoinQuantity(inst Instrument, contracts int) float64 {
	return float64(contracts) * inst.ContractSize
}
