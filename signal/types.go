package signal

import (
	"fmt"
	"time"

	"sigbridge/market"
)

// Side 信号方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	// SideFlat 仅用于持仓状态，外部信号不会产生 flat
	SideFlat Side = "flat"
)

// Valid 信号方向是否合法（只接受 long/short）
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// Origin 信号来源通道
type Origin string

const (
	OriginWebhook Origin = "webhook"
	OriginEmail   Origin = "email"
)

// Outcome 信号处理的终态结果码
type Outcome string

const (
	OutcomeOK                Outcome = "ok"
	OutcomeSimulatedOK       Outcome = "simulated_ok"
	OutcomeDuplicateIgnored  Outcome = "duplicate_ignored"
	OutcomeCooldown          Outcome = "cooldown"
	OutcomeAlreadyInPosition Outcome = "already_in_position"
	OutcomeInvalidQuantity   Outcome = "invalid_quantity"
	OutcomeUnauthorized      Outcome = "unauthorized"
	OutcomeStale             Outcome = "stale"
	OutcomeMalformed         Outcome = "malformed"
	OutcomeExchangeError     Outcome = "exchange_error"
)

// Signal 统一的交易信号：webhook 和邮件两条通道最终都汇聚成这个结构
type Signal struct {
	Side      Side      // long | short
	SymbolRaw string    // 原始交易对，如 "MEXC:ETHUSDT"
	BarTime   time.Time // 信号所属K线的时间
	Secret    string    // 告警里携带的共享密钥
	Exchange  string    // 可选，告警标注的交易所
	Timeframe string    // 可选，告警标注的周期

	// SourceIdentity 来源标识：邮件用 Message-ID，webhook 用原始报文哈希
	SourceIdentity string
	Origin         Origin
	ReceivedAt     time.Time
}

// DedupKey 计算去重组合键：bar时间 + 清洗后的交易对 + 方向
// 同一根K线对同一交易对同一方向的重复推送会得到相同的键
func (s *Signal) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s",
		s.BarTime.UTC().Format(time.RFC3339), market.Clean(s.SymbolRaw), s.Side)
}

// FromPayload 从解析后的告警报文构造信号
func FromPayload(p *AlertPayload, origin Origin, sourceIdentity string, receivedAt time.Time) *Signal {
	return &Signal{
		Side:           Side(p.Side),
		SymbolRaw:      p.SymbolTV,
		BarTime:        p.BarTS.Time,
		Secret:         p.Secret,
		Exchange:       p.Exchange,
		Timeframe:      p.Timeframe,
		SourceIdentity: sourceIdentity,
		Origin:         origin,
		ReceivedAt:     receivedAt,
	}
}
