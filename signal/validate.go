package signal

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"sigbridge/market"
)

var (
	// ErrUnauthorized 密钥缺失或不匹配
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStale 信号所属K线超过时效上限
	ErrStale = errors.New("stale signal")
)

// Validator 信号准入校验
// 检查顺序固定：密钥 → 时效 → 交易对/方向
// 密钥最便宜且拦截价值最高放最前，时效放在符号解析前避免对过期数据做无谓查表
type Validator struct {
	secret []byte
	maxAge time.Duration

	// 测试注入用
	now func() time.Time
}

// NewValidator 创建校验器
func NewValidator(secret string, maxAge time.Duration) *Validator {
	return &Validator{
		secret: []byte(secret),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// SetClock 覆盖时效判断用的时钟
func (v *Validator) SetClock(now func() time.Time) {
	v.now = now
}

// Check 校验信号，通过时返回解析出的合约
// 失败返回 ErrUnauthorized / ErrStale / ErrMalformed / market.ErrUnknownSymbol
func (v *Validator) Check(sig *Signal) (market.Instrument, error) {
	// 常数时间比较，避免密钥被逐字节试探
	if subtle.ConstantTimeCompare([]byte(sig.Secret), v.secret) != 1 {
		return market.Instrument{}, ErrUnauthorized
	}

	if age := v.now().Sub(sig.BarTime); age > v.maxAge {
		return market.Instrument{}, fmt.Errorf("%w: bar %s is %s old (max %s)",
			ErrStale, sig.BarTime.UTC().Format(time.RFC3339), age.Round(time.Second), v.maxAge)
	}

	if !sig.Side.Valid() {
		return market.Instrument{}, fmt.Errorf("%w: side %q", ErrMalformed, sig.Side)
	}

	inst, err := market.Normalize(sig.SymbolRaw)
	if err != nil {
		return market.Instrument{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return inst, nil
}
