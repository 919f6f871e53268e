package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed 报文缺字段、方向非法或时间无法解析
var ErrMalformed = errors.New("malformed payload")

// FlexTime 兼容多种时间格式的字段
// TradingView 的 {{timenow}} 是 ISO 字符串，部分策略脚本发 unix 秒或毫秒
type FlexTime struct {
	time.Time
}

// UnmarshalJSON 依次尝试 RFC3339 字符串、数字秒、数字毫秒
func (t *FlexTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if parsed, err := time.Parse(time.RFC3339, str); err == nil {
			t.Time = parsed
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, str); err == nil {
			t.Time = parsed
			return nil
		}
		// 数字字符串也兜一下
		if n, err := strconv.ParseInt(str, 10, 64); err == nil {
			t.Time = fromUnix(n)
			return nil
		}
		return fmt.Errorf("unrecognized time %q", str)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("unrecognized time %s", s)
	}
	t.Time = fromUnix(n)
	return nil
}

// fromUnix 按数量级区分秒和毫秒
func fromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// AlertPayload TradingView 告警报文
// webhook 的请求体和邮件正文里嵌的 JSON 是同一个格式
type AlertPayload struct {
	Secret    string   `json:"secret"`
	Side      string   `json:"side" validate:"required,oneof=long short"`
	SymbolTV  string   `json:"symbol_tv" validate:"required"`
	BarTS     FlexTime `json:"bar_ts"`
	Exchange  string   `json:"exchange"`
	Timeframe string   `json:"timeframe"`
}

var payloadValidator = validator.New()

// ParsePayload 解析并校验告警报文
// 只做结构校验（必填字段、方向枚举），密钥和时效性由 Validator 检查
func ParsePayload(raw []byte) (*AlertPayload, error) {
	var p AlertPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := payloadValidator.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.BarTS.IsZero() {
		return nil, fmt.Errorf("%w: missing bar_ts", ErrMalformed)
	}
	return &p, nil
}

// ExtractJSON 从邮件正文里抠出告警 JSON
// 先找独立成行的 {...}，找不到再取首个 { 到末个 } 的跨行区间
func ExtractJSON(body string) (string, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			return line, true
		}
	}

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start >= 0 && end > start {
		return body[start : end+1], true
	}
	return "", false
}
