package trader

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sigbridge/market"
	"sigbridge/signal"
)

// BitgetExchange Bitget USDT-M 合约客户端
// 行情接口无需鉴权，DRY_RUN 模式下可以不配密钥只查价
type BitgetExchange struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	client     *http.Client

	// REST 限速，避免触发交易所频控
	limiter *rate.Limiter

	// 最新价缓存（可与行情流共享）
	priceCache *PriceCache
}

// NewBitgetExchange 创建 Bitget 客户端
// priceCache 传 nil 时内部自建一个 5 秒 TTL 的缓存
func NewBitgetExchange(apiKey, secretKey, passphrase string, priceCache *PriceCache) *BitgetExchange {
	if priceCache == nil {
		priceCache = NewPriceCache(5 * time.Second)
	}
	return &BitgetExchange{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		baseURL:    "https://api.bitget.com",
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		priceCache: priceCache,
	}
}

// Name 交易所标识
func (t *BitgetExchange) Name() string {
	return "bitget"
}

// sign 生成签名
// Bitget签名: Base64(HMAC-SHA256(timestamp + method + requestPath + body, secretKey))
func (t *BitgetExchange) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + strings.ToUpper(method) + requestPath + body
	h := hmac.New(sha256.New, []byte(t.secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// request 发送HTTP请求并校验业务错误码
func (t *BitgetExchange) request(ctx context.Context, method, endpoint string, params map[string]string, body interface{}) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// GET 参数按键排序，保证签名路径稳定
	var queryString string
	if len(params) > 0 && method == "GET" {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		queryParts := make([]string, 0, len(keys))
		for _, k := range keys {
			queryParts = append(queryParts, fmt.Sprintf("%s=%s", k, params[k]))
		}
		queryString = strings.Join(queryParts, "&")
	}

	url := t.baseURL + endpoint
	if queryString != "" {
		url += "?" + queryString
	}

	var bodyStr string
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body failed: %w", err)
		}
		bodyStr = string(bodyBytes)
	}

	var req *http.Request
	var err error
	if bodyStr != "" {
		req, err = http.NewRequestWithContext(ctx, method, url, strings.NewReader(bodyStr))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	// 公共接口（行情）不带鉴权头也能访问
	if t.apiKey != "" {
		requestPath := endpoint
		if queryString != "" {
			requestPath += "?" + queryString
		}
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

		req.Header.Set("ACCESS-KEY", t.apiKey)
		req.Header.Set("ACCESS-SIGN", t.sign(timestamp, method, requestPath, bodyStr))
		req.Header.Set("ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("ACCESS-PASSPHRASE", t.passphrase)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response failed: %w", err)
	}

	code, ok := result["code"].(string)
	if !ok || code != "00000" {
		msg, _ := result["msg"].(string)
		return nil, fmt.Errorf("bitget api error: code=%s, msg=%s", code, msg)
	}

	return respBody, nil
}

// Price 获取最新成交价，优先走缓存
func (t *BitgetExchange) Price(ctx context.Context, inst market.Instrument) (float64, error) {
	if price, ok := t.priceCache.Get(inst.BitgetSymbol); ok {
		return price, nil
	}

	// GET /api/v2/mix/market/ticker
	respBody, err := t.request(ctx, "GET", "/api/v2/mix/market/ticker", map[string]string{
		"symbol":      inst.BitgetSymbol,
		"productType": "USDT-FUTURES",
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("get market price failed: %w", err)
	}

	var response struct {
		Data []struct {
			LastPr string `json:"lastPr"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return 0, fmt.Errorf("parse response failed: %w", err)
	}
	if len(response.Data) == 0 {
		return 0, fmt.Errorf("empty ticker for %s", inst.BitgetSymbol)
	}

	price, err := strconv.ParseFloat(response.Data[0].LastPr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price failed: %w", err)
	}

	t.priceCache.Put(inst.BitgetSymbol, price)
	return price, nil
}

// SetLeverage 设置杠杆
func (t *BitgetExchange) SetLeverage(ctx context.Context, inst market.Instrument, leverage int) error {
	body := map[string]interface{}{
		"symbol":      inst.BitgetSymbol,
		"productType": "USDT-FUTURES",
		"marginCoin":  "USDT",
		"leverage":    strconv.Itoa(leverage),
	}

	if _, err := t.request(ctx, "POST", "/api/v2/mix/account/set-leverage", nil, body); err != nil {
		return fmt.Errorf("set leverage failed: %w", err)
	}
	return nil
}

// PlaceMarketOrder 市价下单
// 单向持仓模式：long=buy，short=sell；平仓腿用 reduceOnly 保证只减仓
func (t *BitgetExchange) PlaceMarketOrder(ctx context.Context, inst market.Instrument, side signal.Side, contracts int, reduceOnly bool) (string, error) {
	orderSide := "buy"
	if side == signal.SideShort {
		orderSide = "sell"
	}
	reduceOnlyStr := "NO"
	if reduceOnly {
		reduceOnlyStr = "YES"
	}

	// size 是币量：张数 × 每张币量
	size := market.CoinQuantity(inst, contracts)

	// POST /api/v2/mix/order/place-order
	body := map[string]interface{}{
		"symbol":      inst.BitgetSymbol,
		"productType": "USDT-FUTURES",
		"marginMode":  "crossed",
		"marginCoin":  "USDT",
		"side":        orderSide,
		"orderType":   "market",
		"size":        strconv.FormatFloat(size, 'f', -1, 64),
		"reduceOnly":  reduceOnlyStr,
		"clientOid":   uuid.NewString(),
	}

	respBody, err := t.request(ctx, "POST", "/api/v2/mix/order/place-order", nil, body)
	if err != nil {
		return "", fmt.Errorf("place order failed: %w", err)
	}

	var response struct {
		Data struct {
			OrderId string `json:"orderId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("parse response failed: %w", err)
	}
	return response.Data.OrderId, nil
}
