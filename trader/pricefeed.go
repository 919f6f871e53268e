package trader

import (
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sigbridge/market"
)

// PriceCache 最新价缓存，带 TTL
// REST 客户端用它挡住重复的行情查询，websocket 行情流持续往里灌
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
	ttl    time.Duration
}

type pricePoint struct {
	price float64
	at    time.Time
}

// NewPriceCache 创建价格缓存
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{
		prices: make(map[string]pricePoint),
		ttl:    ttl,
	}
}

// Get 读取未过期的缓存价
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	if !ok || time.Since(p.at) > c.ttl {
		return 0, false
	}
	return p.price, true
}

// Put 写入最新价
func (c *PriceCache) Put(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = pricePoint{price: price, at: time.Now()}
}

const bitgetWSURL = "wss://ws.bitget.com/v2/ws/public"

// BitgetTickerFeed Bitget 公共行情 websocket
// 订阅合约表里所有交易对的 ticker，持续刷新价格缓存
// 连接断开后按固定间隔重连；纯加速用途，挂了也只是退回 REST 查价
type BitgetTickerFeed struct {
	cache    *PriceCache
	symbols  []string
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewBitgetTickerFeed 创建行情流，订阅全部已知合约
func NewBitgetTickerFeed(cache *PriceCache) *BitgetTickerFeed {
	symbols := make([]string, 0)
	for _, canonical := range market.Canonicals() {
		if inst, ok := market.GetByCanonical(canonical); ok {
			symbols = append(symbols, inst.BitgetSymbol)
		}
	}
	return &BitgetTickerFeed{
		cache:    cache,
		symbols:  symbols,
		stopChan: make(chan struct{}),
	}
}

// Start 启动行情流
func (f *BitgetTickerFeed) Start() {
	log.Printf("📡 启动Bitget行情流: %v", f.symbols)
	go f.loop()
}

// Stop 停止行情流
func (f *BitgetTickerFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopChan) })
}

func (f *BitgetTickerFeed) loop() {
	for {
		select {
		case <-f.stopChan:
			return
		default:
		}

		if err := f.runOnce(); err != nil {
			log.Printf("⚠️ 行情流断开: %v，5秒后重连", err)
		}

		select {
		case <-f.stopChan:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// runOnce 单次连接：订阅 → 读循环，出错返回交给外层重连
func (f *BitgetTickerFeed) runOnce() error {
	conn, _, err := websocket.DefaultDialer.Dial(bitgetWSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	args := make([]map[string]string, 0, len(f.symbols))
	for _, sym := range f.symbols {
		args = append(args, map[string]string{
			"instType": "USDT-FUTURES",
			"channel":  "ticker",
			"instId":   sym,
		})
	}
	if err := conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": args}); err != nil {
		return err
	}

	// Bitget 要求 30 秒内有心跳，发文本 "ping" 收 "pong"
	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	msgChan := make(chan []byte, 16)
	errChan := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				errChan <- err
				return
			}
			msgChan <- raw
		}
	}()

	for {
		select {
		case <-f.stopChan:
			return nil
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return err
			}
		case err := <-errChan:
			return err
		case raw := <-msgChan:
			f.handleMessage(raw)
		}
	}
}

// handleMessage 解析 ticker 推送并刷新缓存
func (f *BitgetTickerFeed) handleMessage(raw []byte) {
	if string(raw) == "pong" {
		return
	}

	var msg struct {
		Arg struct {
			InstID string `json:"instId"`
		} `json:"arg"`
		Data []struct {
			LastPr string `json:"lastPr"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Arg.InstID == "" || len(msg.Data) == 0 {
		return
	}

	price, err := strconv.ParseFloat(msg.Data[0].LastPr, 64)
	if err != nil || price <= 0 {
		return
	}
	f.cache.Put(msg.Arg.InstID, price)
}
