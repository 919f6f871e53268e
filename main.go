package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	osignal "os/signal"
	"syscall"
	"time"

	"sigbridge/api"
	"sigbridge/config"
	"sigbridge/notify"
	"sigbridge/pkg/logger"
	"sigbridge/signal"
	"sigbridge/signal/gmail"
	"sigbridge/trader"
)

func main() {
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║        sigbridge - TradingView 信号执行引擎                 ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ 配置加载失败: %v", err)
	}

	logger.InitLogger(cfg.LogDir, cfg.Debug)
	defer logger.Sync()

	// 持久化去重库（SQLite 文件或 MySQL DSN）
	db, err := config.NewDatabase(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ 去重库初始化失败: %v", err)
	}
	defer db.Close()

	ctx, stop := osignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 共享最新价缓存；开了行情流就由 WebSocket 持续喂价，REST 只兜底
	priceCache := trader.NewPriceCache(5 * time.Second)
	if cfg.WSPriceFeed && cfg.Exchange == "bitget" {
		feed := trader.NewBitgetTickerFeed(priceCache)
		feed.Start()
		defer feed.Stop()
	}

	var exchange trader.Exchange
	switch cfg.Exchange {
	case "binance":
		exchange = trader.NewBinanceExchange(cfg.BinanceKey, cfg.BinanceSecret, cfg.Testnet, nil)
	default:
		exchange = trader.NewBitgetExchange(cfg.BitgetKey, cfg.BitgetSecret, cfg.BitgetPassphrase, priceCache)
	}
	if cfg.DryRun {
		log.Printf("🧪 模拟模式：查价走 %s 真实行情，订单不出网", exchange.Name())
		exchange = trader.NewSimulator(exchange, exchange.Name())
	} else {
		log.Printf("💰 实盘模式：%s，单笔名义 %.2f USDT", exchange.Name(), cfg.PositionUSDT)
	}

	store := trader.NewPositionStore()
	gate := signal.NewGate(db)
	engine := trader.NewEngine(cfg, exchange, store, gate, db)

	metrics := api.NewMetrics(store)
	engine.OnResult = metrics.RecordResult

	if tg := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID); tg != nil {
		engine.SetNotifier(tg)
	}

	// 邮件通道
	monitor := gmail.NewMonitor(&cfg.Imap, engine, db)
	go monitor.Run(ctx)

	// 每天裁剪一次过期的去重记录
	if cfg.PruneDays > 0 {
		go pruneLoop(ctx, db, cfg.PruneDays)
	}

	server := api.NewServer(cfg, engine, store, db, metrics)
	httpServer := &http.Server{
		Addr:              server.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("✅ HTTP 服务已启动: %s（webhook: POST /tv）", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP 服务异常退出: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🔄 收到退出信号，正在停机...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP 停机超时: %v", err)
	}
	log.Println("✅ 已退出")
}

// pruneLoop 启动时先裁一次，之后每24小时一次
func pruneLoop(ctx context.Context, db *config.Database, pruneDays int) {
	prune := func() {
		cutoff := time.Now().AddDate(0, 0, -pruneDays)
		n, err := db.PruneProcessed(cutoff)
		if err != nil {
			log.Printf("❌ 裁剪去重记录失败: %v", err)
			return
		}
		if n > 0 {
			log.Printf("🧹 已裁剪 %d 条 %d 天前的去重记录", n, pruneDays)
		}
	}

	prune()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			prune()
		case <-ctx.Done():
			return
		}
	}
}
