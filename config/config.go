package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ImapConfig 邮件监听配置
type ImapConfig struct {
	Enabled           bool
	Host              string
	Port              int
	User              string
	Password          string
	Label             string
	FailedLabel       string
	UseIdle           bool
	IdleRenew         time.Duration
	PollInterval      time.Duration
	ReconnectBackoffs []time.Duration
	MaxMessageAge     time.Duration
}

// Config 服务全局配置（全部来自环境变量 / .env）
type Config struct {
	// 信号校验
	WebhookSecret string
	MaxMessageAge time.Duration

	// 下单参数
	PositionUSDT float64
	Leverage     int
	DryRun       bool
	Cooldown     time.Duration
	TPPercent    float64
	SLPercent    float64

	// 交易所
	Exchange         string // bitget | binance
	BitgetKey        string
	BitgetSecret     string
	BitgetPassphrase string
	BinanceKey       string
	BinanceSecret    string
	Testnet          bool
	WSPriceFeed      bool

	// 持久化去重库（SQLite 文件路径或 MySQL DSN）
	DBPath    string
	PruneDays int

	// 邮件监听
	Imap ImapConfig

	// API 服务
	APIPort           int
	AdminPasswordHash string
	OTPSecret         string
	JWTSecret         string

	// 通知
	TelegramToken  string
	TelegramChatID int64

	// 日志
	LogDir string
	Debug  bool
}

// Load 加载配置：先读 .env（若存在），再读环境变量
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("📋 未找到 .env 文件，使用系统环境变量")
	}

	cfg := &Config{
		WebhookSecret: os.Getenv("TV_WEBHOOK_SECRET"),
		MaxMessageAge: time.Duration(getEnvInt("MAX_MESSAGE_AGE_MIN", 5)) * time.Minute,

		PositionUSDT: getEnvFloat("POSITION_USDT", 20),
		Leverage:     getEnvInt("DEFAULT_LEVERAGE", 5),
		DryRun:       getEnvBool("DRY_RUN", true), // 默认开启模拟，避免误实盘
		Cooldown:     time.Duration(getEnvInt("COOLDOWN_SEC", 300)) * time.Second,
		TPPercent:    getEnvFloat("TP_PERCENT", 2.0),
		SLPercent:    getEnvFloat("SL_PERCENT", 1.0),

		Exchange:         strings.ToLower(getEnv("EXCHANGE", "bitget")),
		BitgetKey:        os.Getenv("BITGET_KEY"),
		BitgetSecret:     os.Getenv("BITGET_SECRET"),
		BitgetPassphrase: os.Getenv("BITGET_PASSPHRASE"),
		BinanceKey:       os.Getenv("BINANCE_KEY"),
		BinanceSecret:    os.Getenv("BINANCE_SECRET"),
		Testnet:          getEnvBool("EXCHANGE_TESTNET", false),
		WSPriceFeed:      getEnvBool("WS_PRICE_FEED", false),

		DBPath:    getEnv("PERSISTENCE_DB_PATH", "processed_signals.db"),
		PruneDays: getEnvInt("PRUNE_DAYS", 30),

		Imap: ImapConfig{
			Host:              getEnv("IMAP_HOST", "imap.gmail.com"),
			Port:              getEnvInt("IMAP_PORT", 993),
			User:              os.Getenv("IMAP_USER"),
			Password:          os.Getenv("IMAP_PASSWORD"),
			Label:             getEnv("IMAP_LABEL", "tv-alerts"),
			FailedLabel:       getEnv("IMAP_FAILED_LABEL", "tv-alerts-failed"),
			UseIdle:           getEnvBool("IMAP_IDLE", false),
			IdleRenew:         time.Duration(getEnvInt("IDLE_RENEW_SEC", 1500)) * time.Second,
			PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL_SEC", 600)) * time.Second,
			ReconnectBackoffs: parseBackoffs(getEnv("RECONNECT_BACKOFFS", "2,5,10,20,30")),
		},

		APIPort:           getEnvInt("API_PORT", 8080),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		OTPSecret:         os.Getenv("OTP_SECRET"),
		JWTSecret:         os.Getenv("JWT_SECRET"),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),

		LogDir: getEnv("LOG_DIR", "logs"),
		Debug:  getEnvBool("DEBUG", false),
	}

	// 邮件通道：账号密码齐全才启用
	cfg.Imap.Enabled = cfg.Imap.User != "" && cfg.Imap.Password != ""
	cfg.Imap.MaxMessageAge = cfg.MaxMessageAge

	// JWT 密钥缺省复用 webhook 密钥
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.WebhookSecret
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate 启动期校验，缺关键配置直接失败
func (c *Config) validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("缺少环境变量 TV_WEBHOOK_SECRET，请检查 .env")
	}
	if c.PositionUSDT <= 0 {
		return fmt.Errorf("POSITION_USDT 必须大于 0，当前为 %.2f", c.PositionUSDT)
	}
	if c.Exchange != "bitget" && c.Exchange != "binance" {
		return fmt.Errorf("不支持的交易所: %s（可选 bitget / binance）", c.Exchange)
	}

	// 实盘模式必须有交易所密钥；模拟模式可以裸跑
	if !c.DryRun {
		switch c.Exchange {
		case "bitget":
			if c.BitgetKey == "" || c.BitgetSecret == "" || c.BitgetPassphrase == "" {
				return fmt.Errorf("实盘模式缺少 BITGET_KEY/BITGET_SECRET/BITGET_PASSPHRASE")
			}
		case "binance":
			if c.BinanceKey == "" || c.BinanceSecret == "" {
				return fmt.Errorf("实盘模式缺少 BINANCE_KEY/BINANCE_SECRET")
			}
		}
	}

	return nil
}

// parseBackoffs 解析重连退避序列，如 "2,5,10,20,30"
func parseBackoffs(raw string) []time.Duration {
	var result []time.Duration
	for _, part := range strings.Split(raw, ",") {
		sec, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || sec <= 0 {
			continue
		}
		result = append(result, time.Duration(sec)*time.Second)
	}
	if len(result) == 0 {
		result = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second}
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("⚠️ 环境变量 %s=%q 不是整数，使用默认值 %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("⚠️ 环境变量 %s=%q 不是数字，使用默认值 %.2f", key, v, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v == "1" || v == "true" || v == "yes"
}
