package notify

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sigbridge/trader"
)

// Telegram 成交/异常推送
// 发送失败只记日志，通知永远不能拖垮主流程
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram 创建通知器，token 或 chatID 缺失时返回 nil（调用方按未配置处理）
func NewTelegram(token string, chatID int64) *Telegram {
	if token == "" || chatID == 0 {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("⚠️ Telegram 初始化失败: %v", err)
		return nil
	}
	log.Printf("📱 Telegram 通知已启用: @%s", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID}
}

// NotifyFill 成交通知
func (t *Telegram) NotifyFill(res *trader.Result) {
	mode := "实盘"
	if res.DryRun {
		mode = "模拟"
	}
	text := fmt.Sprintf(
		"✅ *成交* (%s)\n合约: `%s`\n方向: %s\n张数: %d\n价格: %.4f\n止盈: %.4f\n止损: %.4f",
		mode, res.Symbol, sideLabel(res), res.Contracts, res.PriceUsed, res.TakeProfit, res.StopLoss)
	if res.CloseOrderID != "" {
		text += "\n（翻转：已先平反向仓）"
	}
	t.send(text)
}

// NotifyError 下单失败通知
func (t *Telegram) NotifyError(res *trader.Result) {
	text := fmt.Sprintf(
		"❌ *下单失败*\n合约: `%s`\n方向: %s\n失败腿: %s\n原因: %s",
		res.Symbol, sideLabel(res), res.FailedLeg, res.Reason)
	t.send(text)
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.bot.Send(msg); err != nil {
		log.Printf("⚠️ Telegram 发送失败: %v", err)
	}
}

func sideLabel(res *trader.Result) string {
	if res.Side == "long" {
		return "做多 📈"
	}
	return "做空 📉"
}
