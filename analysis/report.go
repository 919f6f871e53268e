package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sigbridge/config"
	"sigbridge/trader"
)

// Generate 生成运行摘要（Markdown）
// 汇总持仓、去重库规模和近期信号的处理结果，管理接口按需调用
func Generate(db *config.Database, store *trader.PositionStore) (string, error) {
	var b strings.Builder
	now := time.Now().UTC()

	b.WriteString("# 信号执行摘要\n\n")
	b.WriteString(fmt.Sprintf("生成时间: %s\n\n", now.Format("2006-01-02 15:04:05 UTC")))

	writePositions(&b, store)

	if db != nil {
		if err := writeOutcomes(&b, db, now); err != nil {
			return "", err
		}
		if err := writeRecent(&b, db); err != nil {
			return "", err
		}
		if err := writeDedup(&b, db); err != nil {
			return "", err
		}
	}

	return b.String(), nil
}

// writePositions 当前持仓段
func writePositions(b *strings.Builder, store *trader.PositionStore) {
	b.WriteString("## 📊 当前持仓\n\n")

	snap := store.Snapshot()
	keys := make([]string, 0, len(snap))
	for k, p := range snap {
		if p.Side == "long" || p.Side == "short" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		b.WriteString("无持仓\n\n")
		return
	}
	sort.Strings(keys)

	b.WriteString("| 合约 | 方向 | 张数 | 开仓价 | 冷却截止 |\n")
	b.WriteString("|------|------|------|--------|----------|\n")
	for _, k := range keys {
		p := snap[k]
		cooldown := "-"
		if !p.CooldownUntil.IsZero() {
			cooldown = p.CooldownUntil.UTC().Format("15:04:05")
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %d | %.4f | %s |\n",
			k, p.Side, p.Size, p.EntryPrice, cooldown))
	}
	b.WriteString("\n")
}

// writeOutcomes 24小时/7天的结果码分布
func writeOutcomes(b *strings.Builder, db *config.Database, now time.Time) error {
	b.WriteString("## 🔄 信号结果分布\n\n")

	for _, window := range []struct {
		label string
		since time.Time
	}{
		{"最近24小时", now.Add(-24 * time.Hour)},
		{"最近7天", now.Add(-7 * 24 * time.Hour)},
	} {
		counts, err := db.OutcomeCounts(window.since)
		if err != nil {
			return fmt.Errorf("统计结果分布失败: %w", err)
		}

		b.WriteString(fmt.Sprintf("### %s\n\n", window.label))
		if len(counts) == 0 {
			b.WriteString("无记录\n\n")
			continue
		}

		statuses := make([]string, 0, len(counts))
		for s := range counts {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			b.WriteString(fmt.Sprintf("- %s: %d\n", s, counts[s]))
		}
		b.WriteString("\n")
	}
	return nil
}

// writeRecent 最近处理的信号
func writeRecent(b *strings.Builder, db *config.Database) error {
	signals, err := db.RecentSignals(10)
	if err != nil {
		return fmt.Errorf("查询近期信号失败: %w", err)
	}

	b.WriteString("## 📨 最近信号\n\n")
	if len(signals) == 0 {
		b.WriteString("无记录\n\n")
		return nil
	}

	b.WriteString("| 时间 | 交易对 | 方向 | 结果 |\n")
	b.WriteString("|------|--------|------|------|\n")
	for _, s := range signals {
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			s.ProcessedAt, s.Symbol, s.Side, s.ResultStatus))
	}
	b.WriteString("\n")
	return nil
}

// writeDedup 去重库规模
func writeDedup(b *strings.Builder, db *config.Database) error {
	emails, signals, err := db.DedupCounts()
	if err != nil {
		return fmt.Errorf("查询去重库规模失败: %w", err)
	}
	b.WriteString("## 🗂 去重库\n\n")
	b.WriteString(fmt.Sprintf("- 已处理邮件: %d\n", emails))
	b.WriteString(fmt.Sprintf("- 已处理信号: %d\n", signals))
	return nil
}
