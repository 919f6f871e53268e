package signal

import (
	"log"
	"sync"
	"time"
)

// DurableStore 持久化去重库接口，由 config.Database 实现
// Admit* 必须原子：同一个键并发抢占时只有一个调用方拿到 true
type DurableStore interface {
	// AdmitEmail 尝试占用邮件 Message-ID，首次占用返回 true
	AdmitEmail(messageID string, now time.Time) (bool, error)
	// AdmitSignal 尝试占用信号组合键，首次占用返回 true
	AdmitSignal(key string, now time.Time) (bool, error)
	// MarkEmailProcessed 回写邮件的最终处理结果
	MarkEmailProcessed(messageID, barTS, symbolTV, side, status string) error
	// MarkSignalProcessed 回写信号组合键的最终处理结果
	MarkSignalProcessed(key, exchange, symbol, side, timeframe, timeUnixMS, status string) error
	// DedupCounts 两张去重表的记录数
	DedupCounts() (emails, signals int64, err error)
}

// Gate 幂等闸门
// webhook 信号走进程内集合（重启后失效，接受的已知限制）
// 邮件信号走持久化库，跨重启依然去重
//
// 键在首次准入时即被消耗：即使后续因冷却等原因中止，也不会归还 —— 这是为了
// 保证同一根K线至多触发一次下单尝试
type Gate struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	store DurableStore // 可为 nil（纯 webhook 部署）
}

// NewGate 创建幂等闸门
func NewGate(store DurableStore) *Gate {
	return &Gate{
		seen:  make(map[string]struct{}),
		store: store,
	}
}

// Admit 判定信号是否首次出现，是则占用对应的去重键
// 持久化库故障时放行并告警（fail-open）：漏掉一次去重的代价低于漏掉一次信号
func (g *Gate) Admit(sig *Signal) bool {
	key := sig.DedupKey()

	if sig.Origin == OriginEmail && g.store != nil {
		now := sig.ReceivedAt
		if now.IsZero() {
			now = time.Now()
		}

		ok, err := g.store.AdmitEmail(sig.SourceIdentity, now)
		if err != nil {
			log.Printf("⚠️ 去重库查询失败，放行信号 %s: %v", sig.SourceIdentity, err)
			return true
		}
		if !ok {
			return false
		}

		// 同一根K线换了封新邮件重发：Message-ID 是新的，组合键会拦住
		ok, err = g.store.AdmitSignal(key, now)
		if err != nil {
			log.Printf("⚠️ 去重库查询失败，放行信号键 %s: %v", key, err)
			return true
		}
		return ok
	}

	// webhook：进程内集合，检查和插入在同一把锁内完成
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.seen[key]; dup {
		return false
	}
	g.seen[key] = struct{}{}
	return true
}

// Count 进程内已见键数量（运维可见性用）
func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
