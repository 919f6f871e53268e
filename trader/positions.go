package trader

import (
	"sync"
	"time"

	"sigbridge/signal"
)

// Position 单个合约的持仓记录
// 记录按值存取，读方拿到的永远是一致的快照
type Position struct {
	Side          signal.Side `json:"side"`
	Size          int         `json:"size"` // 张数
	EntryPrice    float64     `json:"entry_price,omitempty"`
	LastFillAt    time.Time   `json:"last_fill_at,omitempty"`
	CooldownUntil time.Time   `json:"cooldown_until,omitempty"`
}

// CoolingDown 是否仍在冷却期内
func (p Position) CoolingDown(now time.Time) bool {
	return !p.CooldownUntil.IsZero() && now.Before(p.CooldownUntil)
}

// PositionStore 进程内持仓表：合约 → 持仓记录
// 唯一写方是执行引擎；状态接口等读方通过 Get/Snapshot 拿值拷贝
// 记录首次查询时隐式创建（flat），平仓后原地归零，从不删除
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]Position
}

// NewPositionStore 创建持仓表
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]Position)}
}

// Get 读取某个合约的持仓快照，未知合约视为 flat
func (s *PositionStore) Get(canonical string) Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.positions[canonical]; ok {
		return p
	}
	return Position{Side: signal.SideFlat}
}

// SetOpen 成交后写入新持仓
func (s *PositionStore) SetOpen(canonical string, side signal.Side, size int, entryPrice float64, fillAt, cooldownUntil time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[canonical] = Position{
		Side:          side,
		Size:          size,
		EntryPrice:    entryPrice,
		LastFillAt:    fillAt,
		CooldownUntil: cooldownUntil,
	}
}

// SetFlat 平仓后把记录归零
// 冷却时间保持不变：平仓腿本身不重置冷却，只有新开仓才会
func (s *PositionStore) SetFlat(canonical string, fillAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.positions[canonical]
	s.positions[canonical] = Position{
		Side:          signal.SideFlat,
		LastFillAt:    fillAt,
		CooldownUntil: prev.CooldownUntil,
	}
}

// Snapshot 全量持仓快照（值拷贝，调用方可随意读）
func (s *PositionStore) Snapshot() map[string]Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]Position, len(s.positions))
	for k, v := range s.positions {
		result[k] = v
	}
	return result
}

// OpenCount 当前非 flat 的持仓数量
func (s *PositionStore) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.positions {
		if p.Side == signal.SideLong || p.Side == signal.SideShort {
			n++
		}
	}
	return n
}
