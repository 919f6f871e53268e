package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sigbridge/signal"
	"sigbridge/trader"
)

func TestGenerateWithoutDatabase(t *testing.T) {
	store := trader.NewPositionStore()
	fill := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	store.SetOpen("ETH/USDT:USDT", signal.SideLong, 2, 2000, fill, fill.Add(5*time.Minute))

	report, err := Generate(nil, store)
	require.NoError(t, err)

	require.Contains(t, report, "# 信号执行摘要")
	require.Contains(t, report, "ETH/USDT:USDT")
	require.Contains(t, report, "| long |")
	// 无去重库时不渲染数据库相关段落
	require.NotContains(t, report, "去重库")
}

func TestGenerateEmptyPositions(t *testing.T) {
	report, err := Generate(nil, trader.NewPositionStore())
	require.NoError(t, err)
	require.Contains(t, report, "无持仓")
}
