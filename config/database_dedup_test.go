package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAdmitEmailOnce(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	ok, err := db.AdmitEmail("<msg-1@mail.gmail.com>", now)
	require.NoError(t, err)
	require.True(t, ok)

	// 重投同一个 Message-ID
	ok, err = db.AdmitEmail("<msg-1@mail.gmail.com>", now)
	require.NoError(t, err)
	require.False(t, ok)

	processed, err := db.EmailProcessed("<msg-1@mail.gmail.com>")
	require.NoError(t, err)
	require.True(t, processed)
}

func TestAdmitSignalOnce(t *testing.T) {
	db := newTestDB(t)
	key := "2026-08-23T10:00:00Z:ETHUSDT:long"

	ok, err := db.AdmitSignal(key, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = db.AdmitSignal(key, time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkOverwritesAccepted(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	_, err := db.AdmitEmail("<m@x>", now)
	require.NoError(t, err)
	require.NoError(t, db.MarkEmailProcessed("<m@x>", "2026-08-23T10:00:00Z", "ETHUSDT", "long", "simulated_ok"))

	// 占位被覆盖后 Message-ID 依然算已处理
	processed, err := db.EmailProcessed("<m@x>")
	require.NoError(t, err)
	require.True(t, processed)

	key := "2026-08-23T10:00:00Z:ETHUSDT:long"
	_, err = db.AdmitSignal(key, now)
	require.NoError(t, err)
	require.NoError(t, db.MarkSignalProcessed(key, "bitget", "ETH/USDT:USDT", "long", "15", "1787480100000", "simulated_ok"))

	recent, err := db.RecentSignals(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "simulated_ok", recent[0].ResultStatus)
	require.Equal(t, "ETH/USDT:USDT", recent[0].Symbol)
}

func TestPruneKeepsRecentRecords(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	// 一条 40 天前的老记录，一条刚处理的
	_, err := db.AdmitEmail("<old@x>", now.Add(-40*24*time.Hour))
	require.NoError(t, err)
	_, err = db.AdmitEmail("<fresh@x>", now)
	require.NoError(t, err)
	_, err = db.AdmitSignal("old-key", now.Add(-40*24*time.Hour))
	require.NoError(t, err)
	_, err = db.AdmitSignal("fresh-key", now)
	require.NoError(t, err)

	deleted, err := db.PruneProcessed(now.Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	// 近期记录不受影响：重投依然被拦
	processed, err := db.EmailProcessed("<fresh@x>")
	require.NoError(t, err)
	require.True(t, processed)
	ok, err := db.AdmitSignal("fresh-key", now)
	require.NoError(t, err)
	require.False(t, ok, "pruning must not re-admit recent keys")

	emails, signals, err := db.DedupCounts()
	require.NoError(t, err)
	require.Equal(t, int64(1), emails)
	require.Equal(t, int64(1), signals)
}

func TestOutcomeCounts(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.MarkSignalProcessed("k1", "", "ETH/USDT:USDT", "long", "", "", "ok"))
	require.NoError(t, db.MarkSignalProcessed("k2", "", "ETH/USDT:USDT", "short", "", "", "ok"))
	require.NoError(t, db.MarkSignalProcessed("k3", "", "BTC/USDT:USDT", "long", "", "", "cooldown"))

	counts, err := db.OutcomeCounts(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), counts["ok"])
	require.Equal(t, int64(1), counts["cooldown"])
}
