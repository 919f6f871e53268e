package config

import (
	"database/sql"
	"fmt"
	"time"
)

// ProcessedSignal processed_signals 表的一行
type ProcessedSignal struct {
	SignalKey    string `json:"signal_key"`
	Exchange     string `json:"exchange"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Timeframe    string `json:"timeframe"`
	TimeUnixMS   string `json:"time_unix_ms"`
	ProcessedAt  string `json:"processed_at"`
	ResultStatus string `json:"result_status"`
}

// timestampFor processed_at 统一存 UTC RFC3339 字符串
// RFC3339 的字典序即时间序，裁剪时直接做字符串比较
func timestampFor(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}

// insertIgnore 按数据库方言返回"存在即忽略"的 INSERT 前缀
func (d *Database) insertIgnore() string {
	if d.isMySQL {
		return "INSERT IGNORE INTO"
	}
	return "INSERT OR IGNORE INTO"
}

// upsert 按数据库方言返回覆盖写的 INSERT 前缀
func (d *Database) upsert() string {
	if d.isMySQL {
		return "REPLACE INTO"
	}
	return "INSERT OR REPLACE INTO"
}

// AdmitEmail 尝试占用邮件 Message-ID，首次占用返回 true
// 检查和占用是同一条 INSERT：并发重投时只有一个调用方的 RowsAffected 为 1
func (d *Database) AdmitEmail(messageID string, now time.Time) (bool, error) {
	res, err := d.db.Exec(
		d.insertIgnore()+` processed_emails (message_id, processed_at, result_status) VALUES (?, ?, 'accepted')`,
		messageID, timestampFor(now))
	if err != nil {
		return false, fmt.Errorf("占用邮件记录失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AdmitSignal 尝试占用信号组合键，首次占用返回 true
func (d *Database) AdmitSignal(key string, now time.Time) (bool, error) {
	res, err := d.db.Exec(
		d.insertIgnore()+` processed_signals (signal_key, processed_at, result_status) VALUES (?, ?, 'accepted')`,
		key, timestampFor(now))
	if err != nil {
		return false, fmt.Errorf("占用信号记录失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// EmailProcessed 邮件是否已处理过
func (d *Database) EmailProcessed(messageID string) (bool, error) {
	var one int
	err := d.db.QueryRow(`SELECT 1 FROM processed_emails WHERE message_id = ?`, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SignalProcessed 信号组合键是否已处理过
func (d *Database) SignalProcessed(key string) (bool, error) {
	var one int
	err := d.db.QueryRow(`SELECT 1 FROM processed_signals WHERE signal_key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkEmailProcessed 回写邮件的最终处理结果（覆盖 accepted 占位）
func (d *Database) MarkEmailProcessed(messageID, barTS, symbolTV, side, status string) error {
	_, err := d.db.Exec(
		d.upsert()+` processed_emails (message_id, bar_ts, symbol_tv, side, processed_at, result_status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		messageID, barTS, symbolTV, side, timestampFor(time.Now()), status)
	if err != nil {
		return fmt.Errorf("回写邮件处理结果失败: %w", err)
	}
	return nil
}

// MarkSignalProcessed 回写信号组合键的最终处理结果
func (d *Database) MarkSignalProcessed(key, exchange, symbol, side, timeframe, timeUnixMS, status string) error {
	_, err := d.db.Exec(
		d.upsert()+` processed_signals (signal_key, exchange, symbol, side, timeframe, time_unix_ms, processed_at, result_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, exchange, symbol, side, timeframe, timeUnixMS, timestampFor(time.Now()), status)
	if err != nil {
		return fmt.Errorf("回写信号处理结果失败: %w", err)
	}
	return nil
}

// PruneProcessed 裁剪两张表里早于 olderThan 的记录，返回删除总数
// 裁剪不影响去重正确性：被删的只可能是远超时效上限的旧记录，
// 重新放进来也会被时效检查拦住
func (d *Database) PruneProcessed(olderThan time.Time) (int64, error) {
	cutoff := timestampFor(olderThan)
	var total int64

	for _, table := range []string{"processed_emails", "processed_signals"} {
		res, err := d.db.Exec(`DELETE FROM `+table+` WHERE processed_at < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("裁剪 %s 失败: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DedupCounts 两张去重表的记录数
func (d *Database) DedupCounts() (emails, signals int64, err error) {
	if err = d.db.QueryRow(`SELECT COUNT(*) FROM processed_emails`).Scan(&emails); err != nil {
		return 0, 0, err
	}
	if err = d.db.QueryRow(`SELECT COUNT(*) FROM processed_signals`).Scan(&signals); err != nil {
		return 0, 0, err
	}
	return emails, signals, nil
}

// OutcomeCounts 统计 since 之后各结果码的信号数量（运维报表用）
func (d *Database) OutcomeCounts(since time.Time) (map[string]int64, error) {
	rows, err := d.db.Query(
		`SELECT result_status, COUNT(*) FROM processed_signals WHERE processed_at >= ? GROUP BY result_status`,
		timestampFor(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RecentSignals 按处理时间倒序取最近的信号记录
func (d *Database) RecentSignals(limit int) ([]ProcessedSignal, error) {
	rows, err := d.db.Query(
		`SELECT signal_key, exchange, symbol, side, timeframe, time_unix_ms, processed_at, result_status
		 FROM processed_signals ORDER BY processed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ProcessedSignal
	for rows.Next() {
		var s ProcessedSignal
		if err := rows.Scan(&s.SignalKey, &s.Exchange, &s.Symbol, &s.Side,
			&s.Timeframe, &s.TimeUnixMS, &s.ProcessedAt, &s.ResultStatus); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
