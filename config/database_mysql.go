package config

import (
	"fmt"
)

// createMySQLTables 创建MySQL数据库表
// 与SQLite版本字段保持一致，仅类型和索引语法按MySQL调整
func (d *Database) createMySQLTables() error {
	queries := []string{
		// 已处理邮件表（按 Message-ID 去重）
		`CREATE TABLE IF NOT EXISTS processed_emails (
			message_id VARCHAR(512) PRIMARY KEY,
			bar_ts VARCHAR(64) DEFAULT '',
			symbol_tv VARCHAR(64) DEFAULT '',
			side VARCHAR(16) DEFAULT '',
			processed_at VARCHAR(64) NOT NULL,
			result_status VARCHAR(64) DEFAULT '',
			INDEX idx_processed_at (processed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		// 已处理信号表（按信号组合键去重）
		`CREATE TABLE IF NOT EXISTS processed_signals (
			signal_key VARCHAR(512) PRIMARY KEY,
			exchange VARCHAR(64) DEFAULT '',
			symbol VARCHAR(64) DEFAULT '',
			side VARCHAR(16) DEFAULT '',
			timeframe VARCHAR(16) DEFAULT '',
			time_unix_ms VARCHAR(32) DEFAULT '',
			processed_at VARCHAR(64) NOT NULL,
			result_status VARCHAR(64) DEFAULT '',
			INDEX idx_signal_processed_at (processed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,

		// 数据库版本表
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("执行MySQL建表语句失败: %w\nSQL: %s", err, query)
		}
	}

	return nil
}
