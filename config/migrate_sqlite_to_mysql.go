package config

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"
)

// MigrateSQLiteToMySQL 把本地 SQLite 去重库的数据搬进 MySQL
// 部署从单机 SQLite 切到 MySQL 时用一次，两张表都按主键去重导入，
// 已存在的记录保持不动
func MigrateSQLiteToMySQL(mysqlDB *Database, sqlitePath string) error {
	if !mysqlDB.isMySQL {
		return fmt.Errorf("目标数据库不是MySQL")
	}

	if _, err := os.Stat(sqlitePath); os.IsNotExist(err) {
		log.Printf("📋 SQLite数据库文件不存在，跳过数据迁移")
		return nil
	}

	log.Printf("🔄 检测到SQLite数据库文件: %s", sqlitePath)

	sqliteDB, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		return fmt.Errorf("打开SQLite数据库失败: %w", err)
	}
	defer sqliteDB.Close()

	if err := sqliteDB.Ping(); err != nil {
		return fmt.Errorf("SQLite数据库连接测试失败: %w", err)
	}

	var emailCount, signalCount int
	sqliteDB.QueryRow("SELECT COUNT(*) FROM processed_emails").Scan(&emailCount)
	sqliteDB.QueryRow("SELECT COUNT(*) FROM processed_signals").Scan(&signalCount)

	if emailCount == 0 && signalCount == 0 {
		log.Printf("✅ SQLite数据库为空，无需迁移")
		return nil
	}

	log.Printf("📊 SQLite数据统计: %d 条邮件记录, %d 条信号记录", emailCount, signalCount)

	migrated := 0

	if count, err := migrateProcessedEmails(sqliteDB, mysqlDB); err != nil {
		log.Printf("⚠️  迁移邮件记录失败: %v", err)
	} else {
		migrated += count
		log.Printf("✓ 迁移了 %d 条邮件记录", count)
	}

	if count, err := migrateProcessedSignals(sqliteDB, mysqlDB); err != nil {
		log.Printf("⚠️  迁移信号记录失败: %v", err)
	} else {
		migrated += count
		log.Printf("✓ 迁移了 %d 条信号记录", count)
	}

	log.Printf("✅ 数据迁移完成，共迁移 %d 条记录", migrated)
	return nil
}

// migrateProcessedEmails 迁移 processed_emails 表
func migrateProcessedEmails(sqliteDB *sql.DB, mysqlDB *Database) (int, error) {
	rows, err := sqliteDB.Query(
		`SELECT message_id, bar_ts, symbol_tv, side, processed_at, result_status FROM processed_emails`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var messageID, barTS, symbolTV, side, processedAt, status sql.NullString
		if err := rows.Scan(&messageID, &barTS, &symbolTV, &side, &processedAt, &status); err != nil {
			return count, err
		}

		_, err := mysqlDB.db.Exec(
			`INSERT IGNORE INTO processed_emails (message_id, bar_ts, symbol_tv, side, processed_at, result_status)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			messageID.String, barTS.String, symbolTV.String, side.String, processedAt.String, status.String)
		if err != nil {
			log.Printf("⚠️  导入邮件记录 %s 失败: %v", messageID.String, err)
			continue
		}
		count++
	}
	return count, rows.Err()
}

// migrateProcessedSignals 迁移 processed_signals 表
func migrateProcessedSignals(sqliteDB *sql.DB, mysqlDB *Database) (int, error) {
	rows, err := sqliteDB.Query(
		`SELECT signal_key, exchange, symbol, side, timeframe, time_unix_ms, processed_at, result_status
		 FROM processed_signals`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var key, exchange, symbol, side, timeframe, timeMS, processedAt, status sql.NullString
		if err := rows.Scan(&key, &exchange, &symbol, &side, &timeframe, &timeMS, &processedAt, &status); err != nil {
			return count, err
		}

		_, err := mysqlDB.db.Exec(
			`INSERT IGNORE INTO processed_signals (signal_key, exchange, symbol, side, timeframe, time_unix_ms, processed_at, result_status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			key.String, exchange.String, symbol.String, side.String,
			timeframe.String, timeMS.String, processedAt.String, status.String)
		if err != nil {
			log.Printf("⚠️  导入信号记录 %s 失败: %v", key.String, err)
			continue
		}
		count++
	}
	return count, rows.Err()
}
