package config

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Database 持久化去重库
// 记录已处理的邮件 Message-ID 和信号组合键，进程重启后依然生效
type Database struct {
	db      *sql.DB
	isMySQL bool // 标记是否为MySQL数据库
}

// NewDatabase 创建去重数据库
// dbPath可以是SQLite文件路径，也可以是MySQL连接字符串
// MySQL连接字符串格式: user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local
// 如果dbPath包含"@tcp("则认为是MySQL连接，否则认为是SQLite文件路径
func NewDatabase(dbPath string) (*Database, error) {
	var db *sql.DB
	var err error
	var isMySQL bool

	if strings.Contains(dbPath, "@tcp(") {
		// MySQL连接
		isMySQL = true
		db, err = sql.Open("mysql", dbPath)
		if err != nil {
			return nil, fmt.Errorf("打开MySQL数据库失败: %w", err)
		}
		// 连接池参数：生命周期压到3分钟，避免复用被服务端掐掉的旧连接
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetConnMaxIdleTime(1 * time.Minute)
		log.Printf("✅ 使用MySQL去重库")
	} else {
		// SQLite连接（默认）
		isMySQL = false
		db, err = sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, fmt.Errorf("打开SQLite数据库失败: %w", err)
		}

		// 🔒 WAL 模式：读不阻塞写，断电也能恢复
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("启用WAL模式失败: %w", err)
		}

		// 🔒 synchronous=FULL：去重记录丢一条就可能重复下单，持久性优先于写入速度
		if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置synchronous失败: %w", err)
		}
		log.Printf("✅ 使用SQLite去重库，已启用 WAL 模式和 FULL 同步")
	}

	// 测试数据库连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	database := &Database{db: db, isMySQL: isMySQL}
	if isMySQL {
		if err := database.createMySQLTables(); err != nil {
			return nil, fmt.Errorf("创建MySQL表失败: %w", err)
		}
	} else {
		if err := database.createTables(); err != nil {
			return nil, fmt.Errorf("创建表失败: %w", err)
		}
	}

	// 执行迁移（必须在建表之后）
	if err := database.RunMigrations(); err != nil {
		return nil, fmt.Errorf("执行数据库迁移失败: %w", err)
	}

	return database, nil
}

// createTables 创建SQLite数据库表
func (d *Database) createTables() error {
	queries := []string{
		// 已处理邮件表（按 Message-ID 去重）
		`CREATE TABLE IF NOT EXISTS processed_emails (
			message_id TEXT PRIMARY KEY,
			bar_ts TEXT DEFAULT '',
			symbol_tv TEXT DEFAULT '',
			side TEXT DEFAULT '',
			processed_at TEXT NOT NULL,
			result_status TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_emails(processed_at)`,

		// 已处理信号表（按信号组合键去重，覆盖同一K线的重复推送）
		`CREATE TABLE IF NOT EXISTS processed_signals (
			signal_key TEXT PRIMARY KEY,
			exchange TEXT DEFAULT '',
			symbol TEXT DEFAULT '',
			side TEXT DEFAULT '',
			timeframe TEXT DEFAULT '',
			time_unix_ms TEXT DEFAULT '',
			processed_at TEXT NOT NULL,
			result_status TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_processed_at ON processed_signals(processed_at)`,

		// 数据库版本表
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("执行建表语句失败: %w\nSQL: %s", err, query)
		}
	}

	return nil
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	return d.db.Close()
}
