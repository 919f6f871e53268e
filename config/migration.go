package config

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
)

// 当前数据库版本号
const CurrentSchemaVersion = 1

// Migration 迁移函数类型，isMySQL 区分方言
type Migration func(db *sql.DB, isMySQL bool) error

// migrations 所有迁移脚本，按版本号顺序
var migrations = map[int]Migration{
	1: migrationV1, // 补齐早期部署缺失的 result_status 字段
}

// migrationV1 早期去重库只有 message_id/processed_at 两列，补齐 result_status
func migrationV1(db *sql.DB, isMySQL bool) error {
	log.Println("🔄 开始执行数据库迁移 v1: 补齐 processed_emails.result_status 字段")

	columnType := "TEXT DEFAULT ''"
	if isMySQL {
		columnType = "VARCHAR(64) DEFAULT ''"
	}

	_, err := db.Exec(`ALTER TABLE processed_emails ADD COLUMN result_status ` + columnType)
	if err != nil && !isDuplicateColumnError(err) {
		return fmt.Errorf("添加 result_status 字段失败: %w", err)
	}
	if err != nil {
		log.Println("  ✓ result_status 字段已存在，跳过")
	} else {
		log.Println("  ✅ result_status 字段添加成功")
	}

	log.Println("✅ 数据库迁移 v1 完成")
	return nil
}

// getCurrentSchemaVersion 获取当前数据库版本
func getCurrentSchemaVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// setSchemaVersion 记录已应用的版本
func (d *Database) setSchemaVersion(version int) error {
	_, err := d.db.Exec(d.insertIgnore()+` schema_version (version) VALUES (?)`, version)
	return err
}

// RunMigrations 执行数据库迁移（建表之后调用）
func (d *Database) RunMigrations() error {
	currentVersion, err := getCurrentSchemaVersion(d.db)
	if err != nil {
		return fmt.Errorf("获取当前数据库版本失败: %w", err)
	}

	if currentVersion >= CurrentSchemaVersion {
		return nil
	}

	log.Printf("📊 当前数据库版本: %d, 目标版本: %d", currentVersion, CurrentSchemaVersion)

	for version := currentVersion + 1; version <= CurrentSchemaVersion; version++ {
		migration, exists := migrations[version]
		if !exists {
			log.Printf("⚠️  迁移版本 %d 不存在，跳过", version)
			continue
		}

		if err := migration(d.db, d.isMySQL); err != nil {
			return fmt.Errorf("执行迁移 v%d 失败: %w", version, err)
		}

		if err := d.setSchemaVersion(version); err != nil {
			return fmt.Errorf("记录迁移版本失败: %w", err)
		}
		log.Printf("✅ 迁移 v%d 完成并已记录", version)
	}

	return nil
}

// isDuplicateColumnError 字段已存在时 ALTER TABLE 的报错
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Duplicate column name") ||
		strings.Contains(errStr, "1060") ||
		strings.Contains(errStr, "duplicate column")
}
