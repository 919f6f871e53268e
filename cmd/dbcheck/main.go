package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"sigbridge/config"
)

func main() {
	dbPath := flag.String("db", "processed_signals.db", "SQLite 文件路径或 MySQL DSN")
	migrateFrom := flag.String("migrate-from", "", "把指定 SQLite 文件的去重记录迁入 -db 指向的 MySQL")
	recent := flag.Int("recent", 10, "显示最近 N 条信号记录")
	flag.Parse()

	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║           去重库检查工具                                    ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()

	if strings.Contains(*dbPath, "@tcp(") {
		fmt.Printf("📡 MySQL DSN: %s\n", maskPassword(*dbPath))
	} else {
		if info, err := os.Stat(*dbPath); err == nil {
			fmt.Printf("📁 SQLite文件: %s（%.2f KB）\n", *dbPath, float64(info.Size())/1024)
		} else {
			fmt.Printf("⚠️  SQLite文件不存在，将新建: %s\n", *dbPath)
		}
	}
	fmt.Println()

	db, err := config.NewDatabase(*dbPath)
	if err != nil {
		log.Fatalf("❌ 数据库连接失败: %v", err)
	}
	defer db.Close()

	if *migrateFrom != "" {
		if err := config.MigrateSQLiteToMySQL(db, *migrateFrom); err != nil {
			log.Fatalf("❌ 迁移失败: %v", err)
		}
		fmt.Println()
	}

	emails, signals, err := db.DedupCounts()
	if err != nil {
		log.Fatalf("❌ 统计失败: %v", err)
	}
	fmt.Println("📊 去重库统计:")
	fmt.Printf("  📧 已处理邮件: %d\n", emails)
	fmt.Printf("  📨 已处理信号: %d\n", signals)
	fmt.Println()

	rows, err := db.RecentSignals(*recent)
	if err != nil {
		log.Fatalf("❌ 查询近期信号失败: %v", err)
	}
	if len(rows) == 0 {
		fmt.Println("（暂无信号记录）")
		return
	}

	fmt.Printf("🕑 最近 %d 条信号:\n", len(rows))
	for _, s := range rows {
		fmt.Printf("  %s  %-16s %-5s → %s\n", s.ProcessedAt, s.Symbol, s.Side, s.ResultStatus)
	}
}

func maskPassword(dsn string) string {
	colon := strings.Index(dsn, ":")
	at := strings.Index(dsn, "@")
	if colon >= 0 && at > colon {
		return dsn[:colon+1] + "***" + dsn[at:]
	}
	return dsn
}
