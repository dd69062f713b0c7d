// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和单机部署场景（审计存储的默认驱动）。
package sqlite

import (
	"database/sql"
	"fmt"

	"variant-engine/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) UpsertConflict(conflictColumns string, updateExprs []string) string {
	return dbutil.BuildUpsertConflict(conflictColumns, updateExprs)
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:audit.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// 单连接：SQLite 写并发本就受限，且 :memory: 下多连接各持独立数据库
	db.SetMaxOpenConns(1)

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 完整建表语句（等价于 PostgreSQL 版本）
const schema = `
-- runs
CREATE TABLE IF NOT EXISTS runs (
    id VARCHAR(64) PRIMARY KEY,
    variant_count INTEGER NOT NULL DEFAULT 0,
    archive_path TEXT,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- jobs（每个变体在一次 Run 中的最新状态）
CREATE TABLE IF NOT EXISTS jobs (
    run_id VARCHAR(64) NOT NULL REFERENCES runs(id),
    variant_id VARCHAR(128) NOT NULL,
    cluster_job_name VARCHAR(200),
    state VARCHAR(32) NOT NULL DEFAULT 'pending',
    attempt_count INTEGER NOT NULL DEFAULT 0,
    result_prefix TEXT,
    error TEXT,
    started_at DATETIME,
    finished_at DATETIME,
    updated_at DATETIME DEFAULT (datetime('now')),
    PRIMARY KEY (run_id, variant_id)
);

-- job_attempts（追加式审计历史，作业标识在 Run 销毁后仍可追溯）
CREATE TABLE IF NOT EXISTS job_attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id VARCHAR(64) NOT NULL,
    variant_id VARCHAR(128) NOT NULL,
    attempt INTEGER NOT NULL,
    cluster_job_name VARCHAR(200),
    state VARCHAR(32) NOT NULL,
    error TEXT,
    recorded_at DATETIME DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_job_attempts_run ON job_attempts(run_id, variant_id);
`
