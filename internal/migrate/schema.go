package migrate

import (
	"database/sql"
	"fmt"

	"map-export/internal/logger"
)

// 背景：首次运行自动创建统计所需表与索引
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _map_export_total (
            id INT PRIMARY KEY,
            exports BIGINT NOT NULL DEFAULT 0,
            failures BIGINT NOT NULL DEFAULT 0,
            bytes BIGINT NOT NULL DEFAULT 0
        )`,
		`INSERT INTO _map_export_total(id, exports, failures, bytes)
         VALUES(1, 0, 0, 0)
         ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS _map_export_daily (
            day DATE NOT NULL,
            format TEXT NOT NULL,
            exports BIGINT NOT NULL DEFAULT 0,
            failures BIGINT NOT NULL DEFAULT 0,
            capped BIGINT NOT NULL DEFAULT 0,
            bytes BIGINT NOT NULL DEFAULT 0,
            PRIMARY KEY (day, format)
        )`,
		`CREATE TABLE IF NOT EXISTS _map_flyto_daily (
            day DATE NOT NULL,
            iso TEXT NOT NULL,
            hits BIGINT NOT NULL DEFAULT 0,
            PRIMARY KEY (day, iso)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_flyto_day ON _map_flyto_daily(day)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("schema stmt %d: %w", i, err)
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
