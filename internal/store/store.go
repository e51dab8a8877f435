// 包 store: 提供与 PostgreSQL 的数据访问层，记录导出与飞行定位统计
package store

import (
	"context"
	"database/sql"
	"fmt"

	"map-export/internal/logger"

	_ "github.com/lib/pq"
)

// Store: 数据库访问入口，持有连接池并提供统计读写
// 约束：nil *Store 上的写入为空操作、读取返回零值，便于未配置数据库时照常服务。
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open: 使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	return &Store{db: db}, nil
}

// Close: 关闭数据库连接
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) enabled() bool { return s != nil && s.db != nil }

// ExportRecord: 一次导出的统计事实
type ExportRecord struct {
	Format string
	Bytes  int
	Capped bool
	Failed bool
}

// RecordExport: 递增累计与当日（按格式）导出计数；失败单独计数
func (s *Store) RecordExport(ctx context.Context, r ExportRecord) error {
	if !s.enabled() {
		return nil
	}
	ok, failed, capped := int64(1), int64(0), int64(0)
	if r.Failed {
		ok, failed = 0, 1
	}
	if r.Capped {
		capped = 1
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE _map_export_total
        SET exports=exports+$1, failures=failures+$2, bytes=bytes+$3 WHERE id=1`, ok, failed, int64(r.Bytes)); err != nil {
		return fmt.Errorf("update export totals: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO _map_export_daily(day, format, exports, failures, capped, bytes)
        VALUES(current_date, $1, $2, $3, $4, $5)
        ON CONFLICT (day, format) DO UPDATE SET
            exports=_map_export_daily.exports+EXCLUDED.exports,
            failures=_map_export_daily.failures+EXCLUDED.failures,
            capped=_map_export_daily.capped+EXCLUDED.capped,
            bytes=_map_export_daily.bytes+EXCLUDED.bytes`,
		r.Format, ok, failed, capped, int64(r.Bytes)); err != nil {
		return fmt.Errorf("upsert export daily: %w", err)
	}
	logger.L().Debug("stats_export_incr", "format", r.Format, "failed", r.Failed, "capped", r.Capped)
	return nil
}

// RecordFlyTo: 记录一次按国家代码飞行定位
func (s *Store) RecordFlyTo(ctx context.Context, iso string) error {
	if !s.enabled() || iso == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO _map_flyto_daily(day, iso, hits) VALUES(current_date, $1, 1)
        ON CONFLICT (day, iso) DO UPDATE SET hits=_map_flyto_daily.hits+1`, iso)
	if err != nil {
		return fmt.Errorf("upsert flyto daily: %w", err)
	}
	return nil
}

// Totals: 统计返回结构
type Totals struct {
	Total    int64            `json:"total"`
	Today    int64            `json:"today"`
	Failures int64            `json:"failures"`
	Bytes    int64            `json:"bytes"`
	ByFormat map[string]int64 `json:"by_format"`
	TopFlyTo []FlyToCount     `json:"top_flyto"`
}

// FlyToCount: 国家代码与定位次数
type FlyToCount struct {
	ISO  string `json:"iso"`
	Hits int64  `json:"hits"`
}

// GetTotals: 读取累计、当日与按格式的导出次数，以及近 7 天最常定位的国家
func (s *Store) GetTotals(ctx context.Context, top int) (*Totals, error) {
	t := &Totals{ByFormat: map[string]int64{}}
	if !s.enabled() {
		return t, nil
	}
	if top <= 0 {
		top = 10
	}
	row := s.db.QueryRowContext(ctx, "SELECT exports, failures, bytes FROM _map_export_total WHERE id=1")
	if err := row.Scan(&t.Total, &t.Failures, &t.Bytes); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("read export totals: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT format, exports FROM _map_export_daily WHERE day=current_date")
	if err != nil {
		return nil, fmt.Errorf("read export daily: %w", err)
	}
	for rows.Next() {
		var f string
		var n int64
		if err := rows.Scan(&f, &n); err != nil {
			rows.Close()
			return nil, err
		}
		t.ByFormat[f] = n
		t.Today += n
	}
	rows.Close()
	rows, err = s.db.QueryContext(ctx, `SELECT iso, SUM(hits) AS h FROM _map_flyto_daily
        WHERE day >= current_date - 6 GROUP BY iso ORDER BY h DESC, iso LIMIT $1`, top)
	if err != nil {
		return nil, fmt.Errorf("read flyto daily: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c FlyToCount
		if err := rows.Scan(&c.ISO, &c.Hits); err != nil {
			return nil, err
		}
		t.TopFlyTo = append(t.TopFlyTo, c)
	}
	logger.L().Debug("stats_totals", "total", t.Total, "today", t.Today)
	return t, rows.Err()
}
