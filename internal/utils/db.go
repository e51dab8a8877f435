package utils

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"

	_ "github.com/lib/pq"
)

// BuildPostgresDSNFromEnv 由 PG_* 环境变量拼接 DSN；用户名与密码做 URL 转义
func BuildPostgresDSNFromEnv() string {
	host := EnvString("PG_HOST", "localhost")
	port := EnvString("PG_PORT", "5432")
	user := EnvString("PG_USER", "postgres")
	pass := os.Getenv("PG_PASSWORD")
	db := EnvString("PG_DB", "mapexport")
	ssl := EnvString("PG_SSLMODE", "disable")
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(user),
		Host:     host + ":" + port,
		Path:     "/" + db,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	}
	return u.String()
}

// OpenPostgresFromEnv 打开连接池；PG_MAX_OPEN_CONNS/PG_MAX_IDLE_CONNS 调整池大小
func OpenPostgresFromEnv() (*sql.DB, error) {
	dsn := BuildPostgresDSNFromEnv()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(EnvInt("PG_MAX_OPEN_CONNS", 50))
	db.SetMaxIdleConns(EnvInt("PG_MAX_IDLE_CONNS", 25))
	return db, nil
}
