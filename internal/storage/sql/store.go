package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"mailninja/backend/internal/storage"
	"mailninja/backend/migrations"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL），不依赖 ORM
type Store struct {
	db         *sql.DB
	driverName string // "mysql" or "postgres"
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建SQL数据库存储并执行内嵌的建表脚本
//
// MySQL 的 DSN 需要包含 parseTime=true。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driverName: driverName}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// migrate 执行内嵌的建表脚本（全部为 IF NOT EXISTS，可重复执行）
func (s *Store) migrate(ctx context.Context) error {
	script, err := migrations.Load(s.driverName, "up")
	if err != nil {
		return err
	}
	for _, stmt := range migrations.SplitStatements(script) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// rebind 把 ? 占位符转换为目标数据库的格式
func (s *Store) rebind(query string) string {
	if s.driverName != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertIgnore 返回冲突时忽略的插入语句前后缀
func (s *Store) insertIgnore() (prefix, suffix string) {
	if s.driverName == "postgres" {
		return "INSERT INTO", " ON CONFLICT DO NOTHING"
	}
	return "INSERT IGNORE INTO", ""
}

// withTx 在事务中执行 fn
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// inClause 生成 IN (?, ?, ...) 以及对应参数
func inClause(values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

// isDuplicateKey 识别唯一约束冲突
func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return false
}

func firstLine(stmt string) string {
	line := strings.SplitN(stmt, "\n", 2)[0]
	if len(line) > 60 {
		line = line[:60] + "..."
	}
	return line
}
