package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// PRAGMA 按连接生效，单连接保证一致 / PRAGMAs are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS todos (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		title      TEXT NOT NULL,
		completed  INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Todo Operations ---

func (s *SQLiteStore) ListTodos(ctx context.Context) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, completed FROM todos ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	items := []Todo{}
	for rows.Next() {
		item, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) GetTodo(ctx context.Context, id int64) (Todo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, completed FROM todos WHERE id=?`, id)
	item, err := scanTodo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Todo{}, ErrNotFound
		}
		return Todo{}, fmt.Errorf("load todo: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) CreateTodo(ctx context.Context, title string) (Todo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Todo{}, ErrTitleRequired
	}
	now := nowUTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO todos (title, completed, created_at, updated_at)
		VALUES (?, 0, ?, ?)`, title, now, now)
	if err != nil {
		return Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Todo{}, fmt.Errorf("insert todo id: %w", err)
	}
	return Todo{ID: id, Title: title, Completed: false}, nil
}

func (s *SQLiteStore) UpdateTodo(ctx context.Context, id int64, patch TodoPatch) (Todo, error) {
	// 空补丁不写库，也不刷新 updated_at / an empty patch is a read
	if patch.Empty() {
		return s.GetTodo(ctx, id)
	}
	var title *string
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return Todo{}, ErrTitleRequired
		}
		title = &trimmed
	}
	var completed *int
	if patch.Completed != nil {
		v := boolToInt(*patch.Completed)
		completed = &v
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE todos SET
			title      = COALESCE(?, title),
			completed  = COALESCE(?, completed),
			updated_at = ?
		WHERE id=?
		RETURNING id, title, completed`,
		title, completed, nowUTC(), id,
	)
	item, err := scanTodo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Todo{}, ErrNotFound
		}
		return Todo{}, fmt.Errorf("update todo: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) DeleteTodo(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM todos WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (Todo, error) {
	var item Todo
	var completed int
	if err := row.Scan(&item.ID, &item.Title, &completed); err != nil {
		return Todo{}, err
	}
	item.Completed = completed != 0
	return item, nil
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
