package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound 记录不存在 / The referenced todo does not exist
	ErrNotFound = errors.New("todo not found")
	// ErrTitleRequired 标题为空 / Title is missing or blank
	ErrTitleRequired = errors.New("title is required")
)

// Store 待办持久化接口
// Store is the persistence interface for todo records
type Store interface {
	ListTodos(ctx context.Context) ([]Todo, error)
	GetTodo(ctx context.Context, id int64) (Todo, error)
	CreateTodo(ctx context.Context, title string) (Todo, error)
	UpdateTodo(ctx context.Context, id int64, patch TodoPatch) (Todo, error)
	DeleteTodo(ctx context.Context, id int64) error

	// 生命周期 / Lifecycle
	Close() error
}
