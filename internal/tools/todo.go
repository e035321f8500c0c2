package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"todoagent/internal/api"
	"todoagent/internal/chat"
	"todoagent/internal/i18n"
	"todoagent/internal/storage"
)

// TodoService 工具所依赖的 Record API 操作
// TodoService is the subset of the Record API the todo tools delegate to.
// *api.Client satisfies it.
type TodoService interface {
	ListTodos(ctx context.Context) ([]storage.Todo, error)
	CreateTodo(ctx context.Context, title string) (storage.Todo, error)
	UpdateTodo(ctx context.Context, id int64, patch storage.TodoPatch) (storage.Todo, error)
	DeleteTodo(ctx context.Context, id int64) error
}

const (
	NameAddTodo    = "addTodoItem"
	NameDeleteTodo = "deleteTodoItem"
	NameUpdateTodo = "updateTodoItem"
	NameListTodos  = "listTodoItems"
)

// TodoTools 返回全部待办工具 / returns every todo tool bound to svc
func TodoTools(svc TodoService, loc *i18n.I18n) []Tool {
	if loc == nil {
		loc = i18n.Global()
	}
	return []Tool{
		&AddTodoTool{svc: svc, loc: loc},
		&DeleteTodoTool{svc: svc, loc: loc},
		&UpdateTodoTool{svc: svc, loc: loc},
		&ListTodoTool{svc: svc, loc: loc},
	}
}

// RegisterTodoTools registers the todo tools on r.
func RegisterTodoTools(r *Registry, svc TodoService, loc *i18n.I18n) error {
	for _, t := range TodoTools(svc, loc) {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func functionDef(name, description string, params map[string]any) chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

// downstreamMessage 把 API 错误转为给模型看的简短说明
func downstreamMessage(err error) string {
	var se *api.StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return err.Error()
}

// clientFailure 4xx 属于业务失败，其余视为执行错误
// clientFailure reports whether err is a 4xx answer the model should read as a failed result
func clientFailure(err error) bool {
	var se *api.StatusError
	return errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500
}

// maxTodoID JSON 数字可精确表示的最大整数 / largest integer a JSON number carries exactly
const maxTodoID = 1<<53 - 1

func idProperty() map[string]any {
	return map[string]any{
		"type":        "integer",
		"minimum":     1,
		"maximum":     maxTodoID,
		"description": "Id of the todo item",
	}
}

// todoID 把已通过 schema 的 id 转为 int64，整数值的浮点写法 (2.0) 也接受
// todoID converts a schema-checked id to int64. Integral floats such as 2.0 are accepted.
func todoID(n json.Number) (int64, error) {
	if id, err := n.Int64(); err == nil && id >= 1 && id <= maxTodoID {
		return id, nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < 1 || f > maxTodoID {
		return 0, fmt.Errorf("id %q is not a valid todo id", n.String())
	}
	return int64(f), nil
}

// --- addTodoItem ---

type AddTodoTool struct {
	svc TodoService
	loc *i18n.I18n
}

func (t *AddTodoTool) Name() string { return NameAddTodo }

func (t *AddTodoTool) Definition() chat.ToolDef {
	return functionDef(t.Name(), t.loc.T("tool.desc.add"), schemaObject(map[string]any{
		"title": map[string]any{
			"type":        "string",
			"minLength":   1,
			"description": "Title of the todo item",
		},
	}, "title"))
}

func (t *AddTodoTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Result{}, fmt.Errorf("decode arguments: %w", err)
	}
	item, err := t.svc.CreateTodo(ctx, in.Title)
	if err != nil {
		if clientFailure(err) {
			return Failure(t.loc.T("tool.add.failed", in.Title, downstreamMessage(err))), nil
		}
		return Result{}, fmt.Errorf("create todo: %w", err)
	}
	return Success(t.loc.T("tool.add.ok", item.Title, item.ID)), nil
}

// --- deleteTodoItem ---

type DeleteTodoTool struct {
	svc TodoService
	loc *i18n.I18n
}

func (t *DeleteTodoTool) Name() string { return NameDeleteTodo }

func (t *DeleteTodoTool) Definition() chat.ToolDef {
	return functionDef(t.Name(), t.loc.T("tool.desc.delete"), schemaObject(map[string]any{
		"id": idProperty(),
	}, "id"))
}

func (t *DeleteTodoTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Result{}, fmt.Errorf("decode arguments: %w", err)
	}
	id, err := todoID(in.ID)
	if err != nil {
		return Result{}, err
	}
	if err := t.svc.DeleteTodo(ctx, id); err != nil {
		if api.IsNotFound(err) {
			return Failure(t.loc.T("tool.delete.not_found", id)), nil
		}
		if clientFailure(err) {
			return Failure(t.loc.T("tool.delete.failed", id, downstreamMessage(err))), nil
		}
		return Result{}, fmt.Errorf("delete todo %d: %w", id, err)
	}
	return Success(t.loc.T("tool.delete.ok", id)), nil
}

// --- updateTodoItem ---

type UpdateTodoTool struct {
	svc TodoService
	loc *i18n.I18n
}

func (t *UpdateTodoTool) Name() string { return NameUpdateTodo }

func (t *UpdateTodoTool) Definition() chat.ToolDef {
	return functionDef(t.Name(), t.loc.T("tool.desc.update"), schemaObject(map[string]any{
		"id": idProperty(),
		"completed": map[string]any{
			"type":        "boolean",
			"description": "New completion state",
		},
	}, "id", "completed"))
}

func (t *UpdateTodoTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		ID        json.Number `json:"id"`
		Completed bool        `json:"completed"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Result{}, fmt.Errorf("decode arguments: %w", err)
	}
	id, err := todoID(in.ID)
	if err != nil {
		return Result{}, err
	}
	item, err := t.svc.UpdateTodo(ctx, id, storage.TodoPatch{Completed: &in.Completed})
	if err != nil {
		if api.IsNotFound(err) {
			return Failure(t.loc.T("tool.update.not_found", id)), nil
		}
		if clientFailure(err) {
			return Failure(t.loc.T("tool.update.failed", id, downstreamMessage(err))), nil
		}
		return Result{}, fmt.Errorf("update todo %d: %w", id, err)
	}
	return Success(t.loc.T("tool.update.ok", item.ID, item.Title, stateLabel(t.loc, item.Completed))), nil
}

// --- listTodoItems ---

type ListTodoTool struct {
	svc TodoService
	loc *i18n.I18n
}

func (t *ListTodoTool) Name() string { return NameListTodos }

func (t *ListTodoTool) Definition() chat.ToolDef {
	return functionDef(t.Name(), t.loc.T("tool.desc.list"), schemaObject(map[string]any{}))
}

func (t *ListTodoTool) Execute(ctx context.Context, _ json.RawMessage) (Result, error) {
	items, err := t.svc.ListTodos(ctx)
	if err != nil {
		if clientFailure(err) {
			return Failure(t.loc.T("tool.list.failed", downstreamMessage(err))), nil
		}
		return Result{}, fmt.Errorf("list todos: %w", err)
	}
	if len(items) == 0 {
		return Success(t.loc.T("tool.list.empty")), nil
	}
	var b strings.Builder
	b.WriteString(t.loc.T("tool.list.header"))
	for _, item := range items {
		mark := " "
		if item.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "\n- [%s] #%d %s", mark, item.ID, item.Title)
	}
	return Success(b.String()), nil
}

func stateLabel(loc *i18n.I18n, completed bool) string {
	if completed {
		return loc.T("todo.state.completed")
	}
	return loc.T("todo.state.open")
}
