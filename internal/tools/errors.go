package tools

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound 工具未注册 / no tool with that name
	ErrToolNotFound = errors.New("tool not found")
	// ErrDuplicateTool 重复注册 / a tool with that name is already registered
	ErrDuplicateTool = errors.New("tool already registered")
)

// FieldError describes one argument that failed schema validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ArgumentsError 参数未通过 schema 校验，handler 未被调用
// ArgumentsError is returned when arguments fail validation; the handler was not called
type ArgumentsError struct {
	Tool   string
	Fields []FieldError
}

func (e *ArgumentsError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid arguments for %s", e.Tool)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// ExecutionError wraps a handler failure. Error() omits the cause;
// errors.Unwrap exposes it for server-side logging.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error in %s", e.Tool)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
