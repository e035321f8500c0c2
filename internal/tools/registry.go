package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"todoagent/internal/chat"
)

var schemaPrinter = message.NewPrinter(language.English)

type entry struct {
	tool   Tool
	def    chat.ToolDef
	schema *jsonschema.Schema
}

// Registry 工具目录，启动时注册，之后只读
// Registry holds the tool catalog. Tools are registered at startup and read concurrently afterwards.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]entry), logger: logger}
}

// Register 注册工具并编译其参数 schema；同名重复注册返回 ErrDuplicateTool
// Register compiles the tool's argument schema and adds it; duplicate names are rejected
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if def.Function.Name != name {
		return fmt.Errorf("register tool %s: definition name %q does not match", name, def.Function.Name)
	}
	schema, err := compileSchema(name, def.Function.Parameters)
	if err != nil {
		return fmt.Errorf("register tool %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = entry{tool: t, def: def, schema: schema}
	return nil
}

func (r *Registry) Definitions() []chat.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]chat.ToolDef, 0, len(r.tools))
	for _, name := range r.namesLocked() {
		out = append(out, r.tools[name].def)
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Invoke 校验参数后调用工具
// Invoke validates raw arguments against the tool schema and runs the tool.
//
// Errors: ErrToolNotFound (wrapped), *ArgumentsError, *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) (Result, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	args := normalizeArgs(rawArgs)
	var inst any
	if err := json.Unmarshal(args, &inst); err != nil {
		return Result{}, &ArgumentsError{
			Tool:   name,
			Fields: []FieldError{{Message: "arguments are not valid JSON"}},
		}
	}
	if err := e.schema.Validate(inst); err != nil {
		return Result{}, &ArgumentsError{Tool: name, Fields: fieldErrors(err)}
	}

	res, err := e.tool.Execute(ctx, args)
	if err != nil {
		r.logger.Error("tool execution failed", "tool", name, "error", err)
		return Result{}, &ExecutionError{Tool: name, Err: err}
	}
	return res, nil
}

func normalizeArgs(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(trimmed)
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	// 经 JSON 往返得到编译器要求的通用类型 / round-trip to the generic types the compiler expects
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// fieldErrors 展开校验错误的叶子节点 / flattens validation error leaves into field errors
func fieldErrors(err error) []FieldError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []FieldError{{Message: err.Error()}}
	}
	var out []FieldError
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) > 0 {
			for _, c := range v.Causes {
				walk(c)
			}
			return
		}
		loc := strings.Join(v.InstanceLocation, ".")
		if req, ok := v.ErrorKind.(*kind.Required); ok {
			for _, missing := range req.Missing {
				field := missing
				if loc != "" {
					field = loc + "." + missing
				}
				out = append(out, FieldError{Field: field, Message: "is required"})
			}
			return
		}
		out = append(out, FieldError{Field: loc, Message: v.ErrorKind.LocalizedString(schemaPrinter)})
	}
	walk(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// schemaObject 构造 object 类型 schema / builds an object schema
func schemaObject(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
