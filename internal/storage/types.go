package storage

// Todo 待办记录
// Todo is a single todo record
type Todo struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// TodoPatch 部分更新；nil 字段保持不变
// TodoPatch is a partial update; nil fields are left unchanged
type TodoPatch struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TodoPatch) Empty() bool {
	return p.Title == nil && p.Completed == nil
}
