package tools

// Result 工具执行结果，IsError 标记下游失败
// Result is the text reply of a tool; IsError marks a failed outcome
type Result struct {
	Text    string `json:"text"`
	IsError bool   `json:"isError,omitempty"`
}

func Success(text string) Result { return Result{Text: text} }

func Failure(text string) Result { return Result{Text: text, IsError: true} }
