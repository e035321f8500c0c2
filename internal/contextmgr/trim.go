package contextmgr

import "todoagent/internal/chat"

// Trim 在 token 预算内保留最近的对话轮次
// Trim keeps the most recent conversation turns that fit within limit tokens.
//
// Leading system messages are always kept. A turn starts at a user message
// and runs until the next one, so an assistant tool call is never separated
// from its tool results. The latest turn survives even when it alone exceeds
// the limit. A non-positive limit disables trimming.
func (t *Tokenizer) Trim(messages []chat.Message, limit int) []chat.Message {
	if limit <= 0 || len(messages) == 0 {
		return messages
	}

	head := 0
	for head < len(messages) && messages[head].Role == chat.RoleSystem {
		head++
	}
	system := messages[:head]
	rest := messages[head:]
	if len(rest) == 0 {
		return messages
	}

	var starts []int
	for i, m := range rest {
		if i == 0 || m.Role == chat.RoleUser {
			starts = append(starts, i)
		}
	}

	budget := limit - t.Count(system)
	keepFrom := starts[len(starts)-1]
	budget -= t.Count(rest[keepFrom:])
	for i := len(starts) - 2; i >= 0; i-- {
		cost := t.Count(rest[starts[i]:keepFrom])
		if cost > budget {
			break
		}
		budget -= cost
		keepFrom = starts[i]
	}

	if keepFrom == 0 {
		return messages
	}
	out := make([]chat.Message, 0, len(system)+len(rest)-keepFrom)
	out = append(out, system...)
	return append(out, rest[keepFrom:]...)
}
