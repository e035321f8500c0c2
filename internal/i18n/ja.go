package i18n

// JaMessages 日本語メッセージ
var JaMessages = map[string]string{
	"tool.add.ok":           "%sを追加しました (ID: %d)",
	"tool.add.failed":       "%sを追加できませんでした: %s",
	"tool.delete.ok":        "%dを削除しました",
	"tool.delete.not_found": "%dは存在しないため削除していません",
	"tool.delete.failed":    "%dを削除できませんでした: %s",
	"tool.update.ok":        "%d (%s) を%sに更新しました",
	"tool.update.not_found": "%dは存在しないため更新していません",
	"tool.update.failed":    "%dを更新できませんでした: %s",
	"tool.list.empty":       "TODOはありません",
	"tool.list.header":      "現在のTODO:",
	"tool.list.failed":      "TODOを取得できませんでした: %s",
	"tool.desc.add":         "指定したタイトルでTODOを追加します。",
	"tool.desc.delete":      "指定したIDのTODOを削除します。",
	"tool.desc.update":      "指定したIDのTODOの完了状態を更新します。",
	"tool.desc.list":        "すべてのTODOをIDと完了状態つきで一覧します。",
	"todo.state.completed":  "完了",
	"todo.state.open":       "未完了",

	"panel.chat":  "チャット",
	"panel.todos": "TODO",

	"status.ready":       "準備完了",
	"status.streaming":   "生成中...",
	"status.interrupted": "生成を中断しました",
	"status.offline":     "TODO APIに接続できません",

	"input.placeholder": "TODOの追加・完了・削除を依頼してください... (Alt+Enterで改行)",

	"keys.enter":  "enter 送信",
	"keys.esc":    "esc 中断",
	"keys.ctrl_l": "ctrl+l クリア",
	"keys.ctrl_c": "ctrl+c 終了",

	"todos.empty":   "TODOはまだありません",
	"todos.summary": "未完了 %d / 完了 %d",

	"chat.you":       "あなた",
	"chat.assistant": "アシスタント",

	"repl.welcome": "TODOチャット (/help でコマンド一覧)",
	"repl.help":    "コマンド: /todos 一覧, /clear 会話をリセット, /exit 終了",
	"repl.cleared": "会話をリセットしました。",
	"repl.unknown": "不明なコマンド: %s",
	"repl.bye":     "さようなら。",

	"error.chat":     "チャットエラー: %s",
	"error.provider": "プロバイダーエラー: %s",
	"error.api":      "TODO APIエラー: %s",
}
