package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type APIConfig struct {
	Listen        string `json:"listen"`
	BaseURL       string `json:"base_url"`
	AllowedOrigin string `json:"allowed_origin"`
	TimeoutMS     int    `json:"timeout_ms"`
}

type StorageConfig struct {
	DBPath string `json:"db_path"`
}

type MCPConfig struct {
	Listen      string `json:"listen"`
	URL         string `json:"url"`
	HeartbeatMS int    `json:"heartbeat_ms"`
	QueueSize   int    `json:"queue_size"`
}

type ProviderConfig struct {
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

type ChatConfig struct {
	Listen            string `json:"listen"`
	URL               string `json:"url"`
	MaxSteps          int    `json:"max_steps"`
	ContextTokenLimit int    `json:"context_token_limit"`
	SystemPrompt      string `json:"system_prompt"`
}

type UIConfig struct {
	RefreshMS int    `json:"refresh_ms"`
	Lang      string `json:"lang"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type Config struct {
	API      APIConfig      `json:"api"`
	Storage  StorageConfig  `json:"storage"`
	MCP      MCPConfig      `json:"mcp"`
	Provider ProviderConfig `json:"provider"`
	Chat     ChatConfig     `json:"chat"`
	UI       UIConfig       `json:"ui"`
	Log      LogConfig      `json:"log"`
}

// fileConfig 用指针区分 "未设置" 和零值
// fileConfig uses pointers so that absent sections are not merged
type fileConfig struct {
	API      *APIConfig      `json:"api"`
	Storage  *StorageConfig  `json:"storage"`
	MCP      *MCPConfig      `json:"mcp"`
	Provider *ProviderConfig `json:"provider"`
	Chat     *ChatConfig     `json:"chat"`
	UI       *UIConfig       `json:"ui"`
	Log      *LogConfig      `json:"log"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			Listen:        DefaultAPIListen,
			BaseURL:       "http://localhost:8080",
			AllowedOrigin: "http://localhost:3000",
			TimeoutMS:     10000,
		},
		Storage: StorageConfig{
			DBPath: "~/.todoagent/todo.db",
		},
		MCP: MCPConfig{
			Listen:      DefaultMCPListen,
			URL:         "http://localhost:3001/sse",
			HeartbeatMS: DefaultHeartbeatMS,
			QueueSize:   DefaultQueueSize,
		},
		Provider: ProviderConfig{
			BaseURL:   "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:     "gemini-2.0-flash-lite",
			TimeoutMS: 120000,
		},
		Chat: ChatConfig{
			Listen:            DefaultChatListen,
			URL:               "http://localhost:3000",
			MaxSteps:          DefaultChatMaxSteps,
			ContextTokenLimit: DefaultContextTokenLimit,
		},
		UI: UIConfig{
			RefreshMS: DefaultRefreshMS,
			Lang:      "en",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("TODO_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".todoagent")
	return []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "config.yaml"),
	}
}

func findProjectConfigPath() string {
	candidates := []string{
		"todoagent.config.json",
		"todoagent.config.yaml",
		".todoagent/config.json",
		".todoagent/config.yaml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var cleaned []byte
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		cleaned, err = yamlToJSON(data)
		if err != nil {
			return fmt.Errorf("parse config %q: %w", resolved, err)
		}
	default:
		cleaned = stripJSONComments(data)
	}

	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

// yamlToJSON 把 YAML 转成 JSON，复用同一套 json 标签
// yamlToJSON converts YAML to JSON so the json struct tags apply to both formats
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.API != nil {
		cfg.API = mergeAPI(cfg.API, *fc.API)
	}
	if fc.Storage != nil && strings.TrimSpace(fc.Storage.DBPath) != "" {
		cfg.Storage.DBPath = fc.Storage.DBPath
	}
	if fc.MCP != nil {
		cfg.MCP = mergeMCP(cfg.MCP, *fc.MCP)
	}
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Chat != nil {
		cfg.Chat = mergeChat(cfg.Chat, *fc.Chat)
	}
	if fc.UI != nil {
		if fc.UI.RefreshMS > 0 {
			cfg.UI.RefreshMS = fc.UI.RefreshMS
		}
		if strings.TrimSpace(fc.UI.Lang) != "" {
			cfg.UI.Lang = fc.UI.Lang
		}
	}
	if fc.Log != nil && strings.TrimSpace(fc.Log.Level) != "" {
		cfg.Log.Level = fc.Log.Level
	}
}

func mergeAPI(base, override APIConfig) APIConfig {
	if strings.TrimSpace(override.Listen) != "" {
		base.Listen = override.Listen
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.AllowedOrigin) != "" {
		base.AllowedOrigin = override.AllowedOrigin
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func mergeMCP(base, override MCPConfig) MCPConfig {
	if strings.TrimSpace(override.Listen) != "" {
		base.Listen = override.Listen
	}
	if strings.TrimSpace(override.URL) != "" {
		base.URL = override.URL
	}
	if override.HeartbeatMS > 0 {
		base.HeartbeatMS = override.HeartbeatMS
	}
	if override.QueueSize > 0 {
		base.QueueSize = override.QueueSize
	}
	return base
}

func mergeProvider(base, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func mergeChat(base, override ChatConfig) ChatConfig {
	if strings.TrimSpace(override.Listen) != "" {
		base.Listen = override.Listen
	}
	if strings.TrimSpace(override.URL) != "" {
		base.URL = override.URL
	}
	if override.MaxSteps > 0 {
		base.MaxSteps = override.MaxSteps
	}
	if override.ContextTokenLimit > 0 {
		base.ContextTokenLimit = override.ContextTokenLimit
	}
	if strings.TrimSpace(override.SystemPrompt) != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()
	if strings.TrimSpace(cfg.API.Listen) == "" {
		cfg.API.Listen = def.API.Listen
	}
	if cfg.API.TimeoutMS <= 0 {
		cfg.API.TimeoutMS = def.API.TimeoutMS
	}
	if cfg.MCP.HeartbeatMS <= 0 {
		cfg.MCP.HeartbeatMS = def.MCP.HeartbeatMS
	}
	if cfg.MCP.QueueSize <= 0 {
		cfg.MCP.QueueSize = def.MCP.QueueSize
	}
	if strings.TrimSpace(cfg.Provider.Model) == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Chat.MaxSteps <= 0 {
		cfg.Chat.MaxSteps = def.Chat.MaxSteps
	}
	if cfg.Chat.ContextTokenLimit <= 0 {
		cfg.Chat.ContextTokenLimit = def.Chat.ContextTokenLimit
	}
	if cfg.UI.RefreshMS <= 0 {
		cfg.UI.RefreshMS = def.UI.RefreshMS
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = def.Log.Level
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", cfg.Log.Level)
	}

	for name, raw := range map[string]string{
		"api.base_url":      cfg.API.BaseURL,
		"mcp.url":           cfg.MCP.URL,
		"provider.base_url": cfg.Provider.BaseURL,
		"chat.url":          cfg.Chat.URL,
	} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	cfg.Chat.URL = strings.TrimRight(strings.TrimSpace(cfg.Chat.URL), "/")

	if p := strings.TrimSpace(cfg.Storage.DBPath); p != "" {
		expanded, err := expandPath(p)
		if err != nil {
			return fmt.Errorf("expand storage.db_path: %w", err)
		}
		cfg.Storage.DBPath = expanded
	} else {
		return fmt.Errorf("storage.db_path is empty")
	}
	return nil
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&cfg.API.Listen, "TODO_API_LISTEN")
	setString(&cfg.API.BaseURL, "TODO_API_BASE_URL")
	setString(&cfg.Storage.DBPath, "TODO_DB_PATH")
	setString(&cfg.MCP.Listen, "TODO_MCP_LISTEN")
	setString(&cfg.MCP.URL, "TODO_MCP_URL")
	setString(&cfg.Chat.Listen, "TODO_CHAT_LISTEN")
	setString(&cfg.Chat.URL, "TODO_CHAT_URL")
	setString(&cfg.Provider.BaseURL, "TODO_BASE_URL")
	setString(&cfg.Provider.Model, "TODO_MODEL")
	setString(&cfg.Provider.APIKey, "TODO_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")
	setString(&cfg.UI.Lang, "TODO_LANG")
	setString(&cfg.Log.Level, "TODO_LOG_LEVEL")

	return cfg, normalize(&cfg)
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
