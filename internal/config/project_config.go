package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// InitProjectScaffold 在 dir 下写入 .todoagent/config.json 默认模板；已存在则保留
// InitProjectScaffold writes a default .todoagent/config.json under dir.
// An existing file is left untouched and created reports false.
func InitProjectScaffold(dir string) (path string, created bool, err error) {
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return "", false, fmt.Errorf("get current working directory: %w", err)
		}
	}
	cfgDir := filepath.Join(dir, ".todoagent")
	path = filepath.Join(cfgDir, "config.json")

	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return path, false, fmt.Errorf("project config path is a directory: %s", path)
		}
		return path, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return path, false, fmt.Errorf("stat project config: %w", err)
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return path, false, fmt.Errorf("mkdir .todoagent: %w", err)
	}

	// 不把密钥写进模板 / never write a key into the template
	cfg := Default()
	cfg.Provider.APIKey = ""
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return path, false, fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return path, false, fmt.Errorf("write project config: %w", err)
	}
	return path, true, nil
}
