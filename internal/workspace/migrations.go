package workspace

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Migrate upgrades an old workspace.toml layout in place. Applied in
// order, each idempotent:
//
//  1. [repos.*] tables move to [folders.*].
//  2. [workspace].bot_token and [workspace].telegram_group_id move to
//     [telegram].bot_token and [telegram].chat_id.
//
// A <path>.bak copy of the original is written before the first rewrite.
// An already-migrated file is left untouched and no backup is created.
func Migrate(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	var doc map[string]any
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return false, &ConfigError{Path: path, Msg: fmt.Sprintf("parse for migration: %v", err)}
	}

	changed := migrateReposToFolders(doc)
	changed = migrateTelegramFields(doc) || changed
	if !changed {
		return false, nil
	}

	if err := os.WriteFile(path+".bak", raw, 0644); err != nil {
		return false, fmt.Errorf("write config backup: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return false, fmt.Errorf("encode migrated config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return false, err
	}
	return true, nil
}

// migrateReposToFolders renames the [repos] table to [folders]. When both
// exist the stale [repos] table is dropped.
func migrateReposToFolders(doc map[string]any) bool {
	repos, ok := doc["repos"]
	if !ok {
		return false
	}
	if _, hasFolders := doc["folders"]; !hasFolders {
		doc["folders"] = repos
	}
	delete(doc, "repos")
	return true
}

// migrateTelegramFields moves bot_token and telegram_group_id out of
// [workspace] into [telegram].
func migrateTelegramFields(doc map[string]any) bool {
	ws, ok := doc["workspace"].(map[string]any)
	if !ok {
		return false
	}
	token, hasToken := ws["bot_token"]
	group, hasGroup := ws["telegram_group_id"]
	if !hasToken && !hasGroup {
		return false
	}

	tg, ok := doc["telegram"].(map[string]any)
	if !ok {
		tg = make(map[string]any)
		doc["telegram"] = tg
	}
	if hasToken {
		if _, exists := tg["bot_token"]; !exists {
			tg["bot_token"] = token
		}
		delete(ws, "bot_token")
	}
	if hasGroup {
		if _, exists := tg["chat_id"]; !exists {
			tg["chat_id"] = group
		}
		delete(ws, "telegram_group_id")
	}
	return true
}
