package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tasktrack/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.UpdateLevel() != domain.AccessYellow {
		t.Fatalf("expected yellow update level, got %s", cfg.UpdateLevel())
	}
	if cfg.MoveLevel() != domain.AccessRed {
		t.Fatalf("expected red move level, got %s", cfg.MoveLevel())
	}
	if len(cfg.TaskTypes) != 3 {
		t.Fatalf("expected 3 seed task types, got %v", cfg.TaskTypes)
	}
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte("access:\n  update_level: green\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.UpdateLevel() != domain.AccessGreen {
		t.Fatalf("expected green, got %s", cfg.UpdateLevel())
	}
	if cfg.MoveLevel() != domain.AccessRed {
		t.Fatalf("expected default move level, got %s", cfg.MoveLevel())
	}
	if cfg.Pagination.DefaultLimit != 50 {
		t.Fatalf("expected default pagination, got %d", cfg.Pagination.DefaultLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"level":     "access:\n  update_level: purple\n",
		"limits":    "pagination:\n  default_limit: 100\n  max_limit: 10\n",
		"base path": "server:\n  base_path: v1\n",
		"dup type":  "task_types: [bug, bug]\n",
		"hook url":  "webhooks:\n  - events: [task.updated]\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadAndLoadOptional(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load optional: %v", err)
	}
	doc := "webhooks:\n  - url: http://127.0.0.1:9/hook\n    enabled: false\n"
	if err := os.WriteFile(filepath.Join(dir, "tasktrack.yml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Active() {
		t.Fatalf("expected one disabled webhook, got %+v", cfg.Webhooks)
	}
}
