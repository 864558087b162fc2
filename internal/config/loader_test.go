package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/foundry/internal/secrets"
)

func TestLoad(t *testing.T) {
	content := `{
	// This is a JSONC comment
	"intake": {
		"host": "0.0.0.0",
		"port": 9999,
		"secret": "${{ .Env.FOUNDRY_INTAKE_SECRET }}"
	},
	"budget": {
		"daily_ceiling_cents": 500
	},
	"pipeline": {
		"poll_interval": "10s",
		"max_review_cycles": 5
	},
	"models": {
		"default": "claude",
		"providers": {
			"claude": {
				"driver": "anthropic",
				"model": "claude-sonnet-4-20250514",
				"auth": {
					"api_key": "${{ .Env.ANTHROPIC_API_KEY }}"
				}
			}
		}
	},
	"forge": {
		"owner": "acme",
		"repo": "widgets",
	}
}`

	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "test-key-123")
	t.Setenv("FOUNDRY_INTAKE_SECRET", "hunter2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Intake.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Intake.Host)
	}
	if cfg.Intake.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Intake.Port)
	}
	if cfg.Intake.Secret != "hunter2" {
		t.Errorf("expected secret hunter2, got %s", cfg.Intake.Secret)
	}
	if cfg.Budget.DailyCeilingCents != 500 {
		t.Errorf("expected ceiling 500, got %d", cfg.Budget.DailyCeilingCents)
	}
	if cfg.Pipeline.PollInterval.Duration() != 10*time.Second {
		t.Errorf("expected poll interval 10s, got %s", cfg.Pipeline.PollInterval.Duration())
	}
	if cfg.Pipeline.MaxReviewCycles != 5 {
		t.Errorf("expected max_review_cycles 5, got %d", cfg.Pipeline.MaxReviewCycles)
	}
	if cfg.Forge.Owner != "acme" || cfg.Forge.Repo != "widgets" {
		t.Errorf("expected acme/widgets, got %s/%s", cfg.Forge.Owner, cfg.Forge.Repo)
	}

	p, ok := cfg.Models.Providers["claude"]
	if !ok {
		t.Fatal("expected claude provider")
	}
	if p.Auth.APIKey != "test-key-123" {
		t.Errorf("expected api_key test-key-123, got %s", p.Auth.APIKey)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FOUNDRY_PATH", dir)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Intake.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %s", cfg.Intake.Host)
	}
	if cfg.Intake.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Intake.Port)
	}
	if cfg.Store.Path != filepath.Join(dir, "foundry.db") {
		t.Errorf("expected default store under FOUNDRY_PATH, got %s", cfg.Store.Path)
	}
	if cfg.Budget.DailyCeilingCents != 1500 {
		t.Errorf("expected default ceiling 1500, got %d", cfg.Budget.DailyCeilingCents)
	}
	if cfg.Budget.InputCentsPerMtok != 300 || cfg.Budget.OutputCentsPerMtok != 1500 {
		t.Errorf("expected default pricing 300/1500, got %d/%d",
			cfg.Budget.InputCentsPerMtok, cfg.Budget.OutputCentsPerMtok)
	}
	if cfg.Pipeline.PollInterval.Duration() != 30*time.Second {
		t.Errorf("expected default poll interval 30s, got %s", cfg.Pipeline.PollInterval.Duration())
	}
	if cfg.Pipeline.MaxReviewCycles != 3 {
		t.Errorf("expected default max_review_cycles 3, got %d", cfg.Pipeline.MaxReviewCycles)
	}
	if cfg.Pipeline.BranchPrefix != "agent/" {
		t.Errorf("expected default branch prefix agent/, got %s", cfg.Pipeline.BranchPrefix)
	}
	if cfg.Pipeline.MaxTokens.Planner != 4000 || cfg.Pipeline.MaxTokens.Coder != 16000 ||
		cfg.Pipeline.MaxTokens.Reviewer != 4000 || cfg.Pipeline.MaxTokens.Tester != 3000 {
		t.Errorf("unexpected default phase token caps: %+v", cfg.Pipeline.MaxTokens)
	}
	if cfg.Forge.BaseBranch != "main" {
		t.Errorf("expected default base branch main, got %s", cfg.Forge.BaseBranch)
	}
	if cfg.Inbox.Path != "tasks/inbox.json" {
		t.Errorf("expected default inbox path tasks/inbox.json, got %s", cfg.Inbox.Path)
	}
	if cfg.Events.BufferSize != 1024 {
		t.Errorf("expected default buffer 1024, got %d", cfg.Events.BufferSize)
	}
	if cfg.Events.LogLevel != "info" {
		t.Errorf("expected default log_level 'info', got %q", cfg.Events.LogLevel)
	}
	if cfg.Digest.Schedule != "0 9 * * *" {
		t.Errorf("expected default digest schedule, got %q", cfg.Digest.Schedule)
	}
}

func TestLoad_TrailingComma(t *testing.T) {
	content := `{
	"intake": {
		"port": 1234,
	},
}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("trailing commas should be tolerated: %v", err)
	}
	if cfg.Intake.Port != 1234 {
		t.Errorf("expected port 1234, got %d", cfg.Intake.Port)
	}
}

func TestLoad_EncryptedValue(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FOUNDRY_PATH", dir)

	if err := secrets.Generate(KeyPath()); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ring, err := secrets.Open(KeyPath())
	if err != nil {
		t.Fatalf("open keyring: %v", err)
	}
	blob, err := ring.Encrypt("gh-token-xyz")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	content := `{"forge": {"owner": "acme", "repo": "widgets", "token": "` + blob + `"}}`
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forge.Token != "gh-token-xyz" {
		t.Errorf("expected decrypted token, got %q", cfg.Forge.Token)
	}
}

func TestLoad_EncryptedValueWithoutKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FOUNDRY_PATH", dir) // no key file here

	content := `{"forge": {"token": "ENC[age:aGVsbG8=]"}}`
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for encrypted value without key")
	}
	if !strings.Contains(err.Error(), "no usable key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExpandEnvTemplates(t *testing.T) {
	t.Setenv("TEST_KEY", "my-secret")
	result := expandEnvTemplates(`{"key": "${{ .Env.TEST_KEY }}"}`)
	expected := `{"key": "my-secret"}`
	if result != expected {
		t.Errorf("expected %s, got %s", expected, result)
	}
}
