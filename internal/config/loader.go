package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"github.com/dohr-michael/foundry/internal/secrets"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

var encBlobRe = regexp.MustCompile(`ENC\[age:[A-Za-z0-9+/=]*\]`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates, decrypts
// ENC[age:...] values, unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before stripping, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	resolved, err := resolveSecrets(expanded)
	if err != nil {
		return nil, err
	}

	// Strip JSONC comments and trailing commas, then unmarshal
	std, err := hujson.Standardize([]byte(resolved))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// resolveSecrets replaces ENC[age:...] blobs with their decrypted plaintext.
// A config without encrypted values never touches the key file.
func resolveSecrets(s string) (string, error) {
	if !strings.Contains(s, "ENC[age:") {
		return s, nil
	}

	ring, err := secrets.Open(KeyPath())
	if err != nil {
		return "", fmt.Errorf("config has encrypted values but no usable key: %w", err)
	}

	var firstErr error
	out := encBlobRe.ReplaceAllStringFunc(s, func(blob string) string {
		plain, err := ring.Decrypt(blob)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return blob
		}
		return jsonEscape(plain)
	})
	if firstErr != nil {
		return "", fmt.Errorf("decrypt config value: %w", firstErr)
	}
	return out, nil
}

// jsonEscape escapes a plaintext value for inline substitution inside a JSON string.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(FoundryPath(), "foundry.db")
	}
	if cfg.Intake.Host == "" {
		cfg.Intake.Host = "127.0.0.1"
	}
	if cfg.Intake.Port == 0 {
		cfg.Intake.Port = 8080
	}
	if cfg.Budget.DailyCeilingCents == 0 {
		cfg.Budget.DailyCeilingCents = 1500
	}
	if cfg.Budget.InputCentsPerMtok == 0 {
		cfg.Budget.InputCentsPerMtok = 300
	}
	if cfg.Budget.OutputCentsPerMtok == 0 {
		cfg.Budget.OutputCentsPerMtok = 1500
	}
	if cfg.Pipeline.PollInterval == 0 {
		cfg.Pipeline.PollInterval = Duration(30 * time.Second)
	}
	if cfg.Pipeline.MaxReviewCycles == 0 {
		cfg.Pipeline.MaxReviewCycles = 3
	}
	if cfg.Pipeline.BranchPrefix == "" {
		cfg.Pipeline.BranchPrefix = "agent/"
	}
	if cfg.Pipeline.CompletionTimeout == 0 {
		cfg.Pipeline.CompletionTimeout = Duration(2 * time.Minute)
	}
	if cfg.Pipeline.MaxTokens.Planner == 0 {
		cfg.Pipeline.MaxTokens.Planner = 4000
	}
	if cfg.Pipeline.MaxTokens.Coder == 0 {
		cfg.Pipeline.MaxTokens.Coder = 16000
	}
	if cfg.Pipeline.MaxTokens.Reviewer == 0 {
		cfg.Pipeline.MaxTokens.Reviewer = 4000
	}
	if cfg.Pipeline.MaxTokens.Tester == 0 {
		cfg.Pipeline.MaxTokens.Tester = 3000
	}
	if cfg.Forge.BaseBranch == "" {
		cfg.Forge.BaseBranch = "main"
	}
	if cfg.Inbox.Path == "" {
		cfg.Inbox.Path = "tasks/inbox.json"
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Events.LogLevel == "" {
		cfg.Events.LogLevel = "info"
	}
	if cfg.Digest.Schedule == "" {
		cfg.Digest.Schedule = "0 9 * * *"
	}
	// Auth resolution is deferred to models.ResolveAuth() at model init time.
}
