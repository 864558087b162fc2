package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/dohr-michael/foundry/internal/config"
	"github.com/dohr-michael/foundry/internal/secrets"
)

// AuthKind distinguishes bearer tokens (OAuth-style) from plain API keys.
// Drivers pick the matching request header from it.
type AuthKind string

const (
	AuthAPIKey      AuthKind = "api_key"
	AuthBearerToken AuthKind = "bearer_token"
)

// ResolvedAuth is a credential ready to hand to an SDK client.
type ResolvedAuth struct {
	Kind  AuthKind
	Value string
}

// driverEnvVars names the conventional environment variable per driver,
// consulted when the provider config carries no credentials at all.
var driverEnvVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"mistral":   "MISTRAL_API_KEY",
}

// ResolveAuth turns a provider's auth config into a usable credential.
// Precedence: explicit token, then explicit api_key, then the driver's
// conventional environment variable. Values may be literal, ${VAR}
// references, or age-encrypted blobs written by `foundry secrets set`.
func ResolveAuth(cfg config.ProviderConfig) (ResolvedAuth, error) {
	if token := resolveRef(cfg.Auth.Token); token != "" {
		return finishAuth(AuthBearerToken, token)
	}
	if apiKey := resolveRef(cfg.Auth.APIKey); apiKey != "" {
		return finishAuth(AuthAPIKey, apiKey)
	}

	envVar, ok := driverEnvVars[strings.ToLower(cfg.Driver)]
	if !ok {
		return ResolvedAuth{}, fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
	if key := os.Getenv(envVar); key != "" {
		return finishAuth(AuthAPIKey, key)
	}
	return ResolvedAuth{}, fmt.Errorf("%s not set", envVar)
}

// resolveRef trims a configured credential and expands a ${VAR} environment
// reference. An unset variable resolves to empty, which falls through to
// the next auth source.
func resolveRef(v string) string {
	v = strings.TrimSpace(v)
	if after, ok := strings.CutPrefix(v, "${"); ok {
		if name, ok := strings.CutSuffix(after, "}"); ok {
			return os.Getenv(name)
		}
	}
	return v
}

// finishAuth decrypts age blobs so drivers always receive plaintext.
func finishAuth(kind AuthKind, value string) (ResolvedAuth, error) {
	if secrets.IsEncrypted(value) {
		ring, err := secrets.Open(config.KeyPath())
		if err != nil {
			return ResolvedAuth{}, fmt.Errorf("credential is encrypted but no usable key: %w", err)
		}
		plain, err := ring.Decrypt(value)
		if err != nil {
			return ResolvedAuth{}, fmt.Errorf("decrypt credential: %w", err)
		}
		value = plain
	}
	return ResolvedAuth{Kind: kind, Value: value}, nil
}
