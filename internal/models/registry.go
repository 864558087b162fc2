package models

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/foundry/internal/config"
)

// providerEntry holds a lazily-built driver. The once latches the first
// construction error so a broken provider fails the same way every time.
type providerEntry struct {
	cfg   config.ProviderConfig
	model model.BaseChatModel
	once  sync.Once
	err   error
}

// Registry hands out chat models by provider name. Drivers are built on
// first use, so auth for providers the daemon never touches is never
// resolved.
type Registry struct {
	providers   map[string]*providerEntry
	defaultName string
}

// NewRegistry creates a model registry from config.
func NewRegistry(cfg config.ModelsConfig) *Registry {
	r := &Registry{
		providers:   make(map[string]*providerEntry, len(cfg.Providers)),
		defaultName: cfg.Default,
	}
	for name, provCfg := range cfg.Providers {
		r.providers[name] = &providerEntry{cfg: provCfg}
	}
	return r
}

// Get returns the named model, building its driver on first call.
func (r *Registry) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	entry, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("model provider %q not found", name)
	}
	entry.once.Do(func() {
		entry.model, entry.err = newDriver(ctx, entry.cfg)
	})
	return entry.model, entry.err
}

// Default returns the model named by the config's default entry.
func (r *Registry) Default(ctx context.Context) (model.BaseChatModel, error) {
	if r.defaultName == "" {
		return nil, fmt.Errorf("no default model configured")
	}
	return r.Get(ctx, r.defaultName)
}

// DefaultName returns the name of the default provider.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// ModelName returns the configured model identifier for the named provider,
// or the empty string if the provider is unknown.
func (r *Registry) ModelName(name string) string {
	entry, ok := r.providers[name]
	if !ok {
		return ""
	}
	return entry.cfg.Model
}

type driverFunc func(context.Context, config.ProviderConfig) (model.BaseChatModel, error)

type authedDriverFunc func(context.Context, config.ProviderConfig, ResolvedAuth) (model.BaseChatModel, error)

// drivers maps config driver names to constructors. Ollama is keyless;
// every hosted driver goes through auth resolution first.
var drivers = map[string]driverFunc{
	"anthropic": authenticated(newAnthropic),
	"openai":    authenticated(newOpenAI),
	"mistral":   authenticated(newMistral),
	"ollama":    newOllama,
}

func authenticated(build authedDriverFunc) driverFunc {
	return func(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
		auth, err := ResolveAuth(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		return build(ctx, cfg, auth)
	}
}

func newDriver(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	build, ok := drivers[strings.ToLower(cfg.Driver)]
	if !ok {
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
	return build(ctx, cfg)
}

// firstOf returns the first non-empty string, letting config values win
// over driver defaults.
func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// floatOption reads a numeric provider option. JSONC numbers always arrive
// as float64.
func floatOption(opts map[string]any, key string) (float32, bool) {
	v, ok := opts[key].(float64)
	if !ok {
		return 0, false
	}
	return float32(v), true
}

func intOption(opts map[string]any, key string) (int, bool) {
	v, ok := opts[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}
