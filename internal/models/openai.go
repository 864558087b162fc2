package models

import (
	"context"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/foundry/internal/config"
)

// compatDefaults fills the blanks for providers speaking the OpenAI chat
// completion protocol.
type compatDefaults struct {
	baseURL string
	model   string
	timeout time.Duration
}

func newOpenAI(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth) (model.BaseChatModel, error) {
	return openAICompatible(ctx, cfg, auth, compatDefaults{timeout: time.Minute})
}

// newMistral targets Mistral's OpenAI-compatible endpoint. The longer
// default timeout accounts for their queueing under load.
func newMistral(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth) (model.BaseChatModel, error) {
	return openAICompatible(ctx, cfg, auth, compatDefaults{
		baseURL: "https://api.mistral.ai/v1",
		model:   "mistral-small-latest",
		timeout: 5 * time.Minute,
	})
}

func openAICompatible(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth, def compatDefaults) (model.BaseChatModel, error) {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = def.timeout
	}

	mc := &einoopenai.ChatModelConfig{
		APIKey:  auth.Value,
		Model:   firstOf(cfg.Model, def.model),
		BaseURL: firstOf(cfg.BaseURL, def.baseURL),
		Timeout: timeout,
	}
	if t, ok := floatOption(cfg.Options, "temperature"); ok {
		mc.Temperature = &t
	}
	if p, ok := floatOption(cfg.Options, "top_p"); ok {
		mc.TopP = &p
	}

	return einoopenai.NewChatModel(ctx, mc)
}
