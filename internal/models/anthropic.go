package models

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/foundry/internal/config"
)

const (
	anthropicDefaultModel     = "claude-sonnet-4-6"
	anthropicDefaultMaxTokens = 4096
)

// anthropicModel adapts the official Anthropic SDK to the eino chat model
// surface. Phase runs are single text completions, so the adapter handles
// text conversations only; tool use is not part of the exchange.
type anthropicModel struct {
	client anthropic.Client
	name   string
}

var _ model.BaseChatModel = (*anthropicModel)(nil)

func newAnthropic(_ context.Context, cfg config.ProviderConfig, auth ResolvedAuth) (model.BaseChatModel, error) {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = time.Minute
	}

	// Bearer tokens go in the Authorization header, API keys in x-api-key.
	opts := []option.RequestOption{option.WithRequestTimeout(timeout)}
	if auth.Kind == AuthBearerToken {
		opts = append(opts, option.WithAuthToken(auth.Value))
	} else {
		opts = append(opts, option.WithAPIKey(auth.Value))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicModel{
		client: anthropic.NewClient(opts...),
		name:   firstOf(cfg.Model, anthropicDefaultModel),
	}, nil
}

// Generate runs a blocking completion and returns the full assistant
// message with usage attached.
func (m *anthropicModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	resp, err := m.client.Messages.New(ctx, m.request(messages, opts))
	if err != nil {
		return nil, classifyErr(err)
	}
	return anthropicResult(resp), nil
}

// Stream runs a streaming completion. Text arrives as delta chunks; the
// closing chunk has empty content and carries usage plus the finish reason,
// so concatenating chunk contents yields exactly the completion text.
func (m *anthropicModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	stream := m.client.Messages.NewStreaming(ctx, m.request(messages, opts))

	sr, sw := schema.Pipe[*schema.Message](8)
	go func() {
		defer sw.Close()

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				sw.Send(nil, classifyErr(err))
				return
			}
			if event.Type != "content_block_delta" || event.Delta.Type != "text_delta" || event.Delta.Text == "" {
				continue
			}
			chunk := &schema.Message{Role: schema.Assistant, Content: event.Delta.Text}
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
		if err := stream.Err(); err != nil {
			sw.Send(nil, classifyErr(err))
			return
		}

		final := anthropicResult(&acc)
		final.Content = ""
		sw.Send(final, nil)
	}()

	return sr, nil
}

// request assembles the SDK params from the conversation and per-call
// options. System messages become the system prompt; everything else keeps
// its role.
func (m *anthropicModel) request(messages []*schema.Message, opts []model.Option) anthropic.MessageNewParams {
	o := model.GetCommonOptions(&model.Options{}, opts...)

	maxTokens := anthropicDefaultMaxTokens
	if o.MaxTokens != nil && *o.MaxTokens > 0 {
		maxTokens = *o.MaxTokens
	}
	name := m.name
	if o.Model != nil && *o.Model != "" {
		name = *o.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(name),
		MaxTokens: int64(maxTokens),
	}
	if o.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*o.Temperature))
	}

	for _, msg := range messages {
		switch msg.Role {
		case schema.System:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case schema.Assistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return params
}

// anthropicResult converts a completed SDK message, concatenating text
// blocks and mapping usage into eino's meta.
func anthropicResult(resp *anthropic.Message) *schema.Message {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &schema.Message{
		Role:    schema.Assistant,
		Content: text.String(),
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: finishReason(resp.StopReason),
			Usage: &schema.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		},
	}
}

func finishReason(reason anthropic.StopReason) string {
	if reason == anthropic.StopReasonMaxTokens {
		return "length"
	}
	return "stop"
}
