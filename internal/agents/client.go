package agents

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// CompletionClient is the single operation a phase needs from a model.
type CompletionClient interface {
	Complete(ctx context.Context, instructions, content string, maxTokens int) (Completion, error)
}

// ModelClient adapts an eino chat model to the CompletionClient shape used by
// the phase executor: one system message, one user message, one response.
type ModelClient struct {
	model   model.BaseChatModel
	timeout time.Duration
}

// NewModelClient wraps a chat model. A zero timeout disables the per-call
// deadline and leaves timeouts to the underlying driver.
func NewModelClient(m model.BaseChatModel, timeout time.Duration) *ModelClient {
	return &ModelClient{model: m, timeout: timeout}
}

func (c *ModelClient) Complete(ctx context.Context, instructions, content string, maxTokens int) (Completion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	messages := []*schema.Message{
		schema.SystemMessage(instructions),
		schema.UserMessage(content),
	}

	var opts []model.Option
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}

	resp, err := c.model.Generate(ctx, messages, opts...)
	if err != nil {
		return Completion{}, err
	}

	comp := Completion{Text: resp.Content}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		comp.InputTokens = resp.ResponseMeta.Usage.PromptTokens
		comp.OutputTokens = resp.ResponseMeta.Usage.CompletionTokens
	}
	return comp, nil
}

var _ CompletionClient = (*ModelClient)(nil)
