package models

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/foundry/internal/config"
)

// newOllama builds a driver for a local or proxied Ollama server. No auth;
// the default base URL matches a stock local install.
func newOllama(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	mc := &einoollama.ChatModelConfig{
		BaseURL: firstOf(cfg.BaseURL, "http://localhost:11434"),
		Model:   cfg.Model,
		Timeout: timeout,
		Options: ollamaOptions(cfg.Options),
		// A reverse proxy with no backend up answers in plain text. Vetting
		// responses here surfaces that as ErrModelUnavailable instead of a
		// JSON decode error deep in the SDK.
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: guardedTransport{next: http.DefaultTransport},
		},
	}

	return einoollama.NewChatModel(ctx, mc)
}

func ollamaOptions(opts map[string]any) *einoollama.Options {
	out := &einoollama.Options{}
	if v, ok := floatOption(opts, "temperature"); ok {
		out.Temperature = v
	}
	if v, ok := floatOption(opts, "top_p"); ok {
		out.TopP = v
	}
	if v, ok := intOption(opts, "top_k"); ok {
		out.TopK = v
	}
	if v, ok := intOption(opts, "num_ctx"); ok {
		out.NumCtx = v
	}
	if v, ok := intOption(opts, "num_predict"); ok {
		out.NumPredict = v
	}
	return out
}

// guardedTransport converts transport failures, error statuses and
// non-JSON bodies into ErrModelUnavailable.
type guardedTransport struct {
	next http.RoundTripper
}

func (t guardedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: "ollama", Cause: err}
	}
	if reason, ok := vetResponse(resp); !ok {
		resp.Body.Close()
		return nil, &ErrModelUnavailable{Provider: "ollama", Body: reason}
	}
	return resp, nil
}

// vetResponse reports whether the response plausibly came from an Ollama
// backend. Ollama answers application/json, or application/x-ndjson when
// streaming; an error status or another content type means an intermediary
// answered instead, and a snippet of its body becomes the reason.
func vetResponse(resp *http.Response) (string, bool) {
	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode < 400 && (ct == "" || strings.Contains(ct, "json")) {
		return "", true
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(snippet)), false
}
