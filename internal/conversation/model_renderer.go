package conversation

import (
	"context"
	"strings"

	"github.com/wolfman30/clinic-scheduling-ai/internal/llm"
	"github.com/wolfman30/clinic-scheduling-ai/pkg/logging"
)

const rendererSystemPrompt = `You are the friendly scheduling assistant for a medical clinic.
Rewrite the draft reply below in a warm, concise tone. You MUST keep every
factual detail exactly as written: dates, times, numbered options and their
order, confirmation codes, names, and contact details. Do not add offers or
information that is not in the draft. Reply with the rewritten text only.`

// ModelRenderer polishes template output with the language model. Any model
// failure falls back to the deterministic template text, so rendering can
// never take a session down.
type ModelRenderer struct {
	client   llm.Client
	fallback *TemplateRenderer
	logger   *logging.Logger
}

// NewModelRenderer wraps the template renderer with a model rewrite pass.
func NewModelRenderer(client llm.Client, fallback *TemplateRenderer, logger *logging.Logger) *ModelRenderer {
	if client == nil {
		panic("conversation: llm client required")
	}
	if fallback == nil {
		panic("conversation: template renderer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ModelRenderer{client: client, fallback: fallback, logger: logger}
}

var _ Renderer = (*ModelRenderer)(nil)

// Render rewrites the deterministic reply; numbered slot lists are passed
// through untouched because their ordering is load-bearing for selection.
func (r *ModelRenderer) Render(ctx context.Context, res *Result) (string, error) {
	base, err := r.fallback.Render(ctx, res)
	if err != nil {
		return "", err
	}
	if len(res.OfferedSlots) > 0 {
		return base, nil
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		System:      []string{rendererSystemPrompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: base}},
		MaxTokens:   300,
		Temperature: 0.4,
	})
	if err != nil {
		r.logger.Warn("reply rewrite failed, using template text", "error", err)
		return base, nil
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return base, nil
	}
	return text, nil
}
