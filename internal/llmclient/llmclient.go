// Package llmclient implements the CallLLM instruction's delegate: a
// pipeline's Reason step (and any inline LLM expression) asks a named
// provider/model to answer a rendered prompt, and the response becomes a
// Value the VM pushes back onto the operand stack.
//
// Out of scope per spec.md §1 ("LLM-based code generation for authoring
// DSL" is an external collaborator), this package only ever answers a
// single-shot completion call at decide() time — it never generates or
// modifies DSL documents. Grounded on github.com/tmc/langchaingo, adopted
// from the wider retrieved pack (see DESIGN.md) rather than a hand-rolled
// HTTP client, since langchaingo already owns the request/response shape
// for every provider this engine's Provider field can name.
package llmclient

import (
	"context"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/pkg/value"
)

// Model is the minimal langchaingo surface this client needs; satisfied by
// every llms.Model the library ships (anthropic.LLM, openai.LLM, ...).
type Model interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error)
}

// Client implements vm.LLMCaller by dispatching to one Model per configured
// provider name. A provider left unconfigured surfaces UnknownReference
// rather than silently falling back to another provider's credentials.
type Client struct {
	models  map[string]Model
	timeout time.Duration
}

// Option configures a Client at construction.
type Option func(*Client)

// WithTimeout overrides the per-call default (5s, matching spec.md §5's
// "each external call carries an individual timeout from its config").
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// New builds a Client with no providers registered; call WithAnthropic /
// WithOpenAI / Register to wire one in.
func New(opts ...Option) *Client {
	c := &Client{models: map[string]Model{}, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register installs an arbitrary Model under providerName, for tests and
// for providers langchaingo supports beyond the two constructors below.
func (c *Client) Register(providerName string, m Model) {
	c.models[strings.ToLower(providerName)] = m
}

// WithAnthropic registers langchaingo's Anthropic client under the
// "anthropic" provider name.
func WithAnthropic(apiKey string) Option {
	return func(c *Client) {
		m, err := anthropic.New(anthropic.WithToken(apiKey))
		if err != nil {
			return
		}
		c.models["anthropic"] = m
	}
}

// WithOpenAI registers langchaingo's OpenAI client under the "openai"
// provider name.
func WithOpenAI(apiKey string) Option {
	return func(c *Client) {
		m, err := openai.New(openai.WithToken(apiKey))
		if err != nil {
			return
		}
		c.models["openai"] = m
	}
}

// Call implements vm.LLMCaller: expands spec.Prompt's "{ns.path}"
// placeholders against rc at call time (see renderPrompt) and returns the
// model's text completion as a Value.
func (c *Client) Call(ctx context.Context, spec ir.LLMCallSpec, rc *reqcontext.Context) (value.Value, error) {
	model, ok := c.models[strings.ToLower(spec.Provider)]
	if !ok {
		return value.Null, rferrors.UnknownReference("llm_provider", spec.Provider)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt := renderPrompt(spec.Prompt, rc)
	completion, err := llms.GenerateFromSinglePrompt(callCtx, model, prompt, llms.WithModel(spec.Model))
	if err != nil {
		if callCtx.Err() != nil {
			return value.Null, rferrors.Timeout()
		}
		return value.Null, rferrors.APIError(err.Error())
	}
	return value.String(completion), nil
}

// renderPrompt expands "{ns.path}" placeholders embedded in the prompt
// template against rc, matching the feature engine's DimensionTemplate
// syntax so authors reuse one substitution convention everywhere in the DSL.
func renderPrompt(tpl string, rc *reqcontext.Context) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(tpl, '{')
		if start < 0 {
			b.WriteString(tpl)
			break
		}
		end := strings.IndexByte(tpl[start:], '}')
		if end < 0 {
			b.WriteString(tpl)
			break
		}
		end += start
		b.WriteString(tpl[:start])
		path := strings.Split(tpl[start+1:end], ".")
		b.WriteString(value.ToDisplayString(rc.Lookup(path)))
		tpl = tpl[end+1:]
	}
	return b.String()
}
