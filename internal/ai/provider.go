package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/modfin/bellman/models/embed"
	"github.com/modfin/bellman/models/gen"
	"github.com/modfin/bellman/prompt"
	"github.com/modfin/bellman/schema"
)

// Embedder is the embedding capability the agent and the index consume.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}

// Delta is one increment of a streamed completion. A non-nil Err terminates
// the stream; Text is empty in that case.
type Delta struct {
	Text string
	Err  error
}

// Generator is the completion capability the agent consumes. Stream relays
// text increments in arrival order and closes the channel once the sequence
// is exhausted; the caller assembles and post-processes the concatenation.
type Generator interface {
	Complete(ctx context.Context, promptText string, temperature float64) (string, error)
	Stream(ctx context.Context, promptText string, temperature float64) (<-chan Delta, error)
}

// Relay copies each increment to out as it arrives and returns the
// concatenation once the channel closes. A delta error or a cancelled
// context return that error with the partial text; a partial sequence must
// not have SQL extracted from it.
func Relay(ctx context.Context, deltas <-chan Delta, out io.Writer) (string, error) {
	var full strings.Builder
	for delta := range deltas {
		if delta.Err != nil {
			return full.String(), delta.Err
		}
		fmt.Fprint(out, delta.Text)
		full.WriteString(delta.Text)
	}
	if err := ctx.Err(); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

// ProxyEmbedder adapts the bellman proxy to the Embedder interface for one
// configured model reference.
type ProxyEmbedder struct {
	proxy *Proxy
	model embed.Model
	ref   string
	query bool
}

// NewProxyEmbedder binds the proxy to a "Provider/model" reference.
func NewProxyEmbedder(p *Proxy, modelRef string) *ProxyEmbedder {
	provider, name := ParseModelRef(modelRef)
	return &ProxyEmbedder{
		proxy: p,
		model: embed.Model{Provider: provider, Name: name},
		ref:   modelRef,
	}
}

// ForQueries returns a copy that embeds with the query task type, which some
// providers distinguish from document embedding.
func (e *ProxyEmbedder) ForQueries() *ProxyEmbedder {
	clone := *e
	clone.query = true
	return &clone
}

func (e *ProxyEmbedder) Model() string {
	return e.ref
}

func (e *ProxyEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	model := e.model
	if e.query {
		model.Type = embed.TypeQuery
	}

	resp, err := e.proxy.Embed(embed.Request{
		Ctx:   ctx,
		Model: model,
		Text:  text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed: %w", err)
	}

	vector := resp.AsFloat64()
	if len(vector) == 0 {
		return nil, errors.New("received empty embedding from provider")
	}
	return vector, nil
}

// textAnswer is the structured output shape requested from bellman-routed
// models, carrying the full textual answer.
type textAnswer struct {
	Answer string `json:"answer" json-description:"The complete answer, including the SQL query in a fenced code block"`
}

// ProxyGenerator adapts the bellman proxy to the Generator interface. The
// proxy transport is request/response; temperature is left to the model
// defaults there, and Stream delivers the finished completion as a single
// increment.
type ProxyGenerator struct {
	proxy *Proxy
	model gen.Model
}

// NewProxyGenerator binds the proxy to a "Provider/model" reference.
func NewProxyGenerator(p *Proxy, modelRef string) *ProxyGenerator {
	provider, name := ParseModelRef(modelRef)
	return &ProxyGenerator{
		proxy: p,
		model: gen.Model{Provider: provider, Name: name},
	}
}

// Complete generates through the proxy. The proxy transport exposes no
// temperature control, so the temperature argument is ignored and the
// model's own default applies; use the HTTP generator when it must be
// honored.
func (g *ProxyGenerator) Complete(ctx context.Context, promptText string, _ float64) (string, error) {
	llm, err := g.proxy.Gen(g.model)
	if err != nil {
		return "", fmt.Errorf("failed to create llm: %w", err)
	}

	res, err := llm.
		Output(schema.From(textAnswer{})).
		Prompt(prompt.Prompt{
			Role: prompt.UserRole,
			Text: promptText,
		})
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	var ans textAnswer
	if err := res.Unmarshal(&ans); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return ans.Answer, nil
}

func (g *ProxyGenerator) Stream(ctx context.Context, promptText string, temperature float64) (<-chan Delta, error) {
	out := make(chan Delta, 1)
	go func() {
		defer close(out)
		text, err := g.Complete(ctx, promptText, temperature)
		if err != nil {
			out <- Delta{Err: err}
			return
		}
		select {
		case out <- Delta{Text: text}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}
