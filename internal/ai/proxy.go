// Package ai wires the language-model and embedding capabilities to the SQL
// agent. Providers register with a proxy keyed by provider name; callers
// address models as "Provider/model" strings and depend only on the small
// Embedder and Generator interfaces, never on a concrete client.
package ai

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modfin/bellman"
	"github.com/modfin/bellman/models/embed"
	"github.com/modfin/bellman/models/gen"
	"github.com/modfin/bellman/services/anthropic"
	"github.com/modfin/bellman/services/openai"
	"github.com/modfin/bellman/services/vertexai"
	"github.com/modfin/bellman/services/voyageai"
)

// APICredentials selects which providers get registered. A provider whose
// credential is empty is simply absent from the proxy.
type APICredentials struct {
	BellmanURL     string `cli:"bellman-url"`
	BellmanKeyName string `cli:"bellman-key-name"`
	BellmanKey     string `cli:"bellman-key"`

	VertexAICredential string `cli:"vertexai-credential"`
	VertexAIProject    string `cli:"vertexai-project"`
	VertexAIRegion     string `cli:"vertexai-region"`

	OpenAIKey    string `cli:"openai-key"`
	AnthropicKey string `cli:"anthropic-key"`
	VoyageAIKey  string `cli:"voyageai-key"`
}

// New builds a Proxy from the supplied credentials.
func New(credentials APICredentials, logger *slog.Logger) (*Proxy, error) {
	proxy := newProxy()

	if credentials.AnthropicKey != "" {
		client := anthropic.New(credentials.AnthropicKey)

		proxy.RegisterGen(client)
		logger.Debug("adding llm provider", "provider", client.Provider())
	}

	if credentials.OpenAIKey != "" {
		client := openai.New(credentials.OpenAIKey)

		proxy.RegisterGen(client)
		logger.Debug("adding llm provider", "provider", client.Provider())

		proxy.RegisterEmbeder(client)
		logger.Debug("adding embed provider", "provider", client.Provider())
	}

	if credentials.VertexAIRegion != "" && credentials.VertexAIProject != "" {
		client, err := vertexai.New(vertexai.GoogleConfig{
			Project:    credentials.VertexAIProject,
			Region:     credentials.VertexAIRegion,
			Credential: credentials.VertexAICredential,
		})
		if err != nil {
			return nil, err
		}

		proxy.RegisterGen(client)
		logger.Debug("adding llm provider", "provider", client.Provider())

		proxy.RegisterEmbeder(client)
		logger.Debug("adding embed provider", "provider", client.Provider())
	}

	if credentials.VoyageAIKey != "" {
		client := voyageai.New(credentials.VoyageAIKey)
		proxy.RegisterEmbeder(client)
		logger.Debug("adding embed provider", "provider", client.Provider())
	}

	if credentials.BellmanKey != "" && credentials.BellmanURL != "" {
		client := bellman.New(credentials.BellmanURL, bellman.Key{
			Name:  credentials.BellmanKeyName,
			Token: credentials.BellmanKey,
		})
		proxy.RegisterGen(client)
		logger.Debug("adding llm provider", "provider", client.Provider())

		proxy.RegisterEmbeder(client)
		logger.Debug("adding embed provider", "provider", client.Provider())
	}

	return proxy, nil
}

var ErrNoModelProvided = errors.New("no model was provided")
var ErrClientNotFound = errors.New("client not found")

// Proxy routes embedding and generation requests to the provider named in
// the model reference.
type Proxy struct {
	embeders map[string]embed.Embeder
	gens     map[string]gen.Gen
}

func newProxy() *Proxy {
	return &Proxy{
		embeders: map[string]embed.Embeder{},
		gens:     map[string]gen.Gen{},
	}
}

func (p *Proxy) RegisterEmbeder(embeder embed.Embeder) {
	p.embeders[embeder.Provider()] = embeder
}

func (p *Proxy) RegisterGen(llm gen.Gen) {
	p.gens[llm.Provider()] = llm
}

// Embed routes an embedding request. Models addressed through the bellman
// gateway carry a nested "Provider/model" name that gets unwrapped first.
func (p *Proxy) Embed(mod embed.Request) (*embed.Response, error) {
	client, ok := p.embeders[mod.Model.Provider]
	if !ok {
		return nil, fmt.Errorf("no client registered for provider '%s', %w", mod.Model.Provider, ErrClientNotFound)
	}

	if client == nil {
		return nil, ErrNoModelProvided
	}

	if mod.Model.Provider == bellman.Provider {
		provider, name, found := strings.Cut(mod.Model.Name, "/")
		if !found {
			return nil, fmt.Errorf("invalid bellman model name '%s', %w", mod.Model.Name, ErrNoModelProvided)
		}
		mod.Model.Provider = provider
		mod.Model.Name = name
	}

	if mod.Model.Name == "" {
		return nil, fmt.Errorf("mod.Model.Name is not set, %w", ErrNoModelProvided)
	}
	return client.Embed(mod)
}

// Gen returns a generator bound to the requested model.
func (p *Proxy) Gen(mod gen.Model) (*gen.Generator, error) {
	client, ok := p.gens[mod.Provider]
	if !ok {
		return nil, fmt.Errorf("no client registered for provider '%s', %w", mod.Provider, ErrClientNotFound)
	}

	if client == nil {
		return nil, ErrClientNotFound
	}

	if mod.Provider == bellman.Provider {
		provider, name, found := strings.Cut(mod.Name, "/")
		if !found {
			return nil, fmt.Errorf("invalid bellman model name '%s', %w", mod.Name, ErrNoModelProvided)
		}
		mod.Provider = provider
		mod.Name = name
	}

	if mod.Name == "" {
		return nil, fmt.Errorf("mod.Name is not set, %w", ErrNoModelProvided)
	}

	return client.Generator(gen.WithModel(mod)), nil
}

// ParseModelRef splits a "Provider/model" reference into its parts.
func ParseModelRef(ref string) (provider, name string) {
	provider, name, _ = strings.Cut(ref, "/")
	return provider, name
}
