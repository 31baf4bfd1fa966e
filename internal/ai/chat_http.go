package ai

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// HTTPConfig configures the OpenAI-compatible chat-completions client. Any
// endpoint speaking that dialect works: OpenAI itself, Groq, or a local
// Ollama server.
type HTTPConfig struct {
	BaseURL string `cli:"llm-base-url"`
	APIKey  string `cli:"llm-api-key"`
	Model   string
}

// HTTPGenerator talks to an OpenAI-compatible chat-completions endpoint
// directly. Unlike the bellman proxy path it supports true incremental
// streaming via server-sent events.
type HTTPGenerator struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPGenerator builds a generator for the configured endpoint.
func NewHTTPGenerator(cfg HTTPConfig) *HTTPGenerator {
	return &HTTPGenerator{
		cfg: cfg,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (g *HTTPGenerator) newRequest(ctx context.Context, promptText string, temperature float64, stream bool) (*http.Request, error) {
	body := chatRequest{
		Model:       g.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: promptText}},
		Stream:      stream,
		Temperature: &temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(g.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// Complete performs a blocking chat completion and returns the full text.
func (g *HTTPGenerator) Complete(ctx context.Context, promptText string, temperature float64) (string, error) {
	req, err := g.newRequest(ctx, promptText, temperature, false)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(body))
	}

	var completion chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat api returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// Stream performs a streaming chat completion and relays the text of each
// server-sent event in order. The channel closes on [DONE] or error; a
// cancelled context stops the relay immediately.
func (g *HTTPGenerator) Stream(ctx context.Context, promptText string, temperature float64) (<-chan Delta, error) {
	req, err := g.newRequest(ctx, promptText, temperature, true)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(body))
	}

	out := make(chan Delta)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					g.emit(ctx, out, Delta{Err: fmt.Errorf("failed to read from stream: %w", err)})
				}
				return
			}

			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if strings.TrimSpace(data) == "[DONE]" {
				return
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if !g.emit(ctx, out, Delta{Text: content}) {
				return
			}
		}
	}()
	return out, nil
}

// emit sends a delta unless the caller has gone away.
func (g *HTTPGenerator) emit(ctx context.Context, out chan<- Delta, d Delta) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}
