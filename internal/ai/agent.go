package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/modfin/henry/slicez"
	"github.com/quillql/quill/internal/index"
)

// ErrSchemaNotFound is returned when the requested schema is unknown or has
// no textual content to build a context from.
var ErrSchemaNotFound = errors.New("schema not found or empty")

// ErrEmbeddingFailed wraps embedding-service failures, which are terminal
// for a query: without a question vector there is nothing to retrieve.
var ErrEmbeddingFailed = errors.New("failed to embed question")

// DefaultTopK is the number of fragments retrieved per question.
const DefaultTopK = 5

// DefaultTemperature keeps SQL generation near-deterministic.
const DefaultTemperature = 0.1

// Searcher is the slice of the vector index the agent consumes.
type Searcher interface {
	Search(ctx context.Context, vector []float64, k int, filters map[string]string) ([]index.Record, error)
}

// SchemaSource provides the full textual schema, used as retrieval fallback.
type SchemaSource interface {
	SchemaString(name string) (string, bool)
}

// AgentOptions tune the agent; zero values fall back to the defaults.
type AgentOptions struct {
	TopK        int
	Temperature float64
}

// Agent turns a natural-language question about one schema into a SQL
// query: embed the question, retrieve the nearest schema fragments from the
// schema's namespace, assemble a pruned context, render the prompt and
// drive the language model. One-shot per invocation, no state between
// queries.
type Agent struct {
	embedder    Embedder
	generator   Generator
	searcher    Searcher
	schemas     SchemaSource
	tmpl        *template.Template
	topK        int
	temperature float64
	log         *slog.Logger
}

// NewAgent wires the agent's collaborators together.
func NewAgent(
	embedder Embedder,
	generator Generator,
	searcher Searcher,
	schemas SchemaSource,
	tmpl *template.Template,
	opts AgentOptions,
	logger *slog.Logger,
) *Agent {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		embedder:    embedder,
		generator:   generator,
		searcher:    searcher,
		schemas:     schemas,
		tmpl:        tmpl,
		topK:        opts.TopK,
		temperature: opts.Temperature,
		log:         logger,
	}
}

// Retrieve embeds the question and returns the top-k records of the
// schema's namespace, nearest first. May return fewer than k, or none.
func (a *Agent) Retrieve(ctx context.Context, schemaName, question string) ([]index.Record, error) {
	vector, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	records, err := a.searcher.Search(ctx, vector, a.topK, map[string]string{
		"namespace": schemaName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	a.log.Debug("retrieved fragments", "schema", schemaName, "count", len(records))
	return records, nil
}

// Context assembles the schema context for a question: the deduplicated,
// lexicographically sorted raw DDL of the retrieved fragments, joined with
// blank lines. Zero retrieved fragments fall back to the schema's full
// text; a schema with no text at all is ErrSchemaNotFound.
func (a *Agent) Context(ctx context.Context, schemaName, question string) (string, error) {
	records, err := a.Retrieve(ctx, schemaName, question)
	if err != nil {
		return "", err
	}

	if len(records) == 0 {
		full, ok := a.schemas.SchemaString(schemaName)
		if !ok || strings.TrimSpace(full) == "" {
			return "", fmt.Errorf("%w: %q", ErrSchemaNotFound, schemaName)
		}
		a.log.Debug("retrieval empty, using full schema text", "schema", schemaName)
		return full, nil
	}

	texts := slicez.Map(records, func(r index.Record) string {
		if ddl := r.Metadata["raw_ddl_fragment"]; ddl != "" {
			return ddl
		}
		return r.Content
	})
	// Near-duplicate embeddings can surface the same fragment more than
	// once; the sort keeps prompts reproducible across runs.
	texts = slicez.Uniq(texts)
	sort.Strings(texts)

	return strings.Join(texts, "\n\n"), nil
}

// render substitutes the assembled context and the question into the prompt
// template.
func (a *Agent) render(schemaContext, question string) (string, error) {
	var b strings.Builder
	err := a.tmpl.Execute(&b, PromptData{
		Schema:   schemaContext,
		Question: question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}

// GenerateSQL runs the full pipeline and returns the extracted SQL.
func (a *Agent) GenerateSQL(ctx context.Context, schemaName, question string) (string, error) {
	schemaContext, err := a.Context(ctx, schemaName, question)
	if err != nil {
		return "", err
	}

	promptText, err := a.render(schemaContext, question)
	if err != nil {
		return "", err
	}

	response, err := a.generator.Complete(ctx, promptText, a.temperature)
	if err != nil {
		return "", fmt.Errorf("failed to generate sql: %w", err)
	}

	return ExtractSQL(response), nil
}

// StreamSQL runs the pipeline up to generation and returns the generator's
// increment stream, relayed in order. Pre-generation failures (embedding,
// missing schema, template) are returned immediately instead of a stream.
// The caller concatenates the increments and applies ExtractSQL once the
// channel closes; a cancelled context stops the relay.
func (a *Agent) StreamSQL(ctx context.Context, schemaName, question string) (<-chan Delta, error) {
	schemaContext, err := a.Context(ctx, schemaName, question)
	if err != nil {
		return nil, err
	}

	promptText, err := a.render(schemaContext, question)
	if err != nil {
		return nil, err
	}

	return a.generator.Stream(ctx, promptText, a.temperature)
}

var sqlFenceRe = regexp.MustCompile("(?s)```sql\\s*(.*?)```")

// ExtractSQL returns the trimmed interior of the first ```sql fenced block
// in a model response. Models sometimes skip the fencing, so a response
// without one is returned whole, trimmed; leniency, not an error.
func ExtractSQL(response string) string {
	if match := sqlFenceRe.FindStringSubmatch(response); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(response)
}
