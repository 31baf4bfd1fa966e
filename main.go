package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MatusOllah/slogcolor"
	"github.com/briandowns/spinner"
	"github.com/modfin/clix"
	"github.com/quillql/quill/internal/ai"
	"github.com/quillql/quill/internal/index"
	"github.com/quillql/quill/internal/index/vec"
	"github.com/quillql/quill/internal/store"
	"github.com/urfave/cli/v3"
)

func main() {

	defer func() {
		vec.Statistics()
	}()

	cmd := &cli.Command{
		Name:  "quill",
		Usage: "a RAG tool to store database schemas and turn natural language questions into SQL queries",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Println("see 'quill --help' for usage")
			return nil
		},

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path of the vector index database",
				Value:   "./quill.db",
				Sources: cli.EnvVars("QUILL_DB"),
			},
			&cli.StringFlag{
				Name:    "schemas",
				Usage:   "path of the schema mapping file",
				Value:   "./schemas.json",
				Sources: cli.EnvVars("QUILL_SCHEMAS"),
			},
			&cli.StringFlag{
				Name:    "prompt-template",
				Usage:   "path of a prompt template overriding the built-in one",
				Sources: cli.EnvVars("QUILL_PROMPT_TEMPLATE"),
			},

			&cli.StringFlag{
				Name:    "bellman-url",
				Sources: cli.EnvVars("QUILL_BELLMAN_URL"),
			},
			&cli.StringFlag{
				Name:    "bellman-key",
				Sources: cli.EnvVars("QUILL_BELLMAN_KEY"),
			},
			&cli.StringFlag{
				Name:    "bellman-key-name",
				Value:   "quill",
				Sources: cli.EnvVars("QUILL_BELLMAN_KEY_NAME"),
			},

			&cli.StringFlag{
				Name:    "vertexai-credential",
				Sources: cli.EnvVars("QUILL_VERTEXAI_CREDENTIAL"),
			},
			&cli.StringFlag{
				Name:    "vertexai-project",
				Sources: cli.EnvVars("QUILL_VERTEXAI_PROJECT"),
			},
			&cli.StringFlag{
				Name:    "vertexai-region",
				Sources: cli.EnvVars("QUILL_VERTEXAI_REGION"),
			},

			&cli.StringFlag{
				Name:    "openai-key",
				Sources: cli.EnvVars("QUILL_OPENAI_KEY"),
			},
			&cli.StringFlag{
				Name:    "anthropic-key",
				Sources: cli.EnvVars("QUILL_ANTHROPIC_KEY"),
			},
			&cli.StringFlag{
				Name:    "voyageai-key",
				Sources: cli.EnvVars("QUILL_VOYAGEAI_KEY"),
			},

			&cli.StringFlag{
				Name:    "embed-model",
				Value:   "OpenAI/text-embedding-3-small",
				Sources: cli.EnvVars("QUILL_EMBED_MODEL"),
			},
			&cli.StringFlag{
				Name:    "llm-model",
				Value:   "OpenAI/gpt-4o-mini",
				Sources: cli.EnvVars("QUILL_LLM_MODEL"),
			},
			&cli.StringFlag{
				Name:    "llm-base-url",
				Usage:   "OpenAI-compatible endpoint used instead of the provider proxy; enables true streaming",
				Sources: cli.EnvVars("QUILL_LLM_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "api key for --llm-base-url, defaults to --openai-key",
				Sources: cli.EnvVars("QUILL_LLM_API_KEY"),
			},

			&cli.BoolFlag{
				Name:    "verbose",
				Sources: cli.EnvVars("QUILL_VERBOSE"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {

			opts := *slogcolor.DefaultOptions
			if cmd.Bool("verbose") {
				opts.Level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, &opts)))

			return ctx, nil
		},

		Commands: []*cli.Command{
			{
				Name:  "schema",
				Usage: "manage stored database schemas",
				Commands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "add or update schemas from DDL or structured JSON files",
						ArgsUsage: "<file...>",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "name",
								Usage:   "force the schema name instead of deriving it from the content",
								Sources: cli.EnvVars("QUILL_SCHEMA_NAME"),
							},
						},
						Action: schemaAdd,
					},
					{
						Name:   "ls",
						Usage:  "list stored schemas",
						Action: schemaList,
					},
					{
						Name:      "show",
						Usage:     "print a schema in its DDL form",
						ArgsUsage: "<name>",
						Action:    schemaShow,
					},
					{
						Name:      "rm",
						Usage:     "delete a schema and its index entries",
						ArgsUsage: "<name>",
						Action:    schemaRemove,
					},
				},
			},

			{
				Name:      "search",
				Usage:     "show the schema fragments retrieved for a question",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "schema",
						Usage:    "the schema to search in",
						Required: true,
						Sources:  cli.EnvVars("QUILL_SCHEMA"),
					},
					&cli.IntFlag{
						Name:    "top-k",
						Usage:   "the maximum number of fragments to return",
						Value:   ai.DefaultTopK,
						Sources: cli.EnvVars("QUILL_TOP_K"),
					},
				},
				Action: searchFragments,
			},

			{
				Name:      "ask",
				Usage:     "generate a SQL query for a natural language question",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "schema",
						Usage:    "the schema to generate against",
						Required: true,
						Sources:  cli.EnvVars("QUILL_SCHEMA"),
					},
					&cli.BoolFlag{
						Name:    "stream",
						Usage:   "print model output incrementally as it arrives",
						Sources: cli.EnvVars("QUILL_STREAM"),
					},
					&cli.IntFlag{
						Name:    "top-k",
						Value:   ai.DefaultTopK,
						Sources: cli.EnvVars("QUILL_TOP_K"),
					},
					&cli.FloatFlag{
						Name:    "temperature",
						Value:   ai.DefaultTemperature,
						Sources: cli.EnvVars("QUILL_TEMPERATURE"),
					},
				},
				Action: ask,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Default().Error("got error running quill", "err", err)
		os.Exit(1)
	}
}

// toolbox is the wired-up application stack behind every command.
type toolbox struct {
	proxy    *ai.Proxy
	embedder *ai.ProxyEmbedder
	index    *index.Index
	store    *store.Store
}

func setup(cmd *cli.Command) (*toolbox, error) {
	credentials := clix.ParseCommand[ai.APICredentials](cmd)
	proxy, err := ai.New(credentials, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	embedder := ai.NewProxyEmbedder(proxy, cmd.String("embed-model"))

	idx, err := index.Open(cmd.String("db"), embedder, slog.Default())
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cmd.String("schemas"), idx, slog.Default())
	if err != nil {
		return nil, err
	}

	return &toolbox{
		proxy:    proxy,
		embedder: embedder,
		index:    idx,
		store:    st,
	}, nil
}

// generator picks the completion backend: a direct OpenAI-compatible
// endpoint when --llm-base-url is set, otherwise the provider proxy.
func (t *toolbox) generator(cmd *cli.Command) ai.Generator {
	if baseURL := cmd.String("llm-base-url"); baseURL != "" {
		apiKey := cmd.String("llm-api-key")
		if apiKey == "" {
			apiKey = cmd.String("openai-key")
		}
		// accept both "Provider/model" and a bare model name here
		provider, model := ai.ParseModelRef(cmd.String("llm-model"))
		if model == "" {
			model = provider
		}
		return ai.NewHTTPGenerator(ai.HTTPConfig{
			BaseURL: baseURL,
			APIKey:  apiKey,
			Model:   model,
		})
	}
	return ai.NewProxyGenerator(t.proxy, cmd.String("llm-model"))
}

func (t *toolbox) agent(cmd *cli.Command) (*ai.Agent, error) {
	tmpl, err := ai.LoadPromptTemplate(cmd.String("prompt-template"))
	if err != nil {
		return nil, err
	}

	return ai.NewAgent(
		t.embedder.ForQueries(),
		t.generator(cmd),
		t.index,
		t.store,
		tmpl,
		ai.AgentOptions{
			TopK:        int(cmd.Int("top-k")),
			Temperature: cmd.Float("temperature"),
		},
		slog.Default(),
	), nil
}

func schemaAdd(ctx context.Context, cmd *cli.Command) error {
	t, err := setup(cmd)
	if err != nil {
		return err
	}
	defer t.index.Close()

	files := cmd.Args().Slice()
	if len(files) == 0 {
		return fmt.Errorf("no schema files given")
	}
	if cmd.String("name") != "" && len(files) > 1 {
		return fmt.Errorf("--name can only be used with a single file")
	}

	for _, f := range files {
		logger := slog.Default().With("file", f)

		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", f, err)
		}
		text := string(data)

		var name string
		var changed bool
		if forced := cmd.String("name"); forced != "" {
			name = forced
			changed, err = t.store.AddSchemaWithName(ctx, forced, text)
		} else {
			name, changed, err = t.store.AddSchemaFromText(ctx, text)
		}
		if err != nil {
			return err
		}
		if !changed {
			logger.Info("schema unchanged", "schema", name)
			continue
		}

		count, _ := t.index.Count(ctx, name)
		logger.Info("added schema", "schema", name, "fragments", count)
	}

	return nil
}

func schemaList(ctx context.Context, cmd *cli.Command) error {
	t, err := setup(cmd)
	if err != nil {
		return err
	}
	defer t.index.Close()

	names := t.store.Names()
	if len(names) == 0 {
		fmt.Println("no schemas stored")
		return nil
	}

	for _, name := range names {
		info, _ := t.store.Info(name)
		count, _ := t.index.Count(ctx, name)
		fmt.Printf("%-30s %-12s %3d tables %4d fragments\n", name, info.Kind, len(info.Tables), count)
	}
	return nil
}

func schemaShow(ctx context.Context, cmd *cli.Command) error {
	t, err := setup(cmd)
	if err != nil {
		return err
	}
	defer t.index.Close()

	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("no schema name given")
	}

	text, ok := t.store.SchemaString(name)
	if !ok {
		return fmt.Errorf("schema %q not found", name)
	}
	fmt.Println(text)
	return nil
}

func schemaRemove(ctx context.Context, cmd *cli.Command) error {
	t, err := setup(cmd)
	if err != nil {
		return err
	}
	defer t.index.Close()

	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("no schema name given")
	}

	deleted, err := t.store.Delete(ctx, name)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("schema %q not found", name)
	}

	fmt.Printf("deleted schema %q\n", name)
	return nil
}

func searchFragments(ctx context.Context, cmd *cli.Command) error {
	t, err := setup(cmd)
	if err != nil {
		return err
	}
	defer t.index.Close()

	question := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("no question given")
	}

	agent, err := t.agent(cmd)
	if err != nil {
		return err
	}

	records, err := agent.Retrieve(ctx, cmd.String("schema"), question)
	if err != nil {
		return err
	}

	for _, r := range records {
		fmt.Printf("============ %s: %s (dist %.4f) ============\n%s\n",
			r.Metadata["schema_name"], r.Metadata["table_name"], r.Distance, r.Metadata["raw_ddl_fragment"])
	}
	return nil
}

func ask(ctx context.Context, cmd *cli.Command) error {
	t, err := setup(cmd)
	if err != nil {
		return err
	}
	defer t.index.Close()

	question := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("no question given")
	}

	agent, err := t.agent(cmd)
	if err != nil {
		return err
	}

	schemaName := cmd.String("schema")

	if cmd.Bool("stream") {
		deltas, err := agent.StreamSQL(ctx, schemaName, question)
		if err != nil {
			return err
		}

		// a truncated sequence is never extracted from
		full, err := ai.Relay(ctx, deltas, os.Stdout)
		if err != nil {
			fmt.Println()
			return err
		}

		fmt.Printf("\n\n-- extracted --\n%s\n", ai.ExtractSQL(full))
		return nil
	}

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " generating sql..."
	s.Start()

	sql, err := agent.GenerateSQL(ctx, schemaName, question)
	s.Stop()
	if err != nil {
		return err
	}

	fmt.Println(sql)
	return nil
}
