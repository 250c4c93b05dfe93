package cli

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/topperstoolkit/doubts/pkg/adapter"
	"github.com/topperstoolkit/doubts/pkg/grounding"
	"github.com/topperstoolkit/doubts/pkg/observability"
	"github.com/topperstoolkit/doubts/pkg/repository"
	"github.com/topperstoolkit/doubts/pkg/tool"
	"github.com/topperstoolkit/doubts/pkg/tool/platform"
	"github.com/topperstoolkit/doubts/pkg/usecase/answer"
	"github.com/topperstoolkit/doubts/pkg/usecase/conversation"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"
)

const (
	storeFirestore = "firestore"
	storePostgres  = "postgres"
	storeMemory    = "memory"

	llmGemini = "gemini"
	llmClaude = "claude"

	metricsNamespace = "doubts"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	store        string
	project      string
	database     string
	postgresURL  string
	credentials  string
	historyLimit int64

	// Adapters
	llm             string
	geminiAPIKey    string
	geminiProject   string
	geminiLocation  string
	geminiModel     string
	anthropicAPIKey string
	claudeModel     string
	modelTimeout    time.Duration
	temperature     float64
	bucket          string

	// Grounding
	knowledgeFile string
	rolePolicy    string

	metrics *observability.Metrics
}

// logFlags returns flags controlling the logger
func logFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("DOUBTS_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("DOUBTS_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Session store backend (firestore, postgres, memory)",
			Value:       storeFirestore,
			Sources:     cli.EnvVars("DOUBTS_STORE"),
			Destination: &cfg.store,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "postgres-url",
			Usage:       "PostgreSQL connection URL",
			Sources:     cli.EnvVars("DOUBTS_POSTGRES_URL", "DATABASE_URL"),
			Destination: &cfg.postgresURL,
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Path to a Google Cloud credentials JSON file",
			Sources:     cli.EnvVars("DOUBTS_CREDENTIALS"),
			Destination: &cfg.credentials,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for transcript export",
			Sources:     cli.EnvVars("DOUBTS_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
	return append(flags, logFlags(cfg)...)
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Language model provider (gemini, claude)",
			Value:       llmGemini,
			Sources:     cli.EnvVars("DOUBTS_LLM"),
			Destination: &cfg.llm,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key. Vertex AI is used when empty",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model name",
			Sources:     cli.EnvVars("CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.DurationFlag{
			Name:        "model-timeout",
			Usage:       "Upper bound of one model invocation",
			Value:       answer.DefaultTimeout,
			Sources:     cli.EnvVars("DOUBTS_MODEL_TIMEOUT"),
			Destination: &cfg.modelTimeout,
		},
		&cli.FloatFlag{
			Name:        "temperature",
			Usage:       "Generation temperature",
			Value:       float64(answer.DefaultTemperature),
			Sources:     cli.EnvVars("DOUBTS_TEMPERATURE"),
			Destination: &cfg.temperature,
		},
		&cli.IntFlag{
			Name:        "history-limit",
			Usage:       "Number of most recent turns sent to the model",
			Value:       answer.DefaultHistoryLimit,
			Sources:     cli.EnvVars("DOUBTS_HISTORY_LIMIT"),
			Destination: &cfg.historyLimit,
		},
		&cli.StringFlag{
			Name:        "knowledge-file",
			Usage:       "YAML file replacing the embedded school knowledge base",
			Sources:     cli.EnvVars("DOUBTS_KNOWLEDGE_FILE"),
			Destination: &cfg.knowledgeFile,
		},
		&cli.StringFlag{
			Name:        "role-policy",
			Usage:       "Rego file replacing the embedded role classification policy",
			Sources:     cli.EnvVars("DOUBTS_ROLE_POLICY"),
			Destination: &cfg.rolePolicy,
		},
	}
}

// setupLogger installs the configured logger as default and into ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr, logging.WithFormat(logging.ParseFormat(cfg.logFormat)))
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

func (cfg *config) clientOptions() []option.ClientOption {
	if cfg.credentials == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.credentials)}
}

// repoCloser releases the connection of a repository
type repoCloser func()

// newRepository creates a new repository instance
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, repoCloser, error) {
	switch cfg.store {
	case storeFirestore:
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database,
			repository.WithClientOptions(cfg.clientOptions()...),
			repository.WithFirestoreMetrics(cfg.metrics),
		)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() { _ = repo.Close() }, nil

	case storePostgres:
		if cfg.postgresURL == "" {
			return nil, nil, goerr.New("postgres-url is required")
		}
		repo, err := repository.NewPostgres(ctx, cfg.postgresURL, repository.WithPostgresMetrics(cfg.metrics))
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, repo.Close, nil

	case storeMemory:
		logging.From(ctx).Warn("memory store is not durable, history is lost on exit")
		return repository.NewMemory(repository.WithMemoryMetrics(cfg.metrics)), func() {}, nil
	}

	return nil, nil, goerr.New("unsupported store",
		goerr.V("store", cfg.store),
		goerr.V("supported", []string{storeFirestore, storePostgres, storeMemory}))
}

// newLLM creates the configured model client
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	switch cfg.llm {
	case llmGemini:
		if cfg.geminiAPIKey != "" {
			return adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey, adapter.WithGenerativeModel(cfg.geminiModel))
		}
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project or gemini-api-key is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, adapter.WithGenerativeModel(cfg.geminiModel))

	case llmClaude:
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required")
		}
		return adapter.NewClaude(cfg.anthropicAPIKey, adapter.WithClaudeModel(cfg.claudeModel)), nil
	}

	return nil, goerr.New("unsupported llm",
		goerr.V("llm", cfg.llm),
		goerr.V("supported", []string{llmGemini, llmClaude}))
}

// newStorage creates a new Storage adapter instance. It returns nil when no
// bucket is configured.
func (cfg *config) newStorage(ctx context.Context) (*adapter.CloudStorage, error) {
	if cfg.bucket == "" {
		return nil, nil
	}

	storage, err := adapter.NewStorage(ctx, cfg.bucket, cfg.clientOptions(), adapter.WithPrefix("transcripts"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

func (cfg *config) newKnowledge() (*grounding.Store, error) {
	kb, err := grounding.New(grounding.WithFile(cfg.knowledgeFile))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load knowledge base")
	}
	return kb, nil
}

func (cfg *config) newPlatformTool(kb *grounding.Store) (*platform.Tool, error) {
	return platform.New(kb.SuggestableServices())
}

// newOrchestrator wires the knowledge base, role policy, tools and model
func (cfg *config) newOrchestrator(ctx context.Context, kb *grounding.Store) (*answer.Orchestrator, error) {
	llm, err := cfg.newLLM(ctx)
	if err != nil {
		return nil, err
	}

	policy, err := answer.NewRolePolicy(ctx, answer.WithPolicyFile(cfg.rolePolicy))
	if err != nil {
		return nil, err
	}

	info, err := cfg.newPlatformTool(kb)
	if err != nil {
		return nil, err
	}
	registry := tool.New(info)

	assembler := answer.NewAssembler(kb, policy,
		answer.WithHistoryLimit(int(cfg.historyLimit)),
		answer.WithToolPrompt(registry.Prompts(ctx)),
	)

	return answer.New(llm, assembler,
		answer.WithRegistry(registry),
		answer.WithTimeout(cfg.modelTimeout),
		answer.WithTemperature(float32(cfg.temperature)),
		answer.WithMetrics(cfg.metrics),
	), nil
}

// newConversation builds the conversation use case. The returned closer
// releases the repository and storage clients.
func (cfg *config) newConversation(ctx context.Context) (*conversation.UseCase, func(), error) {
	kb, err := cfg.newKnowledge()
	if err != nil {
		return nil, nil, err
	}

	orchestrator, err := cfg.newOrchestrator(ctx, kb)
	if err != nil {
		return nil, nil, err
	}

	return cfg.newConversationWith(ctx, orchestrator)
}

// newConversationWith builds the use case around a given answerer. Commands
// that never answer pass nil.
func (cfg *config) newConversationWith(ctx context.Context, answerer conversation.Answerer) (*conversation.UseCase, func(), error) {
	repo, closeRepo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := []conversation.Option{conversation.WithMetrics(cfg.metrics)}
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}
	closeAll := closeRepo
	if storage != nil {
		opts = append(opts, conversation.WithStorage(storage))
		closeAll = func() {
			closeRepo()
			_ = storage.Close()
		}
	}

	return conversation.New(repo, answerer, opts...), closeAll, nil
}
