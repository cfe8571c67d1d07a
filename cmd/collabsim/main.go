package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "github.com/adaptiveagents/collabsim/internal/config"
	"github.com/adaptiveagents/collabsim/internal/conversation"
	"github.com/adaptiveagents/collabsim/internal/dataset"
	"github.com/adaptiveagents/collabsim/internal/persona"
	"github.com/adaptiveagents/collabsim/internal/runner"
	"github.com/adaptiveagents/collabsim/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	applyFlags(cfg)

	logger := logging.New(cfg.LogLevel)
	logger.Info("collabsim starting",
		"experiment", cfg.ExperimentType,
		"dataset", cfg.Dataset,
		"eval_size", cfg.EvalSize,
		"max_turns", cfg.MaxTurns,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = runner.StartMetricsServer(cfg.MetricsAddr, logger)
	}

	personas, err := loadPersonas(cfg, logger)
	if err != nil {
		logger.Error("failed to load personas", "error", err)
		os.Exit(1)
	}

	userClient, err := buildRoleClient(ctx, cfg, cfg.User, 1.0, cfg.UserMaxNewTokens, logger)
	if err != nil {
		logger.Error("failed to build user client", "error", err)
		os.Exit(1)
	}
	collabClient, err := buildRoleClient(ctx, cfg, cfg.Collaborator, 1.0, cfg.MaxNewTokens, logger)
	if err != nil {
		logger.Error("failed to build collaborator client", "error", err)
		os.Exit(1)
	}
	judgeClient, err := buildRoleClient(ctx, cfg, cfg.Judge, 0.0, cfg.JudgeMaxNewTokens, logger)
	if err != nil {
		logger.Error("failed to build judge client", "error", err)
		os.Exit(1)
	}

	datasets := dataset.NewStore(cfg.CacheDir, dataset.WithStoreLogger(logger))

	run := runner.New(cfg, datasets, userClient, collabClient, judgeClient, logger)
	agg, err := run.Run(ctx, personas)
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(agg.Describe())

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
}

// applyFlags overlays CLI flags on the environment-derived config. Flags
// mirror the env variables; a flag left at its default keeps the env value.
func applyFlags(cfg *appconfig.Config) {
	flag.StringVar(&cfg.ExperimentType, "experiment-type", cfg.ExperimentType, "agent_without_memory or agent_with_memory")
	flag.StringVar(&cfg.Dataset, "dataset", cfg.Dataset, "dataset name")
	flag.IntVar(&cfg.EvalSize, "eval-size", cfg.EvalSize, "number of samples to evaluate")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "dataset shuffle seed")
	flag.BoolVar(&cfg.Training, "training", cfg.Training, "use the train split instead of the test split")
	flag.StringVar(&cfg.OutputFile, "output-file", cfg.OutputFile, "JSONL output path")
	flag.StringVar(&cfg.ProfilesFile, "profiles-file", cfg.ProfilesFile, "persona profiles JSON path (built-in set when empty)")
	flag.IntVar(&cfg.MaxTurns, "max-turns", cfg.MaxTurns, "turn budget per conversation")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "worker pool bound")
	flag.BoolVar(&cfg.Scaffolding, "proper-scaffolding", cfg.Scaffolding, "enable the notes pre-extraction call in reflective mode")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address for /metrics, disabled when empty")

	flag.StringVar(&cfg.User.Model, "user-model", cfg.User.Model, "user simulator model")
	flag.StringVar(&cfg.User.APIBase, "user-api-base", cfg.User.APIBase, "user simulator endpoint override")
	flag.StringVar(&cfg.User.APIKey, "user-api-key", cfg.User.APIKey, "user simulator API key")
	flag.StringVar(&cfg.Collaborator.Model, "collaborator-model", cfg.Collaborator.Model, "collaborator model")
	flag.StringVar(&cfg.Collaborator.APIBase, "collaborator-api-base", cfg.Collaborator.APIBase, "collaborator endpoint override")
	flag.StringVar(&cfg.Collaborator.APIKey, "collaborator-api-key", cfg.Collaborator.APIKey, "collaborator API key")
	flag.StringVar(&cfg.Judge.Model, "judge-model", cfg.Judge.Model, "judge model")
	flag.StringVar(&cfg.Judge.APIBase, "judge-api-base", cfg.Judge.APIBase, "judge endpoint override")
	flag.StringVar(&cfg.Judge.APIKey, "judge-api-key", cfg.Judge.APIKey, "judge API key")
	flag.Parse()
}

func loadPersonas(cfg *appconfig.Config, logger *logging.Logger) ([]persona.Persona, error) {
	if cfg.ProfilesFile == "" {
		logger.Info("no profiles file configured, using built-in personas")
		return persona.Builtin(), nil
	}
	return persona.Load(cfg.ProfilesFile)
}

// buildRoleClient wires the provider client, optional fallback, and
// structured wrapper for one conversation role.
func buildRoleClient(ctx context.Context, cfg *appconfig.Config, role appconfig.RoleConfig, temperature float32, maxNewTokens int, logger *logging.Logger) (*conversation.StructuredClient, error) {
	if role.Model == "" {
		return nil, fmt.Errorf("model is required (provider %s)", role.Provider)
	}

	var client conversation.LLMClient
	var err error
	switch role.Provider {
	case "openai":
		client, err = conversation.NewOpenAILLMClient(role.APIKey, role.APIBase, role.Model)
	case "bedrock":
		client, err = conversation.NewBedrockLLMClientFromEnv(ctx, cfg.AWSRegion)
	case "gemini":
		client, err = conversation.NewGeminiLLMClient(ctx, role.APIKey, role.Model)
	default:
		err = fmt.Errorf("unknown provider %q", role.Provider)
	}
	if err != nil {
		return nil, err
	}

	if role.FallbackModel != "" {
		client = conversation.NewFallbackLLMClient(client, client, role.FallbackModel, logger)
	}

	return conversation.NewStructuredClient(client, role.Model,
		conversation.WithContextWindow(cfg.MaxContextTokens, maxNewTokens),
		conversation.WithTemperature(temperature),
		conversation.WithTransientRetries(cfg.TransientRetries),
		conversation.WithStructuredLogger(logger),
	), nil
}
