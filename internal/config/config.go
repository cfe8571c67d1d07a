package config

import (
	"os"
	"strconv"
	"time"
)

// RoleConfig names the model and endpoint one conversation role (user
// simulator, collaborator, or judge) completes against. Provider selects
// the client implementation; APIBase and APIKey override the endpoint for
// OpenAI-compatible servers.
type RoleConfig struct {
	Provider      string // openai, bedrock, gemini
	Model         string
	APIBase       string
	APIKey        string
	FallbackModel string
}

// Config holds application configuration
type Config struct {
	Env      string
	LogLevel string

	ExperimentType string // agent_without_memory, agent_with_memory
	Dataset        string
	EvalSize       int
	Seed           int64
	Training       bool
	MaxTurns       int
	BatchSize      int
	OutputFile     string
	ProfilesFile   string
	CacheDir       string
	MetricsAddr    string

	Scaffolding         bool
	TrainingReset       bool
	ConversationRetries int
	TurnRetries         int
	TransientRetries    int
	MaxContextTokens    int
	MaxNewTokens        int
	UserMaxNewTokens    int
	JudgeMaxNewTokens   int
	CompletionTimeout   time.Duration
	AWSRegion           string

	User         RoleConfig
	Collaborator RoleConfig
	Judge        RoleConfig
}

// Load reads configuration from environment variables with sensible
// defaults. CLI flags may override fields afterwards.
func Load() *Config {
	return &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		ExperimentType: getEnv("EXPERIMENT_TYPE", "agent_without_memory"),
		Dataset:        getEnv("DATASET", "math-500"),
		EvalSize:       getEnvAsInt("EVAL_SIZE", 20),
		Seed:           int64(getEnvAsInt("SEED", 42)),
		Training:       getEnvAsBool("TRAINING_SPLIT", false),
		MaxTurns:       getEnvAsInt("MAX_TURNS", 10),
		BatchSize:      getEnvAsInt("BATCH_SIZE", 20),
		OutputFile:     getEnv("OUTPUT_FILE", "results.jsonl"),
		ProfilesFile:   getEnv("PROFILES_FILE", ""),
		CacheDir:       getEnv("DATASET_CACHE_DIR", ".cache/datasets"),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),

		Scaffolding:         getEnvAsBool("PROPER_SCAFFOLDING", true),
		TrainingReset:       getEnvAsBool("TRAINING_RESET", false),
		ConversationRetries: getEnvAsInt("CONVERSATION_RETRIES", 3),
		TurnRetries:         getEnvAsInt("TURN_RETRIES", 10),
		TransientRetries:    getEnvAsInt("TRANSIENT_RETRIES", 2),
		MaxContextTokens:    getEnvAsInt("MAX_CONTEXT_TOKENS", 16384),
		MaxNewTokens:        getEnvAsInt("MAX_NEW_TOKENS", 2048),
		UserMaxNewTokens:    getEnvAsInt("USER_MAX_NEW_TOKENS", 1024),
		JudgeMaxNewTokens:   getEnvAsInt("JUDGE_MAX_NEW_TOKENS", 1024),
		CompletionTimeout:   getEnvAsDuration("COMPLETION_TIMEOUT", 5*time.Minute),
		AWSRegion:           getEnv("AWS_REGION", ""),

		User: RoleConfig{
			Provider:      getEnv("USER_PROVIDER", "openai"),
			Model:         getEnv("USER_MODEL", ""),
			APIBase:       getEnv("USER_API_BASE", ""),
			APIKey:        getEnv("USER_API_KEY", ""),
			FallbackModel: getEnv("USER_FALLBACK_MODEL", ""),
		},
		Collaborator: RoleConfig{
			Provider:      getEnv("COLLABORATOR_PROVIDER", "openai"),
			Model:         getEnv("COLLABORATOR_MODEL", ""),
			APIBase:       getEnv("COLLABORATOR_API_BASE", ""),
			APIKey:        getEnv("COLLABORATOR_API_KEY", ""),
			FallbackModel: getEnv("COLLABORATOR_FALLBACK_MODEL", ""),
		},
		Judge: RoleConfig{
			Provider:      getEnv("JUDGE_PROVIDER", "openai"),
			Model:         getEnv("JUDGE_MODEL", ""),
			APIBase:       getEnv("JUDGE_API_BASE", ""),
			APIKey:        getEnv("JUDGE_API_KEY", ""),
			FallbackModel: getEnv("JUDGE_FALLBACK_MODEL", ""),
		},
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
