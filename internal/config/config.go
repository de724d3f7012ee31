package config

import (
	"time"

	"foodflow/copilot/pkg/config"
)

// Config stores environment configuration for the copilot service.
type Config struct {
	Port        string
	DatabaseURL string

	LLMProvider       string
	LLMAPIURL         string
	LLMAPIKey         string
	LLMModel          string
	LLMMaxIterations  int
	LLMRequestTimeout time.Duration
	LLMRetryMax       int

	ToolTimeout     time.Duration
	ToolParallelism int

	ConversationWindow   int
	ConversationLockWait time.Duration

	EmbeddingsAPIURL string
	EmbeddingsAPIKey string
	EmbeddingsModel  string

	InsightsURL   string
	InsightsToken string

	UsageFlushInterval time.Duration

	MCPEnabled    bool
	MCPListenAddr string
}

// LoadConfig loads the copilot configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port:        config.GetEnv("PORT", "8090"),
		DatabaseURL: config.RequireEnv("DATABASE_URL"),

		LLMProvider:       config.GetEnv("LLM_PROVIDER", "openai"),
		LLMAPIURL:         config.GetEnv("LLM_API_URL", ""),
		LLMAPIKey:         config.GetEnv("LLM_API_KEY", ""),
		LLMModel:          config.GetEnv("LLM_MODEL", ""),
		LLMMaxIterations:  config.GetEnvInt("LLM_MAX_ITERATIONS", 5),
		LLMRequestTimeout: config.GetEnvDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
		LLMRetryMax:       config.GetEnvInt("LLM_RETRY_MAX", 2),

		ToolTimeout:     config.GetEnvDuration("TOOL_TIMEOUT", 10*time.Second),
		ToolParallelism: config.GetEnvInt("TOOL_PARALLELISM", 3),

		ConversationWindow:   config.GetEnvInt("CONVERSATION_WINDOW", 10),
		ConversationLockWait: config.GetEnvDuration("CONVERSATION_LOCK_WAIT", 5*time.Second),

		EmbeddingsAPIURL: config.GetEnv("EMBEDDINGS_API_URL", config.GetEnv("LLM_API_URL", "")),
		EmbeddingsAPIKey: config.GetEnv("EMBEDDINGS_API_KEY", config.GetEnv("LLM_API_KEY", "")),
		EmbeddingsModel:  config.GetEnv("EMBEDDINGS_MODEL", ""),

		InsightsURL:   config.GetEnv("INSIGHTS_URL", ""),
		InsightsToken: config.GetEnv("INSIGHTS_TOKEN", ""),

		UsageFlushInterval: config.GetEnvDuration("USAGE_FLUSH_INTERVAL", 60*time.Second),

		MCPEnabled:    config.GetEnvBool("MCP_ENABLED", false),
		MCPListenAddr: config.GetEnv("MCP_LISTEN_ADDR", ":8091"),
	}
}
