package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port        string
	CORSOrigins string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth
	JWTSecret string

	// Provider fallbacks (per-user settings take priority)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	DefaultModel  string

	// Search fallback
	TavilyAPIKey string

	// Code execution sandbox
	SandboxURL string

	// Product policy constants
	MaxMemoryFacts    int // per-user fact cap
	MaxFactLength     int // chars per fact
	AutoMemoryMax     int // facts extracted per turn
	HistoryWindow     int // messages loaded per request
	MaxToolRounds     int // provider round cap
	MCPTimeoutSecs    int
	SearchTimeoutSecs int
}

func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("port", "8090")
	v.SetDefault("cors_origins", "*")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "loom_db")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("default_model", "gpt-4o")
	v.SetDefault("tavily_api_key", "")
	v.SetDefault("sandbox_url", "")
	v.SetDefault("max_memory_facts", 500)
	v.SetDefault("max_fact_length", 1000)
	v.SetDefault("auto_memory_max", 5)
	v.SetDefault("history_window", 60)
	v.SetDefault("max_tool_rounds", 10)
	v.SetDefault("mcp_timeout_secs", 10)
	v.SetDefault("search_timeout_secs", 20)

	return &Config{
		Port:              v.GetString("port"),
		CORSOrigins:       v.GetString("cors_origins"),
		DBHost:            v.GetString("db_host"),
		DBPort:            v.GetString("db_port"),
		DBUser:            v.GetString("db_user"),
		DBPassword:        v.GetString("db_password"),
		DBName:            v.GetString("db_name"),
		DBSSLMode:         v.GetString("db_sslmode"),
		JWTSecret:         v.GetString("jwt_secret"),
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		OpenAIBaseURL:     v.GetString("openai_base_url"),
		DefaultModel:      v.GetString("default_model"),
		TavilyAPIKey:      v.GetString("tavily_api_key"),
		SandboxURL:        v.GetString("sandbox_url"),
		MaxMemoryFacts:    v.GetInt("max_memory_facts"),
		MaxFactLength:     v.GetInt("max_fact_length"),
		AutoMemoryMax:     v.GetInt("auto_memory_max"),
		HistoryWindow:     v.GetInt("history_window"),
		MaxToolRounds:     v.GetInt("max_tool_rounds"),
		MCPTimeoutSecs:    v.GetInt("mcp_timeout_secs"),
		SearchTimeoutSecs: v.GetInt("search_timeout_secs"),
	}
}
