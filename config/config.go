package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const defaultModel = "claude-opus-4-5-20251101"

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Projects root - each subdirectory is a project with its own database
	ProjectsDir string

	// Agent settings
	ClaudeCliPath string
	Model         string
	MaxAgentTurns int

	// Skill files (relative to the server root unless absolute)
	SkillsDir string

	// Debug settings
	LogLevel     string
	DBLogQueries bool
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	return &Config{
		// Server
		Port: getEnvInt("PORT", 8090),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		// Projects
		ProjectsDir: getEnv("PROJECTS_DIR", "./projects"),

		// Agent
		ClaudeCliPath: getEnv("CLAUDE_CLI_PATH", ""),
		Model:         modelFromEnv(),
		MaxAgentTurns: getEnvInt("MAX_AGENT_TURNS", 50),

		// Skills
		SkillsDir: getEnv("SKILLS_DIR", ".claude/commands"),

		// Debug
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DBLogQueries: getEnv("DB_LOG_QUERIES", "") == "1",
	}
}

// modelFromEnv resolves the agent model, honoring Bedrock deployments where
// the model identifier carries a region prefix.
func modelFromEnv() string {
	if os.Getenv("CLAUDE_CODE_USE_BEDROCK") == "1" {
		return getEnv("ANTHROPIC_MODEL", "us.anthropic."+defaultModel+"-v1:0")
	}
	return getEnv("ANTHROPIC_MODEL", defaultModel)
}

// SkillPath returns the location of the feature creation skill document
func (c *Config) SkillPath() string {
	return filepath.Join(c.SkillsDir, "create-feature.md")
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
