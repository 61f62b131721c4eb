package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// requiredEnvVars are the credentials that must exist before any network
// call is made. The prompt registry keys are deliberately absent: the
// resolver has a bundled fallback template and can run without a registry.
var requiredEnvVars = []string{
	"REDDIT_CLIENT_ID",
	"REDDIT_CLIENT_SECRET",
	"REDDIT_USER_AGENT",
	"OPENAI_API_KEY",
}

// Config holds all configuration for the application
type Config struct {
	App      AppConfig
	Reddit   RedditConfig
	OpenAI   OpenAIConfig
	Registry RegistryConfig
	Database DatabaseConfig
	Server   ServerConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// RedditConfig holds Reddit API configuration
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	Subreddits   []string
	PostLimit    int // max posts fetched per subreddit per run
}

// OpenAIConfig holds completion-model configuration
type OpenAIConfig struct {
	APIKey string
	Model  string
}

// RegistryConfig holds prompt-registry configuration. All fields are
// optional; an empty Host disables the remote registry entirely.
type RegistryConfig struct {
	Host      string
	PublicKey string
	SecretKey string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string
}

// ServerConfig holds server configuration for serve mode
type ServerConfig struct {
	Port int
}

// MissingEnvError reports every required variable absent from the
// environment so the operator can fix them all in one pass.
type MissingEnvError struct {
	Keys []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Keys, ", "))
}

// MissingEnv returns the names from required that have no value in the
// process environment. Pure check, no side effects.
func MissingEnv(required []string) []string {
	missing := make([]string, 0)
	for _, key := range required {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// LoadConfig loads configuration from a .env file plus the process
// environment. It fails with a MissingEnvError naming every absent
// credential before anything else runs.
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	// a missing .env file is fine when the variables come from the
	// real environment (containers, CI)
	if err := godotenv.Load(envPath); err != nil {
		log.WithField("file", envPath).Debug("No .env file loaded, using process environment")
	}

	if missing := MissingEnv(requiredEnvVars); len(missing) > 0 {
		return nil, &MissingEnvError{Keys: missing}
	}

	subreddits := parseSubreddits(getEnv("REDDIT_SUBREDDITS", "startupideas"))

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "Reddit Insights"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		Reddit: RedditConfig{
			ClientID:     getEnv("REDDIT_CLIENT_ID", ""),
			ClientSecret: getEnv("REDDIT_CLIENT_SECRET", ""),
			UserAgent:    getEnv("REDDIT_USER_AGENT", ""),
			Subreddits:   subreddits,
			PostLimit:    getEnvAsInt("REDDIT_POST_LIMIT", 10),
		},
		OpenAI: OpenAIConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Registry: RegistryConfig{
			Host:      getEnv("PROMPT_REGISTRY_HOST", ""),
			PublicKey: getEnv("PROMPT_REGISTRY_PUBLIC_KEY", ""),
			SecretKey: getEnv("PROMPT_REGISTRY_SECRET_KEY", ""),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./insights.db"),
		},
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	log.WithField("file", envPath).Info("Config loaded successfully")
	return config, nil
}

// parseSubreddits parses a comma-separated list of subreddits
func parseSubreddits(subredditsStr string) []string {
	parts := strings.Split(subredditsStr, ",")

	subreddits := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			subreddits = append(subreddits, trimmed)
		}
	}

	return subreddits
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// validateConfig validates the non-credential parts of the configuration
func validateConfig(config *Config) error {
	if len(config.Reddit.Subreddits) == 0 {
		return fmt.Errorf("REDDIT_SUBREDDITS must name at least one subreddit")
	}
	if config.Reddit.PostLimit < 1 || config.Reddit.PostLimit > 100 {
		return fmt.Errorf("REDDIT_POST_LIMIT must be between 1 and 100")
	}

	// registry credentials travel together; a host without keys cannot
	// authenticate and would only produce confusing 401s at run time
	if config.Registry.Host != "" && (config.Registry.PublicKey == "" || config.Registry.SecretKey == "") {
		return fmt.Errorf("PROMPT_REGISTRY_HOST is set but PROMPT_REGISTRY_PUBLIC_KEY/SECRET_KEY are incomplete")
	}

	// if we are storing the db in a nested directory, create the directory
	dbDir := filepath.Dir(config.Database.Path)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
