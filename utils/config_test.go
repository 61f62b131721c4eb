package utils

import (
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_ENV_VAR", "test-value")
	defer os.Unsetenv("TEST_ENV_VAR")

	value := getEnv("TEST_ENV_VAR", "default-value")
	assert.Equal(t, "test-value", value)

	value = getEnv("NON_EXISTENT_VAR", "default-value")
	assert.Equal(t, "default-value", value)
}

func TestGetEnvAsInt(t *testing.T) {
	os.Setenv("TEST_INT_VAR", "42")
	defer os.Unsetenv("TEST_INT_VAR")

	value := getEnvAsInt("TEST_INT_VAR", 10)
	assert.Equal(t, 42, value)

	os.Setenv("TEST_INVALID_INT_VAR", "not-an-int")
	defer os.Unsetenv("TEST_INVALID_INT_VAR")

	value = getEnvAsInt("TEST_INVALID_INT_VAR", 10)
	assert.Equal(t, 10, value)

	value = getEnvAsInt("NON_EXISTENT_VAR", 10)
	assert.Equal(t, 10, value)
}

func TestMissingEnv(t *testing.T) {
	os.Setenv("TEST_PRESENT_A", "a")
	os.Setenv("TEST_PRESENT_B", "b")
	defer os.Unsetenv("TEST_PRESENT_A")
	defer os.Unsetenv("TEST_PRESENT_B")

	// all present
	missing := MissingEnv([]string{"TEST_PRESENT_A", "TEST_PRESENT_B"})
	assert.Empty(t, missing)

	// every absent name is reported, not just the first
	missing = MissingEnv([]string{"TEST_MISSING_A", "TEST_PRESENT_A", "TEST_MISSING_B"})
	assert.Equal(t, []string{"TEST_MISSING_A", "TEST_MISSING_B"}, missing)
}

func TestMissingEnvError(t *testing.T) {
	err := &MissingEnvError{Keys: []string{"REDDIT_CLIENT_ID", "OPENAI_API_KEY"}}
	assert.Contains(t, err.Error(), "REDDIT_CLIENT_ID")
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestValidateConfig(t *testing.T) {
	validConfig := &Config{
		Reddit: RedditConfig{
			ClientID:     "id",
			ClientSecret: "secret",
			UserAgent:    "agent",
			Subreddits:   []string{"startupideas"},
			PostLimit:    10,
		},
		Database: DatabaseConfig{
			Path: "./test.db",
		},
	}
	assert.NoError(t, validateConfig(validConfig))
	defer os.Remove("./test.db")

	// post limit out of range
	invalidConfig := &Config{
		Reddit: RedditConfig{
			Subreddits: []string{"startupideas"},
			PostLimit:  500,
		},
		Database: DatabaseConfig{Path: "./test.db"},
	}
	err := validateConfig(invalidConfig)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "REDDIT_POST_LIMIT")

	// no subreddits
	invalidConfig = &Config{
		Reddit: RedditConfig{
			Subreddits: []string{},
			PostLimit:  10,
		},
		Database: DatabaseConfig{Path: "./test.db"},
	}
	err = validateConfig(invalidConfig)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "REDDIT_SUBREDDITS")

	// registry host without keys
	invalidConfig = &Config{
		Reddit: RedditConfig{
			Subreddits: []string{"startupideas"},
			PostLimit:  10,
		},
		Registry: RegistryConfig{Host: "https://registry.example.com"},
		Database: DatabaseConfig{Path: "./test.db"},
	}
	err = validateConfig(invalidConfig)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "PROMPT_REGISTRY")
}

func TestParseSubreddits(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Single subreddit",
			input:    "startupideas",
			expected: []string{"startupideas"},
		},
		{
			name:     "Multiple subreddits",
			input:    "startupideas,Entrepreneur,SaaS",
			expected: []string{"startupideas", "Entrepreneur", "SaaS"},
		},
		{
			name:     "Subreddits with whitespace",
			input:    "startupideas, Entrepreneur, SaaS",
			expected: []string{"startupideas", "Entrepreneur", "SaaS"},
		},
		{
			name:     "Subreddits with extra commas",
			input:    "startupideas,,Entrepreneur,,SaaS",
			expected: []string{"startupideas", "Entrepreneur", "SaaS"},
		},
		{
			name:     "Leading and trailing commas",
			input:    ",startupideas,Entrepreneur,",
			expected: []string{"startupideas", "Entrepreneur"},
		},
		{
			name:     "Empty input",
			input:    "",
			expected: []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := parseSubreddits(tc.input)
			if !reflect.DeepEqual(result, tc.expected) {
				t.Errorf("parseSubreddits(%q) = %v; want %v",
					tc.input, result, tc.expected)
			}
		})
	}
}
