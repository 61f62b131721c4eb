package prompts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebmorris/reddit-insights/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// registryFixture serves a hub pull response and a listing response.
func registryFixture(t *testing.T, pullStatus int, pullBody string, listStatus int, listBody string) *RegistryClient {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/public/v2/prompts/"+templateName, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(pullStatus)
		w.Write([]byte(pullBody))
	})
	mux.HandleFunc("/api/public/v2/prompts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(listStatus)
		w.Write([]byte(listBody))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return NewRegistryClient(server.URL, "pk", "sk", testLogger())
}

func newResolver(t *testing.T, registry *RegistryClient) *Resolver {
	t.Helper()
	resolver, err := NewResolver(registry, testLogger())
	require.NoError(t, err)
	return resolver
}

func TestResolveHubTemplate(t *testing.T) {
	registry := registryFixture(t,
		http.StatusOK, `{"id":"p1","name":"post-scoring","version":7,"prompt":"Score this: {{content}}"}`,
		http.StatusOK, `{"data":[]}`,
	)

	tmpl := newResolver(t, registry).Resolve(context.Background())

	assert.Equal(t, "p1", tmpl.ID)
	assert.Equal(t, "latest", tmpl.Version)
	assert.True(t, tmpl.IsActive)
	assert.Equal(t, []string{"content"}, tmpl.Placeholders)
}

func TestResolveRejectsImplausibleHubTemplate(t *testing.T) {
	// neither placeholder is recognized and more than one is declared:
	// the resolver must go straight to the bundled fallback, even though
	// the listing offers an active template
	registry := registryFixture(t,
		http.StatusOK, `{"id":"p1","name":"post-scoring","version":7,"prompt":"Translate {{foo}} into {{bar}}"}`,
		http.StatusOK, `{"data":[{"id":"p2","name":"other","version":1,"prompt":"{{content}}","metadata":{"is_active":true},"updatedAt":"2026-08-01T00:00:00Z"}]}`,
	)

	tmpl := newResolver(t, registry).Resolve(context.Background())

	assert.Equal(t, "fallback", tmpl.Version)
}

func TestResolveSingleUnrecognizedPlaceholderIsUsable(t *testing.T) {
	registry := registryFixture(t,
		http.StatusOK, `{"id":"p1","name":"post-scoring","version":2,"prompt":"Score: {{input}}"}`,
		http.StatusOK, `{"data":[]}`,
	)

	tmpl := newResolver(t, registry).Resolve(context.Background())

	assert.Equal(t, "latest", tmpl.Version)
	assert.Equal(t, []string{"input"}, tmpl.Placeholders)
}

func TestResolveFallsBackToListing(t *testing.T) {
	registry := registryFixture(t,
		http.StatusNotFound, `{"error":"not found"}`,
		http.StatusOK, `{"data":[
			{"id":"old","name":"a","version":1,"prompt":"{{content}}","metadata":{"is_active":true},"updatedAt":"2026-01-01T00:00:00Z"},
			{"id":"new","name":"b","version":2,"prompt":"{{post}}","metadata":{"is_active":true},"updatedAt":"2026-08-01T00:00:00Z"},
			{"id":"inactive","name":"c","version":3,"prompt":"{{text}}","metadata":{"is_active":false},"updatedAt":"2026-09-01T00:00:00Z"}
		]}`,
	)

	tmpl := newResolver(t, registry).Resolve(context.Background())

	// most recently updated active template wins
	assert.Equal(t, "new", tmpl.ID)
	assert.Equal(t, "2", tmpl.Version)
}

func TestResolveFallbackWhenNothingActive(t *testing.T) {
	registry := registryFixture(t,
		http.StatusNotFound, `{}`,
		http.StatusOK, `{"data":[{"id":"x","name":"a","version":1,"prompt":"{{content}}","metadata":{"is_active":false},"updatedAt":"2026-01-01T00:00:00Z"}]}`,
	)

	tmpl := newResolver(t, registry).Resolve(context.Background())
	assert.Equal(t, "fallback", tmpl.Version)
}

func TestResolveFallbackWhenRegistryUnconfigured(t *testing.T) {
	registry := NewRegistryClient("", "", "", testLogger())

	tmpl := newResolver(t, registry).Resolve(context.Background())

	assert.Equal(t, "fallback", tmpl.Version)
	assert.NotEmpty(t, tmpl.Body)
	assert.Contains(t, tmpl.Placeholders, "content")
}

func TestNormalizeList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		count int
	}{
		{
			name:  "bare array",
			input: `[{"id":"a","name":"n","version":1,"prompt":"x"}]`,
			count: 1,
		},
		{
			name:  "data envelope",
			input: `{"data":[{"id":"a"},{"id":"b"}]}`,
			count: 2,
		},
		{
			name:  "empty envelope",
			input: `{"data":[]}`,
			count: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := normalizeList(json.RawMessage(tc.input))
			require.NoError(t, err)
			assert.Len(t, entries, tc.count)
		})
	}
}

func TestExtractPlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []string
	}{
		{
			name:     "single placeholder",
			body:     "Analyze {{content}} now",
			expected: []string{"content"},
		},
		{
			name:     "duplicates collapse",
			body:     "{{post}} and {{post}} again",
			expected: []string{"post"},
		},
		{
			name:     "spaces inside braces",
			body:     "{{ content }} plus {{ extra }}",
			expected: []string{"content", "extra"},
		},
		{
			name:     "no placeholders",
			body:     "static template",
			expected: []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ExtractPlaceholders(tc.body)
			if !reflect.DeepEqual(result, tc.expected) {
				t.Errorf("ExtractPlaceholders(%q) = %v; want %v", tc.body, result, tc.expected)
			}
		})
	}
}

func TestTemplateUsable(t *testing.T) {
	tests := []struct {
		name         string
		placeholders []string
		usable       bool
	}{
		{"recognized content", []string{"content"}, true},
		{"recognized among others", []string{"foo", "text"}, true},
		{"single unrecognized", []string{"foo"}, true},
		{"no placeholders", []string{}, true},
		{"multiple unrecognized", []string{"foo", "bar"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tmpl := &models.PromptTemplate{Placeholders: tc.placeholders}
			assert.Equal(t, tc.usable, templateUsable(tmpl))
		})
	}
}
