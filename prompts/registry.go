package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calebmorris/reddit-insights/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// RegistryClient reads prompt templates from a remote prompt registry
// (Langfuse-compatible REST API, basic auth with public/secret keys).
// The pipeline never writes to the registry.
type RegistryClient struct {
	host       string
	publicKey  string
	secretKey  string
	httpClient *http.Client
	log        *logrus.Logger
}

// registryPrompt is the wire shape of one registry entry. Version is a
// RawMessage because deployments disagree on whether it is a number or a
// string; normalizePrompt settles it.
type registryPrompt struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Version  json.RawMessage `json:"version"`
	Prompt   string          `json:"prompt"`
	Metadata struct {
		IsActive bool `json:"is_active"`
	} `json:"metadata"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRegistryClient creates a registry client. An empty host yields a
// client whose calls always fail, which the resolver treats as "registry
// unavailable".
func NewRegistryClient(host, publicKey, secretKey string, log *logrus.Logger) *RegistryClient {
	return &RegistryClient{
		host:       strings.TrimSuffix(host, "/"),
		publicKey:  publicKey,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

// PullLatest fetches the newest version of a template by name.
func (c *RegistryClient) PullLatest(ctx context.Context, name string) (*models.PromptTemplate, error) {
	var entry registryPrompt
	if err := c.get(ctx, "/api/public/v2/prompts/"+name, &entry); err != nil {
		return nil, err
	}

	tmpl := normalizePrompt(entry)
	tmpl.Version = "latest"
	tmpl.IsActive = true
	return tmpl, nil
}

// ListActive lists all registry templates, sorts them newest first, and
// returns the most recently updated one flagged active. A nil template
// with nil error means the registry answered but nothing is active.
func (c *RegistryClient) ListActive(ctx context.Context) (*models.PromptTemplate, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/api/public/v2/prompts", &raw); err != nil {
		return nil, err
	}

	entries, err := normalizeList(raw)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})

	for _, entry := range entries {
		if entry.Metadata.IsActive {
			return normalizePrompt(entry), nil
		}
	}

	return nil, nil
}

func (c *RegistryClient) get(ctx context.Context, path string, out any) error {
	if c.host == "" {
		return fmt.Errorf("prompt registry not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create registry request: %w", err)
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registry returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode registry response: %w", err)
	}

	return nil
}

// normalizeList is the single translation point between whatever shape the
// registry returns for a listing (a bare array or a {data: [...]} envelope)
// and the fixed internal list type.
func normalizeList(raw json.RawMessage) ([]registryPrompt, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var entries []registryPrompt
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse registry list: %w", err)
		}
		return entries, nil
	}

	var envelope struct {
		Data []registryPrompt `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse registry list envelope: %w", err)
	}
	return envelope.Data, nil
}

// normalizePrompt converts a wire entry to the internal template type and
// extracts the declared placeholder names from the body.
func normalizePrompt(entry registryPrompt) *models.PromptTemplate {
	version := strings.Trim(string(entry.Version), `"`)
	if version == "" || version == "null" {
		version = "unknown"
	}

	return &models.PromptTemplate{
		ID:           entry.ID,
		Name:         entry.Name,
		Version:      version,
		IsActive:     entry.Metadata.IsActive,
		Body:         entry.Prompt,
		Placeholders: ExtractPlaceholders(entry.Prompt),
	}
}

// ExtractPlaceholders returns the distinct {{name}} placeholders declared
// in a template body, in order of first appearance.
func ExtractPlaceholders(body string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
