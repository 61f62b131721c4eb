package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/calebmorris/reddit-insights/models"
)

// templateName is the fixed name the resolver pulls from the registry hub.
const templateName = "post-scoring"

// recognizedPlaceholders are the placeholder names the scoring engine
// knows how to bind post content to, in preference order.
var recognizedPlaceholders = []string{"content", "post", "text"}

//go:embed fallback.yaml
var fallbackYAML []byte

// Resolver picks the active scoring template. Resolution is an ordered
// list of strategies tried in sequence; the bundled fallback always
// succeeds, so Resolve never fails.
type Resolver struct {
	registry *RegistryClient
	fallback *models.PromptTemplate
	log      *logrus.Logger
}

// resolution is the outcome of one strategy. terminal short-circuits the
// remaining remote strategies straight to the bundled fallback.
type resolution struct {
	tmpl     *models.PromptTemplate
	err      error
	terminal bool
}

type strategy struct {
	name string
	run  func(ctx context.Context) resolution
}

// NewResolver builds a resolver around a registry client. It fails only
// when the bundled fallback template cannot be loaded.
func NewResolver(registry *RegistryClient, log *logrus.Logger) (*Resolver, error) {
	fallback, err := loadFallback()
	if err != nil {
		return nil, err
	}

	return &Resolver{
		registry: registry,
		fallback: fallback,
		log:      log,
	}, nil
}

// Resolve returns the active template: hub pull first, then the registry
// listing filtered by the active flag, then the bundled fallback.
func (r *Resolver) Resolve(ctx context.Context) *models.PromptTemplate {
	for _, s := range r.strategies() {
		res := s.run(ctx)
		if res.err != nil {
			r.log.WithError(res.err).WithField("strategy", s.name).Warn("Prompt resolution strategy failed")
			if res.terminal {
				break
			}
			continue
		}
		if res.tmpl == nil {
			r.log.WithField("strategy", s.name).Warn("Prompt resolution strategy produced no template")
			continue
		}

		r.log.WithFields(logrus.Fields{
			"strategy": s.name,
			"prompt":   res.tmpl.Name,
			"version":  res.tmpl.Version,
		}).Info("Resolved active prompt template")
		return res.tmpl
	}

	r.log.WithField("version", r.fallback.Version).Info("Using bundled fallback prompt template")
	return r.fallback
}

func (r *Resolver) strategies() []strategy {
	return []strategy{
		{name: "hub_pull_latest", run: r.pullLatest},
		{name: "list_active", run: r.listActive},
	}
}

func (r *Resolver) pullLatest(ctx context.Context) resolution {
	tmpl, err := r.registry.PullLatest(ctx, templateName)
	if err != nil {
		return resolution{err: err}
	}

	// A hub template built for some unrelated use case is worse than the
	// bundled one: when none of the recognized placeholder names appear
	// and the template declares more than one placeholder, reject it and
	// go straight to the fallback rather than the listing.
	if !templateUsable(tmpl) {
		return resolution{
			err:      fmt.Errorf("hub template %q declares unusable placeholders %v", tmpl.Name, tmpl.Placeholders),
			terminal: true,
		}
	}

	return resolution{tmpl: tmpl}
}

func (r *Resolver) listActive(ctx context.Context) resolution {
	tmpl, err := r.registry.ListActive(ctx)
	if err != nil {
		return resolution{err: err}
	}
	return resolution{tmpl: tmpl}
}

// templateUsable applies the placeholder plausibility rule: a template is
// usable when it declares a recognized placeholder, or at most one
// placeholder of any name.
func templateUsable(tmpl *models.PromptTemplate) bool {
	for _, name := range tmpl.Placeholders {
		for _, known := range recognizedPlaceholders {
			if name == known {
				return true
			}
		}
	}
	return len(tmpl.Placeholders) <= 1
}

// loadFallback parses the embedded template file.
func loadFallback() (*models.PromptTemplate, error) {
	var doc struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Template string `yaml:"template"`
	}
	if err := yaml.Unmarshal(fallbackYAML, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse bundled fallback template: %w", err)
	}

	return &models.PromptTemplate{
		ID:           doc.ID,
		Name:         doc.Name,
		Version:      "fallback",
		IsActive:     true,
		Body:         doc.Template,
		Placeholders: ExtractPlaceholders(doc.Template),
	}, nil
}
