// Package registry implements the Registry & Package Search surface named
// in spec.md §1/§2/§6: a static template catalog plus package search
// against the NPM registry and the PyPI JSON API. Grounded on the embed
// pattern used by zicongmei-gke-mcp's pkg/tools/logging (schema.go embeds
// markdown via go:embed and serves it from an in-process catalog).
package registry

import (
	"context"
	"embed"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

//go:embed templates/catalog.yaml
var catalogFS embed.FS

// Template is one pre-built server template a caller can launch without
// hand-writing a ServerConfig.
type Template struct {
	ID          string            `yaml:"id" json:"id"`
	ServerType  mcpctl.ServerType `yaml:"server_type" json:"server_type"`
	Package     string            `yaml:"package" json:"package"`
	Transport   mcpctl.Transport  `yaml:"transport" json:"transport"`
	Description string            `yaml:"description" json:"description"`
}

// Catalog serves the embedded template list, loaded once at construction.
type Catalog struct {
	templates []Template
}

// LoadCatalog parses the embedded catalog.yaml. It never fails at runtime
// since the file is compiled in; an error here indicates the embedded
// asset itself is malformed.
func LoadCatalog() (*Catalog, error) {
	raw, err := catalogFS.ReadFile("templates/catalog.yaml")
	if err != nil {
		return nil, err
	}
	var templates []Template
	if err := yaml.Unmarshal(raw, &templates); err != nil {
		return nil, err
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return &Catalog{templates: templates}, nil
}

// List returns every catalog template.
func (c *Catalog) List() []Template {
	out := make([]Template, len(c.templates))
	copy(out, c.templates)
	return out
}

// Find returns the template with the given id, or false.
func (c *Catalog) Find(id string) (Template, bool) {
	for _, t := range c.templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// PackageHit is one result from a package search.
type PackageHit struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Searcher looks up candidate MCP server packages by name, for the
// "Registry & Package Search" surface spec.md §1 describes as "simple
// HTTP clients and static data." Implementations for NPM and PyPI live in
// npm.go/pypi.go; tests substitute a fake.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]PackageHit, error)
}
