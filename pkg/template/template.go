package template

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// TemplateType represents the kind of process a template describes.
type TemplateType string

const (
	TypeWeb      TemplateType = "web"
	TypeFrontend TemplateType = "frontend"
	TypeAPI      TemplateType = "api"
	TypeBackend  TemplateType = "backend"
	TypeDocs     TemplateType = "docs"
	TypeWorker   TemplateType = "worker"
	TypeSimple   TemplateType = "simple"
)

// ProcessTemplate is a starter realm.yml process entry.
type ProcessTemplate struct {
	Name    string            `yaml:"-"`
	Command string            `yaml:"command"`
	Port    int               `yaml:"port,omitempty"`
	Routes  []string          `yaml:"routes,omitempty"`
	WorkDir string            `yaml:"working_directory,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a process template based on the specified type and name
func (g *Generator) Generate(templateType TemplateType, name string) (*ProcessTemplate, error) {
	if name == "" {
		name = string(templateType)
	}
	switch templateType {
	case TypeWeb, TypeFrontend:
		return g.generateWebTemplate(name), nil
	case TypeAPI, TypeBackend:
		return g.generateAPITemplate(name), nil
	case TypeDocs:
		return g.generateDocsTemplate(name), nil
	case TypeWorker:
		return g.generateWorkerTemplate(name), nil
	case TypeSimple:
		return g.generateSimpleTemplate(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: web, api, docs, worker, simple)", templateType)
	}
}

// GenerateYAML renders a "processes:" document holding one entry per type,
// each named after its type.
func (g *Generator) GenerateYAML(types ...TemplateType) ([]byte, error) {
	procs := make(map[string]*ProcessTemplate, len(types))
	for _, tt := range types {
		t, err := g.Generate(tt, "")
		if err != nil {
			return nil, err
		}
		if _, dup := procs[t.Name]; dup {
			return nil, fmt.Errorf("duplicate template %s", t.Name)
		}
		procs[t.Name] = t
	}
	b, err := yaml.Marshal(map[string]any{"processes": procs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return b, nil
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	out := []string{
		string(TypeWeb),
		string(TypeAPI),
		string(TypeDocs),
		string(TypeWorker),
		string(TypeSimple),
	}
	sort.Strings(out)
	return out
}

// Helper functions to create specific templates

func (g *Generator) generateWebTemplate(name string) *ProcessTemplate {
	return &ProcessTemplate{
		Name:    name,
		Command: "bun run dev",
		Port:    4000,
		Routes:  []string{"/", "/assets/*"},
		WorkDir: name,
		Env:     map[string]string{"NODE_ENV": "development"},
	}
}

func (g *Generator) generateAPITemplate(name string) *ProcessTemplate {
	return &ProcessTemplate{
		Name:    name,
		Command: "bun run --hot server.ts",
		Port:    4001,
		Routes:  []string{"/api/*"},
		WorkDir: name,
		Env:     map[string]string{"PORT": "4001"},
	}
}

func (g *Generator) generateDocsTemplate(name string) *ProcessTemplate {
	return &ProcessTemplate{
		Name:    name,
		Command: "mkdocs serve -a 127.0.0.1:4002",
		Port:    4002,
		Routes:  []string{"/docs/*"},
		WorkDir: name,
	}
}

func (g *Generator) generateWorkerTemplate(name string) *ProcessTemplate {
	return &ProcessTemplate{
		Name:    name,
		Command: "bun run worker.ts",
		WorkDir: name,
	}
}

func (g *Generator) generateSimpleTemplate(name string) *ProcessTemplate {
	return &ProcessTemplate{
		Name:    name,
		Command: "python3 -m http.server 3000",
		Port:    3000,
		Routes:  []string{"/"},
	}
}
