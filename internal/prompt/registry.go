package prompt

import (
	"embed"
	"io/fs"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Registry.Get for an unknown template name.
var ErrNotFound = errors.New("prompt: template not found")

// Template names and the stable aliases the orchestrator uses.
const (
	NameQuery     = "query"
	NameNCSearch  = "nc_search"
	NameDocSearch = "doc_search"
)

// Aliases maps stable keys (numeric workflow stages included) to the
// template file names exported from prompt studio.
var Aliases = map[string]string{
	"000":         "compute_nc_scenarios_propose_000",
	"100":         "compute_nc_scenarios_propose_100",
	NameQuery:     "compute_nc_scenarios_query",
	NameNCSearch:  "compute_nc_scenarios_search_nc",
	NameDocSearch: "compute_nc_scenarios_search_techdocs",
}

//go:embed templates/*
var defaultTemplates embed.FS

// Registry is the read-only set of templates loaded at start.
type Registry struct {
	templates map[string]*Template
}

// NewRegistry builds a registry from already parsed templates and registers
// the aliases whose target exists.
func NewRegistry(templates ...*Template) *Registry {
	r := &Registry{templates: make(map[string]*Template, len(templates)+len(Aliases))}
	for _, t := range templates {
		r.templates[t.Name] = t
	}
	for alias, target := range Aliases {
		if t, ok := r.templates[target]; ok {
			if _, taken := r.templates[alias]; !taken {
				r.templates[alias] = t
			}
		}
	}
	return r
}

// LoadAll parses every template file at the root of fsys. Any malformed file
// aborts the load.
func LoadAll(fsys fs.FS) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "prompt: read template dir")
	}
	var templates []*Template
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "prompt: read %s", e.Name())
		}
		t, err := Parse(e.Name(), data)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	r := NewRegistry(templates...)
	log.Debug().Int("templates", len(templates)).Strs("names", r.Names()).Msg("Loaded prompt templates")
	return r, nil
}

// LoadDefault loads the templates embedded in the binary.
func LoadDefault() (*Registry, error) {
	sub, err := fs.Sub(defaultTemplates, "templates")
	if err != nil {
		return nil, errors.Wrap(err, "prompt: open embedded templates")
	}
	return LoadAll(sub)
}

// Get returns the template registered under name or alias.
func (r *Registry) Get(name string) (*Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return t, nil
}

// Has reports whether name resolves to a template.
func (r *Registry) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Names lists every registered key, aliases included, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
