package sources

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

// Registry is the immutable, ordered list of monitored sources. Order matters:
// collected items are normalized to registry order.
type Registry struct {
	sources []models.Source
	byName  map[string]int
}

// New validates the sources and builds a registry. Names must be unique.
func New(list []models.Source) (*Registry, error) {
	reg := &Registry{
		sources: make([]models.Source, 0, len(list)),
		byName:  make(map[string]int, len(list)),
	}

	for i, src := range list {
		src.Name = strings.TrimSpace(src.Name)
		if src.Name == "" {
			return nil, fmt.Errorf("source %d: name is required", i)
		}
		if _, dup := reg.byName[src.Name]; dup {
			return nil, fmt.Errorf("source %s: duplicate name", src.Name)
		}
		if !src.Category.Valid() {
			return nil, fmt.Errorf("source %s: invalid category %q", src.Name, src.Category)
		}
		if src.Kind == "" {
			src.Kind = models.SourceKindPage
		}
		if src.Kind != models.SourceKindFeed && src.Kind != models.SourceKindPage {
			return nil, fmt.Errorf("source %s: invalid kind %q", src.Name, src.Kind)
		}
		parsed, err := url.Parse(src.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("source %s: invalid url %q", src.Name, src.URL)
		}

		reg.byName[src.Name] = len(reg.sources)
		reg.sources = append(reg.sources, src)
	}

	return reg, nil
}

// Sources returns a copy of the registry in order.
func (r *Registry) Sources() []models.Source {
	return append([]models.Source(nil), r.sources...)
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	return len(r.sources)
}

// Lookup finds a source by name.
func (r *Registry) Lookup(name string) (models.Source, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return models.Source{}, false
	}
	return r.sources[idx], true
}

// Index returns the registry position of a source, -1 when unknown.
func (r *Registry) Index(name string) int {
	idx, ok := r.byName[name]
	if !ok {
		return -1
	}
	return idx
}

type fileFormat struct {
	Sources []models.Source `yaml:"sources"`
}

// LoadFile reads a YAML sources file:
//
//	sources:
//	  - name: Balarm
//	    category: general
//	    url: https://balarm.it/food
//	    kind: page
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var file fileFormat
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	if len(file.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s lists no sources", path)
	}

	return New(file.Sources)
}

// Load returns the registry from path, or the built-in defaults when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return New(Defaults())
	}
	return LoadFile(path)
}
