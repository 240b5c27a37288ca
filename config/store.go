package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store is the read-only set of site configurations for one invocation.
// It is loaded once at startup and passed explicitly; a run never re-reads
// the configuration document.
type Store struct {
	sites map[string]Site
	order []string
}

// Load reads the site configuration document from a YAML file.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	store, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return store, nil
}

// Parse decodes a site configuration document: a YAML mapping of site
// identifier to site configuration. The document is decoded through
// yaml.Node so duplicate site identifiers are caught rather than silently
// overwritten, and document order is preserved for stable output.
func Parse(data []byte) (*Store, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Msg: fmt.Sprintf("invalid YAML: %v", err)}
	}

	if len(doc.Content) == 0 {
		return nil, &Error{Msg: "empty configuration document"}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &Error{Msg: "configuration document must be a mapping of site id to site config"}
	}

	store := &Store{sites: make(map[string]Site)}
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode := root.Content[i]
		valNode := root.Content[i+1]

		id := keyNode.Value
		if id == "" {
			return nil, &Error{Msg: fmt.Sprintf("blank site identifier at line %d", keyNode.Line)}
		}
		if _, ok := store.sites[id]; ok {
			return nil, &Error{Site: id, Msg: fmt.Sprintf("duplicate site identifier at line %d", keyNode.Line)}
		}

		var site Site
		if err := valNode.Decode(&site); err != nil {
			return nil, &Error{Site: id, Msg: fmt.Sprintf("invalid site config: %v", err)}
		}
		site.ID = id

		if err := site.Validate(); err != nil {
			return nil, err
		}

		store.sites[id] = site
		store.order = append(store.order, id)
	}

	if len(store.order) == 0 {
		return nil, &Error{Msg: "no sites configured"}
	}

	return store, nil
}

// Site returns the configuration for a site identifier.
func (s *Store) Site(id string) (Site, bool) {
	site, ok := s.sites[id]
	return site, ok
}

// IDs returns the configured site identifiers in document order.
func (s *Store) IDs() []string {
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// Len returns the number of configured sites.
func (s *Store) Len() int {
	return len(s.order)
}
