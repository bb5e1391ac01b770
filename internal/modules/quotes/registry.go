// Package quotes acquires daily bars through named source plugins and keeps
// the quote store current for the tickers that reference each source.
package quotes

import (
	"sort"

	"github.com/avramidis/strategem/internal/domain"
)

// SourceRegistry maps source names to quote source plugins. Tickers carry a
// source name; updates resolve the plugin here.
type SourceRegistry struct {
	sources map[string]domain.QuoteSource
}

// NewSourceRegistry creates an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{sources: make(map[string]domain.QuoteSource)}
}

// Register adds a source under its name. Later registrations replace earlier
// ones, letting tests swap in fakes.
func (r *SourceRegistry) Register(s domain.QuoteSource) {
	r.sources[s.Name()] = s
}

// Get resolves a source by name.
func (r *SourceRegistry) Get(name string) (domain.QuoteSource, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, domain.NewError(domain.InvalidInput, "unknown quote source %q", name)
	}
	return s, nil
}

// Names returns registered source names, sorted.
func (r *SourceRegistry) Names() []string {
	out := make([]string, 0, len(r.sources))
	for name := range r.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
