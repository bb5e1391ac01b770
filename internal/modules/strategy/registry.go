package strategy

import (
	"sort"
	"sync"

	"github.com/avramidis/strategem/internal/domain"
)

// Descriptor declares a strategy class: its default parameters, a short
// description and the factory closure that instantiates it.
type Descriptor struct {
	Name        string
	Description string
	Defaults    Params
	New         func(rt *Runtime) Strategy
}

// Registry is the typed strategy plugin registry, populated at process
// start. It implements the StrategyFactory port.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]Descriptor)}
}

// Register adds a strategy class, replacing any previous entry of the
// same name.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[d.Name] = d
}

// List returns registered strategy names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for n := range r.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsValid reports whether a strategy class is registered.
func (r *Registry) IsValid(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.classes[name]
	return ok
}

// Description is the introspection payload for one strategy class.
type Description struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Params `json:"parameters"`
	Lookback    int    `json:"lookback"`
}

// Describe returns a strategy's parameters, default lookback and description.
func (r *Registry) Describe(name string) (*Description, error) {
	r.mu.RLock()
	d, ok := r.classes[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewError(domain.InvalidInput, "unknown strategy %q", name)
	}
	// Instantiate with defaults to read the computed lookback.
	st := d.New(NewRuntime(d.Defaults.Clone()))
	return &Description{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Defaults.Clone(),
		Lookback:    st.MaxLookback(),
	}, nil
}

// Instantiate builds a fresh strategy with parameters = defaults merged with
// overrides. Override keys absent from the class's default set fail with
// InvalidInput: the key set is fixed per class.
func (r *Registry) Instantiate(name string, overrides Params) (Strategy, error) {
	r.mu.RLock()
	d, ok := r.classes[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewError(domain.InvalidInput, "unknown strategy %q", name)
	}

	merged := d.Defaults.Clone()
	for k, v := range overrides {
		if _, known := merged[k]; !known {
			return nil, domain.NewError(domain.InvalidInput,
				"strategy %q has no parameter %q", name, k)
		}
		merged[k] = v
	}
	return d.New(NewRuntime(merged)), nil
}

// DefaultRegistry returns a registry with the built-in strategy library.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(BuyAndHoldDescriptor())
	r.Register(SMACrossDescriptor())
	r.Register(RSIReversionDescriptor())
	r.Register(TestStrategyDescriptor())
	return r
}
