package agent

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Def describes a participant to construct from configuration.
type Def struct {
	ID           string         `yaml:"id"`
	Kind         string         `yaml:"kind"`
	Capabilities []string       `yaml:"capabilities,omitempty"`
	Extra        map[string]any `yaml:",inline"`
}

// GetString reads an extra setting as a string, returning def if absent.
func (d *Def) GetString(key, def string) string {
	if v, ok := d.Extra[key].(string); ok {
		return v
	}
	return def
}

// UnmarshalKey decodes an extra setting into v. Missing keys are a no-op so
// participant kinds can treat all settings as optional.
func (d *Def) UnmarshalKey(key string, v any) error {
	raw, exists := d.Extra[key]
	if !exists {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal key %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal key %q: %w", key, err)
	}
	return nil
}

// FactoryFunc constructs a participant from its definition.
type FactoryFunc func(Def) (Participant, error)

// Registry maps participant kinds to factories.
type Registry interface {
	Register(kind string, factory FactoryFunc)
	GetFactory(kind string) (FactoryFunc, bool)
}

// DefaultRegistry is the process-wide registry implementation.
type DefaultRegistry struct {
	mu        sync.RWMutex
	factories map[string]FactoryFunc
}

var defaultRegistry = &DefaultRegistry{
	factories: make(map[string]FactoryFunc),
}

// Register implements Registry.
func (r *DefaultRegistry) Register(kind string, factory FactoryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// GetFactory implements Registry.
func (r *DefaultRegistry) GetFactory(kind string) (FactoryFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Register adds a participant factory to the default registry.
// Participant kinds call this from init().
func Register(kind string, factory FactoryFunc) {
	defaultRegistry.Register(kind, factory)
}

// New constructs a participant from a definition using the default registry.
func New(def Def) (Participant, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("participant definition missing id")
	}
	factory, ok := defaultRegistry.GetFactory(def.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown participant kind %q", def.Kind)
	}
	return factory(def)
}
