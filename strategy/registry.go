package strategy

import (
	"context"

	identity "github.com/goliatone/go-identity"
)

// Registry is the closed mapping from strategy type names to
// implementations. It is built once at startup and safe for concurrent
// reads; there is no way to add strategies after construction.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a registry from the given implementations. Duplicate
// type names are a configuration error.
func NewRegistry(strategies ...Strategy) (*Registry, error) {
	table := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		if s == nil {
			continue
		}
		if _, exists := table[s.Type()]; exists {
			return nil, identity.NewConfigurationError("duplicate strategy type: " + s.Type())
		}
		table[s.Type()] = s
	}
	return &Registry{strategies: table}, nil
}

// Get resolves a type name to its implementation.
func (r *Registry) Get(typeName string) (Strategy, error) {
	s, ok := r.strategies[typeName]
	if !ok {
		return nil, identity.ErrUnknownStrategy
	}
	return s, nil
}

// Types lists the registered type names.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}

// ValidateInstances checks every persisted strategy instance against the
// registry at startup: an unknown configured type or a config that no longer
// validates is a fatal error, not a runtime surprise.
func (r *Registry) ValidateInstances(ctx context.Context, instances identity.StrategyInstances) error {
	records, err := instances.List(ctx)
	if err != nil {
		return err
	}

	for _, record := range records {
		s, err := r.Get(record.Type)
		if err != nil {
			return identity.WrapConfigurationError(err, "instance "+record.Name+" references unknown strategy type "+record.Type)
		}
		if _, err := s.CheckAndExtendInstanceConfig(record.InstanceConfig); err != nil {
			return identity.WrapConfigurationError(err, "instance "+record.Name+" has invalid config")
		}
	}
	return nil
}

// CreateInstance validates the config through the strategy and persists a
// new instance of the given type.
func (r *Registry) CreateInstance(ctx context.Context, repo identity.StrategyInstances, record *identity.StrategyInstance) (*identity.StrategyInstance, error) {
	s, err := r.Get(record.Type)
	if err != nil {
		return nil, err
	}

	validated, err := s.CheckAndExtendInstanceConfig(record.InstanceConfig)
	if err != nil {
		return nil, err
	}
	record.InstanceConfig = validated

	return repo.Create(ctx, record)
}

// UpdateInstanceConfig revalidates and persists a config change. The
// instance type itself is immutable.
func (r *Registry) UpdateInstanceConfig(ctx context.Context, repo identity.StrategyInstances, record *identity.StrategyInstance) (*identity.StrategyInstance, error) {
	s, err := r.Get(record.Type)
	if err != nil {
		return nil, err
	}

	validated, err := s.CheckAndExtendInstanceConfig(record.InstanceConfig)
	if err != nil {
		return nil, err
	}
	record.InstanceConfig = validated

	return repo.UpdateConfig(ctx, record)
}
