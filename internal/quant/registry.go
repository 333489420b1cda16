package quant

import (
	"fmt"
	"sync"
)

// Registry maps each of the three quantization kinds spec §4.3 names
// (Trivial/Scalar/Product) onto the QuantizerFactory that builds it, so
// internal/index/flat, hnsw, and ivf can all ask for "the configured
// Quantizer" without knowing which concrete type backs it. One process-wide
// instance (globalRegistry, below) is seeded in init() with the three
// factories this package ships; NewRegistry exists for tests that want an
// isolated table instead of mutating the shared one.
type Registry struct {
	mu        sync.RWMutex
	factories map[QuantizationType]QuantizerFactory
}

// NewRegistry creates a new quantizer registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[QuantizationType]QuantizerFactory),
	}
}

// Register registers a quantizer factory for a specific type
func (r *Registry) Register(qType QuantizationType, factory QuantizerFactory) error {
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	if !factory.Supports(qType) {
		return fmt.Errorf("factory %s does not support quantization type %s",
			factory.Name(), qType.String())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[qType]; exists {
		return fmt.Errorf("factory for quantization type %s already registered", qType.String())
	}

	r.factories[qType] = factory
	return nil
}

// Unregister removes a quantizer factory
func (r *Registry) Unregister(qType QuantizationType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, qType)
}

// Create creates a quantizer instance using the registered factory
func (r *Registry) Create(config *QuantizationConfig) (Quantizer, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r.mu.RLock()
	factory, exists := r.factories[config.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no factory registered for quantization type %s", config.Type.String())
	}

	return factory.Create(config)
}

// IsSupported returns true if the quantization type is supported
func (r *Registry) IsSupported(qType QuantizationType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[qType]
	return exists
}

// SupportedTypes returns all supported quantization types
func (r *Registry) SupportedTypes() []QuantizationType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]QuantizationType, 0, len(r.factories))
	for qType := range r.factories {
		types = append(types, qType)
	}
	return types
}

// GetFactory returns the factory for a specific quantization type
func (r *Registry) GetFactory(qType QuantizationType) (QuantizerFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[qType]
	if !exists {
		return nil, fmt.Errorf("no factory registered for quantization type %s", qType.String())
	}

	return factory, nil
}

// Clear removes all registered factories
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[QuantizationType]QuantizerFactory)
}

// globalRegistry is the table every index package's NewQuantizer call goes
// through; package-level Register/Create/IsSupported/SupportedTypes are thin
// forwarders onto it so callers never need to construct their own Registry.
var globalRegistry = NewRegistry()

// Register adds a factory to the global registry.
func Register(qType QuantizationType, factory QuantizerFactory) error {
	return globalRegistry.Register(qType, factory)
}

// Create builds a Quantizer from config via the global registry.
func Create(config *QuantizationConfig) (Quantizer, error) {
	return globalRegistry.Create(config)
}

// IsSupported reports whether qType has a factory in the global registry.
func IsSupported(qType QuantizationType) bool {
	return globalRegistry.IsSupported(qType)
}

// SupportedTypes lists every quantization type the global registry can build.
func SupportedTypes() []QuantizationType {
	return globalRegistry.SupportedTypes()
}

// defaultFactories seeds the global registry with the three quantizer kinds
// this package ships (spec §4.3: Trivial/Scalar/Product). Registered in
// dependency order roughly matching how often each is reached: Trivial is
// the no-op default every Flat/HNSW build uses until the host opts into
// compression, Scalar and Product are the two compressed tiers IVF and
// quantized HNSW builds choose between.
var defaultFactories = []struct {
	qType   QuantizationType
	factory QuantizerFactory
}{
	{TrivialQuantization, NewTrivialQuantizerFactory()},
	{ScalarQuantization, NewScalarQuantizerFactory()},
	{ProductQuantization, NewProductQuantizerFactory()},
}

func init() {
	for _, df := range defaultFactories {
		if err := Register(df.qType, df.factory); err != nil {
			panic(fmt.Sprintf("quant: failed to register %s factory: %v", df.qType.String(), err))
		}
	}
}
