package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Builder constructs a gateway adapter. It runs at most once per factory
// unless it fails.
type Builder func() (Gateway, error)

// OrderMethod is the part of an order the factory needs
type OrderMethod interface {
	GetPaymentMethod() string
}

// Factory maps payment methods to gateway adapters and memoizes them
type Factory struct {
	mu       sync.Mutex
	methods  map[string]string
	builders map[string]Builder
	gateways map[string]Gateway
}

// NewFactory creates a factory with a method → gateway name mapping
func NewFactory(methods map[string]string) *Factory {
	m := make(map[string]string, len(methods))
	for method, gateway := range methods {
		m[normalize(method)] = normalize(gateway)
	}
	return &Factory{
		methods:  m,
		builders: make(map[string]Builder),
		gateways: make(map[string]Gateway),
	}
}

// Register adds a gateway builder. Registering a name again replaces the builder
// and drops any memoized adapter.
func (f *Factory) Register(name string, build Builder) {
	name = normalize(name)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[name] = build
	delete(f.gateways, name)
}

// Gateway returns the adapter registered under name
func (f *Factory) Gateway(name string) (Gateway, error) {
	name = normalize(name)
	f.mu.Lock()
	defer f.mu.Unlock()

	if gw, ok := f.gateways[name]; ok {
		return gw, nil
	}
	build, ok := f.builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: gateway %q", ErrMethodNotSupported, name)
	}
	gw, err := build()
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway %q: %w", name, err)
	}
	f.gateways[name] = gw
	return gw, nil
}

// GatewayName resolves a payment method to a gateway name
func (f *Factory) GatewayName(method string) (string, error) {
	method = normalize(method)
	if method == "" {
		return "", fmt.Errorf("%w: empty payment method", ErrMethodNotSupported)
	}
	name, ok := f.methods[method]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMethodNotSupported, method)
	}
	return name, nil
}

// ForMethod returns the adapter for a payment method identifier
func (f *Factory) ForMethod(method string) (Gateway, error) {
	name, err := f.GatewayName(method)
	if err != nil {
		return nil, err
	}
	return f.Gateway(name)
}

// ForOrder returns the adapter for an order's stored payment method
func (f *Factory) ForOrder(o OrderMethod) (Gateway, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: no order", ErrMethodNotSupported)
	}
	return f.ForMethod(o.GetPaymentMethod())
}

// Names lists registered gateway names
func (f *Factory) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.builders))
	for name := range f.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
