package device

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/enermesh/telemetrix/core/model"
)

// Registry maps (vendor, model) pairs to parser implementations.
// Registration happens once at startup; lookups are read-only after
// that, so the registry is safe to share across goroutines.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser under its VENDOR_MODEL key. Registering the
// same key twice is a wiring bug and fails.
func (r *Registry) Register(p Parser) error {
	if p == nil {
		return fmt.Errorf("nil parser")
	}
	key := DeviceType(p)
	if key == "_" {
		return fmt.Errorf("parser has empty vendor/model")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.parsers[key]; ok {
		return fmt.Errorf("parser already registered for %s", key)
	}
	r.parsers[key] = p
	return nil
}

// Resolve finds the parser for a vendor/model pair. Models configured
// with and without underscores resolve to the same parser.
func (r *Registry) Resolve(vendor, m string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := model.DeviceTypeKey(vendor, m)
	if p, ok := r.parsers[key]; ok {
		return p, true
	}
	stripped := model.DeviceTypeKey(vendor, strings.ReplaceAll(m, "_", ""))
	if p, ok := r.parsers[stripped]; ok {
		return p, true
	}
	for k, p := range r.parsers {
		if strings.ReplaceAll(k, "_", "") == strings.ReplaceAll(key, "_", "") {
			return p, true
		}
	}
	return nil, false
}

// ResolveDeviceType returns the canonical registry key for a
// vendor/model pair, for the configuration admin surface.
func (r *Registry) ResolveDeviceType(vendor, m string) (string, bool) {
	p, ok := r.Resolve(vendor, m)
	if !ok {
		return "", false
	}
	return DeviceType(p), true
}

// ListVendors returns the sorted set of supported vendors.
func (r *Registry) ListVendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, p := range r.parsers {
		seen[p.Vendor()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ListModels returns the sorted models supported for a vendor.
func (r *Registry) ListModels(vendor string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, p := range r.parsers {
		if strings.EqualFold(p.Vendor(), vendor) {
			out = append(out, p.Model())
		}
	}
	sort.Strings(out)
	return out
}
