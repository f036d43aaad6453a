package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Builder creates a Dispatcher from a config entry.
type Builder func(ctx context.Context, cfg DispatcherConfig, log Logger) (Dispatcher, error)

// Registry maps dispatcher types to builders.
type Registry interface {
	Register(typ string, builder Builder)
	DispatcherFor(ctx context.Context, cfg DispatcherConfig, log Logger) (Dispatcher, error)
}

type registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry with optional pre-registered builders.
func NewRegistry(builders map[string]Builder) Registry {
	r := &registry{builders: make(map[string]Builder)}
	for typ, b := range builders {
		r.Register(typ, b)
	}
	return r
}

// Register associates a builder with a dispatcher type.
func (r *registry) Register(typ string, builder Builder) {
	if typ = strings.TrimSpace(strings.ToLower(typ)); typ == "" || builder == nil {
		return
	}

	r.mu.Lock()
	r.builders[typ] = builder
	r.mu.Unlock()
}

// DispatcherFor returns the dispatcher built for the provided config.
func (r *registry) DispatcherFor(ctx context.Context, cfg DispatcherConfig, log Logger) (Dispatcher, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("dispatcher %q has no type configured", cfg.ID)
	}

	r.mu.RLock()
	builder := r.builders[strings.ToLower(cfg.Type)]
	r.mu.RUnlock()

	if builder == nil {
		return nil, fmt.Errorf("no dispatcher registered for type %q", cfg.Type)
	}
	return builder(ctx, cfg, log)
}

// DefaultRegistry wires up known dispatcher types.
func DefaultRegistry() Registry {
	builders := map[string]Builder{
		TypeHTTP:      newHTTPDispatcher,
		TypeSQS:       newSQSDispatcher,
		TypeSNS:       newSNSDispatcher,
		TypeGCPPubSub: newGCPPubSubDispatcher,
		TypeLog:       newLogDispatcher,
	}
	return NewRegistry(builders)
}

// BuildAll instantiates dispatchers for configs using the registry.
func BuildAll(ctx context.Context, reg Registry, cfgs []DispatcherConfig, log Logger) ([]Dispatcher, error) {
	if reg == nil || len(cfgs) == 0 {
		return nil, nil
	}

	var out []Dispatcher
	for _, cfg := range cfgs {
		d, err := reg.DispatcherFor(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
