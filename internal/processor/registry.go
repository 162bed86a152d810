package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/clogs/internal/clock"
	"github.com/loykin/clogs/internal/model"
)

// Registry owns the processor singletons and indexes them by input type.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	instances []*Instance
	byName    map[string]*Instance
	byType    map[model.Type][]*Instance
	closed    bool
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		byName: make(map[string]*Instance),
		byType: make(map[model.Type][]*Instance),
	}
}

// Discover returns the enabled, constructible definitions of catalog in order.
// Entries without a factory, disabled entries and repeated names are dropped.
func (r *Registry) Discover(catalog []Definition) []Definition {
	seen := make(map[string]bool, len(catalog))
	out := make([]Definition, 0, len(catalog))
	for _, def := range catalog {
		switch {
		case def.New == nil || def.Disabled:
			r.logger.Debug("processor skipped", "processor", def.Name, "disabled", def.Disabled)
			continue
		case def.Name == "":
			r.logger.Warn("processor without name skipped", "input", def.Input)
			continue
		case seen[def.Name]:
			r.logger.Warn("duplicate processor name skipped", "processor", def.Name)
			continue
		}
		seen[def.Name] = true
		if def.Interval <= 0 {
			def.Interval = DefaultInterval
		}
		out = append(out, def)
	}
	return out
}

// Register builds the processor for def, indexes it and runs OnStartup.
// A construction failure skips the processor; a startup failure is logged
// and the processor stays registered.
func (r *Registry) Register(ctx context.Context, def Definition, env Env) (*Instance, error) {
	if def.Interval <= 0 {
		def.Interval = DefaultInterval
	}
	if env.Logger == nil {
		env.Logger = r.logger
	}
	if env.Clock == nil {
		env.Clock = clock.Real()
	}
	env.Logger = env.Logger.With("processor", def.Name)

	r.mu.RLock()
	_, dup := r.byName[def.Name]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("register %s: registry is shut down", def.Name)
	}
	if dup {
		return nil, fmt.Errorf("register %s: already registered", def.Name)
	}
	if env.Store == nil {
		return nil, fmt.Errorf("register %s: no store", def.Name)
	}

	var p Processor
	err := safeCall(func() error {
		var err error
		p, err = def.New(env)
		return err
	})
	if err == nil && p == nil {
		err = fmt.Errorf("factory returned no processor")
	}
	if err != nil {
		r.logger.Error("processor construction failed", "processor", def.Name, "error", err)
		return nil, fmt.Errorf("construct %s: %w", def.Name, err)
	}

	inst := newInstance(def, p, env.Store, r.logger)
	r.mu.Lock()
	if _, dup := r.byName[def.Name]; dup {
		r.mu.Unlock()
		return nil, fmt.Errorf("register %s: already registered", def.Name)
	}
	r.instances = append(r.instances, inst)
	r.byName[def.Name] = inst
	if def.Input == model.TypeNone {
		r.logger.Warn("processor has no input type; it only runs on_interval", "processor", def.Name)
	} else {
		r.byType[def.Input] = append(r.byType[def.Input], inst)
	}
	r.mu.Unlock()

	if err := safeCall(func() error { return p.OnStartup(ctx) }); err != nil {
		r.logger.Error("processor startup failed", "processor", def.Name, "error", err)
	}
	r.logger.Info("processor loaded", "processor", def.Name, "input", def.Input.String(),
		"output", def.Output.String(), "interval", def.Interval)
	return inst, nil
}

// LoadAll discovers and registers every catalog entry. Failures of one entry
// never prevent the others from loading.
func (r *Registry) LoadAll(ctx context.Context, catalog []Definition, env Env) []*Instance {
	var loaded []*Instance
	for _, def := range r.Discover(catalog) {
		inst, err := r.Register(ctx, def, env)
		if err != nil {
			continue
		}
		loaded = append(loaded, inst)
	}
	return loaded
}

// ProcessorsFor returns the instances registered for t in registration order.
func (r *Registry) ProcessorsFor(t model.Type) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byType[t]
	if len(list) == 0 {
		return nil
	}
	return append([]*Instance(nil), list...)
}

// OutputTypeOf returns the declared output of the named processor, or none.
func (r *Registry) OutputTypeOf(name string) model.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if inst, ok := r.byName[name]; ok {
		return inst.Output
	}
	return model.TypeNone
}

// Lookup returns the named instance.
func (r *Registry) Lookup(name string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byName[name]
	return inst, ok
}

// Instances returns every instance in registration order.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Instance(nil), r.instances...)
}

// Shutdown runs OnShutdown and closes the private session of every instance
// exactly once. Safe to call repeatedly.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	list := append([]*Instance(nil), r.instances...)
	r.mu.Unlock()
	for _, inst := range list {
		inst.close(ctx)
	}
}
