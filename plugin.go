package b23bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"
)

// Plugin is a named set of handlers. Setup is called exactly once per load
// and registers handlers through the context it receives.
type Plugin struct {
	Name    string
	Version string
	Setup   func(ctx *Context) error
}

// Factory produces a fresh Plugin value for every load.
type Factory func() *Plugin

// Catalog is the set of plugins compiled into the binary.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (c *Catalog) Register(name string, f Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" || f == nil {
		return errors.New("plugin name and factory are required")
	}
	if _, exists := c.factories[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	c.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error, for use in init code.
func (c *Catalog) MustRegister(name string, f Factory) {
	if err := c.Register(name, f); err != nil {
		panic(err)
	}
}

func (c *Catalog) lookup(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}

// Names lists the registered plugin names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PluginRecord is a loaded plugin.
type PluginRecord struct {
	Name     string
	Version  string
	LoadedAt time.Time

	ctx *Context
}

// PluginInfo is one entry of PluginStatus.
type PluginInfo struct {
	Name    string
	Version string
	Enabled bool // per the persisted plugin list
}

// PluginStatus summarises the loaded plugins.
type PluginStatus struct {
	Total   int
	Plugins []PluginInfo
}

// PluginManager is the plugin-management surface exposed to plugins.
type PluginManager interface {
	Status() PluginStatus
	Available() []string
	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	Reload(ctx context.Context, name string) error
}

// Registry loads and unloads plugins and keeps the loaded set consistent
// with the persisted plugin list.
//
// Lifecycle operations are serialised. A plugin's Setup must not call
// Enable, Disable or Reload itself.
type Registry struct {
	catalog *Catalog
	store   *ConfigStore
	router  *Router
	link    Link
	http    *http.Client

	logger  *slog.Logger
	metrics *Metrics
	onError ErrorHandler

	opMu sync.Mutex // serialises LoadAll/Enable/Disable/Reload

	mu      sync.RWMutex
	records map[string]*PluginRecord
}

// NewRegistry creates a registry. link gives plugins access to the
// connection and may be nil when no connection exists.
func NewRegistry(catalog *Catalog, store *ConfigStore, router *Router, link Link, opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{
		catalog: catalog,
		store:   store,
		router:  router,
		link:    link,
		http:    o.httpClient,
		logger:  o.logger.With("component", "plugins"),
		metrics: o.metrics,
		onError: o.onError,
		records: make(map[string]*PluginRecord),
	}
}

// LoadAll loads each named plugin independently. Plugins that are already
// loaded are skipped. Failures are reported and joined into the returned
// error; they never stop the remaining plugins.
func (r *Registry) LoadAll(ctx context.Context, names []string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.logger.Info("loading plugins", "count", len(names))
	var errs []error
	for _, name := range names {
		if r.active(name) {
			r.logger.Debug("plugin already loaded", "plugin", name)
			continue
		}
		if err := r.load(name); err != nil {
			r.report(name, err)
			errs = append(errs, err)
		}
	}
	r.logger.Info("plugins ready", "loaded", r.loadedCount())
	return errors.Join(errs...)
}

// Enable appends name to the persisted plugin list and loads it. If the
// load fails the name stays enabled and the error is returned.
func (r *Registry) Enable(ctx context.Context, name string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.enable(name)
}

func (r *Registry) enable(name string) error {
	err := r.store.Update(func(d *Document) error {
		if slices.Contains(d.Plugins, name) {
			return fmt.Errorf("%s: %w", name, ErrAlreadyEnabled)
		}
		if _, ok := r.catalog.lookup(name); !ok {
			return fmt.Errorf("%s: %w", name, ErrPluginNotFound)
		}
		d.Plugins = append(d.Plugins, name)
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("plugin enabled", "plugin", name)

	r.unload(name)
	if err := r.load(name); err != nil {
		r.report(name, err)
		return fmt.Errorf("enabled %s but load failed: %w", name, err)
	}
	return nil
}

// Disable removes name from the persisted plugin list and unloads it,
// retracting every handler it registered.
func (r *Registry) Disable(ctx context.Context, name string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	err := r.store.Update(func(d *Document) error {
		i := slices.Index(d.Plugins, name)
		if i < 0 {
			return fmt.Errorf("%s: %w", name, ErrNotEnabled)
		}
		d.Plugins = slices.Delete(d.Plugins, i, i+1)
		return nil
	})
	if err != nil {
		return err
	}

	r.unload(name)
	r.logger.Info("plugin disabled", "plugin", name)
	return nil
}

// Reload unloads and loads name again. A plugin that is not enabled is
// enabled instead.
func (r *Registry) Reload(ctx context.Context, name string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if !r.store.PluginEnabled(name) {
		r.logger.Info("plugin not enabled, enabling", "plugin", name)
		return r.enable(name)
	}

	r.unload(name)
	if err := r.load(name); err != nil {
		r.report(name, err)
		return err
	}
	r.logger.Info("plugin reloaded", "plugin", name)
	return nil
}

// Status lists loaded plugins sorted by name. Enabled reflects the
// persisted list, not mere presence in memory.
func (r *Registry) Status() PluginStatus {
	r.mu.RLock()
	infos := make([]PluginInfo, 0, len(r.records))
	for _, rec := range r.records {
		infos = append(infos, PluginInfo{Name: rec.Name, Version: rec.Version})
	}
	r.mu.RUnlock()

	for i := range infos {
		infos[i].Enabled = r.store.PluginEnabled(infos[i].Name)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return PluginStatus{Total: len(infos), Plugins: infos}
}

// Names lists every plugin compiled into the binary.
func (r *Registry) Names() []string {
	return r.catalog.Names()
}

// Available is Names, for PluginManager.
func (r *Registry) Available() []string {
	return r.Names()
}

// Record returns the loaded record for name.
func (r *Registry) Record(name string) (PluginRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	if !ok {
		return PluginRecord{}, false
	}
	return *rec, true
}

func (r *Registry) active(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[name]
	return ok
}

func (r *Registry) loadedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Registry) load(name string) error {
	factory, ok := r.catalog.lookup(name)
	if !ok {
		return &PluginError{Plugin: name, Reason: "not found", Cause: ErrPluginNotFound}
	}

	p, err := instantiate(factory)
	if err != nil {
		return &PluginError{Plugin: name, Reason: "factory failed", Cause: err}
	}
	if p == nil || p.Name == "" || p.Version == "" || p.Setup == nil {
		return &PluginError{Plugin: name, Reason: "invalid plugin: name, version and setup are required"}
	}
	if p.Name != name {
		return &PluginError{Plugin: name, Reason: fmt.Sprintf("declares name %q", p.Name)}
	}

	pctx := newContext(r, p.Name)
	if err := runSetup(p, pctx); err != nil {
		pctx.retract()
		return &PluginError{Plugin: name, Reason: "setup failed", Cause: err}
	}

	r.mu.Lock()
	r.records[name] = &PluginRecord{
		Name:     p.Name,
		Version:  p.Version,
		LoadedAt: time.Now(),
		ctx:      pctx,
	}
	n := len(r.records)
	r.mu.Unlock()

	r.metrics.setPluginsLoaded(n)
	r.logger.Info("plugin loaded", "plugin", p.Name, "version", p.Version)
	return nil
}

// unload drops the record for name and retracts its subscriptions.
func (r *Registry) unload(name string) bool {
	r.mu.Lock()
	rec, ok := r.records[name]
	delete(r.records, name)
	n := len(r.records)
	r.mu.Unlock()
	if !ok {
		return false
	}

	removed := rec.ctx.retract()
	r.metrics.setPluginsLoaded(n)
	r.logger.Debug("plugin unloaded", "plugin", name, "handlers", removed)
	return true
}

func (r *Registry) report(name string, err error) {
	r.onError(BotError{
		Kind:      ErrPluginLoad,
		Plugin:    name,
		Cause:     err,
		Timestamp: time.Now(),
	})
}

func instantiate(f Factory) (p *Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return f(), nil
}

func runSetup(p *Plugin, ctx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.Setup(ctx)
}
