// Package dataflow weaves taint tracking aspects into method bodies. An
// Engine receives the host's module and compilation notifications, binds the
// loaded rule set to each module and rewrites the calls the rules target.
package dataflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/isseis/go-iast-weaver/internal/aspects"
	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/host"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// Options configures an Engine.
type Options struct {
	// ApplyOnJIT hands rewritten bodies to the host during the first
	// compilation instead of requesting a recompilation.
	ApplyOnJIT bool
	// Verify re-analyzes every rewritten body before committing it.
	Verify bool
	// DumpIL logs the listing of every rewritten body.
	DumpIL bool

	Exclusions Exclusions
	// MethodCacheSize bounds the method exclusion cache.
	MethodCacheSize int
}

type moduleEntry struct {
	module  *metadata.Module
	aspects atomic.Pointer[ModuleAspects]
}

// Engine is the instrumentation context shared by every notification.
type Engine struct {
	host    host.Host
	opts    Options
	matcher *Matcher

	rules atomic.Pointer[aspects.RuleSet]

	mu      sync.RWMutex
	domains map[metadata.AppDomainID]string
	modules map[metadata.ModuleID]*moduleEntry
}

// NewEngine creates an engine attached to h.
func NewEngine(h host.Host, opts Options) (*Engine, error) {
	matcher, err := NewMatcher(opts.Exclusions, opts.MethodCacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		host:    h,
		opts:    opts,
		matcher: matcher,
		domains: make(map[metadata.AppDomainID]string),
		modules: make(map[metadata.ModuleID]*moduleEntry),
	}, nil
}

// Matcher returns the exclusion filters.
func (e *Engine) Matcher() *Matcher {
	return e.matcher
}

// LoadAspects installs rules. Bindings made against a previous rule set are
// dropped and recomputed on demand.
func (e *Engine) LoadAspects(rules *aspects.RuleSet) {
	if rules == nil {
		rules = &aspects.RuleSet{}
	}
	e.rules.Store(rules)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, entry := range e.modules {
		entry.aspects.Store(nil)
	}
	slog.Info("Aspects loaded",
		slog.Int("classes", len(rules.Classes)),
		slog.Int("aspects", len(rules.Aspects)))
}

// Rules returns the installed rule set, or nil.
func (e *Engine) Rules() *aspects.RuleSet {
	return e.rules.Load()
}

// AppDomainCreated records the name of an app domain.
func (e *Engine) AppDomainCreated(id metadata.AppDomainID, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.domains[id] = name
}

// AppDomainShutdown forgets an app domain and its modules.
func (e *Engine) AppDomainShutdown(id metadata.AppDomainID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.domains, id)
	for modID, entry := range e.modules {
		if entry.module.AppDomain == id {
			delete(e.modules, modID)
		}
	}
}

// ModuleLoaded creates the descriptor of a newly loaded module.
func (e *Engine) ModuleLoaded(info metadata.ModuleInfo) (*metadata.Module, error) {
	catalog, err := e.host.Catalog(info.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog of %s: %w", info.Name, err)
	}
	bodies, err := e.host.Bodies(info.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bodies of %s: %w", info.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	domain := e.domains[info.AppDomain]
	excluded := e.matcher.IsDomainExcluded(domain) || e.matcher.IsAssemblyExcluded(info.AssemblyName)
	domainID := info.AppDomain
	m := metadata.NewModule(info, catalog, bodies,
		metadata.WithExcluded(excluded),
		metadata.WithPeers(func(assembly string) *metadata.Module { return e.peer(domainID, assembly) }),
		metadata.WithMethodExclusion(e.matcher.IsMethodExcluded),
		metadata.WithVerification(e.opts.Verify, e.opts.DumpIL))
	e.modules[info.ID] = &moduleEntry{module: m}
	slog.Debug("Module loaded",
		slog.String("module", info.Name),
		slog.String("assembly", info.AssemblyName),
		slog.Bool("excluded", excluded))
	return m, nil
}

// peer finds a module of the app domain by assembly name. Lowest module ID
// wins.
func (e *Engine) peer(domain metadata.AppDomainID, assembly string) *metadata.Module {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var found *metadata.Module
	for _, entry := range e.modules {
		m := entry.module
		if m.AppDomain != domain || m.AssemblyName != assembly {
			continue
		}
		if found == nil || m.ID < found.ID {
			found = m
		}
	}
	return found
}

// ModuleUnloaded forgets a module.
func (e *Engine) ModuleUnloaded(id metadata.ModuleID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.modules, id)
}

// Module returns the descriptor of a loaded module.
func (e *Engine) Module(id metadata.ModuleID) (*metadata.Module, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	return entry.module, nil
}

// Modules returns the loaded modules ordered by ID.
func (e *Engine) Modules() []*metadata.Module {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*metadata.Module, 0, len(e.modules))
	for _, entry := range e.modules {
		out = append(out, entry.module)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) entry(id metadata.ModuleID) (*moduleEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownModule, id)
	}
	return entry, nil
}

// ModuleAspects returns the binding of the installed rules to a module,
// computing it on first use.
func (e *Engine) ModuleAspects(ctx context.Context, id metadata.ModuleID) (*ModuleAspects, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	return e.moduleAspects(ctx, entry), nil
}

func (e *Engine) moduleAspects(ctx context.Context, entry *moduleEntry) *ModuleAspects {
	if ma := entry.aspects.Load(); ma != nil {
		return ma
	}
	ctx, release := entry.module.Guard().Enter(ctx)
	defer release()
	if ma := entry.aspects.Load(); ma != nil {
		return ma
	}
	ma := bindModule(ctx, entry.module, e.rules.Load())
	entry.aspects.Store(ma)
	return ma
}

func (e *Engine) method(id metadata.ModuleID, tok cil.Token) (*moduleEntry, *metadata.Method, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, nil, err
	}
	if !tok.Is(cil.TableMethodDef) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownMethod, tok)
	}
	method, err := entry.module.MethodInfo(tok)
	if err != nil {
		return nil, nil, err
	}
	return entry, method, nil
}

// JITCompilationStarted instruments a method the first time the host
// compiles it. The rewrite is applied at once when ApplyOnJIT is set;
// otherwise a recompilation is requested and the body handed over in
// GetReJITParameters.
func (e *Engine) JITCompilationStarted(ctx context.Context, id metadata.ModuleID, tok cil.Token) error {
	entry, method, err := e.method(id, tok)
	if err != nil {
		return err
	}
	if entry.module.IsExcluded() || method.IsExcluded() || !method.TrySetProcessed() {
		return nil
	}

	changed, err := e.rewrite(ctx, entry, method)
	if err != nil || !changed {
		return err
	}
	if e.opts.ApplyOnJIT {
		return method.ApplyFinalInstrumentation(nil)
	}
	return e.host.RequestReJIT(id, []cil.Token{tok})
}

// IsInlineEnabled reports whether the host may inline the method into its
// callers.
func (e *Engine) IsInlineEnabled(id metadata.ModuleID, tok cil.Token) bool {
	_, method, err := e.method(id, tok)
	if err != nil {
		return true
	}
	return method.IsInlineEnabled()
}

// ReJITCompilationStarted prepares a method for recompilation.
func (e *Engine) ReJITCompilationStarted(id metadata.ModuleID, tok cil.Token) error {
	_, method, err := e.method(id, tok)
	if err != nil {
		return err
	}
	return method.ReJITCompilationStarted()
}

// GetReJITParameters hands the rewritten body of a method to fc. A rewrite
// pending from the first compilation is used as is; otherwise the method is
// rewritten from its original body.
func (e *Engine) GetReJITParameters(ctx context.Context, id metadata.ModuleID, tok cil.Token, fc metadata.FunctionControl) error {
	entry, method, err := e.method(id, tok)
	if err != nil {
		return err
	}
	if entry.module.IsExcluded() || method.IsExcluded() {
		return nil
	}
	if !method.HasChanged() {
		changed, err := e.rewrite(ctx, entry, method)
		if err != nil || !changed {
			return err
		}
	}
	return method.ApplyFinalInstrumentation(fc)
}

// ReJITCompilationFinished releases the recompilation snapshot.
func (e *Engine) ReJITCompilationFinished(id metadata.ModuleID, tok cil.Token) error {
	_, method, err := e.method(id, tok)
	if err != nil {
		return err
	}
	method.ReJITCompilationFinished()
	return nil
}

// Instrument rewrites a method whether or not it was compiled yet and reports
// whether a new body was committed. A method whose body already carries
// helper calls, written or pending, is left alone. The body is not handed to
// the host.
func (e *Engine) Instrument(ctx context.Context, id metadata.ModuleID, tok cil.Token) (bool, error) {
	entry, method, err := e.method(id, tok)
	if err != nil {
		return false, err
	}
	if entry.module.IsExcluded() || method.IsExcluded() {
		return false, nil
	}
	return e.rewrite(ctx, entry, method)
}
