package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ksred/schema-tenancy/internal/signals"
)

// Registry is the process wide table of models. Every read-modify-write
// sequence runs under its lock, so a concurrent definition pass never sees a
// half removed model.
type Registry struct {
	mu         sync.Mutex
	api        API
	store      store
	dispatcher *signals.Dispatcher
}

// New creates a registry using the given storage API. apps are the installed
// app labels.
func New(api API, dispatcher *signals.Dispatcher, apps ...string) *Registry {
	if dispatcher == nil {
		dispatcher = signals.NewDispatcher()
	}
	r := &Registry{
		api:        api,
		store:      newStore(api),
		dispatcher: dispatcher,
	}
	for _, app := range apps {
		r.store.registerApp(app)
	}
	return r
}

// API returns the storage API the registry was built with
func (r *Registry) API() API {
	return r.api
}

// Dispatcher returns the signal dispatcher models are disconnected from on removal
func (r *Registry) Dispatcher() *signals.Dispatcher {
	return r.dispatcher
}

// RegisterApp installs an app label
func (r *Registry) RegisterApp(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.registerApp(label)
}

// Lock acquires the registry lock. While it is held only the Locked methods
// may be called.
func (r *Registry) Lock() {
	r.mu.Lock()
}

// Unlock releases the registry lock
func (r *Registry) Unlock() {
	r.mu.Unlock()
}

// WithLock runs fn with the registry lock held, for check-then-act sequences
// built from the Locked methods
func (r *Registry) WithLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

// Register adds models and their reverse accessors. Either all models are
// registered or none.
func (r *Registry) Register(models ...*Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RegisterLocked(models...)
}

// RegisterLocked is Register for callers holding the lock
func (r *Registry) RegisterLocked(models ...*Model) error {
	var done []*Model
	for _, m := range models {
		if err := r.registerOneLocked(m); err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				if popped, popErr := r.store.pop(done[i].App, done[i].Name); popErr == nil {
					_ = r.unreferLocked(popped)
				}
			}
			return err
		}
		done = append(done, m)
	}
	return nil
}

func (r *Registry) registerOneLocked(m *Model) error {
	if _, ok := r.store.get(m.App, m.Name); ok {
		return &RegistryError{App: m.App, Name: m.Name, Err: ErrAlreadyRegistered}
	}
	if !r.store.hasApp(m.App) && r.api == APICurrent {
		return &RegistryError{App: m.App, Name: m.Name, Err: ErrUnregisteredApp}
	}

	for _, rel := range m.Relations {
		rel.owner = m
		target, err := r.resolveTargetLocked(m, rel)
		if err != nil {
			return err
		}
		rel.target = target
	}

	// Check every accessor before touching targets
	for _, rel := range m.Relations {
		if !rel.AddsAccessor() {
			continue
		}
		name := rel.AccessorName(m)
		if existing, ok := rel.target.accessors[name]; ok && existing.owner.family() != m.family() {
			return &AccessorError{Target: rel.target.Label(), Accessor: name, Err: ErrAccessorClash}
		}
	}

	if err := r.store.put(m); err != nil {
		return err
	}

	for _, rel := range m.Relations {
		rel.target.ClearRelatedCache()
		if !rel.AddsAccessor() {
			continue
		}
		if rel.target.accessors == nil {
			rel.target.accessors = make(map[string]*Relation)
		}
		rel.target.accessors[rel.AccessorName(m)] = rel
	}
	return nil
}

// resolveTargetLocked points relations of a tenant variant at the same
// tenant's variant of a tenant scoped target
func (r *Registry) resolveTargetLocked(m *Model, rel *Relation) (*Model, error) {
	if rel.To == nil {
		return nil, fmt.Errorf("%s.%s: relation %s has no target", m.App, m.Name, rel.Name)
	}
	if m.tenant == "" || !rel.To.TenantScoped {
		return rel.To, nil
	}
	root := rel.To.family()
	target, ok := r.store.get(root.App, SpecializedName(m.tenant, root.Name))
	if !ok {
		if root == m.family() {
			// self reference
			return m, nil
		}
		return nil, &RegistryError{App: root.App, Name: SpecializedName(m.tenant, root.Name), Err: ErrNotRegistered}
	}
	return target, nil
}

// GetModel returns the registered model or nil
func (r *Registry) GetModel(app, name string) *Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.GetModelLocked(app, name)
}

// GetModelLocked is GetModel for callers holding the lock
func (r *Registry) GetModelLocked(app, name string) *Model {
	m, _ := r.store.get(app, name)
	return m
}

// Models returns every registered model in registration order
func (r *Registry) Models() []*Model {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.store.all()
	out := make([]*Model, len(all))
	copy(out, all)
	return out
}

// AppModels returns the models of one app
func (r *Registry) AppModels(app string) ([]*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.appModels(app)
}

// TenantRoots returns the tenant scoped root templates
func (r *Registry) TenantRoots() []*Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.TenantRootsLocked()
}

// TenantRootsLocked is TenantRoots for callers holding the lock
func (r *Registry) TenantRootsLocked() []*Model {
	var roots []*Model
	for _, m := range r.store.all() {
		if m.TenantScoped && m.IsRoot() {
			roots = append(roots, m)
		}
	}
	return roots
}

// Remove pops a model from the registry and unlinks it from the models it
// references. With quiet set a missing app or model is not an error.
func (r *Registry) Remove(m *Model, quiet bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.RemoveLocked(m, quiet)
}

// RemoveLocked is Remove for callers holding the lock
func (r *Registry) RemoveLocked(m *Model, quiet bool) error {
	popped, err := r.store.pop(m.App, m.Name)
	if err != nil {
		if quiet && (errors.Is(err, ErrUnregisteredApp) || errors.Is(err, ErrNotRegistered)) {
			return nil
		}
		return err
	}
	return r.unreferLocked(popped)
}

// unreferLocked disconnects the model's signals, clears the related caches of
// every model it references and removes its reverse accessors. An accessor
// already removed or taken over by a sibling tenant variant sharing a hidden
// one to one accessor is skipped.
func (r *Registry) unreferLocked(m *Model) error {
	r.dispatcher.DisconnectModel(m)

	for _, rel := range m.Relations {
		target := rel.Target()
		target.ClearRelatedCache()
		if !rel.AddsAccessor() {
			continue
		}
		if err := removeAccessor(target, rel.AccessorName(m), rel); err != nil {
			if errors.Is(err, ErrAccessorNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

// removeAccessor deletes the accessor only while it still belongs to rel. An
// accessor since taken over by a sibling variant counts as already removed.
func removeAccessor(target *Model, name string, rel *Relation) error {
	if current, ok := target.accessors[name]; !ok || current != rel {
		return &AccessorError{Target: target.Label(), Accessor: name, Err: ErrAccessorNotFound}
	}
	delete(target.accessors, name)
	return nil
}

// Accessor returns the relation behind a reverse accessor on m
func (r *Registry) Accessor(m *Model, name string) (*Relation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rel, ok := m.accessors[name]
	return rel, ok
}

// RelatedObjects returns every registered relation targeting m. The result is
// cached on m until a model referencing it is registered or removed.
func (r *Registry) RelatedObjects(m *Model) []*Relation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !m.relatedCached {
		m.relatedCache = nil
		for _, other := range r.store.all() {
			for _, rel := range other.Relations {
				if rel.Target() == m {
					m.relatedCache = append(m.relatedCache, rel)
				}
			}
		}
		m.relatedCached = true
	}
	out := make([]*Relation, len(m.relatedCache))
	copy(out, m.relatedCache)
	return out
}

// NameMap maps every field, relation and accessor name usable in lookups on m
// to its kind. Cached like RelatedObjects.
func (r *Registry) NameMap(m *Model) map[string]string {
	related := r.RelatedObjects(m)

	r.mu.Lock()
	defer r.mu.Unlock()

	if m.nameMap == nil {
		names := make(map[string]string)
		for _, f := range m.Fields {
			names[f.Name] = "field"
		}
		for _, rel := range m.Relations {
			names[rel.Name] = rel.Kind.String()
		}
		for _, rel := range related {
			if rel.AddsAccessor() {
				names[rel.AccessorName(rel.owner)] = "reverse_" + rel.Kind.String()
			}
		}
		m.nameMap = names
	}
	out := make(map[string]string, len(m.nameMap))
	for k, v := range m.nameMap {
		out[k] = v
	}
	return out
}
