package registry

import "fmt"

// API selects how the registry stores its models. It is chosen once when the
// registry is built.
type API int

const (
	// APICurrent keeps one config per installed app and rejects unknown apps
	APICurrent API = iota
	// APILegacy keeps a flat app-to-models table and a global models cache
	// that must be invalidated on every removal
	APILegacy
)

// ParseAPI maps a config value to an API
func ParseAPI(s string) (API, error) {
	switch s {
	case "", "current":
		return APICurrent, nil
	case "legacy":
		return APILegacy, nil
	default:
		return APICurrent, fmt.Errorf("unknown registry api %q", s)
	}
}

type store interface {
	registerApp(label string)
	hasApp(label string) bool
	get(app, name string) (*Model, bool)
	put(m *Model) error
	pop(app, name string) (*Model, error)
	appModels(app string) ([]*Model, error)
	all() []*Model
}

func newStore(api API) store {
	if api == APILegacy {
		return &legacyStore{apps: make(map[string]*orderedModels)}
	}
	return &appStore{apps: make(map[string]*appConfig)}
}

type orderedModels struct {
	order  []string
	models map[string]*Model
}

func newOrderedModels() *orderedModels {
	return &orderedModels{models: make(map[string]*Model)}
}

func (o *orderedModels) put(m *Model) {
	if _, ok := o.models[m.Name]; !ok {
		o.order = append(o.order, m.Name)
	}
	o.models[m.Name] = m
}

func (o *orderedModels) pop(name string) (*Model, bool) {
	m, ok := o.models[name]
	if !ok {
		return nil, false
	}
	delete(o.models, name)
	for i, n := range o.order {
		if n == name {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return m, true
}

func (o *orderedModels) list() []*Model {
	out := make([]*Model, 0, len(o.order))
	for _, n := range o.order {
		out = append(out, o.models[n])
	}
	return out
}

type appConfig struct {
	label  string
	models *orderedModels
}

type appStore struct {
	apps  map[string]*appConfig
	order []string
}

func (s *appStore) registerApp(label string) {
	if _, ok := s.apps[label]; ok {
		return
	}
	s.apps[label] = &appConfig{label: label, models: newOrderedModels()}
	s.order = append(s.order, label)
}

func (s *appStore) hasApp(label string) bool {
	_, ok := s.apps[label]
	return ok
}

func (s *appStore) get(app, name string) (*Model, bool) {
	cfg, ok := s.apps[app]
	if !ok {
		return nil, false
	}
	m, ok := cfg.models.models[name]
	return m, ok
}

func (s *appStore) put(m *Model) error {
	cfg, ok := s.apps[m.App]
	if !ok {
		return &RegistryError{App: m.App, Name: m.Name, Err: ErrUnregisteredApp}
	}
	cfg.models.put(m)
	return nil
}

func (s *appStore) pop(app, name string) (*Model, error) {
	cfg, ok := s.apps[app]
	if !ok {
		return nil, &RegistryError{App: app, Name: name, Err: ErrUnregisteredApp}
	}
	m, ok := cfg.models.pop(name)
	if !ok {
		return nil, &RegistryError{App: app, Name: name, Err: ErrNotRegistered}
	}
	return m, nil
}

func (s *appStore) appModels(app string) ([]*Model, error) {
	cfg, ok := s.apps[app]
	if !ok {
		return nil, &RegistryError{App: app, Err: ErrUnregisteredApp}
	}
	return cfg.models.list(), nil
}

func (s *appStore) all() []*Model {
	var out []*Model
	for _, label := range s.order {
		out = append(out, s.apps[label].models.list()...)
	}
	return out
}

// legacyStore creates app tables on first use and memoizes the flattened
// model list until the next change.
type legacyStore struct {
	apps   map[string]*orderedModels
	order  []string
	cache  []*Model
	cached bool
}

func (s *legacyStore) registerApp(label string) {
	if _, ok := s.apps[label]; ok {
		return
	}
	s.apps[label] = newOrderedModels()
	s.order = append(s.order, label)
	s.clearCache()
}

func (s *legacyStore) hasApp(label string) bool {
	_, ok := s.apps[label]
	return ok
}

func (s *legacyStore) get(app, name string) (*Model, bool) {
	models, ok := s.apps[app]
	if !ok {
		return nil, false
	}
	m, ok := models.models[name]
	return m, ok
}

func (s *legacyStore) put(m *Model) error {
	s.registerApp(m.App)
	s.apps[m.App].put(m)
	s.clearCache()
	return nil
}

func (s *legacyStore) pop(app, name string) (*Model, error) {
	models, ok := s.apps[app]
	if !ok {
		return nil, &RegistryError{App: app, Name: name, Err: ErrUnregisteredApp}
	}
	m, ok := models.pop(name)
	if !ok {
		return nil, &RegistryError{App: app, Name: name, Err: ErrNotRegistered}
	}
	s.clearCache()
	return m, nil
}

func (s *legacyStore) appModels(app string) ([]*Model, error) {
	models, ok := s.apps[app]
	if !ok {
		return nil, &RegistryError{App: app, Err: ErrUnregisteredApp}
	}
	return models.list(), nil
}

func (s *legacyStore) all() []*Model {
	if s.cached {
		return s.cache
	}
	s.cache = nil
	for _, label := range s.order {
		s.cache = append(s.cache, s.apps[label].list()...)
	}
	s.cached = true
	return s.cache
}

func (s *legacyStore) clearCache() {
	s.cache = nil
	s.cached = false
}
