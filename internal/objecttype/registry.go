package objecttype

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry holds the universe of recognized object type identifiers: the
// built-in types, the postable types (including any announced at runtime by
// the host platform), and dynamically registered pluggable types.
//
// The combined maps are computed lazily and cached until a postable type is
// announced or a pluggable type is registered.
type Registry struct {
	mu sync.RWMutex

	extraPostable map[string]string
	pluggables    map[string]Resolver

	// derived, nil until computed
	postableTypes map[string]string
	allTypes      map[string]string
	validMemo     map[string]bool
}

// NewRegistry creates a registry holding only the built-in types.
func NewRegistry() *Registry {
	return &Registry{
		extraPostable: make(map[string]string),
		pluggables:    make(map[string]Resolver),
	}
}

// PostableTypes returns the name→name map of postable object types.
func (r *Registry) PostableTypes() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyMap(r.postableTypesLocked())
}

func (r *Registry) postableTypesLocked() map[string]string {
	if r.postableTypes == nil {
		types := map[string]string{
			TypePost:       TypePost,
			TypePage:       TypePage,
			TypeAttachment: TypeAttachment,
		}
		for name := range r.extraPostable {
			types[name] = name
		}
		r.postableTypes = types
	}
	return r.postableTypes
}

// ObjectTypes returns the built-in non-postable types plus term taxonomy
// aliases.
func (r *Registry) ObjectTypes() map[string]string {
	return map[string]string{
		TypeRole:     TypeRole,
		TypeUser:     TypeUser,
		TypeTerm:     TypeTerm,
		TypeCategory: TypeCategory,
	}
}

// AllObjectTypes returns the full set: built-in ∪ postable ∪ pluggable.
func (r *Registry) AllObjectTypes() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyMap(r.allTypesLocked())
}

func (r *Registry) allTypesLocked() map[string]string {
	if r.allTypes == nil {
		all := make(map[string]string)
		for name := range r.ObjectTypes() {
			all[name] = name
		}
		for name := range r.postableTypesLocked() {
			all[name] = name
		}
		for name := range r.pluggables {
			all[name] = name
		}
		r.allTypes = all
	}
	return r.allTypes
}

// IsPostableType reports whether objectType is a postable type.
func (r *Registry) IsPostableType(objectType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.postableTypesLocked()[objectType]
	return ok
}

// IsValidType reports whether objectType is recognized at all. Results are
// memoized per type name.
func (r *Registry) IsValidType(objectType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.validMemo == nil {
		r.validMemo = make(map[string]bool)
	}
	if valid, ok := r.validMemo[objectType]; ok {
		return valid
	}
	_, valid := r.allTypesLocked()[objectType]
	r.validMemo[objectType] = valid
	return valid
}

// AnnouncePostType registers a publicly queryable post type discovered at
// runtime and invalidates every derived map.
func (r *Registry) AnnouncePostType(name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extraPostable[name] = name
	r.invalidateLocked()
	logrus.WithField("post_type", name).Debug("Postable type announced")
}

// RegisterPluggable registers a pluggable object type resolver. It returns
// false when the resolver is nil, has an empty name, or collides with an
// existing type.
func (r *Registry) RegisterPluggable(resolver Resolver) bool {
	if resolver == nil || resolver.Name() == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := resolver.Name()
	if _, exists := r.allTypesLocked()[name]; exists {
		return false
	}
	r.pluggables[name] = resolver
	r.invalidateLocked()
	logrus.WithField("object_type", name).Info("Pluggable object type registered")
	return true
}

// Pluggable returns the resolver registered for name, if any.
func (r *Registry) Pluggable(name string) (Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolver, ok := r.pluggables[name]
	return resolver, ok
}

// Pluggables returns all registered pluggable resolvers keyed by type name.
func (r *Registry) Pluggables() map[string]Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Resolver, len(r.pluggables))
	for name, resolver := range r.pluggables {
		out[name] = resolver
	}
	return out
}

func (r *Registry) invalidateLocked() {
	r.postableTypes = nil
	r.allTypes = nil
	r.validMemo = nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
