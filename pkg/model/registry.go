// Package model implements the typed object graph: the type registry,
// model instances with parent-edge bookkeeping, collections, the persistence
// middleware contract, and the Scope that applies sync fragments.
//
// Objects are not safe for concurrent use. All mutation of one scope's graph
// must be funneled through that scope's serialized path (ApplySyncFragments
// or Do).
package model

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// Registry maps type names to their schemas. Each process builds its own
// registry; there is no package-level state.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
	order []*Type
	log   zerolog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used by the registry and by every
// object created from its types.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		types: make(map[string]*Type),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Type is a named schema: an ordered property list plus its place in the
// inheritance tree.
type Type struct {
	registry *Registry
	name     string
	super    *Type
	subtypes []*Type
	props    []Property
	index    map[string]int
}

// DefineType registers a type. A non-empty super names an existing type whose
// properties are copied into the new type at definition time. Properties may
// reference any registered type or the type being defined.
func (r *Registry) DefineType(name, super string, decls ...PropertyDecl) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return nil, types.ErrInvalidDefinition.Withf("type has no name")
	}
	if _, ok := primitiveKinds[name]; ok {
		return nil, types.ErrInvalidDefinition.Withf("%q is a primitive kind", name)
	}
	if _, ok := r.types[name]; ok {
		return nil, types.ErrDuplicateTypeName.Withf("%q", name)
	}

	t := &Type{
		registry: r,
		name:     name,
		index:    make(map[string]int),
	}
	if super != "" {
		st, ok := r.types[super]
		if !ok {
			return nil, types.ErrInvalidDefinition.Withf("%s extends unknown type %q", name, super)
		}
		t.super = st
		t.props = append(t.props, st.props...)
		for i, p := range t.props {
			t.index[p.Name] = i
		}
	}

	for _, d := range decls {
		if err := t.addPropertyLocked(d); err != nil {
			return nil, err
		}
	}

	r.types[name] = t
	r.order = append(r.order, t)
	if t.super != nil {
		t.super.subtypes = append(t.super.subtypes, t)
	}
	r.log.Debug().Str("type", name).Str("super", super).Int("properties", len(t.props)).Msg("type defined")
	return t, nil
}

// MustDefineType is DefineType that panics on error.
func (r *Registry) MustDefineType(name, super string, decls ...PropertyDecl) *Type {
	t, err := r.DefineType(name, super, decls...)
	if err != nil {
		panic(err)
	}
	return t
}

// Type returns the named type.
func (r *Registry) Type(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Types returns all types in definition order.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, len(r.order))
	copy(out, r.order)
	return out
}

// ResolveSubtype resolves cls against the types reachable from root: root
// itself, every type referenced by a property of a reachable type, and every
// descendant of a reachable type. Anything else fails with ErrUnknownType.
func (r *Registry) ResolveSubtype(root, cls string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, ok := r.types[root]
	if !ok {
		return nil, types.ErrUnknownType.Withf("root type %q", root)
	}

	seen := map[*Type]bool{start: true}
	queue := []*Type{start}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if t.name == cls {
			return t, nil
		}
		next := append([]*Type(nil), t.subtypes...)
		for _, p := range t.props {
			if p.Kind == KindObject {
				if rt, ok := r.types[p.TypeName]; ok {
					next = append(next, rt)
				}
			}
		}
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return nil, types.ErrUnknownType.Withf("%q is not reachable from %q", cls, root)
}

// Has adds a property to an already defined type. It exists so mutually
// referencing types can be declared; subtypes defined earlier do not see the
// new property.
func (t *Type) Has(name, kind string) error {
	t.registry.mu.Lock()
	defer t.registry.mu.Unlock()
	return t.addPropertyLocked(Prop(name, kind))
}

func (t *Type) addPropertyLocked(d PropertyDecl) error {
	p, err := parseProperty(d, t.name, func(n string) bool {
		_, ok := t.registry.types[n]
		return ok
	})
	if err != nil {
		return err
	}
	if _, dup := t.index[p.Name]; dup {
		return types.ErrDuplicatePropertyName.Withf("%s.%s", t.name, p.Name)
	}
	t.index[p.Name] = len(t.props)
	t.props = append(t.props, p)
	return nil
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// Super returns the supertype, or nil.
func (t *Type) Super() *Type { return t.super }

// Registry returns the registry the type belongs to.
func (t *Type) Registry() *Registry { return t.registry }

// Properties returns the properties in declaration order, inherited first.
func (t *Type) Properties() []Property {
	t.registry.mu.RLock()
	defer t.registry.mu.RUnlock()
	out := make([]Property, len(t.props))
	copy(out, t.props)
	return out
}

// Property looks up a property by name.
func (t *Type) Property(name string) (Property, bool) {
	t.registry.mu.RLock()
	defer t.registry.mu.RUnlock()
	i, ok := t.index[name]
	if !ok {
		return Property{}, false
	}
	return t.props[i], true
}

// Subtypes returns the direct subtypes.
func (t *Type) Subtypes() []*Type {
	t.registry.mu.RLock()
	defer t.registry.mu.RUnlock()
	out := make([]*Type, len(t.subtypes))
	copy(out, t.subtypes)
	return out
}

// IsA reports whether t is the named type or one of its descendants.
func (t *Type) IsA(name string) bool {
	for cur := t; cur != nil; cur = cur.super {
		if cur.name == name {
			return true
		}
	}
	return false
}
