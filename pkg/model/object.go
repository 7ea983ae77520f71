package model

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// ParentRelationship records that Parent points at an object through the
// property Key.
type ParentRelationship struct {
	Parent *Object
	Key    string
}

// parentEdge counts how many slots of (parent, key) hold the child, so an
// object held twice by one collection keeps a single relationship.
type parentEdge struct {
	ParentRelationship
	count int
}

// Object is a live instance of a registered type.
type Object struct {
	uuid        string
	typ         *Type
	values      map[string]any
	scope       *Scope
	isScopeRoot bool
	parents     []*parentEdge
	onScope     []func(*Scope)
	onDetach    []func(*Scope)
}

// NewObject constructs a detached instance of t. An empty id is replaced by a
// random v4 UUID; ids are stored lowercased. Scalars start nil and
// collections start empty.
func NewObject(t *Type, id string) *Object {
	if id == "" {
		id = uuid.NewString()
	}
	o := &Object{
		uuid:   strings.ToLower(id),
		typ:    t,
		values: make(map[string]any),
	}
	for _, p := range t.Properties() {
		if p.Collection {
			o.values[p.Name] = newCollection(o, p)
		} else {
			o.values[p.Name] = nil
		}
	}
	return o
}

// UUID returns the object's identifier.
func (o *Object) UUID() string { return o.uuid }

// Type returns the object's type.
func (o *Object) Type() *Type { return o.typ }

// TypeName returns the name of the object's type.
func (o *Object) TypeName() string { return o.typ.name }

// Scope returns the scope the object is attached to, or nil.
func (o *Object) Scope() *Scope { return o.scope }

// IsScopeRoot reports whether the object is the root of its scope.
func (o *Object) IsScopeRoot() bool { return o.isScopeRoot }

func (o *Object) logger() *zerolog.Logger {
	return &o.typ.registry.log
}

// Get returns the value of a property: nil, float64, string, bool,
// time.Time, *Object, or *Collection. Unknown names return nil.
func (o *Object) Get(name string) any {
	p, ok := o.typ.Property(name)
	if !ok {
		return nil
	}
	if p.Collection {
		return o.collection(p)
	}
	return o.values[name]
}

// GetObject returns a single-reference property value, or nil.
func (o *Object) GetObject(name string) *Object {
	child, _ := o.Get(name).(*Object)
	return child
}

// Collection returns the collection held by a collection property.
func (o *Object) Collection(name string) (*Collection, error) {
	p, ok := o.typ.Property(name)
	if !ok {
		return nil, types.ErrPropertyValidationFailed.Withf("%s has no property %q", o.typ.name, name)
	}
	if !p.Collection {
		return nil, types.ErrPropertyTypeMismatch.Withf("%s.%s is not a collection", o.typ.name, name)
	}
	return o.collection(p), nil
}

// collection returns the collection for p, creating it for properties added
// to the type after the object was constructed.
func (o *Object) collection(p Property) *Collection {
	c, ok := o.values[p.Name].(*Collection)
	if !ok {
		c = newCollection(o, p)
		o.values[p.Name] = c
	}
	return c
}

// Set assigns a property. Values that cannot be coerced to a primitive kind
// are discarded and the previous value kept. Structural mismatches (unknown
// property, wrong object type, non-slice for a collection, an edge across
// scopes) return an error. Reference assignment updates the parent
// relationships of the old and new value before Set returns.
func (o *Object) Set(name string, value any) error {
	p, ok := o.typ.Property(name)
	if !ok {
		return types.ErrPropertyValidationFailed.Withf("%s has no property %q", o.typ.name, name)
	}

	if p.Collection {
		items, ok := toSlice(value)
		if !ok {
			return types.ErrPropertyTypeMismatch.Withf("%s.%s expects a slice, got %T", o.typ.name, name, value)
		}
		return o.collection(p).Set(items...)
	}

	v, err := coerce(p, value)
	if err != nil {
		if errors.Is(err, errCoercion) {
			o.logger().Debug().Err(err).Str("object", o.uuid).Str("property", name).Msg("write discarded")
			return nil
		}
		return err
	}
	if p.IsReference() {
		child, _ := v.(*Object)
		return o.setReference(p.Name, child)
	}
	o.values[p.Name] = v
	return nil
}

// setReference replaces a single-reference slot and moves the edge.
func (o *Object) setReference(name string, child *Object) error {
	old, _ := o.values[name].(*Object)
	if old == child {
		return nil
	}
	if child != nil {
		if err := o.checkLink(child); err != nil {
			return err
		}
	}
	if old != nil {
		old.removeParent(o, name)
	}
	if child != nil {
		child.addParent(o, name)
		o.values[name] = child
	} else {
		o.values[name] = nil
	}
	return nil
}

// checkLink rejects edges between objects attached to different scopes.
func (o *Object) checkLink(child *Object) error {
	if o.scope != nil && child.scope != nil && o.scope != child.scope {
		return types.ErrScopeMismatch.Withf("%s in %s cannot reference %s in %s",
			o.uuid, o.scope.Name(), child.uuid, child.scope.Name())
	}
	return nil
}

func (o *Object) addParent(parent *Object, key string) {
	for _, e := range o.parents {
		if e.Parent == parent && e.Key == key {
			e.count++
			return
		}
	}
	o.parents = append(o.parents, &parentEdge{
		ParentRelationship: ParentRelationship{Parent: parent, Key: key},
		count:              1,
	})
}

func (o *Object) removeParent(parent *Object, key string) {
	for i, e := range o.parents {
		if e.Parent == parent && e.Key == key {
			e.count--
			if e.count <= 0 {
				o.parents = append(o.parents[:i], o.parents[i+1:]...)
			}
			return
		}
	}
}

// ParentRelationships returns one entry per (parent, key) pair pointing at
// the object, in the order the edges were first created.
func (o *Object) ParentRelationships() []ParentRelationship {
	out := make([]ParentRelationship, len(o.parents))
	for i, e := range o.parents {
		out[i] = e.ParentRelationship
	}
	return out
}

// Parent returns the first parent, or nil for a root or detached object.
func (o *Object) Parent() *Object {
	if len(o.parents) == 0 {
		return nil
	}
	return o.parents[0].Parent
}

// KeyPath returns the property through which the first parent holds the
// object.
func (o *Object) KeyPath() string {
	if len(o.parents) == 0 {
		return ""
	}
	return o.parents[0].Key
}

// Children returns every referenced object: reference properties in
// declaration order, collection elements in sequence order, nil slots
// skipped. An object held by several slots appears once per slot.
func (o *Object) Children() []*Object {
	var out []*Object
	for _, p := range o.typ.Properties() {
		if !p.IsReference() {
			continue
		}
		if p.Collection {
			for _, item := range o.collection(p).items {
				out = append(out, item.(*Object))
			}
			continue
		}
		if child, ok := o.values[p.Name].(*Object); ok && child != nil {
			out = append(out, child)
		}
	}
	return out
}

// ChildUUIDs returns the UUIDs of Children in the same order.
func (o *Object) ChildUUIDs() []string {
	children := o.Children()
	out := make([]string, len(children))
	for i, c := range children {
		out[i] = c.uuid
	}
	return out
}

// OnScope registers fn to run each time the object attaches to a scope.
func (o *Object) OnScope(fn func(*Scope)) {
	o.onScope = append(o.onScope, fn)
}

// OnScopeDetach registers fn to run each time the object leaves a scope.
func (o *Object) OnScopeDetach(fn func(*Scope)) {
	o.onDetach = append(o.onDetach, fn)
}

// SetScope moves the object, and everything reachable from it, to s. A nil s
// detaches. The object is removed from its old scope's store and added to the
// new one unless already present there.
func (o *Object) SetScope(ctx context.Context, s *Scope) error {
	if o.scope == s {
		return nil
	}
	if s != nil && !s.CanPersist() {
		return types.ErrNoPersistBackend.Withf("scope %q", s.Name())
	}

	if old := o.scope; old != nil {
		if err := old.RemoveObject(ctx, o); err != nil {
			return err
		}
		o.detached(old)
	}

	if s != nil {
		present, err := s.ContainsObject(ctx, o)
		if err != nil {
			return err
		}
		if !present {
			if err := s.AddObject(ctx, o); err != nil {
				return err
			}
		}
		o.attached(s)
	}

	for _, child := range o.Children() {
		if err := child.SetScope(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (o *Object) attached(s *Scope) {
	o.scope = s
	for _, fn := range o.onScope {
		fn(s)
	}
}

func (o *Object) detached(old *Scope) {
	o.scope = nil
	for _, fn := range o.onDetach {
		fn(old)
	}
}

// SetScopeAndMakeRoot registers the object as the root of s and then attaches
// it with its children.
func (o *Object) SetScopeAndMakeRoot(ctx context.Context, s *Scope) error {
	wasRoot := o.isScopeRoot
	o.isScopeRoot = true
	if err := s.SetRootObject(ctx, o); err != nil {
		o.isScopeRoot = wasRoot
		return err
	}
	return o.SetScope(ctx, s)
}

// SetIsScopeRoot toggles root status. Turning it on creates a scope named
// after the object's type, backed by a new MemoryPersist, and returns it.
// Turning it off detaches the object.
func (o *Object) SetIsScopeRoot(ctx context.Context, isRoot bool) (*Scope, error) {
	if o.isScopeRoot == isRoot {
		return o.scope, nil
	}
	if !isRoot {
		if err := o.SetScope(ctx, nil); err != nil {
			return nil, err
		}
		o.isScopeRoot = false
		return nil, nil
	}
	s := NewScope(o.typ.name, NewMemoryPersist(), WithScopeLogger(o.typ.registry.log))
	if err := o.SetScopeAndMakeRoot(ctx, s); err != nil {
		o.logger().Debug().Err(err).Str("object", o.uuid).Msg("make scope root failed")
		return nil, err
	}
	return s, nil
}

// Values returns every non-reference property in wire form: dates as epoch
// milliseconds and collections as []any.
func (o *Object) Values() map[string]any {
	out := make(map[string]any)
	for _, p := range o.typ.Properties() {
		if p.IsReference() {
			continue
		}
		if p.Collection {
			items := o.collection(p).Slice()
			for i, item := range items {
				items[i] = wireValue(item)
			}
			out[p.Name] = items
			continue
		}
		out[p.Name] = wireValue(o.values[p.Name])
	}
	return out
}

func wireValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return float64(t.UnixMilli())
	}
	return v
}

// References returns every reference property as unresolved refs: one entry
// for single references (absent when nil), one per element for collections.
func (o *Object) References() map[string][]Ref {
	out := make(map[string][]Ref)
	for _, p := range o.typ.Properties() {
		if !p.IsReference() {
			continue
		}
		if p.Collection {
			refs := []Ref{}
			for _, item := range o.collection(p).items {
				refs = append(refs, Unresolved(item.(*Object).uuid))
			}
			out[p.Name] = refs
			continue
		}
		if child, ok := o.values[p.Name].(*Object); ok && child != nil {
			out[p.Name] = []Ref{Unresolved(child.uuid)}
		}
	}
	return out
}

// AddSyncFragment describes the object as an add fragment carrying every
// non-reference property and, when the object has a parent, the parent's
// UUID and key.
func (o *Object) AddSyncFragment() (*fragment.SyncFragment, error) {
	var parent *Object
	var key string
	if len(o.parents) > 0 {
		parent, key = o.parents[0].Parent, o.parents[0].Key
	}
	return o.addFragment(parent, key)
}

func (o *Object) addFragment(parent *Object, key string) (*fragment.SyncFragment, error) {
	opts := fragment.Options{
		Type:       fragment.TypeAdd,
		ObjectUUID: o.uuid,
		ClsName:    o.typ.name,
		Properties: o.Values(),
	}
	if parent != nil {
		opts.ParentUUID = parent.uuid
		opts.KeyPath = key
	}
	return fragment.New(opts)
}

// RootSyncFragment describes the object as the root of a snapshot.
func (o *Object) RootSyncFragment() (*fragment.SyncFragment, error) {
	return fragment.New(fragment.Options{
		Type:       fragment.TypeRoot,
		ObjectUUID: o.uuid,
		ClsName:    o.typ.name,
		Properties: o.Values(),
	})
}

// toSlice accepts any slice or array value, including []*Object.
func toSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
