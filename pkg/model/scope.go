package model

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// ChangeHandler receives every accepted batch together with the origin the
// caller passed to ApplySyncFragments. Handlers run on the scope's serialized
// path and must not call ApplySyncFragments, GetAllObjects, Snapshot, or Do.
type ChangeHandler func(applied []*fragment.SyncFragment, origin any)

type subscription struct {
	id int
	fn ChangeHandler
}

// Scope is an authoritative object graph with a single root, backed by a
// Persist. It starts without a root; the root can be set exactly once and no
// fragment is applied before that.
type Scope struct {
	id   string
	name string
	log  zerolog.Logger

	// mu serializes ApplySyncFragments, GetAllObjects, Snapshot and Do.
	mu sync.Mutex

	stateMu  sync.RWMutex
	persist  Persist
	rootUUID string
	rootType *Type
	hasRoot  bool

	subMu  sync.Mutex
	subs   []subscription
	nextID int
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithScopeLogger sets the scope's logger.
func WithScopeLogger(l zerolog.Logger) ScopeOption {
	return func(s *Scope) {
		s.log = l
	}
}

// WithScopeUUID fixes the scope's identifier instead of generating one.
func WithScopeUUID(id string) ScopeOption {
	return func(s *Scope) {
		s.id = id
	}
}

// NewScope creates a scope without a root. persist may be nil and supplied
// later with Use.
func NewScope(name string, persist Persist, opts ...ScopeOption) *Scope {
	s := &Scope{
		id:      uuid.NewString(),
		name:    name,
		persist: persist,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("scope", s.name).Logger()
	return s
}

// UUID returns the scope identifier.
func (s *Scope) UUID() string { return s.id }

// Name returns the human name.
func (s *Scope) Name() string { return s.name }

// Use sets the persistence backend.
func (s *Scope) Use(p Persist) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.persist = p
}

// Persist returns the backend, or nil.
func (s *Scope) Persist() Persist {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.persist
}

// CanPersist reports whether a backend is configured.
func (s *Scope) CanPersist() bool {
	return s.Persist() != nil
}

// HasRoot reports whether the root is set.
func (s *Scope) HasRoot() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.hasRoot
}

// RootUUID returns the root's UUID, or "".
func (s *Scope) RootUUID() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.rootUUID
}

// RootType returns the root's type, or nil.
func (s *Scope) RootType() *Type {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.rootType
}

// Root returns the root object from the store.
func (s *Scope) Root(ctx context.Context) (*Object, error) {
	p, _, rootUUID, err := s.active()
	if err != nil {
		return nil, err
	}
	return p.GetObject(ctx, rootUUID)
}

// active returns the backend and root when the scope can accept mutations.
func (s *Scope) active() (Persist, *Type, string, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.persist == nil {
		return nil, nil, "", types.ErrNoPersistBackend.Withf("scope %q", s.name)
	}
	if !s.hasRoot {
		return nil, nil, "", types.ErrNoRootModel.Withf("scope %q", s.name)
	}
	return s.persist, s.rootType, s.rootUUID, nil
}

func (s *Scope) backend() (Persist, error) {
	p := s.Persist()
	if p == nil {
		return nil, types.ErrNoPersistBackend.Withf("scope %q", s.name)
	}
	return p, nil
}

// SetRootObject stores o and records it as the root. It fails with
// ErrAlreadyHasRoot on a second call.
func (s *Scope) SetRootObject(ctx context.Context, o *Object) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.hasRoot {
		return types.ErrAlreadyHasRoot.Withf("scope %q", s.name)
	}
	if s.persist == nil {
		return types.ErrNoPersistBackend.Withf("scope %q", s.name)
	}
	if err := s.persist.AddObject(ctx, o); err != nil {
		return err
	}
	s.rootUUID = o.uuid
	s.rootType = o.typ
	s.hasRoot = true
	return nil
}

// Restore adopts a root whose graph is already in the store, attaching every
// reachable object without writing to the store.
func (s *Scope) Restore(ctx context.Context, root *Object) error {
	p, err := s.backend()
	if err != nil {
		return err
	}
	present, err := p.ContainsObject(ctx, root.uuid)
	if err != nil {
		return err
	}
	if !present {
		return types.ErrNotFound.Withf("root %s", root.uuid)
	}

	s.stateMu.Lock()
	if s.hasRoot {
		s.stateMu.Unlock()
		return types.ErrAlreadyHasRoot.Withf("scope %q", s.name)
	}
	s.rootUUID = root.uuid
	s.rootType = root.typ
	s.hasRoot = true
	s.stateMu.Unlock()

	root.isScopeRoot = true
	return root.SetScope(ctx, s)
}

// AddObject stores o.
func (s *Scope) AddObject(ctx context.Context, o *Object) error {
	p, err := s.backend()
	if err != nil {
		return err
	}
	return p.AddObject(ctx, o)
}

// RemoveObject deletes o from the store.
func (s *Scope) RemoveObject(ctx context.Context, o *Object) error {
	p, err := s.backend()
	if err != nil {
		return err
	}
	return p.RemoveObject(ctx, o)
}

// UpdateObject writes o through to the store.
func (s *Scope) UpdateObject(ctx context.Context, o *Object) error {
	p, err := s.backend()
	if err != nil {
		return err
	}
	return p.UpdateObject(ctx, o)
}

// ContainsObject reports whether o is stored.
func (s *Scope) ContainsObject(ctx context.Context, o *Object) (bool, error) {
	p, err := s.backend()
	if err != nil {
		return false, err
	}
	return p.ContainsObject(ctx, o.uuid)
}

// GetObjectByUUID looks an object up in the store.
func (s *Scope) GetObjectByUUID(ctx context.Context, id string) (*Object, error) {
	p, err := s.backend()
	if err != nil {
		return nil, err
	}
	return p.GetObject(ctx, id)
}

// GetObject makes Scope a Resolver.
func (s *Scope) GetObject(ctx context.Context, id string) (*Object, error) {
	return s.GetObjectByUUID(ctx, id)
}

// GetAllObjects walks the graph from the root, resolving every child UUID
// through the store. Each object appears once. A child the store does not
// know fails with ErrDanglingReference.
func (s *Scope) GetAllObjects(ctx context.Context) ([]*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects, _, err := s.walk(ctx)
	return objects, err
}

// walk returns every reachable object in depth-first preorder along with the
// edge each was first reached through.
func (s *Scope) walk(ctx context.Context) ([]*Object, map[*Object]ParentRelationship, error) {
	p, _, rootUUID, err := s.active()
	if err != nil {
		return nil, nil, err
	}
	root, err := p.GetObject(ctx, rootUUID)
	if err != nil {
		return nil, nil, dangling(err, rootUUID)
	}

	seen := map[string]bool{rootUUID: true}
	via := make(map[*Object]ParentRelationship)
	var out []*Object

	var visit func(o *Object) error
	visit = func(o *Object) error {
		out = append(out, o)
		for _, p2 := range o.typ.Properties() {
			if !p2.IsReference() {
				continue
			}
			for _, id := range childIDs(o, p2) {
				if seen[id] {
					continue
				}
				seen[id] = true
				child, err := p.GetObject(ctx, id)
				if err != nil {
					return dangling(err, id)
				}
				via[child] = ParentRelationship{Parent: o, Key: p2.Name}
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := visit(root); err != nil {
		return nil, nil, err
	}
	return out, via, nil
}

func childIDs(o *Object, p Property) []string {
	if p.Collection {
		items := o.collection(p).items
		ids := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.(*Object).uuid
		}
		return ids
	}
	if child, ok := o.values[p.Name].(*Object); ok && child != nil {
		return []string{child.uuid}
	}
	return nil
}

func dangling(err error, id string) error {
	if errors.Is(err, types.ErrNotFound) {
		return types.ErrDanglingReference.Withf("%s", id)
	}
	return err
}

// Do runs fn on the scope's serialized path. Direct edits of an attached graph
// through Object.Set or a Collection belong in fn. Afterwards the store follows
// the graph: objects that became reachable from the root are added and
// attached, objects no longer reachable are removed and detached, and every
// reachable object is written through. Do emits no changes event.
func (s *Scope) Do(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.reachable(ctx)
	if errors.Is(err, types.ErrNoRootModel) {
		return fn()
	}
	if err != nil {
		return err
	}
	return errors.Join(fn(), s.reconcile(ctx, before))
}

// reachable follows in-memory edges from the root, breadth first.
func (s *Scope) reachable(ctx context.Context) ([]*Object, error) {
	p, _, rootUUID, err := s.active()
	if err != nil {
		return nil, err
	}
	root, err := p.GetObject(ctx, rootUUID)
	if err != nil {
		return nil, dangling(err, rootUUID)
	}
	seen := map[*Object]bool{root: true}
	out := []*Object{root}
	for i := 0; i < len(out); i++ {
		for _, child := range out[i].Children() {
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
	}
	return out, nil
}

// reconcile brings the store and attachment state in line with the graph
// reachable now, given what was reachable before.
func (s *Scope) reconcile(ctx context.Context, before []*Object) error {
	after, err := s.reachable(ctx)
	if err != nil {
		return err
	}
	p := s.Persist()

	live := make(map[*Object]bool, len(after))
	for _, o := range after {
		live[o] = true
		switch o.scope {
		case s:
		case nil:
			present, err := p.ContainsObject(ctx, o.uuid)
			if err != nil {
				return err
			}
			if !present {
				if err := p.AddObject(ctx, o); err != nil {
					return err
				}
			}
			o.attached(s)
		default:
			return types.ErrScopeMismatch.Withf("%s belongs to %s", o.uuid, o.scope.Name())
		}
	}

	for _, o := range before {
		if live[o] {
			continue
		}
		if err := p.RemoveObject(ctx, o); err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
		clearReferences(o)
		if o.scope == s {
			o.detached(s)
		}
	}

	for _, o := range after {
		if err := p.UpdateObject(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers h for the changes event and returns a function that
// removes it.
func (s *Scope) Subscribe(h ChangeHandler) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: h})
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Scope) emitChanges(applied []*fragment.SyncFragment, origin any) {
	s.subMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(applied, origin)
	}
}
