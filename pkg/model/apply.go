package model

import (
	"context"
	"errors"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// ApplySyncFragments applies a batch in order. Each fragment succeeds or
// fails on its own and the results line up with the input. Accepted
// fragments are emitted to subscribers as a single changes event carrying
// origin, and only when at least one was accepted. origin is opaque here; the
// session layer uses it to avoid echoing a batch back to its sender.
//
// The call itself fails, applying nothing, when the scope has no backend or
// no root, or when ctx is already done. Once started a batch runs to the end.
func (s *Scope) ApplySyncFragments(ctx context.Context, fragments []*fragment.SyncFragment, origin any) ([]types.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, rootType, rootUUID, err := s.active()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := applier{scope: s, persist: p, rootType: rootType, rootUUID: rootUUID}
	results := make([]types.Result, len(fragments))
	applied := make([]*fragment.SyncFragment, 0, len(fragments))

	for i, f := range fragments {
		if err := a.apply(ctx, f); err != nil {
			results[i] = types.ResultFromError(err)
			s.log.Debug().Err(err).Int("index", i).Msg("sync fragment rejected")
			continue
		}
		applied = append(applied, f)
	}

	if len(applied) > 0 {
		s.emitChanges(applied, origin)
	}
	return results, nil
}

type applier struct {
	scope    *Scope
	persist  Persist
	rootType *Type
	rootUUID string
}

func (a *applier) apply(ctx context.Context, f *fragment.SyncFragment) error {
	if f == nil {
		return types.ErrInvalidFragment.Withf("nil fragment")
	}
	switch f.Type() {
	case fragment.TypeAdd:
		return a.add(ctx, f)
	case fragment.TypeChange:
		return a.change(ctx, f)
	case fragment.TypeRemove:
		return a.remove(ctx, f)
	}
	return types.ErrUnsupportedFragment.Withf("%q", f.Type())
}

// lookup resolves a UUID through the store, translating a miss into notFound.
func (a *applier) lookup(ctx context.Context, id string, notFound *types.Error) (*Object, error) {
	o, err := a.persist.GetObject(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, notFound.Withf("%s", id)
		}
		return nil, err
	}
	return o, nil
}

// add materializes a new object under an existing parent. The object is
// persisted before it is linked into the graph, so a store failure leaves the
// graph untouched.
func (a *applier) add(ctx context.Context, f *fragment.SyncFragment) error {
	t, err := a.rootType.registry.ResolveSubtype(a.rootType.name, f.ClsName())
	if err != nil {
		return err
	}
	if !f.HasParent() {
		return types.ErrParentNotFound.Withf("add for %s names no parent", f.ObjectUUID())
	}
	exists, err := a.persist.ContainsObject(ctx, f.ObjectUUID())
	if err != nil {
		return err
	}
	if exists {
		return types.ErrAlreadyExists.Withf("%s", f.ObjectUUID())
	}

	parent, err := a.lookup(ctx, f.ParentUUID(), types.ErrParentNotFound)
	if err != nil {
		return err
	}
	prop, ok := parent.typ.Property(f.KeyPath())
	if !ok || !prop.IsReference() || !t.IsA(prop.TypeName) {
		return types.ErrPropertyTypeMismatch.Withf("%s.%s cannot hold %s", parent.typ.name, f.KeyPath(), t.name)
	}
	if !prop.Collection {
		if held, _ := parent.values[prop.Name].(*Object); held != nil {
			return types.ErrGraphInconsistency.Withf("%s.%s already holds %s", parent.uuid, prop.Name, held.uuid)
		}
	}

	obj := NewObject(t, f.ObjectUUID())
	values, err := validateProperties(t, f)
	if err != nil {
		return err
	}
	for name, v := range values {
		obj.assignValidated(name, v)
	}

	if err := a.persist.AddObject(ctx, obj); err != nil {
		return err
	}

	if err := linkChild(parent, prop, obj); err != nil {
		a.rollbackAdd(ctx, obj)
		return err
	}
	obj.attached(a.scope)

	if err := a.persist.UpdateObject(ctx, parent); err != nil {
		unlinkChild(parent, prop, obj)
		obj.scope = nil
		a.rollbackAdd(ctx, obj)
		return err
	}
	return nil
}

func (a *applier) rollbackAdd(ctx context.Context, obj *Object) {
	if err := a.persist.RemoveObject(ctx, obj); err != nil {
		a.scope.log.Error().Err(err).Str("object", obj.uuid).Msg("rollback of failed add")
	}
}

// change overwrites properties of an existing object. It never moves one.
func (a *applier) change(ctx context.Context, f *fragment.SyncFragment) error {
	if f.HasParent() {
		return types.ErrPropertyValidationFailed.Withf("change for %s names parent %s", f.ObjectUUID(), f.ParentUUID())
	}
	obj, err := a.lookup(ctx, f.ObjectUUID(), types.ErrObjectNotFound)
	if err != nil {
		return err
	}
	values, err := validateProperties(obj.typ, f)
	if err != nil {
		return err
	}
	for name, v := range values {
		obj.assignValidated(name, v)
	}
	return a.persist.UpdateObject(ctx, obj)
}

// verifiedEdge is a parent edge confirmed to still hold the removed object.
type verifiedEdge struct {
	parent *Object
	prop   Property
}

// remove deletes an object and every descendant that is reachable only
// through it, then unlinks it from each parent that held it.
func (a *applier) remove(ctx context.Context, f *fragment.SyncFragment) error {
	obj, err := a.lookup(ctx, f.ObjectUUID(), types.ErrObjectNotFound)
	if err != nil {
		return err
	}
	if obj.uuid == a.rootUUID {
		return types.ErrGraphInconsistency.Withf("cannot remove root %s", obj.uuid)
	}

	rels := obj.ParentRelationships()
	if len(rels) == 0 {
		return types.ErrGraphInconsistency.Withf("%s has no parent", obj.uuid)
	}
	edges := make([]verifiedEdge, 0, len(rels))
	for _, rel := range rels {
		edge, err := a.verifyEdge(ctx, obj, rel)
		if err != nil {
			return err
		}
		edges = append(edges, edge)
	}

	orphans, err := a.orphanedBy(ctx, obj)
	if err != nil {
		return err
	}

	if err := a.persist.RemoveObject(ctx, obj); err != nil {
		return err
	}
	for _, e := range edges {
		unlinkChild(e.parent, e.prop, obj)
	}

	dead := map[*Object]bool{obj: true}
	for _, o := range orphans {
		dead[o] = true
	}
	for _, o := range orphans {
		if err := a.persist.RemoveObject(ctx, o); err != nil && !errors.Is(err, types.ErrNotFound) {
			a.scope.log.Error().Err(err).Str("object", o.uuid).Msg("cascade remove")
		}
	}
	for o := range dead {
		clearReferences(o)
		if o.scope != nil {
			o.detached(a.scope)
		}
	}

	for _, e := range edges {
		if dead[e.parent] {
			continue
		}
		if err := a.persist.UpdateObject(ctx, e.parent); err != nil {
			a.scope.log.Error().Err(err).Str("object", e.parent.uuid).Msg("update parent after remove")
		}
	}
	return nil
}

// verifyEdge confirms the recorded parent is still stored and still holds obj
// under the recorded key.
func (a *applier) verifyEdge(ctx context.Context, obj *Object, rel ParentRelationship) (verifiedEdge, error) {
	parent := rel.Parent
	present, err := a.persist.ContainsObject(ctx, parent.uuid)
	if err != nil {
		return verifiedEdge{}, err
	}
	if !present {
		return verifiedEdge{}, types.ErrGraphInconsistency.Withf("parent %s of %s is not stored", parent.uuid, obj.uuid)
	}
	prop, ok := parent.typ.Property(rel.Key)
	if !ok || !prop.IsReference() {
		return verifiedEdge{}, types.ErrGraphInconsistency.Withf("%s has no reference property %q", parent.uuid, rel.Key)
	}
	if prop.Collection {
		if !parent.collection(prop).Contains(obj) {
			return verifiedEdge{}, types.ErrGraphInconsistency.Withf("%s.%s does not contain %s", parent.uuid, rel.Key, obj.uuid)
		}
	} else if held, _ := parent.values[prop.Name].(*Object); held != obj {
		return verifiedEdge{}, types.ErrGraphInconsistency.Withf("%s.%s is not %s", parent.uuid, rel.Key, obj.uuid)
	}
	return verifiedEdge{parent: parent, prop: prop}, nil
}

// orphanedBy returns the descendants of obj that cannot be reached from the
// root without passing through obj.
func (a *applier) orphanedBy(ctx context.Context, obj *Object) ([]*Object, error) {
	root, err := a.persist.GetObject(ctx, a.rootUUID)
	if err != nil {
		return nil, dangling(err, a.rootUUID)
	}

	alive := map[*Object]bool{obj: true}
	reach(root, alive)
	delete(alive, obj)

	below := map[*Object]bool{}
	reach(obj, below)

	var orphans []*Object
	for o := range below {
		if o != obj && !alive[o] {
			orphans = append(orphans, o)
		}
	}
	return orphans, nil
}

// reach marks every object reachable from o, stopping at marked objects.
func reach(o *Object, marked map[*Object]bool) {
	if marked[o] {
		return
	}
	marked[o] = true
	for _, c := range o.Children() {
		reach(c, marked)
	}
}

func linkChild(parent *Object, prop Property, child *Object) error {
	if prop.Collection {
		_, err := parent.collection(prop).Push(child)
		return err
	}
	return parent.setReference(prop.Name, child)
}

func unlinkChild(parent *Object, prop Property, child *Object) {
	if prop.Collection {
		parent.collection(prop).removeAll(child)
		return
	}
	if held, _ := parent.values[prop.Name].(*Object); held == child {
		_ = parent.setReference(prop.Name, nil)
	}
}

// clearReferences drops every outgoing edge of a removed object so survivors
// keep no parent relationship pointing at it.
func clearReferences(o *Object) {
	for _, p := range o.typ.Properties() {
		if !p.IsReference() {
			continue
		}
		if p.Collection {
			c := o.collection(p)
			for _, item := range c.items {
				c.unlink(item)
			}
			c.items = nil
			continue
		}
		_ = o.setReference(p.Name, nil)
	}
}

// validateProperties checks every key of a fragment against t: it must exist,
// must not be a reference, and its value must already have the declared kind.
func validateProperties(t *Type, f *fragment.SyncFragment) (map[string]any, error) {
	out := make(map[string]any)
	for name, v := range f.Properties() {
		p, ok := t.Property(name)
		if !ok {
			return nil, types.ErrPropertyValidationFailed.Withf("%s has no property %q", t.name, name)
		}
		if p.IsReference() {
			return nil, types.ErrPropertyValidationFailed.Withf("%q is a reference and cannot be set by a fragment", name)
		}
		value, err := validateWire(p, v)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// assignValidated stores a value produced by validateWire.
func (o *Object) assignValidated(name string, v any) {
	p, _ := o.typ.Property(name)
	if p.Collection {
		items, _ := v.([]any)
		_ = o.collection(p).Set(items...)
		return
	}
	o.values[name] = v
}
