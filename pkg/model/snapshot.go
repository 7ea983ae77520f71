package model

import (
	"context"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// Snapshot describes the whole graph as a root fragment followed by one add
// fragment per reachable object, each parent ahead of its children. An object
// held by several parents is described once, under the edge it was first
// reached through; the other edges are not carried.
func (s *Scope) Snapshot(ctx context.Context) (*fragment.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(ctx)
}

// SnapshotThen takes a snapshot and passes it to fn before any further batch
// can apply, so a subscriber registered inside fn sees exactly the changes
// that follow the snapshot. fn runs on the scope's serialized path.
func (s *Scope) SnapshotThen(ctx context.Context, fn func(*fragment.Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.snapshotLocked(ctx)
	if err != nil {
		return err
	}
	return fn(snap)
}

func (s *Scope) snapshotLocked(ctx context.Context) (*fragment.Snapshot, error) {
	objects, via, err := s.walk(ctx)
	if err != nil {
		return nil, err
	}

	snap := &fragment.Snapshot{Fragments: make([]*fragment.SyncFragment, 0, len(objects)-1)}
	for i, o := range objects {
		if i == 0 {
			snap.Root, err = o.RootSyncFragment()
			if err != nil {
				return nil, err
			}
			continue
		}
		edge := via[o]
		f, err := o.addFragment(edge.Parent, edge.Key)
		if err != nil {
			return nil, err
		}
		snap.Fragments = append(snap.Fragments, f)
	}
	return snap, nil
}

// LoadSnapshot builds a new scope from a snapshot: the root fragment becomes
// the scope root in persist and the remaining fragments are applied as one
// batch. The first rejected fragment fails the load.
func LoadSnapshot(ctx context.Context, r *Registry, snap *fragment.Snapshot, persist Persist, name string, opts ...ScopeOption) (*Scope, error) {
	if snap == nil || snap.Root == nil {
		return nil, types.ErrInvalidFragment.Withf("snapshot has no root fragment")
	}
	if snap.Root.Type() != fragment.TypeRoot {
		return nil, types.ErrInvalidFragment.Withf("first fragment is %q, not root", snap.Root.Type())
	}
	t, ok := r.Type(snap.Root.ClsName())
	if !ok {
		return nil, types.ErrUnknownType.Withf("%q", snap.Root.ClsName())
	}

	root := NewObject(t, snap.Root.ObjectUUID())
	values, err := validateProperties(t, snap.Root)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		root.assignValidated(k, v)
	}

	if name == "" {
		name = t.name
	}
	s := NewScope(name, persist, opts...)
	if err := root.SetScopeAndMakeRoot(ctx, s); err != nil {
		return nil, err
	}

	results, err := s.ApplySyncFragments(ctx, snap.Fragments, nil)
	if err != nil {
		return nil, err
	}
	for i, res := range results {
		if res.Error != nil {
			return nil, res.Error.Withf("snapshot fragment %d", i)
		}
	}
	return s, nil
}
