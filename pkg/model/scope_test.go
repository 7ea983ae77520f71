package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// familyScope builds root -> [a -> [b], c] with a dog under root.pet.
func familyScope(t *testing.T) (*Scope, *Registry) {
	t.Helper()
	r := peopleRegistry(t)
	s, _, _ := rootedScope(t, r, rootID)
	results, err := s.ApplySyncFragments(context.Background(), []*fragment.SyncFragment{
		addFragment(t, "a", "Person", rootID, "children", map[string]any{"name": "A", "tags": []any{"t1"}}),
		addFragment(t, "b", "Person", "a", "children", map[string]any{"name": "B", "age": 2.0}),
		addFragment(t, "c", "Person", rootID, "children", map[string]any{"name": "C"}),
		addFragment(t, dogID, "Dog", rootID, "pet", map[string]any{"name": "Rex", "good": true}),
	}, nil)
	require.NoError(t, err)
	for _, res := range results {
		require.True(t, res.OK(), res.Error)
	}
	return s, r
}

func uuidsOf(objects []*Object) []string {
	out := make([]string, len(objects))
	for i, o := range objects {
		out[i] = o.UUID()
	}
	return out
}

func TestGetAllObjectsPreorder(t *testing.T) {
	s, _ := familyScope(t)
	all, err := s.GetAllObjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{rootID, "a", "b", "c", dogID}, uuidsOf(all))
}

func TestGetAllObjectsReportsDanglingChild(t *testing.T) {
	ctx := context.Background()
	s, _ := familyScope(t)
	b, err := s.GetObjectByUUID(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, s.Persist().RemoveObject(ctx, b))

	_, err = s.GetAllObjects(ctx)
	assert.ErrorIs(t, err, types.ErrDanglingReference)
}

func TestGetAllObjectsWithoutRoot(t *testing.T) {
	_, err := NewScope("empty", NewMemoryPersist()).GetAllObjects(context.Background())
	assert.ErrorIs(t, err, types.ErrNoRootModel)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, r := familyScope(t)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Len())
	assert.Equal(t, fragment.TypeRoot, snap.Root.Type())
	assert.Equal(t, rootID, snap.Root.ObjectUUID())
	b := snap.Fragments[1]
	assert.Equal(t, "b", b.ObjectUUID())
	assert.Equal(t, "a", b.ParentUUID())
	assert.Equal(t, "children", b.KeyPath())

	loaded, err := LoadSnapshot(ctx, r, snap, NewMemoryPersist(), "")
	require.NoError(t, err)
	assert.Equal(t, "Person", loaded.Name())

	want, err := s.GetAllObjects(ctx)
	require.NoError(t, err)
	got, err := loaded.GetAllObjects(ctx)
	require.NoError(t, err)
	require.Equal(t, uuidsOf(want), uuidsOf(got))
	for i := range want {
		assert.Equal(t, want[i].TypeName(), got[i].TypeName())
		assert.Equal(t, want[i].Values(), got[i].Values())
		assert.Same(t, loaded, got[i].Scope())
	}
}

func TestLoadSnapshotErrors(t *testing.T) {
	ctx := context.Background()
	r := peopleRegistry(t)

	tests := []struct {
		name string
		snap *fragment.Snapshot
		want error
	}{
		{"no root", &fragment.Snapshot{}, types.ErrInvalidFragment},
		{"root is an add", &fragment.Snapshot{
			Root: addFragment(t, rootID, "Person", "", "", nil),
		}, types.ErrInvalidFragment},
		{"unknown root type", &fragment.Snapshot{
			Root: fragment.MustNew(fragment.Options{Type: fragment.TypeRoot, ObjectUUID: rootID, ClsName: "Ghost"}),
		}, types.ErrUnknownType},
		{"orphan fragment", &fragment.Snapshot{
			Root:      fragment.MustNew(fragment.Options{Type: fragment.TypeRoot, ObjectUUID: rootID, ClsName: "Person"}),
			Fragments: []*fragment.SyncFragment{addFragment(t, childID, "Person", otherID, "children", nil)},
		}, types.ErrParentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSnapshot(ctx, r, tt.snap, NewMemoryPersist(), "x")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRestoreAdoptsStoredGraph(t *testing.T) {
	ctx := context.Background()
	r := peopleRegistry(t)
	person := mustType(t, r, "Person")

	store := NewMemoryPersist()
	root := NewObject(person, rootID)
	kid := NewObject(person, childID)
	require.NoError(t, root.Set("children", []*Object{kid}))
	require.NoError(t, store.AddObject(ctx, root))
	require.NoError(t, store.AddObject(ctx, kid))

	s := NewScope("restored", store)
	require.NoError(t, s.Restore(ctx, root))
	assert.True(t, s.HasRoot())
	assert.True(t, root.IsScopeRoot())
	assert.Same(t, s, kid.Scope())
	assert.Equal(t, 2, store.Len())

	assert.ErrorIs(t, s.Restore(ctx, root), types.ErrAlreadyHasRoot)
	assert.ErrorIs(t, NewScope("other", NewMemoryPersist()).Restore(ctx, root), types.ErrNotFound)
}

func TestSnapshotThen(t *testing.T) {
	ctx := context.Background()
	s, _ := familyScope(t)

	var seen int
	require.NoError(t, s.SnapshotThen(ctx, func(snap *fragment.Snapshot) error {
		seen = snap.Len()
		return nil
	}))
	assert.Equal(t, 5, seen)

	want := errors.New("stop")
	assert.ErrorIs(t, s.SnapshotThen(ctx, func(*fragment.Snapshot) error { return want }), want)

	err := NewScope("empty", NewMemoryPersist()).SnapshotThen(ctx, func(*fragment.Snapshot) error {
		t.Error("callback ran without a root")
		return nil
	})
	assert.ErrorIs(t, err, types.ErrNoRootModel)
}

func TestDoSerializesEdits(t *testing.T) {
	ctx := context.Background()
	s, _ := familyScope(t)
	want := errors.New("stop")
	assert.ErrorIs(t, s.Do(ctx, func() error { return want }), want)

	ran := false
	require.NoError(t, NewScope("empty", NewMemoryPersist()).Do(ctx, func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestDoAttachesLinkedObjects(t *testing.T) {
	ctx := context.Background()
	r := peopleRegistry(t)
	s, root, store := rootedScope(t, r, rootID)
	kid := NewObject(mustType(t, r, "Person"), childID)
	dog := NewObject(mustType(t, r, "Dog"), dogID)
	require.NoError(t, kid.Set("pet", dog))

	require.NoError(t, s.Do(ctx, func() error {
		return root.Set("children", []*Object{kid})
	}))

	assert.Same(t, s, kid.Scope())
	assert.Same(t, s, dog.Scope())
	for _, id := range []string{childID, dogID} {
		present, err := store.ContainsObject(ctx, id)
		require.NoError(t, err)
		assert.True(t, present, id)
	}

	all, err := s.GetAllObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rootID, childID, dogID}, uuidsOf(all))
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())

	results, err := s.ApplySyncFragments(ctx, []*fragment.SyncFragment{removeFragment(t, childID)}, nil)
	require.NoError(t, err)
	assert.True(t, results[0].OK(), results[0].Error)
}

func TestDoDetachesUnlinkedObjects(t *testing.T) {
	ctx := context.Background()
	s, _ := familyScope(t)
	root, err := s.Root(ctx)
	require.NoError(t, err)
	a, err := s.GetObjectByUUID(ctx, "a")
	require.NoError(t, err)
	b, err := s.GetObjectByUUID(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, s.Do(ctx, func() error {
		children, err := root.Collection("children")
		if err != nil {
			return err
		}
		_, err = children.Splice(0, 1)
		return err
	}))

	assert.Nil(t, a.Scope())
	assert.Nil(t, b.Scope())
	for _, id := range []string{"a", "b"} {
		present, err := s.Persist().ContainsObject(ctx, id)
		require.NoError(t, err)
		assert.False(t, present, id)
	}
	all, err := s.GetAllObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rootID, "c", dogID}, uuidsOf(all))
}

func TestRefResolve(t *testing.T) {
	ctx := context.Background()
	s, _ := familyScope(t)
	a, err := s.GetObjectByUUID(ctx, "a")
	require.NoError(t, err)

	resolved := Resolved(a)
	assert.True(t, resolved.IsResolved())
	got, err := resolved.Resolve(ctx, nil)
	require.NoError(t, err)
	assert.Same(t, a, got)

	lazy := Unresolved("A")
	assert.Equal(t, "a", lazy.UUID())
	assert.False(t, lazy.IsResolved())
	got, err = lazy.Resolve(ctx, s)
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = Unresolved("missing").Resolve(ctx, s)
	assert.ErrorIs(t, err, types.ErrDanglingReference)
}

func TestMemoryPersistContract(t *testing.T) {
	ctx := context.Background()
	r := peopleRegistry(t)
	person := mustType(t, r, "Person")
	m := NewMemoryPersist()
	a := NewObject(person, "a")
	b := NewObject(person, "b")

	require.NoError(t, m.AddObject(ctx, a))
	assert.ErrorIs(t, m.AddObject(ctx, a), types.ErrAlreadyExists)
	assert.ErrorIs(t, m.UpdateObject(ctx, b), types.ErrNotFound)
	assert.ErrorIs(t, m.RemoveObject(ctx, b), types.ErrNotFound)
	require.NoError(t, m.UpdateObject(ctx, a))

	ok, err := m.ContainsObject(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.GetObject(ctx, "b")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = m.GetObjects(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, m.AddObject(ctx, b))
	objs, err := m.GetObjects(ctx, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []*Object{b, a}, objs)

	require.NoError(t, m.RemoveObject(ctx, a))
	assert.Equal(t, 1, m.Len())
}
