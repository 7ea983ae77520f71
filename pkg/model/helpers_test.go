package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
)

// peopleRegistry defines the schema most tests share:
//
//	Animal{name}
//	Dog extends Animal{good}
//	Person{name, age, born, tags:[String], children:[Person], pet:Animal}
//	Robot{serial}, unreachable from Person.
func peopleRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	_, err := r.DefineType("Animal", "", Prop("name", KindNameString))
	require.NoError(t, err)
	_, err = r.DefineType("Dog", "Animal", Prop("good", KindNameBoolean))
	require.NoError(t, err)
	_, err = r.DefineType("Person", "",
		Prop("name", KindNameString),
		Prop("age", KindNameNumber),
		Prop("born", KindNameDate),
		Prop("tags", "[String]"),
		Prop("children", "[Person]"),
		Prop("pet", "Animal"),
	)
	require.NoError(t, err)
	_, err = r.DefineType("Robot", "", Prop("serial", KindNameString))
	require.NoError(t, err)
	return r
}

func mustType(t *testing.T, r *Registry, name string) *Type {
	t.Helper()
	typ, ok := r.Type(name)
	require.True(t, ok, "type %s", name)
	return typ
}

// rootedScope returns a scope over a fresh MemoryPersist whose root is a
// Person with the given id.
func rootedScope(t *testing.T, r *Registry, rootID string) (*Scope, *Object, *MemoryPersist) {
	t.Helper()
	root := NewObject(mustType(t, r, "Person"), rootID)
	store := NewMemoryPersist()
	s := NewScope("people", store)
	require.NoError(t, root.SetScopeAndMakeRoot(context.Background(), s))
	return s, root, store
}

func addFragment(t *testing.T, id, cls, parent, key string, props map[string]any) *fragment.SyncFragment {
	t.Helper()
	f, err := fragment.New(fragment.Options{
		Type:       fragment.TypeAdd,
		ObjectUUID: id,
		ClsName:    cls,
		ParentUUID: parent,
		KeyPath:    key,
		Properties: props,
	})
	require.NoError(t, err)
	return f
}

func changeFragment(t *testing.T, id string, props map[string]any) *fragment.SyncFragment {
	t.Helper()
	f, err := fragment.New(fragment.Options{Type: fragment.TypeChange, ObjectUUID: id, Properties: props})
	require.NoError(t, err)
	return f
}

func removeFragment(t *testing.T, id string) *fragment.SyncFragment {
	t.Helper()
	f, err := fragment.New(fragment.Options{Type: fragment.TypeRemove, ObjectUUID: id})
	require.NoError(t, err)
	return f
}

// changeRecorder captures changes events.
type changeRecorder struct {
	batches [][]*fragment.SyncFragment
	origins []any
}

func (c *changeRecorder) handle(applied []*fragment.SyncFragment, origin any) {
	c.batches = append(c.batches, applied)
	c.origins = append(c.origins, origin)
}
