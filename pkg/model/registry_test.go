package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

func TestDefineTypeErrors(t *testing.T) {
	tests := []struct {
		name  string
		typ   string
		super string
		decls []PropertyDecl
		want  error
	}{
		{"empty name", "", "", nil, types.ErrInvalidDefinition},
		{"primitive name", "Number", "", nil, types.ErrInvalidDefinition},
		{"duplicate type", "Person", "", nil, types.ErrDuplicateTypeName},
		{"unknown super", "Cat", "Feline", nil, types.ErrInvalidDefinition},
		{"unknown kind", "Cat", "", []PropertyDecl{Prop("prey", "Mouse")}, types.ErrInvalidPropertyKind},
		{"empty kind", "Cat", "", []PropertyDecl{Prop("prey", "")}, types.ErrInvalidPropertyKind},
		{"nested collection", "Cat", "", []PropertyDecl{Prop("grid", "[[Number]]")}, types.ErrInvalidPropertyKind},
		{"duplicate property", "Cat", "", []PropertyDecl{Prop("x", "String"), Prop("x", "Number")}, types.ErrDuplicatePropertyName},
		{"redeclared inherited property", "Puppy", "Dog", []PropertyDecl{Prop("name", "String")}, types.ErrDuplicatePropertyName},
		{"unnamed property", "Cat", "", []PropertyDecl{Prop("", "String")}, types.ErrInvalidDefinition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := peopleRegistry(t)
			before := len(r.Types())

			_, err := r.DefineType(tt.typ, tt.super, tt.decls...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, types.ErrInvalidDefinition, "every definition error belongs to the family")
			assert.Len(t, r.Types(), before, "failed definition must not register")
		})
	}
}

func TestDefineTypeInheritance(t *testing.T) {
	r := peopleRegistry(t)
	animal := mustType(t, r, "Animal")
	dog := mustType(t, r, "Dog")

	names := []string{}
	for _, p := range dog.Properties() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"name", "good"}, names, "inherited properties come first")
	assert.Same(t, animal, dog.Super())
	assert.Equal(t, []*Type{dog}, animal.Subtypes())
	assert.True(t, dog.IsA("Animal"))
	assert.True(t, dog.IsA("Dog"))
	assert.False(t, animal.IsA("Dog"))
}

func TestPropertyParsing(t *testing.T) {
	r := peopleRegistry(t)
	person := mustType(t, r, "Person")

	tests := []struct {
		name       string
		kind       Kind
		typeName   string
		collection bool
		decl       string
	}{
		{"name", KindString, "", false, "String"},
		{"age", KindNumber, "", false, "Number"},
		{"born", KindDate, "", false, "Date"},
		{"tags", KindString, "", true, "[String]"},
		{"children", KindObject, "Person", true, "[Person]"},
		{"pet", KindObject, "Animal", false, "Animal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := person.Property(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, tt.typeName, p.TypeName)
			assert.Equal(t, tt.collection, p.IsCollection())
			assert.Equal(t, tt.kind == KindObject, p.IsReference())
			assert.Equal(t, tt.decl, p.Decl().Kind)
		})
	}
}

func TestResolveSubtype(t *testing.T) {
	r := peopleRegistry(t)

	tests := []struct {
		root    string
		cls     string
		wantErr bool
	}{
		{"Person", "Person", false},
		{"Person", "Animal", false},
		{"Person", "Dog", false},
		{"Person", "Robot", true},
		{"Person", "Ghost", true},
		{"Animal", "Dog", false},
		{"Dog", "Animal", true},
		{"Ghost", "Person", true},
	}
	for _, tt := range tests {
		t.Run(tt.root+"/"+tt.cls, func(t *testing.T) {
			got, err := r.ResolveSubtype(tt.root, tt.cls)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrUnknownType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cls, got.Name())
		})
	}
}

func TestHasAllowsMutualReferences(t *testing.T) {
	r := NewRegistry()
	team := r.MustDefineType("Team", "", Prop("name", "String"))
	r.MustDefineType("Player", "", Prop("team", "Team"))

	require.NoError(t, team.Has("players", "[Player]"))
	p, ok := team.Property("players")
	require.True(t, ok)
	assert.True(t, p.IsCollection())
	assert.Equal(t, "Player", p.TypeName)

	err := team.Has("players", "[Player]")
	assert.ErrorIs(t, err, types.ErrDuplicatePropertyName)

	_, err = r.ResolveSubtype("Team", "Player")
	assert.NoError(t, err)
}

func TestMustDefineTypePanics(t *testing.T) {
	r := NewRegistry()
	r.MustDefineType("A", "")
	assert.Panics(t, func() { r.MustDefineType("A", "") })
}
