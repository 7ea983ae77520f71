package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

func tagsOf(t *testing.T, values ...any) *Collection {
	t.Helper()
	r := peopleRegistry(t)
	o := NewObject(mustType(t, r, "Person"), "")
	c, err := o.Collection("tags")
	require.NoError(t, err)
	require.NoError(t, c.Set(values...))
	return c
}

func TestCollectionQueueOps(t *testing.T) {
	c := tagsOf(t, "a", "b")

	n, err := c.Push("c")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = c.Unshift("z")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []any{"z", "a", "b", "c"}, c.Slice())

	assert.Equal(t, "c", c.Pop())
	assert.Equal(t, "z", c.Shift())
	assert.Equal(t, []any{"a", "b"}, c.Slice())
	assert.Equal(t, 1, c.IndexOf("b"))
	assert.Equal(t, -1, c.IndexOf("q"))
	assert.True(t, c.Contains("a"))
	assert.Equal(t, "a", c.At(0))
	assert.Nil(t, c.At(9))
}

func TestCollectionEmptyPops(t *testing.T) {
	c := tagsOf(t)
	assert.Nil(t, c.Pop())
	assert.Nil(t, c.Shift())
}

func TestCollectionLenientWrites(t *testing.T) {
	c := tagsOf(t, "a", nil, 3)
	assert.Equal(t, []any{"a", "3"}, c.Slice(), "nulls dropped, primitives coerced")

	r := peopleRegistry(t)
	o := NewObject(mustType(t, r, "Person"), "")
	ages, err := o.Collection("tags")
	require.NoError(t, err)
	_, err = ages.Push(struct{}{})
	require.NoError(t, err, "uncoercible element is dropped, not an error")
	assert.Equal(t, 0, ages.Len())
}

func TestSpliceIsAllOrNothing(t *testing.T) {
	tests := []struct {
		name        string
		start       int
		deleteCount int
		items       []any
		wantRemoved []any
		wantItems   []any
		wantErr     error
	}{
		{"insert in middle", 1, 0, []any{"x"}, []any{}, []any{"a", "x", "b", "c"}, nil},
		{"replace one", 1, 1, []any{"x", "y"}, []any{"b"}, []any{"a", "x", "y", "c"}, nil},
		{"negative start", -1, 1, nil, []any{"c"}, []any{"a", "b"}, nil},
		{"start past end", 10, 2, []any{"x"}, []any{}, []any{"a", "b", "c", "x"}, nil},
		{"delete count clamps", 1, 99, nil, []any{"b", "c"}, []any{"a"}, nil},
		{"null item rejects batch", 0, 3, []any{"x", nil}, nil, []any{"a", "b", "c"}, types.ErrPropertyValidationFailed},
		{"bad item rejects batch", 0, 3, []any{"x", struct{}{}}, nil, []any{"a", "b", "c"}, types.ErrPropertyValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tagsOf(t, "a", "b", "c")
			removed, err := c.Splice(tt.start, tt.deleteCount, tt.items...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, removed)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantRemoved, removed)
			}
			assert.Equal(t, tt.wantItems, c.Slice())
		})
	}
}

func TestSpliceReferencesKeepsEdgesOnFailure(t *testing.T) {
	r := peopleRegistry(t)
	person := mustType(t, r, "Person")
	x := NewObject(person, "")
	a := NewObject(person, "")
	b := NewObject(person, "")
	require.NoError(t, x.Set("children", []*Object{a}))

	children, err := x.Collection("children")
	require.NoError(t, err)

	_, err = children.Splice(0, 1, b, NewObject(mustType(t, r, "Dog"), ""))
	assert.ErrorIs(t, err, types.ErrPropertyTypeMismatch)
	assert.Equal(t, []*Object{a}, children.Objects())
	assert.Len(t, a.ParentRelationships(), 1)
	assert.Empty(t, b.ParentRelationships())

	removed, err := children.Splice(0, 1, b)
	require.NoError(t, err)
	assert.Equal(t, []any{a}, removed)
	assert.Empty(t, a.ParentRelationships())
	assert.Equal(t, []ParentRelationship{{Parent: x, Key: "children"}}, b.ParentRelationships())
}

func TestCollectionOnScalarProperty(t *testing.T) {
	r := peopleRegistry(t)
	o := NewObject(mustType(t, r, "Person"), "")

	_, err := o.Collection("name")
	assert.ErrorIs(t, err, types.ErrPropertyTypeMismatch)
	_, err = o.Collection("nope")
	assert.ErrorIs(t, err, types.ErrPropertyValidationFailed)
}
