package model

import (
	"errors"
	"time"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// Collection is the ordered value of a collection property. It is owned by
// exactly one (object, property) pair and keeps the parent relationships of
// referenced objects in step with its contents.
type Collection struct {
	owner *Object
	prop  Property
	items []any
}

func newCollection(owner *Object, p Property) *Collection {
	return &Collection{owner: owner, prop: p}
}

// Property returns the owning property.
func (c *Collection) Property() Property { return c.prop }

// Owner returns the owning object.
func (c *Collection) Owner() *Object { return c.owner }

// Len returns the number of elements.
func (c *Collection) Len() int { return len(c.items) }

// At returns the element at i, or nil when out of range.
func (c *Collection) At(i int) any {
	if i < 0 || i >= len(c.items) {
		return nil
	}
	return c.items[i]
}

// Slice returns a copy of the elements.
func (c *Collection) Slice() []any {
	out := make([]any, len(c.items))
	copy(out, c.items)
	return out
}

// Objects returns the referenced objects of a reference collection.
func (c *Collection) Objects() []*Object {
	out := make([]*Object, 0, len(c.items))
	for _, item := range c.items {
		if o, ok := item.(*Object); ok {
			out = append(out, o)
		}
	}
	return out
}

// IndexOf returns the first index holding v, or -1.
func (c *Collection) IndexOf(v any) int {
	for i, item := range c.items {
		if equalElement(item, v) {
			return i
		}
	}
	return -1
}

// Contains reports whether v is an element.
func (c *Collection) Contains(v any) bool {
	return c.IndexOf(v) >= 0
}

// Set replaces the contents. Primitive values that cannot be coerced are
// dropped individually; a structural mismatch leaves the collection
// unchanged and returns an error.
func (c *Collection) Set(values ...any) error {
	items, err := c.prepare(values, false)
	if err != nil {
		return err
	}
	old := c.items
	c.items = nil
	for _, item := range old {
		c.unlink(item)
	}
	for _, item := range items {
		c.link(item)
	}
	c.items = items
	return nil
}

// Push appends values and returns the new length.
func (c *Collection) Push(values ...any) (int, error) {
	items, err := c.prepare(values, false)
	if err != nil {
		return len(c.items), err
	}
	for _, item := range items {
		c.link(item)
	}
	c.items = append(c.items, items...)
	return len(c.items), nil
}

// Unshift prepends values and returns the new length.
func (c *Collection) Unshift(values ...any) (int, error) {
	items, err := c.prepare(values, false)
	if err != nil {
		return len(c.items), err
	}
	for _, item := range items {
		c.link(item)
	}
	c.items = append(items, c.items...)
	return len(c.items), nil
}

// Pop removes and returns the last element, or nil when empty.
func (c *Collection) Pop() any {
	if len(c.items) == 0 {
		return nil
	}
	last := c.items[len(c.items)-1]
	c.items = c.items[:len(c.items)-1]
	c.unlink(last)
	return last
}

// Shift removes and returns the first element, or nil when empty.
func (c *Collection) Shift() any {
	if len(c.items) == 0 {
		return nil
	}
	first := c.items[0]
	c.items = c.items[1:]
	c.unlink(first)
	return first
}

// Splice removes deleteCount elements at start and inserts items there,
// returning the removed elements. A negative start counts from the end. The
// inserted batch is validated before anything is removed: if any item fails,
// including a failed primitive coercion, the collection is left unmodified.
func (c *Collection) Splice(start, deleteCount int, items ...any) ([]any, error) {
	prepared, err := c.prepare(items, true)
	if err != nil {
		return nil, err
	}

	n := len(c.items)
	if start < 0 {
		start = max(n+start, 0)
	}
	start = min(start, n)
	deleteCount = max(min(deleteCount, n-start), 0)

	removed := make([]any, deleteCount)
	copy(removed, c.items[start:start+deleteCount])

	next := make([]any, 0, n-deleteCount+len(prepared))
	next = append(next, c.items[:start]...)
	next = append(next, prepared...)
	next = append(next, c.items[start+deleteCount:]...)

	for _, item := range removed {
		c.unlink(item)
	}
	for _, item := range prepared {
		c.link(item)
	}
	c.items = next
	return removed, nil
}

// removeAll drops every slot holding o and returns how many were removed.
func (c *Collection) removeAll(o *Object) int {
	kept := c.items[:0:0]
	removed := 0
	for _, item := range c.items {
		if item == any(o) {
			removed++
			c.unlink(item)
			continue
		}
		kept = append(kept, item)
	}
	c.items = kept
	return removed
}

// prepare coerces values for insertion. With strict set any coercion failure
// is an error; otherwise failed primitives are dropped.
func (c *Collection) prepare(values []any, strict bool) ([]any, error) {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if v == nil {
			if c.prop.IsReference() || strict {
				return nil, types.ErrPropertyValidationFailed.Withf("%s.%s does not accept null", c.owner.typ.name, c.prop.Name)
			}
			c.owner.logger().Debug().Str("object", c.owner.uuid).Str("property", c.prop.Name).Msg("null element dropped")
			continue
		}
		item, err := coerce(c.prop, v)
		if err != nil {
			if errors.Is(err, errCoercion) && !strict {
				c.owner.logger().Debug().Err(err).Str("object", c.owner.uuid).Str("property", c.prop.Name).Msg("element dropped")
				continue
			}
			if errors.Is(err, errCoercion) {
				return nil, types.ErrPropertyValidationFailed.Withf("%v", err)
			}
			return nil, err
		}
		if item == nil {
			return nil, types.ErrPropertyValidationFailed.Withf("%s.%s does not accept null", c.owner.typ.name, c.prop.Name)
		}
		if o, ok := item.(*Object); ok {
			if err := c.owner.checkLink(o); err != nil {
				return nil, err
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Collection) link(item any) {
	if o, ok := item.(*Object); ok {
		o.addParent(c.owner, c.prop.Name)
	}
}

func (c *Collection) unlink(item any) {
	if o, ok := item.(*Object); ok {
		o.removeParent(c.owner, c.prop.Name)
	}
}

func equalElement(a, b any) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case *Object:
		y, ok := b.(*Object)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}
