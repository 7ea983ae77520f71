package model

import (
	"context"
	"errors"
	"strings"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// Resolver looks objects up by UUID. Every Persist is a Resolver.
type Resolver interface {
	GetObject(ctx context.Context, id string) (*Object, error)
}

// Ref is a reference as it crosses a boundary: either Resolved to a live
// handle or Unresolved, carrying only the UUID. Inside a process the graph
// holds resolved handles; Unresolved refs exist only while decoding stored
// rows or wire data.
type Ref struct {
	id  string
	obj *Object
}

// Resolved wraps a live handle.
func Resolved(o *Object) Ref {
	return Ref{id: o.uuid, obj: o}
}

// Unresolved wraps a bare UUID.
func Unresolved(id string) Ref {
	return Ref{id: strings.ToLower(id)}
}

// UUID returns the referenced UUID.
func (r Ref) UUID() string { return r.id }

// IsResolved reports whether the ref carries a live handle.
func (r Ref) IsResolved() bool { return r.obj != nil }

// Object returns the live handle, or nil when unresolved.
func (r Ref) Object() *Object { return r.obj }

// Resolve returns the live handle, looking the UUID up through res when the
// ref is unresolved. A missing UUID fails with ErrDanglingReference.
func (r Ref) Resolve(ctx context.Context, res Resolver) (*Object, error) {
	if r.obj != nil {
		return r.obj, nil
	}
	o, err := res.GetObject(ctx, r.id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.ErrDanglingReference.Withf("%s", r.id)
		}
		return nil, err
	}
	return o, nil
}

// RefUUIDs returns the UUIDs of refs in order.
func RefUUIDs(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.id
	}
	return out
}
