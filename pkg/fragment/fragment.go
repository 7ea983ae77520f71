// Package fragment defines SyncFragment, the immutable wire-level delta that
// replicas and the server exchange, and Snapshot, the full-state form a scope
// hands to a newly connected replica.
package fragment

import (
	"encoding/json"
	"strings"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// Type names the structural operation a fragment performs.
type Type string

// Fragment types.
const (
	TypeRoot       Type = "root"
	TypeAdd        Type = "add"
	TypeChange     Type = "change"
	TypeRemove     Type = "remove"
	TypeMoveChange Type = "movechange"
)

var knownTypes = map[Type]bool{
	TypeRoot:       true,
	TypeAdd:        true,
	TypeChange:     true,
	TypeRemove:     true,
	TypeMoveChange: true,
}

// Options describes a fragment to construct with New.
type Options struct {
	Type       Type
	ObjectUUID string
	ClsName    string
	ParentUUID string
	KeyPath    string
	Properties map[string]any
}

// SyncFragment is an immutable delta addressed to one object by UUID.
// Property values are restricted to nil, float64, string, bool, and
// homogeneous []any of those; dates travel as epoch milliseconds.
type SyncFragment struct {
	typ        Type
	objectUUID string
	clsName    string
	parentUUID string
	keyPath    string
	properties map[string]any
}

// New validates o and returns the fragment. UUIDs are lowercased and property
// values are normalized to their wire form. It returns an error matching
// types.ErrInvalidFragment when validation fails.
func New(o Options) (*SyncFragment, error) {
	if !knownTypes[o.Type] {
		return nil, types.ErrInvalidFragment.Withf("unknown type %q", o.Type)
	}
	if o.ObjectUUID == "" {
		return nil, types.ErrInvalidFragment.Withf("missing uuid")
	}
	if (o.Type == TypeAdd || o.Type == TypeRoot) && o.ClsName == "" {
		return nil, types.ErrInvalidFragment.Withf("%s fragment requires cls", o.Type)
	}
	if (o.ParentUUID == "") != (o.KeyPath == "") {
		return nil, types.ErrInvalidFragment.Withf("parent and keyPath must be given together")
	}

	props := make(map[string]any, len(o.Properties))
	for key, value := range o.Properties {
		v, err := Normalize(value)
		if err != nil {
			return nil, types.ErrInvalidFragment.Withf("property %q: %v", key, err)
		}
		props[key] = v
	}

	return &SyncFragment{
		typ:        o.Type,
		objectUUID: strings.ToLower(o.ObjectUUID),
		clsName:    o.ClsName,
		parentUUID: strings.ToLower(o.ParentUUID),
		keyPath:    o.KeyPath,
		properties: props,
	}, nil
}

// MustNew is New that panics on error. Intended for tests and literals.
func MustNew(o Options) *SyncFragment {
	f, err := New(o)
	if err != nil {
		panic(err)
	}
	return f
}

// Type returns the operation.
func (f *SyncFragment) Type() Type { return f.typ }

// ObjectUUID returns the lowercased UUID of the object the fragment targets.
func (f *SyncFragment) ObjectUUID() string { return f.objectUUID }

// ClsName returns the type name carried by add and root fragments.
func (f *SyncFragment) ClsName() string { return f.clsName }

// ParentUUID returns the parent's UUID, or "" for a root or detached add.
func (f *SyncFragment) ParentUUID() string { return f.parentUUID }

// KeyPath returns the parent property the object hangs under.
func (f *SyncFragment) KeyPath() string { return f.keyPath }

// HasParent reports whether the fragment names a parent edge.
func (f *SyncFragment) HasParent() bool { return f.parentUUID != "" }

// Properties returns a deep copy of the property map.
func (f *SyncFragment) Properties() map[string]any {
	out := make(map[string]any, len(f.properties))
	for k, v := range f.properties {
		if arr, ok := v.([]any); ok {
			cp := make([]any, len(arr))
			copy(cp, arr)
			v = cp
		}
		out[k] = v
	}
	return out
}

// PropertyKeys returns the property names in unspecified order.
func (f *SyncFragment) PropertyKeys() []string {
	keys := make([]string, 0, len(f.properties))
	for k := range f.properties {
		keys = append(keys, k)
	}
	return keys
}

// Property returns one property value and whether it was present.
func (f *SyncFragment) Property(key string) (any, bool) {
	v, ok := f.properties[key]
	return v, ok
}

// wireFragment is the JSON layout exchanged with replicas.
type wireFragment struct {
	Type       Type           `json:"type"`
	UUID       string         `json:"uuid"`
	Cls        string         `json:"cls,omitempty"`
	Parent     string         `json:"parent,omitempty"`
	KeyPath    string         `json:"keyPath,omitempty"`
	Properties map[string]any `json:"properties"`
}

// MarshalJSON implements json.Marshaler.
func (f *SyncFragment) MarshalJSON() ([]byte, error) {
	props := f.properties
	if props == nil {
		props = map[string]any{}
	}
	return json.Marshal(wireFragment{
		Type:       f.typ,
		UUID:       f.objectUUID,
		Cls:        f.clsName,
		Parent:     f.parentUUID,
		KeyPath:    f.keyPath,
		Properties: props,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The decoded fragment passes the
// same validation as New.
func (f *SyncFragment) UnmarshalJSON(data []byte) error {
	var w wireFragment
	if err := json.Unmarshal(data, &w); err != nil {
		return types.ErrInvalidFragment.Withf("decoding: %v", err)
	}
	nf, err := New(Options{
		Type:       w.Type,
		ObjectUUID: w.UUID,
		ClsName:    w.Cls,
		ParentUUID: w.Parent,
		KeyPath:    w.KeyPath,
		Properties: w.Properties,
	})
	if err != nil {
		return err
	}
	*f = *nf
	return nil
}

// DecodeBatch decodes a JSON array of fragments.
func DecodeBatch(data []byte) ([]*SyncFragment, error) {
	var batch []*SyncFragment
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}
