package model

import (
	"strings"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// Kind is the element kind of a property.
type Kind int

// Property kinds. KindObject properties reference instances of a registered
// type.
const (
	KindNumber Kind = iota + 1
	KindString
	KindBoolean
	KindDate
	KindObject
)

// Primitive kind names as written in declarations.
const (
	KindNameNumber  = "Number"
	KindNameString  = "String"
	KindNameBoolean = "Boolean"
	KindNameDate    = "Date"
)

var primitiveKinds = map[string]Kind{
	KindNameNumber:  KindNumber,
	KindNameString:  KindString,
	KindNameBoolean: KindBoolean,
	KindNameDate:    KindDate,
}

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return KindNameNumber
	case KindString:
		return KindNameString
	case KindBoolean:
		return KindNameBoolean
	case KindDate:
		return KindNameDate
	case KindObject:
		return "Object"
	}
	return "Unknown"
}

// PropertyDecl declares a property by name and kind. Kind is one of
// "Number", "String", "Boolean", "Date", a registered type name, or any of
// those wrapped in brackets for a collection, e.g. "[Person]".
type PropertyDecl struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind"`
}

// Prop is shorthand for a PropertyDecl literal.
func Prop(name, kind string) PropertyDecl {
	return PropertyDecl{Name: name, Kind: kind}
}

// Property is a resolved property of a type.
type Property struct {
	Name string
	Kind Kind
	// TypeName is the referenced type for KindObject properties.
	TypeName   string
	Collection bool
}

// IsReference reports whether the property holds object references.
func (p Property) IsReference() bool {
	return p.Kind == KindObject
}

// IsCollection reports whether the property holds an ordered collection.
func (p Property) IsCollection() bool {
	return p.Collection
}

// Decl renders the property back into declaration form.
func (p Property) Decl() PropertyDecl {
	kind := p.Kind.String()
	if p.Kind == KindObject {
		kind = p.TypeName
	}
	if p.Collection {
		kind = "[" + kind + "]"
	}
	return PropertyDecl{Name: p.Name, Kind: kind}
}

// parseProperty resolves a declaration. known reports whether a type name is
// registered; self is the name of the type being defined, which may refer to
// itself.
func parseProperty(d PropertyDecl, self string, known func(string) bool) (Property, error) {
	if d.Name == "" {
		return Property{}, types.ErrInvalidDefinition.Withf("property on %s has no name", self)
	}
	kind := strings.TrimSpace(d.Kind)
	p := Property{Name: d.Name}
	if strings.HasPrefix(kind, "[") && strings.HasSuffix(kind, "]") {
		p.Collection = true
		kind = strings.TrimSpace(kind[1 : len(kind)-1])
		if strings.HasPrefix(kind, "[") {
			return Property{}, types.ErrInvalidPropertyKind.Withf("%s.%s: nested collection %q", self, d.Name, d.Kind)
		}
	}
	if k, ok := primitiveKinds[kind]; ok {
		p.Kind = k
		return p, nil
	}
	if kind != "" && (kind == self || known(kind)) {
		p.Kind = KindObject
		p.TypeName = kind
		return p, nil
	}
	return Property{}, types.ErrInvalidPropertyKind.Withf("%s.%s: %q", self, d.Name, d.Kind)
}
