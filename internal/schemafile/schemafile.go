// Package schemafile loads type registries from YAML documents of the form
//
//	types:
//	  - name: Person
//	    properties:
//	      - {name: name, kind: String}
//	      - {name: children, kind: "[Person]"}
//	  - name: Employee
//	    extends: Person
package schemafile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/jetstream/pkg/model"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// ErrCycle is returned when supertypes form a loop.
var ErrCycle = errors.New("supertype cycle")

// TypeDef declares one type.
type TypeDef struct {
	Name       string               `yaml:"name"`
	Extends    string               `yaml:"extends,omitempty"`
	Properties []model.PropertyDecl `yaml:"properties,omitempty"`
}

// Document is a parsed schema file.
type Document struct {
	Types []TypeDef `yaml:"types"`
}

// Load reads and parses path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a YAML schema document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, types.ErrInvalidDefinition.Withf("parsing yaml: %v", err)
	}
	return &doc, nil
}

// Build defines every type of the document in r. Supertypes are defined
// before their subtypes regardless of document order. Properties that
// reference a type defined later are attached with Type.Has once every type
// exists, so they are not inherited by subtypes defined before that point.
func (d *Document) Build(r *model.Registry) ([]*model.Type, error) {
	order, err := d.order()
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool, len(order))
	for _, def := range order {
		declared[def.Name] = true
	}

	defined := make(map[string]bool, len(order))
	var deferred []struct {
		owner string
		decl  model.PropertyDecl
	}
	out := make([]*model.Type, 0, len(order))
	for _, def := range order {
		var now []model.PropertyDecl
		for _, p := range def.Properties {
			target := elementKind(p.Kind)
			if target != def.Name && declared[target] && !defined[target] {
				deferred = append(deferred, struct {
					owner string
					decl  model.PropertyDecl
				}{def.Name, p})
				continue
			}
			now = append(now, p)
		}
		t, err := r.DefineType(def.Name, def.Extends, now...)
		if err != nil {
			return nil, err
		}
		defined[def.Name] = true
		out = append(out, t)
	}

	for _, fwd := range deferred {
		t, _ := r.Type(fwd.owner)
		if err := t.Has(fwd.decl.Name, fwd.decl.Kind); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// order returns the definitions with every supertype ahead of its subtypes,
// otherwise keeping document order.
func (d *Document) order() ([]TypeDef, error) {
	byName := make(map[string]TypeDef, len(d.Types))
	for _, def := range d.Types {
		if _, dup := byName[def.Name]; dup {
			return nil, types.ErrDuplicateTypeName.Withf("%q", def.Name)
		}
		byName[def.Name] = def
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(d.Types))
	out := make([]TypeDef, 0, len(d.Types))
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w at %q", ErrCycle, name)
		}
		state[name] = visiting
		def := byName[name]
		if _, local := byName[def.Extends]; local {
			if err := visit(def.Extends); err != nil {
				return err
			}
		}
		state[name] = done
		out = append(out, def)
		return nil
	}
	for _, def := range d.Types {
		if err := visit(def.Name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func elementKind(kind string) string {
	k := strings.TrimSpace(kind)
	if strings.HasPrefix(k, "[") && strings.HasSuffix(k, "]") {
		k = strings.TrimSpace(k[1 : len(k)-1])
	}
	return k
}

// Marshal renders the types of r as a schema document.
func Marshal(r *model.Registry) ([]byte, error) {
	var doc Document
	for _, t := range r.Types() {
		def := TypeDef{Name: t.Name()}
		super := t.Super()
		if super != nil {
			def.Extends = super.Name()
		}
		for _, p := range t.Properties() {
			if super != nil {
				if _, inherited := super.Property(p.Name); inherited {
					continue
				}
			}
			def.Properties = append(def.Properties, p.Decl())
		}
		doc.Types = append(doc.Types, def)
	}
	return yaml.Marshal(&doc)
}
