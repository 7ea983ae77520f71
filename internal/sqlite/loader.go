package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/jetstream/pkg/model"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// encodeProperties renders o as the JSON stored in the properties column.
func encodeProperties(o *model.Object) (string, error) {
	props := o.Values()
	refs := o.References()
	for _, p := range o.Type().Properties() {
		if !p.IsReference() {
			continue
		}
		ids := model.RefUUIDs(refs[p.Name])
		switch {
		case p.IsCollection():
			props[p.Name] = ids
		case len(ids) > 0:
			props[p.Name] = ids[0]
		default:
			props[p.Name] = nil
		}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", o.UUID(), err)
	}
	return string(b), nil
}

// pendingLink is a reference read from a row, resolved once every row has
// been materialized.
type pendingLink struct {
	owner *model.Object
	prop  model.Property
	refs  []model.Ref
}

// identityMap resolves UUIDs against the objects materialized so far.
type identityMap map[string]*model.Object

func (m identityMap) GetObject(_ context.Context, id string) (*model.Object, error) {
	o, ok := m[id]
	if !ok {
		return nil, types.ErrNotFound.Withf("%s", id)
	}
	return o, nil
}

// hydrateLocked rebuilds the identity map from the objects table in two
// passes: construct every object with its primitive values, then link
// references. Rows whose JSON does not parse are skipped. The caller must
// hold s.mu for writing.
func (s *Store) hydrateLocked(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid, type_name, properties FROM objects ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("querying objects: %w", err)
	}
	defer rows.Close()

	objects := make(identityMap)
	var links []pendingLink
	for rows.Next() {
		var id, typeName, raw string
		if err := rows.Scan(&id, &typeName, &raw); err != nil {
			return fmt.Errorf("scanning object row: %w", err)
		}
		t, ok := s.registry.Type(typeName)
		if !ok {
			return fmt.Errorf("row %s: %w", id, types.ErrUnknownType.Withf("%q", typeName))
		}
		var props map[string]any
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			s.log.Warn().Err(err).Str("object", id).Msg("skipping malformed row")
			continue
		}

		o := model.NewObject(t, id)
		for _, p := range t.Properties() {
			v, ok := props[p.Name]
			if !ok || v == nil {
				continue
			}
			if p.IsReference() {
				links = append(links, pendingLink{owner: o, prop: p, refs: refsFrom(v)})
				continue
			}
			if err := o.Set(p.Name, v); err != nil {
				return fmt.Errorf("row %s: %w", id, err)
			}
		}
		objects[o.UUID()] = o
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating objects: %w", err)
	}

	for _, l := range links {
		children := make([]*model.Object, 0, len(l.refs))
		for _, ref := range l.refs {
			child, err := ref.Resolve(ctx, objects)
			if err != nil {
				return fmt.Errorf("row %s property %s: %w", l.owner.UUID(), l.prop.Name, err)
			}
			children = append(children, child)
		}
		var err error
		switch {
		case l.prop.IsCollection():
			err = l.owner.Set(l.prop.Name, children)
		case len(children) > 0:
			err = l.owner.Set(l.prop.Name, children[0])
		}
		if err != nil {
			return fmt.Errorf("row %s property %s: %w", l.owner.UUID(), l.prop.Name, err)
		}
	}

	s.live = objects
	s.log.Debug().Int("objects", len(objects)).Msg("identity map hydrated")
	return nil
}

// refsFrom reads a stored reference value: a UUID string or an array of them.
func refsFrom(v any) []model.Ref {
	switch x := v.(type) {
	case string:
		return []model.Ref{model.Unresolved(x)}
	case []any:
		out := make([]model.Ref, 0, len(x))
		for _, item := range x {
			if id, ok := item.(string); ok {
				out = append(out, model.Unresolved(id))
			}
		}
		return out
	}
	return nil
}
