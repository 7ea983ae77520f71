package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/jetstream/internal/schemafile"
	"github.com/mesh-intelligence/jetstream/pkg/model"
)

// typeSummary is one line of `schema check` output.
type typeSummary struct {
	Name       string               `json:"name"`
	Extends    string               `json:"extends,omitempty"`
	Properties []model.PropertyDecl `json:"properties"`
}

func newSchemaCmd(a *app) *cobra.Command {
	schema := &cobra.Command{
		Use:   "schema",
		Short: "Work with schema files",
	}
	schema.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Parse a schema file and list its types",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, _, err := loadRegistry(args[0], zerolog.Nop())
			if err != nil {
				return err
			}
			return a.output(cmd, summarize(r), func(w io.Writer) {
				for _, s := range summarize(r) {
					head := s.Name
					if s.Extends != "" {
						head += " extends " + s.Extends
					}
					props := make([]string, len(s.Properties))
					for i, p := range s.Properties {
						props[i] = p.Name + ":" + p.Kind
					}
					fmt.Fprintf(w, "%s {%s}\n", head, strings.Join(props, ", "))
				}
			})
		},
	})
	return schema
}

// loadRegistry builds a registry from the schema file at path. A missing or
// invalid schema is a user error.
func loadRegistry(path string, log zerolog.Logger) (*model.Registry, *schemafile.Document, error) {
	if path == "" {
		return nil, nil, userError("no schema file: set --schema or schema in config.yaml")
	}
	doc, err := schemafile.Load(path)
	if err != nil {
		return nil, nil, userError("%w", err)
	}
	r := model.NewRegistry(model.WithRegistryLogger(log))
	if _, err := doc.Build(r); err != nil {
		return nil, nil, userError("schema %s: %w", path, err)
	}
	return r, doc, nil
}

func summarize(r *model.Registry) []typeSummary {
	var out []typeSummary
	for _, t := range r.Types() {
		s := typeSummary{Name: t.Name(), Properties: []model.PropertyDecl{}}
		if super := t.Super(); super != nil {
			s.Extends = super.Name()
		}
		for _, p := range t.Properties() {
			s.Properties = append(s.Properties, p.Decl())
		}
		out = append(out, s)
	}
	return out
}
