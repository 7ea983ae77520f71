package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/jetstream/internal/jsonl"
	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/model"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// applyOrigin tags batches applied from the command line.
const applyOrigin = "cli"

type applyOutput struct {
	Applied  int            `json:"applied"`
	Rejected int            `json:"rejected"`
	Results  []types.Result `json:"results"`
	Written  string         `json:"written,omitempty"`
}

func newApplyCmd(a *app) *cobra.Command {
	var (
		schemaPath string
		write      bool
	)
	cmd := &cobra.Command{
		Use:   "apply <snapshot.jsonl> <fragments.json>",
		Short: "Apply a fragment batch to a snapshot file",
		Long: `Load a snapshot into an in-memory scope, apply the JSON array of sync
fragments in fragments.json as one batch, and print one result per fragment.
With --write the resulting graph replaces the snapshot file.

Exits 1 when any fragment was rejected.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd)
			if err != nil {
				return err
			}
			if schemaPath == "" {
				schemaPath = cfg.Schema
			}
			return a.runApply(cmd, schemaPath, args[0], args[1], write)
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema file (default: schema from config.yaml)")
	cmd.Flags().BoolVar(&write, "write", false, "write the new snapshot back to the snapshot file")
	return cmd
}

func (a *app) runApply(cmd *cobra.Command, schemaPath, snapshotPath, fragmentsPath string, write bool) error {
	ctx := cmd.Context()
	r, _, err := loadRegistry(schemaPath, zerolog.Nop())
	if err != nil {
		return err
	}

	snap, err := jsonl.ReadSnapshot(snapshotPath)
	if err != nil {
		return userError("%w", err)
	}
	scope, err := model.LoadSnapshot(ctx, r, snap, model.NewMemoryPersist(), "")
	if err != nil {
		return userError("load snapshot %s: %w", snapshotPath, err)
	}

	data, err := os.ReadFile(fragmentsPath)
	if err != nil {
		return userError("read fragments: %w", err)
	}
	batch, err := fragment.DecodeBatch(data)
	if err != nil {
		return userError("decode fragments %s: %w", fragmentsPath, err)
	}

	results, err := scope.ApplySyncFragments(ctx, batch, applyOrigin)
	if err != nil {
		return sysError("apply: %w", err)
	}
	out := applyOutput{Results: results}
	for _, res := range results {
		if res.OK() {
			out.Applied++
		} else {
			out.Rejected++
		}
	}

	if write {
		next, err := scope.Snapshot(ctx)
		if err != nil {
			return sysError("snapshot: %w", err)
		}
		if err := jsonl.WriteSnapshot(snapshotPath, next); err != nil {
			return sysError("write snapshot: %w", err)
		}
		out.Written = snapshotPath
	}

	err = a.output(cmd, out, func(w io.Writer) {
		for i, res := range results {
			if res.OK() {
				fmt.Fprintf(w, "%d\tok\t%s %s\n", i, batch[i].Type(), batch[i].ObjectUUID())
				continue
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", i, res.Error.Slug, res.Error.Message)
		}
		fmt.Fprintf(w, "applied %d, rejected %d\n", out.Applied, out.Rejected)
		if out.Written != "" {
			fmt.Fprintf(w, "wrote %s\n", out.Written)
		}
	})
	if err != nil {
		return err
	}
	if out.Rejected > 0 {
		return userError("%d of %d fragments rejected", out.Rejected, len(results))
	}
	return nil
}
