package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/jetstream/internal/sqlite"
	"github.com/mesh-intelligence/jetstream/pkg/model"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

const configHeader = `# jetstream configuration
# Every key may be overridden by a JETSTREAM_<KEY> environment variable.
`

func marshalConfig(cfg types.Config) ([]byte, error) {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return append([]byte(configHeader), data...), nil
}

type initResult struct {
	ConfigFile string `json:"config_file"`
	Created    bool   `json:"created"`
	DataDir    string `json:"data_dir"`
	Database   string `json:"database,omitempty"`
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file and data directory",
		Long:  "Write a default config.yaml if none exists, then create the data directory\nand, for the sqlite backend, the database file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd.Context(), cmd)
		},
	}
}

func (a *app) runInit(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := a.config(cmd)
	if err != nil {
		return err
	}

	written := defaultConfig()
	if a.dataDir != "" {
		written.DataDir = cfg.DataDir
	}
	path, created, err := writeConfigIfMissing(a.configDir, written)
	if err != nil {
		return sysError("%w", err)
	}

	res := initResult{ConfigFile: path, Created: created, DataDir: cfg.DataDir}
	if cfg.Backend == types.BackendSQLite {
		store, err := sqlite.Open(ctx, sqlite.Config{DataDir: cfg.DataDir}, model.NewRegistry())
		if err != nil {
			return sysError("initialize storage: %w", err)
		}
		res.Database = store.Path()
		if err := store.Close(); err != nil {
			return sysError("finalize storage: %w", err)
		}
	}

	return a.output(cmd, res, func(w io.Writer) {
		if created {
			fmt.Fprintf(w, "wrote %s\n", path)
		}
		if res.Database != "" {
			fmt.Fprintf(w, "database %s\n", res.Database)
		}
		fmt.Fprintln(w, "jetstream initialized")
	})
}
