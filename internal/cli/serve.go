package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/jetstream/internal/bus"
	"github.com/mesh-intelligence/jetstream/internal/jsonl"
	"github.com/mesh-intelligence/jetstream/internal/logger"
	"github.com/mesh-intelligence/jetstream/internal/server"
	"github.com/mesh-intelligence/jetstream/internal/sqlite"
	"github.com/mesh-intelligence/jetstream/pkg/model"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

func newServeCmd(a *app) *cobra.Command {
	var seed string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the root scope to replicas over WebSocket",
		Long: `Build the type registry from the schema file, open the configured store,
load the stored root (or create one, optionally seeded from a snapshot file)
and serve the scope at ws://<listen>/sync until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, seed)
		},
	}
	f := cmd.Flags()
	f.String("listen", "", "listen address (default "+types.DefaultListen+")")
	f.String("schema", "", "schema file")
	f.String("root-type", "", "type of the scope root (default: first type in the schema)")
	f.String("scope-name", "", "scope name (default: the root type)")
	f.String("backend", "", "store backend: sqlite or memory")
	f.String("bus", "", "change bus: none, memory or redis")
	f.String("redis-addr", "", "redis address for --bus redis")
	f.String("log-level", "", "log level")
	f.Bool("log-pretty", false, "human readable logs")
	f.StringVar(&seed, "seed", "", "snapshot file used when the store holds no root")
	return cmd
}

func serve(ctx context.Context, cfg types.Config, seed string) error {
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err != nil {
		return userError("%w", err)
	}
	r, doc, err := loadRegistry(cfg.Schema, log)
	if err != nil {
		return err
	}
	if cfg.RootType == "" && len(doc.Types) > 0 {
		cfg.RootType = doc.Types[0].Name
	}
	if err := cfg.Validate(); err != nil {
		return userError("invalid config: %w", err)
	}

	scope, closeStore, err := openScope(ctx, cfg, r, seed, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("closing store")
		}
	}()

	hub := server.NewHub([]*model.Scope{scope}, server.WithLogger(log))
	defer hub.Close()

	b, err := openBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	if b != nil {
		stopForward := bus.Forward(ctx, scope, b, server.OriginID, log)
		defer func() {
			stopForward()
			if err := b.Close(); err != nil {
				log.Error().Err(err).Msg("closing bus")
			}
		}()
	}

	log.Info().
		Str("scope", scope.Name()).
		Str("root", scope.RootUUID()).
		Str("backend", cfg.Backend).
		Msg("serving scope")
	if err := server.ListenAndServe(ctx, listenAddr(cfg), hub.Handler(), log); err != nil {
		return sysError("serve: %w", err)
	}
	return nil
}

func listenAddr(cfg types.Config) string {
	if cfg.Listen == "" {
		return types.DefaultListen
	}
	return cfg.Listen
}

// openScope opens the configured store and returns the scope over it. A
// stored root is loaded; otherwise the scope is built from seed, or from a
// fresh root of cfg.RootType. The returned function closes the store.
func openScope(ctx context.Context, cfg types.Config, r *model.Registry, seed string, log zerolog.Logger) (*model.Scope, func() error, error) {
	opts := []model.ScopeOption{model.WithScopeLogger(log)}
	name := cfg.ScopeName

	var (
		persist   model.Persist
		closeFunc = func() error { return nil }
	)
	switch cfg.Backend {
	case types.BackendMemory:
		persist = model.NewMemoryPersist()
	case types.BackendSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{DataDir: cfg.DataDir}, r, sqlite.WithLogger(log))
		if err != nil {
			return nil, nil, sysError("open store: %w", err)
		}
		closeFunc = store.Close
		scope, err := store.LoadScope(ctx, name, opts...)
		if err == nil {
			return scope, closeFunc, nil
		}
		if !errors.Is(err, types.ErrNoRootModel) {
			store.Close()
			return nil, nil, sysError("load scope: %w", err)
		}
		persist = store
	default:
		return nil, nil, userError("unknown backend %q", cfg.Backend)
	}

	scope, err := newScope(ctx, cfg, r, persist, seed, opts)
	if err != nil {
		closeFunc()
		return nil, nil, err
	}
	return scope, closeFunc, nil
}

func newScope(ctx context.Context, cfg types.Config, r *model.Registry, persist model.Persist, seed string, opts []model.ScopeOption) (*model.Scope, error) {
	if seed != "" {
		snap, err := jsonl.ReadSnapshot(seed)
		if err != nil {
			return nil, userError("%w", err)
		}
		scope, err := model.LoadSnapshot(ctx, r, snap, persist, cfg.ScopeName, opts...)
		if err != nil {
			return nil, userError("seed %s: %w", seed, err)
		}
		return scope, nil
	}

	rootType, ok := r.Type(cfg.RootType)
	if !ok {
		return nil, userError("root type: %w", types.ErrUnknownType.Withf("%q", cfg.RootType))
	}
	name := cfg.ScopeName
	if name == "" {
		name = rootType.Name()
	}
	scope := model.NewScope(name, persist, opts...)
	if err := model.NewObject(rootType, uuid.NewString()).SetScopeAndMakeRoot(ctx, scope); err != nil {
		return nil, sysError("create root: %w", err)
	}
	return scope, nil
}

func openBus(ctx context.Context, cfg types.Config, log zerolog.Logger) (bus.Bus, error) {
	switch cfg.Bus {
	case "", types.BusNone:
		return nil, nil
	case types.BusMemory:
		b := bus.NewMemoryBus()
		err := b.Subscribe(ctx, func(env bus.Envelope) {
			log.Debug().Str("scope", env.ScopeName).Str("origin", env.Origin).Int("fragments", len(env.Fragments)).Msg("changes")
		})
		if err != nil {
			return nil, sysError("subscribe bus: %w", err)
		}
		return b, nil
	case types.BusRedis:
		b, err := bus.NewRedisBus(ctx, bus.RedisOptions{Addr: cfg.RedisAddr, Channel: cfg.RedisChannel}, log)
		if err != nil {
			return nil, sysError("connect redis: %w", err)
		}
		return b, nil
	}
	return nil, userError("unknown bus %q", cfg.Bus)
}
