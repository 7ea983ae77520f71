package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/jetstream/internal/bus"
	"github.com/mesh-intelligence/jetstream/internal/paths"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "JETSTREAM"
)

// Config keys, matching the yaml tags of types.Config.
const (
	cfgKeyBackend      = "backend"
	cfgKeyDataDir      = "data_dir"
	cfgKeySchema       = "schema"
	cfgKeyRootType     = "root_type"
	cfgKeyScopeName    = "scope_name"
	cfgKeyListen       = "listen"
	cfgKeyLogLevel     = "log_level"
	cfgKeyLogPretty    = "log_pretty"
	cfgKeyBus          = "bus"
	cfgKeyRedisAddr    = "redis_addr"
	cfgKeyRedisChannel = "redis_channel"
)

var configKeys = []string{
	cfgKeyBackend, cfgKeyDataDir, cfgKeySchema, cfgKeyRootType, cfgKeyScopeName,
	cfgKeyListen, cfgKeyLogLevel, cfgKeyLogPretty, cfgKeyBus, cfgKeyRedisAddr,
	cfgKeyRedisChannel,
}

// defaultConfig is what init writes and what unset keys fall back to.
func defaultConfig() types.Config {
	return types.Config{
		Backend:      types.BackendSQLite,
		Listen:       types.DefaultListen,
		LogLevel:     "info",
		Bus:          types.BusNone,
		RedisChannel: bus.DefaultRedisChannel,
	}
}

// loadConfig reads config.yaml from configDir with Viper. Keys may also come
// from JETSTREAM_* environment variables. A missing config.yaml is not an
// error.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	d := defaultConfig()
	v.SetDefault(cfgKeyBackend, d.Backend)
	v.SetDefault(cfgKeyListen, d.Listen)
	v.SetDefault(cfgKeyLogLevel, d.LogLevel)
	v.SetDefault(cfgKeyBus, d.Bus)
	v.SetDefault(cfgKeyRedisChannel, d.RedisChannel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// config binds the command's flags that name config keys and decodes the
// result. Flags win over the environment, which wins over config.yaml. The
// data directory is resolved through the paths package.
func (a *app) config(cmd *cobra.Command) (types.Config, error) {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		for _, k := range configKeys {
			if k == key && k != cfgKeyDataDir {
				if err := a.v.BindPFlag(k, f); err != nil && bindErr == nil {
					bindErr = err
				}
			}
		}
	})
	if bindErr != nil {
		return types.Config{}, sysError("bind flags: %w", bindErr)
	}

	var cfg types.Config
	if err := a.v.Unmarshal(&cfg); err != nil {
		return types.Config{}, userError("decode config: %w", err)
	}
	dataDir, err := paths.ResolveDataDir(a.dataDir, cfg.DataDir)
	if err != nil {
		return types.Config{}, sysError("resolve data dir: %w", err)
	}
	cfg.DataDir = dataDir
	return cfg, nil
}

// writeConfigIfMissing creates configDir/config.yaml from cfg. An existing
// file is left alone.
func writeConfigIfMissing(configDir string, cfg types.Config) (string, bool, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", false, fmt.Errorf("create config directory: %w", err)
	}
	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return path, false, nil
	}
	if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("stat config file: %w", err)
	}

	data, err := marshalConfig(cfg)
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", false, fmt.Errorf("write config: %w", err)
	}
	return path, true, nil
}
