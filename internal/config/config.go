package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/testbed/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	LogLevel   string           `koanf:"log_level" yaml:"log_level"`
	Sandbox    SandboxConfig    `koanf:"sandbox" yaml:"sandbox"`
	Tools      []ToolConfig     `koanf:"tools" yaml:"tools"`
	Keys       KeysConfig       `koanf:"keys" yaml:"keys"`
	Datastore  DatastoreConfig  `koanf:"datastore" yaml:"datastore"`
	Services   ServicesConfig   `koanf:"services" yaml:"services"`
	Supervisor SupervisorConfig `koanf:"supervisor" yaml:"supervisor"`
	Readiness  ReadinessConfig  `koanf:"readiness" yaml:"readiness"`
	Tests      TestsConfig      `koanf:"tests" yaml:"tests"`
	Teardown   TeardownConfig   `koanf:"teardown" yaml:"teardown"`
}

type SandboxConfig struct {
	BaseDir    string `koanf:"base_dir" yaml:"base_dir"`
	NamePrefix string `koanf:"name_prefix" yaml:"name_prefix"`
}

// ToolConfig describes a prerequisite binary. An empty Install means the
// tool must already be on PATH.
type ToolConfig struct {
	Name    string `koanf:"name" yaml:"name"`
	Binary  string `koanf:"binary" yaml:"binary"`
	Install string `koanf:"install" yaml:"install"`
}

type KeysConfig struct {
	EnvVar   string   `koanf:"env_var" yaml:"env_var"`
	Generate []string `koanf:"generate" yaml:"generate"`
}

type DatastoreConfig struct {
	StartCommand      string `koanf:"start_command" yaml:"start_command"`
	StopCommand       string `koanf:"stop_command" yaml:"stop_command"`
	PoolSize          int    `koanf:"pool_size" yaml:"pool_size"`
	ConnectionRetry   string `koanf:"connection_retry" yaml:"connection_retry"`
	ConnectionTimeout string `koanf:"connection_timeout" yaml:"connection_timeout"`
	ReachTimeout      string `koanf:"reach_timeout" yaml:"reach_timeout"`
}

type ServicesConfig struct {
	Commands       map[string]string `koanf:"commands" yaml:"commands"`
	Env            []string          `koanf:"env" yaml:"env"`
	OverridePrefix string            `koanf:"override_prefix" yaml:"override_prefix"`
	AuthToken      string            `koanf:"auth_token" yaml:"auth_token"`
}

type SupervisorConfig struct {
	LinuxBinary  string `koanf:"linux_binary" yaml:"linux_binary"`
	DarwinBinary string `koanf:"darwin_binary" yaml:"darwin_binary"`
	StopTimeout  string `koanf:"stop_timeout" yaml:"stop_timeout"`
}

type ReadinessConfig struct {
	MarkerPrefix string `koanf:"marker_prefix" yaml:"marker_prefix"`
	PollInterval string `koanf:"poll_interval" yaml:"poll_interval"`
	Timeout      string `koanf:"timeout" yaml:"timeout"`
}

type TestsConfig struct {
	Dir     string   `koanf:"dir" yaml:"dir"`
	Shell   string   `koanf:"shell" yaml:"shell"`
	Setup   []string `koanf:"setup" yaml:"setup"`
	Command string   `koanf:"command" yaml:"command"`
}

type TeardownConfig struct {
	Timeout string `koanf:"timeout" yaml:"timeout"`
}

const (
	EnvPrefix                       = "TESTBED_"
	DefaultLogLevel                 = "info"
	DefaultSandboxNamePrefix        = "builder-test"
	DefaultKeysEnvVar               = "HAB_CACHE_KEY_PATH"
	DefaultDatastoreStartCommand    = "pg_tmp -t -w 0 -d {dir}"
	DefaultDatastoreStopCommand     = "pg_tmp stop -d {dir}"
	DefaultDatastorePoolSize        = 8
	DefaultDatastoreConnRetry       = "300ms"
	DefaultDatastoreConnTimeout     = "3600s"
	DefaultDatastoreReachTimeout    = "30s"
	DefaultServicesOverridePrefix   = "HAB"
	DefaultServicesAuthToken        = "bobo"
	DefaultSupervisorLinuxBinary    = "support/linux/bin/forego"
	DefaultSupervisorDarwinBinary   = "support/mac/bin/forego"
	DefaultSupervisorStopTimeout    = "10s"
	DefaultReadinessMarkerPrefix    = "builder"
	DefaultReadinessPollInterval    = "1s"
	DefaultReadinessTimeout         = "5m"
	DefaultTestsDir                 = "test/builder-api"
	DefaultTestsShell               = "bash"
	DefaultTestsCommand             = "npm run mocha"
	DefaultTeardownTimeout          = "60s"
	DefaultServicesCommandDirectory = "target/debug"
)

// DefaultServiceCommands is the launch command for each service before the
// materializer appends its --config flag.
func DefaultServiceCommands() map[string]string {
	return map[string]string{
		"api":        DefaultServicesCommandDirectory + "/bldr-api start",
		"router":     DefaultServicesCommandDirectory + "/bldr-router start",
		"jobsrv":     DefaultServicesCommandDirectory + "/bldr-jobsrv start",
		"sessionsrv": DefaultServicesCommandDirectory + "/bldr-sessionsrv start",
		"originsrv":  DefaultServicesCommandDirectory + "/bldr-originsrv start",
		"worker":     DefaultServicesCommandDirectory + "/bldr-worker start",
	}
}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"log_level":           DefaultLogLevel,
		"sandbox.base_dir":    os.TempDir(),
		"sandbox.name_prefix": DefaultSandboxNamePrefix,
		"tools": []ToolConfig{
			{Name: "b2sum", Binary: "b2sum"},
			{Name: "pg_tmp", Binary: "pg_tmp"},
			{Name: "psql", Binary: "psql"},
		},
		"keys.env_var": DefaultKeysEnvVar,
		"keys.generate": []string{
			"hab user key generate bldr",
			"hab ring key generate bldr",
		},
		"datastore.start_command":      DefaultDatastoreStartCommand,
		"datastore.stop_command":       DefaultDatastoreStopCommand,
		"datastore.pool_size":          DefaultDatastorePoolSize,
		"datastore.connection_retry":   DefaultDatastoreConnRetry,
		"datastore.connection_timeout": DefaultDatastoreConnTimeout,
		"datastore.reach_timeout":      DefaultDatastoreReachTimeout,
		"services.env": []string{
			"HAB_FUNC_TEST=1",
			"RUST_LOG=debug,postgres=error,hyper=error,zmq=error",
			"RUST_BACKTRACE=1",
		},
		"services.override_prefix": DefaultServicesOverridePrefix,
		"services.auth_token":      DefaultServicesAuthToken,
		"supervisor.linux_binary":  DefaultSupervisorLinuxBinary,
		"supervisor.darwin_binary": DefaultSupervisorDarwinBinary,
		"supervisor.stop_timeout":  DefaultSupervisorStopTimeout,
		"readiness.marker_prefix":  DefaultReadinessMarkerPrefix,
		"readiness.poll_interval":  DefaultReadinessPollInterval,
		"readiness.timeout":        DefaultReadinessTimeout,
		"tests.dir":                DefaultTestsDir,
		"tests.shell":              DefaultTestsShell,
		"tests.setup": []string{
			`. "$NVM_DIR/nvm.sh"`,
			"nvm install",
			"nvm use",
			"npm install",
		},
		"tests.command":    DefaultTestsCommand,
		"teardown.timeout": DefaultTeardownTimeout,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}
	for name, command := range DefaultServiceCommands() {
		k.Set("services.commands."+name, command)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".testbed", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// TESTBED_READINESS__POLL_INTERVAL -> readiness.poll_interval
	k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	fields := []*string{
		&cfg.Sandbox.BaseDir,
		&cfg.Supervisor.LinuxBinary,
		&cfg.Supervisor.DarwinBinary,
		&cfg.Tests.Dir,
	}
	for _, field := range fields {
		expanded, err := expandConfiguredPath(*field)
		if err != nil {
			return err
		}
		if expanded != "" {
			*field = expanded
		}
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
