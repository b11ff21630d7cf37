package materializer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/testbed/internal/config"
	"github.com/harunnryd/testbed/internal/datastore"
	apperrors "github.com/harunnryd/testbed/internal/errors"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"
)

// Layout is the part of a sandbox the materializer renders paths from.
type Layout struct {
	RootPath string
	KeyDir   string
}

// Policy holds the static defaults substituted into templates.
type Policy struct {
	PoolSize          int
	ConnectionRetry   time.Duration
	ConnectionTimeout time.Duration
	AuthToken         string
	OverridePrefix    string
	Commands          map[string]string
	Env               []string
	LookupEnv         func(string) (string, bool)
}

func PolicyFromConfig(cfg *config.Config) (Policy, error) {
	retry, err := cfg.Datastore.ConnectionRetryDuration()
	if err != nil {
		return Policy{}, err
	}
	timeout, err := cfg.Datastore.ConnectionTimeoutDuration()
	if err != nil {
		return Policy{}, err
	}

	return Policy{
		PoolSize:          cfg.Datastore.PoolSize,
		ConnectionRetry:   retry,
		ConnectionTimeout: timeout,
		AuthToken:         cfg.Services.AuthToken,
		OverridePrefix:    cfg.Services.OverridePrefix,
		Commands:          cfg.Services.Commands,
		Env:               cfg.Services.Env,
		LookupEnv:         os.LookupEnv,
	}, nil
}

// Artifact is one generated file. It is written once per run.
type Artifact struct {
	Name    string
	Path    string
	Content []byte
}

type Bundle struct {
	Artifacts []Artifact
	Manifest  *Manifest
	Dirs      []string
}

// Artifact returns the artifact with the given file name.
func (b *Bundle) Artifact(name string) (Artifact, bool) {
	for _, a := range b.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

func ConfigFileName(service string) string {
	return "config_" + service + ".toml"
}

// OverrideVar names the environment variable holding overrides for service.
func OverrideVar(prefix, service string) string {
	name := service
	if prefix != "" {
		name = prefix + "_" + service
	}
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Render produces every artifact of a run from the sandbox layout, the
// datastore endpoint and static policy. Identical inputs give identical bytes.
func Render(layout Layout, handle *datastore.Handle, policy Policy) (*Bundle, error) {
	if !handle.Known() {
		return nil, apperrors.ErrDatastoreUnknown
	}
	if layout.RootPath == "" || layout.KeyDir == "" {
		return nil, apperrors.InvalidInput("sandbox layout requires root and key directories")
	}

	f := facts{
		root:      layout.RootPath,
		keyDir:    layout.KeyDir,
		authToken: policy.AuthToken,
		datastore: map[string]interface{}{
			"host":                   handle.Host,
			"port":                   handle.Port,
			"user":                   handle.User,
			"database":               handle.Database,
			"pool_size":              policy.PoolSize,
			"connection_retry_ms":    policy.ConnectionRetry.Milliseconds(),
			"connection_timeout_sec": int64(policy.ConnectionTimeout / time.Second),
		},
	}

	env, err := parseEnv(policy.Env)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Manifest: &Manifest{
			Env:          env,
			ProcfilePath: filepath.Join(layout.RootPath, ProcfileName),
			EnvPath:      filepath.Join(layout.RootPath, EnvFileName),
		},
	}

	for _, name := range Topology {
		svc := services[name]

		content, err := renderService(svc, f, policy)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(layout.RootPath, ConfigFileName(name))
		bundle.Artifacts = append(bundle.Artifacts, Artifact{
			Name:    ConfigFileName(name),
			Path:    path,
			Content: content,
		})

		command, err := serviceCommand(name, policy.Commands, path)
		if err != nil {
			return nil, err
		}
		bundle.Manifest.Entries = append(bundle.Manifest.Entries, Entry{Name: name, Command: command})

		for _, dir := range svc.dirs {
			bundle.Dirs = append(bundle.Dirs, f.path(dir))
		}
	}

	bundle.Artifacts = append(bundle.Artifacts,
		Artifact{Name: ProcfileName, Path: bundle.Manifest.ProcfilePath, Content: bundle.Manifest.procfile()},
		Artifact{Name: EnvFileName, Path: bundle.Manifest.EnvPath, Content: bundle.Manifest.envFile()},
	)

	return bundle, nil
}

func renderService(svc service, f facts, policy Policy) ([]byte, error) {
	tree := cloneTree(svc.template(f))

	if policy.LookupEnv != nil {
		varName := OverrideVar(policy.OverridePrefix, svc.name)
		if raw, ok := policy.LookupEnv(varName); ok && strings.TrimSpace(raw) != "" {
			override, err := parseOverride(raw)
			if err != nil {
				return nil, apperrors.InvalidInput(fmt.Sprintf("%s: %v", varName, err))
			}
			if err := mergeTables(tree, override); err != nil {
				return nil, fmt.Errorf("merge %s into %s config: %w", varName, svc.name, err)
			}
		}
	}

	if svc.derived != nil {
		if err := mergeTables(tree, svc.derived(f)); err != nil {
			return nil, fmt.Errorf("apply derived fields for %s: %w", svc.name, err)
		}
	}

	// Any config that names a datastore points at this run's instance, whether
	// the template or an override introduced the table.
	if value, ok := tree["datastore"]; ok {
		if _, isTable := value.(map[string]interface{}); !isTable {
			return nil, apperrors.InvalidInput(fmt.Sprintf("%s config: datastore must be a table", svc.name))
		}
		if err := mergeTables(tree, datastoreDerived(f)); err != nil {
			return nil, fmt.Errorf("apply datastore endpoint for %s: %w", svc.name, err)
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(tree); err != nil {
		return nil, fmt.Errorf("encode %s config: %w", svc.name, err)
	}
	return buf.Bytes(), nil
}

func serviceCommand(name string, commands map[string]string, configPath string) ([]string, error) {
	raw, ok := commands[name]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, apperrors.InvalidInput(fmt.Sprintf("no launch command configured for service %s", name))
	}
	args, err := shlex.Split(raw)
	if err != nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("parse launch command for %s: %v", name, err))
	}
	return append(args, "--config", configPath), nil
}
