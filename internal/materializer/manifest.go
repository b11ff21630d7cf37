package materializer

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/harunnryd/testbed/internal/errors"

	"github.com/kballard/go-shellquote"
)

const (
	ProcfileName = "Procfile"
	EnvFileName  = ".env"
)

// Manifest is the ordered process group handed to the supervisor.
type Manifest struct {
	Entries      []Entry
	Env          []EnvVar
	ProcfilePath string
	EnvPath      string
}

type Entry struct {
	Name    string
	Command []string
}

type EnvVar struct {
	Key   string
	Value string
}

// ServiceNames is the set the readiness gate must wait for.
func (m *Manifest) ServiceNames() []string {
	names := make([]string, len(m.Entries))
	for i, entry := range m.Entries {
		names[i] = entry.Name
	}
	return names
}

// EnvList renders the environment as KEY=VALUE pairs for exec.Cmd.
func (m *Manifest) EnvList() []string {
	out := make([]string, len(m.Env))
	for i, kv := range m.Env {
		out[i] = kv.Key + "=" + kv.Value
	}
	return out
}

func (m *Manifest) procfile() []byte {
	var buf bytes.Buffer
	for _, entry := range m.Entries {
		fmt.Fprintf(&buf, "%s: %s\n", entry.Name, shellquote.Join(entry.Command...))
	}
	return buf.Bytes()
}

func (m *Manifest) envFile() []byte {
	var buf bytes.Buffer
	for _, kv := range m.Env {
		value := kv.Value
		if strings.ContainsAny(value, " \t\"'#$\\") {
			value = strconv.Quote(value)
		}
		fmt.Fprintf(&buf, "%s=%s\n", kv.Key, value)
	}
	return buf.Bytes()
}

// parseEnv validates KEY=VALUE entries. Later duplicates win; output is
// sorted by key.
func parseEnv(entries []string) ([]EnvVar, error) {
	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.ContainsAny(key, " \t") {
			return nil, apperrors.InvalidInput(fmt.Sprintf("environment entry %q must be KEY=VALUE", entry))
		}
		values[key] = value
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := make([]EnvVar, len(keys))
	for i, key := range keys {
		env[i] = EnvVar{Key: key, Value: values[key]}
	}
	return env, nil
}
