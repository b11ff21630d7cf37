package materializer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/harunnryd/testbed/internal/datastore"
	apperrors "github.com/harunnryd/testbed/internal/errors"
	"github.com/harunnryd/testbed/internal/pathutil"

	"github.com/BurntSushi/toml"
)

// Verify decodes every rendered service config and checks that every config
// naming a datastore agrees on its endpoint and that key material stays under
// the sandbox key directory.
func Verify(bundle *Bundle, handle *datastore.Handle, layout Layout) error {
	if !handle.Known() {
		return apperrors.ErrDatastoreUnknown
	}

	for _, name := range Topology {
		artifact, ok := bundle.Artifact(ConfigFileName(name))
		if !ok {
			return fmt.Errorf("config for %s was not rendered", name)
		}

		var tree map[string]interface{}
		if _, err := toml.Decode(string(artifact.Content), &tree); err != nil {
			return fmt.Errorf("decode %s: %w", artifact.Name, err)
		}

		if _, named := tree["datastore"]; named || services[name].usesDatastore {
			if err := checkDatastore(artifact.Name, tree, handle); err != nil {
				return err
			}
		}
		if err := checkKeyPaths(artifact.Name, "", tree, layout.KeyDir); err != nil {
			return err
		}
	}

	expected := map[string]bool{}
	for _, name := range Topology {
		expected[name] = true
	}
	for _, name := range bundle.Manifest.ServiceNames() {
		if !expected[name] {
			return fmt.Errorf("manifest entry %s is not an expected service", name)
		}
		delete(expected, name)
	}
	if len(expected) > 0 {
		return fmt.Errorf("manifest is missing %d expected services", len(expected))
	}
	return nil
}

func checkDatastore(file string, tree map[string]interface{}, handle *datastore.Handle) error {
	table, ok := tree["datastore"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s: missing datastore table", file)
	}
	host, _ := table["host"].(string)
	port, _ := table["port"].(int64)
	if host != handle.Host || int(port) != handle.Port {
		return fmt.Errorf("%s: datastore %s:%d does not match %s", file, host, port, handle.Address())
	}
	return nil
}

func checkKeyPaths(file, prefix string, tree map[string]interface{}, keyDir string) error {
	for key, value := range tree {
		field := key
		if prefix != "" {
			field = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]interface{}:
			if err := checkKeyPaths(file, field, v, keyDir); err != nil {
				return err
			}
		case string:
			switch {
			case key == "key_dir":
				if filepath.Clean(v) != filepath.Clean(keyDir) {
					return fmt.Errorf("%s: %s is %s, want %s", file, field, v, keyDir)
				}
			case strings.HasSuffix(key, "_key"):
				if !pathutil.IsDirectChild(keyDir, v) {
					return fmt.Errorf("%s: %s is not a direct child of %s", file, field, keyDir)
				}
			}
		}
	}
	return nil
}
