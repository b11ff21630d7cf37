package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Expand resolves environment variables and "~/" home shortcuts.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := resolveHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if expanded == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
		}
	}

	return filepath.Clean(expanded), nil
}

// Within joins rel onto root. rel must be a local path; symlinks inside root
// are resolved without leaving it.
func Within(root string, rel ...string) (string, error) {
	joined := filepath.Join(rel...)
	if joined == "" || joined == "." {
		return filepath.Clean(root), nil
	}
	if !filepath.IsLocal(joined) {
		return "", fmt.Errorf("path %q escapes %s", joined, root)
	}
	return securejoin.SecureJoin(root, joined)
}

// IsDirectChild reports whether path sits immediately inside dir.
func IsDirectChild(dir, path string) bool {
	return filepath.Dir(filepath.Clean(path)) == filepath.Clean(dir)
}

func resolveHomeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil {
		if resolved, ok := usableHome(home); ok {
			return resolved, nil
		}
	}

	if current, err := user.Current(); err == nil {
		if resolved, ok := usableHome(current.HomeDir); ok {
			return resolved, nil
		}
	}

	envHome := strings.TrimSpace(os.Getenv("HOME"))
	if envHome == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	if _, ok := usableHome(envHome); !ok {
		return "", fmt.Errorf("HOME is not fully resolved: %s", envHome)
	}
	return envHome, nil
}

func usableHome(candidate string) (string, bool) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" || trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		return "", false
	}
	return trimmed, true
}
