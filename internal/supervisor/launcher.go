package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/harunnryd/testbed/internal/config"
	apperrors "github.com/harunnryd/testbed/internal/errors"
)

const (
	PlatformLinux  = "linux"
	PlatformDarwin = "darwin"
)

// Launcher starts a Procfile as one supervised process group. Platforms only
// differ in which supervisor binary is invoked.
type Launcher struct {
	Platform string
	Binary   string
}

// Resolve picks the launcher for the running platform.
func Resolve(cfg config.SupervisorConfig) (*Launcher, error) {
	return ResolveFor(goruntime.GOOS, cfg)
}

func ResolveFor(goos string, cfg config.SupervisorConfig) (*Launcher, error) {
	var binary string
	switch goos {
	case PlatformLinux:
		binary = cfg.LinuxBinary
	case PlatformDarwin:
		binary = cfg.DarwinBinary
	default:
		return nil, apperrors.MissingTool(fmt.Sprintf("no process supervisor for platform %s", goos))
	}

	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, apperrors.MissingTool(fmt.Sprintf("supervisor binary for %s is not configured", goos))
	}
	return &Launcher{Platform: goos, Binary: binary}, nil
}

// Path resolves the binary to an absolute executable path. Relative paths
// containing a separator are taken from the working directory, bare names
// from PATH.
func (l *Launcher) Path() (string, error) {
	if !strings.ContainsRune(l.Binary, filepath.Separator) {
		path, err := exec.LookPath(l.Binary)
		if err != nil {
			return "", apperrors.WithCategory(err, "supervisor "+l.Binary, apperrors.ErrMissingTool)
		}
		return path, nil
	}

	path, err := filepath.Abs(l.Binary)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", apperrors.WithCategory(err, "supervisor "+l.Binary, apperrors.ErrMissingTool)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return "", apperrors.MissingTool(fmt.Sprintf("supervisor %s is not executable", path))
	}
	return path, nil
}

// Args is the supervisor command line for a Procfile and env file.
func (l *Launcher) Args(procfile, envFile string) []string {
	return []string{"start", "-f", procfile, "-e", envFile}
}
