package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	appDirName     = "chatark"
	dbFileName     = "storage.db"
	configFileName = "config.yaml"
)

// DataPaths holds the on-disk locations used by the client
type DataPaths struct {
	DataDir    string // base directory for all client state
	DBPath     string // local storage database
	ConfigFile string // optional YAML config
}

// DetectDataPaths returns the default paths for the current operating system
func DetectDataPaths() (DataPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DataPaths{}, fmt.Errorf("failed to get home directory: %w", err)
	}

	var dataDir string
	switch runtime.GOOS {
	case "darwin":
		dataDir = filepath.Join(home, "Library/Application Support", appDirName)
	case "linux":
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		dataDir = filepath.Join(base, appDirName)
	default:
		return DataPaths{}, fmt.Errorf("unsupported OS: %s (only macOS and Linux are supported)", runtime.GOOS)
	}

	return PathsIn(dataDir), nil
}

// PathsIn returns the paths rooted at dataDir
func PathsIn(dataDir string) DataPaths {
	return DataPaths{
		DataDir:    dataDir,
		DBPath:     filepath.Join(dataDir, dbFileName),
		ConfigFile: filepath.Join(dataDir, configFileName),
	}
}

// EnsureDataDir creates the data directory if it does not exist
func (p DataPaths) EnsureDataDir() error {
	if err := os.MkdirAll(p.DataDir, 0o700); err != nil {
		return &StorageError{Path: p.DataDir, Op: "open", Err: err}
	}
	return nil
}
