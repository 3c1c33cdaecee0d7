package pathing

import (
	"os"
	"path/filepath"
)

// EnsureDirs creates the directories the collector reads config from and
// writes state to. Called once at startup, before config or database access.
func EnsureDirs() error {
	dirs := []string{
		GetConfigDir(),
		GetDataDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func GetStateDbPath() string {
	return filepath.Join(GetDataDir(), "p1collector.db")
}

func GetDataDir() string {
	return "/var/lib/p1collector"
}

func GetConfigDir() string {
	return "/etc/p1collector"
}
