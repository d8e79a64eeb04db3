package service

import (
	"os"
	"runtime"
)

// Path returns the service definition path for this platform.
func Path(home, label string) string {
	if runtime.GOOS == "darwin" {
		return LaunchdPath(home, label)
	}
	return SystemdPath(home, label)
}

// Install writes the service definition for this platform.
func Install(home string, params Params) (string, error) {
	if runtime.GOOS == "darwin" {
		return WritePlist(home, params)
	}
	return WriteUnit(home, params)
}

// Status returns the service definition path and whether it exists.
func Status(home, label string) (string, bool) {
	path := Path(home, label)
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return path, false
}
