//go:build windows

package loader

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// defaultSearchPaths lists the system directory, the Windows directory and
// the current directory.
func defaultSearchPaths() []string {
	var dirs []string
	if sys, err := windows.GetSystemDirectory(); err == nil {
		dirs = append(dirs, sys)
	} else if root := os.Getenv("SystemRoot"); root != "" {
		dirs = append(dirs, filepath.Join(root, "System32"))
	}
	if win, err := windows.GetWindowsDirectory(); err == nil {
		dirs = append(dirs, win)
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return dirs
}
