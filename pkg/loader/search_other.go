//go:build !windows

package loader

import "os"

func defaultSearchPaths() []string {
	if cwd, err := os.Getwd(); err == nil {
		return []string{cwd}
	}
	return nil
}
