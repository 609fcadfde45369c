package adapter

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob expands patterns (with ** support) into a de-duplicated file list,
// largest file first. defaults is used when patterns is empty.
func Glob(patterns, defaults []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = defaults
	}

	seen := make(map[string]struct{})
	var files []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}

	sortBySizeDesc(files, fileSize)
	return files, nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
