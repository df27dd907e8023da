// Package file discovers local input files for the loader: recursive JSON
// tree listing and simple line-based path lists.
package file

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// JSONExt is the extension matched by ListJSON. Matching is case-sensitive.
const JSONExt = ".json"

// ListJSON walks root recursively and returns the absolute paths of every
// regular file whose name ends in ".json".
//
// The result is sorted lexically so repeated runs visit files in the same
// order. Directories are never returned, even if their name ends in ".json".
//
// Errors:
//   - Returns an error if root does not exist or is not a directory.
//   - Returns the first walk error (e.g. permission denied on a subdirectory).
func ListJSON(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %s: not a directory", root)
	}

	var out []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), JSONExt) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}

	sort.Strings(out)
	return out, nil
}

// ReadList reads a text file line by line and returns the non-empty,
// non-comment lines.
//
// Lines that are empty or start with '#' (after trimming) are skipped. The
// order of lines is preserved.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
