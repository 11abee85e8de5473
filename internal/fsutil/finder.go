// Package fsutil provides file system utility functions.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by FindFile when no root contains the file.
var ErrNotFound = errors.New("file not found")

// FindFilesByExtension recursively searches the given root path for all files ending
// with the specified extension. It returns a slice of their full paths.
func FindFilesByExtension(rootPath string, extension string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), extension) {
			files = append(files, path)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// FindFile searches the roots in order, recursively, for a file with the
// given base name and returns the first match. Roots that do not exist are
// skipped.
func FindFile(roots []string, name string) (string, error) {
	for _, root := range roots {
		if root == "" {
			continue
		}
		files, err := FindFilesByExtension(root, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", err
		}
		for _, f := range files {
			if filepath.Base(f) == name {
				return f, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s in %v", ErrNotFound, name, roots)
}
