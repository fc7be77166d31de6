// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"fmt"
	"strings"
)

// DefaultMaxDepth bounds the number of components in a path.
const DefaultMaxDepth = 32

// ValidateComponent checks one path element. Empty names, "." and
// "..", and names containing "/" or NUL are rejected.
func ValidateComponent(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty path component", ErrInvalid)
	case name == "." || name == "..":
		return fmt.Errorf("%w: path component %q", ErrInvalid, name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("%w: path component %q contains '/'", ErrInvalid, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: path component contains NUL", ErrInvalid)
	}
	return nil
}

// SplitPath validates an absolute path and returns its components. The
// root "/" has none.
func SplitPath(path string, maxDepth int) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path %q is not absolute", ErrInvalid, path)
	}
	if path == "/" {
		return nil, nil
	}
	components := strings.Split(path[1:], "/")
	if maxDepth > 0 && len(components) > maxDepth {
		return nil, fmt.Errorf("%w: path %q has %d components, limit %d", ErrInvalid, path, len(components), maxDepth)
	}
	for _, component := range components {
		if err := ValidateComponent(component); err != nil {
			return nil, err
		}
	}
	return components, nil
}

// Join appends one component to an absolute path.
func Join(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// Parent returns the directory containing path and the final
// component. The parent of the root is the root.
func Parent(path string) (string, string) {
	index := strings.LastIndexByte(path, '/')
	if index <= 0 {
		return "/", path[index+1:]
	}
	return path[:index], path[index+1:]
}

// WithinPrefix reports whether path equals prefix or lies beneath it.
func WithinPrefix(path, prefix string) bool {
	if prefix == "/" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix) && len(path) > len(prefix) && path[len(prefix)] == '/'
}
