// Package confkit loads the service config and the module files it points at.
package confkit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeromicro/go-zero/core/conf"
)

// ResolvePath expands environment variables in file and joins a relative
// result onto base.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// LoadMain reads the main service config at path into v with environment
// expansion, after loading .env. It returns the absolute path it read.
func LoadMain(path string, v any) (string, error) {
	LoadDotenvOnce()
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path %s: %w", path, err)
	}
	if err := conf.Load(abs, v, conf.UseEnv()); err != nil {
		return "", fmt.Errorf("load config %s: %w", abs, err)
	}
	return abs, nil
}

// Section points at a module config kept in its own file. After Hydrate or
// Resolve, File holds the absolute path and Value the parsed config.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate loads File relative to base. An empty File is a no-op.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if s.File == "" {
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return err
	}
	s.File, s.Value = p, v
	return nil
}

// Resolve returns the hydrated value. A section with no file falls back to
// the project file at fallback; a file that was named but never loaded is an
// error.
func (s *Section[T]) Resolve(fallback string, loader func(string) (*T, error)) (*T, error) {
	if s.Value != nil {
		return s.Value, nil
	}
	if s.File != "" {
		return nil, fmt.Errorf("confkit: section %s not loaded", s.File)
	}
	p, err := ProjectPath(fallback)
	if err != nil {
		return nil, err
	}
	v, err := loader(p)
	if err != nil {
		return nil, err
	}
	s.File, s.Value = p, v
	return v, nil
}

// Source names where the section came from: its file, "inline" for a value
// set without one, or "" when nothing is configured.
func (s Section[T]) Source() string {
	switch {
	case strings.TrimSpace(s.File) != "":
		return s.File
	case s.Value != nil:
		return "inline"
	default:
		return ""
	}
}
