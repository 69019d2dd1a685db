package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// IncludeKey is the top-level setting naming files to read underneath the
// current one, e.g. include = ["cache.toml"]. Relative names are resolved
// against the including file.
const IncludeKey = "include"

// MaxIncludeDepth bounds how deeply includes may nest.
const MaxIncludeDepth = 8

// ReadTOML parses the configuration file at path together with everything
// it includes. The including file wins over its includes, and a later
// include wins over an earlier one.
//
// A missing path yields an error matching fs.ErrNotExist. A missing include
// is an *IncludeError instead, so callers can treat an absent optional file
// as empty without hiding a broken include inside it.
func ReadTOML(fsys FileSystem, path string) (map[string]any, error) {
	r := includeReader{fs: fsys, open: make(map[string]bool)}
	return r.read(filepath.Clean(path), "", 0)
}

type includeReader struct {
	fs   FileSystem
	open map[string]bool // files on the current include chain
}

func (r *includeReader) read(path, from string, depth int) (map[string]any, error) {
	if depth > MaxIncludeDepth {
		return nil, &IncludeError{Path: path, From: from, Reason: fmt.Sprintf("nested more than %d deep", MaxIncludeDepth)}
	}
	if r.open[path] {
		return nil, &IncludeError{Path: path, From: from, Reason: "include cycle"}
	}

	data, err := r.fs.ReadFile(path)
	if err != nil {
		if from != "" && errors.Is(err, fs.ErrNotExist) {
			return nil, &IncludeError{Path: path, From: from, Reason: "no such file"}
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	settings, err := parseTOML(path, data)
	if err != nil {
		return nil, err
	}

	names, err := includeNames(path, settings[IncludeKey])
	if err != nil {
		return nil, err
	}
	delete(settings, IncludeKey)
	if len(names) == 0 {
		return settings, nil
	}

	r.open[path] = true
	defer delete(r.open, path)

	layers := make([]map[string]any, 0, len(names)+1)
	for _, name := range names {
		if !filepath.IsAbs(name) {
			name = filepath.Join(filepath.Dir(path), name)
		}
		inc, err := r.read(filepath.Clean(name), path, depth+1)
		if err != nil {
			return nil, err
		}
		layers = append(layers, inc)
	}
	return Merge(append(layers, settings)...), nil
}

// includeNames accepts a single file name or a list of them.
func includeNames(path string, v any) ([]string, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		names := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, &IncludeError{Path: path, Reason: fmt.Sprintf("%s[%d] is a %T, not a file name", IncludeKey, i, item)}
			}
			names[i] = s
		}
		return names, nil
	default:
		return nil, &IncludeError{Path: path, Reason: fmt.Sprintf("%s is a %T, not a file name or list", IncludeKey, v)}
	}
}

func parseTOML(path string, data []byte) (map[string]any, error) {
	var settings map[string]any
	if err := toml.Unmarshal(data, &settings); err != nil {
		perr := &ParseError{Path: path, Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return nil, perr
	}
	if settings == nil {
		settings = make(map[string]any)
	}
	return settings, nil
}

// ParseError reports malformed TOML, positioned like a compiler diagnostic.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IncludeError reports an include that could not be followed. From is the
// including file, empty when the problem is in Path's own include setting.
type IncludeError struct {
	Path   string
	From   string
	Reason string
}

func (e *IncludeError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("%s: include %s: %s", e.From, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}
