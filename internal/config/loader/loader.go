// Package loader turns bined configuration files and BINED_* environment
// variables into nested maps keyed by section and setting name.
//
// The config package stacks the maps with Merge and decodes the result.
package loader

import "os"

// FileSystem reads configuration files. Tests substitute an in-memory one.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
}

type diskFS struct{}

func (diskFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// DefaultFS reads from the local disk.
func DefaultFS() FileSystem {
	return diskFS{}
}

// Merge stacks layers from lowest to highest priority. Tables present in
// several layers are merged key by key; any other value from a later layer
// replaces the earlier one. The layers themselves are left untouched.
func Merge(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		overlay(out, layer)
	}
	return out
}

// overlay copies src onto dst. dst owns every nested table it holds.
func overlay(dst, src map[string]any) {
	for key, v := range src {
		table, ok := v.(map[string]any)
		if !ok {
			dst[key] = v
			continue
		}
		own, ok := dst[key].(map[string]any)
		if !ok {
			own = make(map[string]any, len(table))
			dst[key] = own
		}
		overlay(own, table)
	}
}
