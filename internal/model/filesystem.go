package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aevon-lab/recalc/internal/core/storage"
)

// FileSystemSource loads model definitions from *.yaml, *.yml and *.json
// files in a directory, one model per file. Files are read in name order.
// A file without a key takes its key from the file name.
type FileSystemSource struct {
	dir string
}

// NewFileSystemSource creates a source over dir.
func NewFileSystemSource(dir string) *FileSystemSource {
	return &FileSystemSource{dir: dir}
}

// LoadModels implements storage.ModelStore.
func (s *FileSystemSource) LoadModels(ctx context.Context) ([]storage.ModelDefinition, error) {
	info, err := os.Stat(s.dir)
	if err != nil {
		return nil, fmt.Errorf("model dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("model path %q is not a directory", s.dir)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading model dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	seen := make(map[string]string)
	var defs []storage.ModelDefinition
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml" && ext != ".json") {
			continue
		}

		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading model file %s: %w", path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		m, err := Decode(storage.ModelDefinition{Definition: data})
		if err != nil {
			return nil, fmt.Errorf("model file %s: %w", path, err)
		}
		key := m.Key
		if key == "" {
			key = strings.TrimSuffix(e.Name(), ext)
		}
		if prev, exists := seen[key]; exists {
			return nil, fmt.Errorf("model %q: duplicate model key (%s and %s)", key, prev, e.Name())
		}
		seen[key] = e.Name()

		defs = append(defs, storage.ModelDefinition{Key: key, Definition: data})
	}
	return defs, nil
}
