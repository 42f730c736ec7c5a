package declare

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Decode reads one plugin declaration in YAML. Unknown keys are rejected.
func Decode(r io.Reader) (PluginSchema, error) {
	var s PluginSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return PluginSchema{}, fmt.Errorf("empty schema document")
		}
		return PluginSchema{}, err
	}
	return s, nil
}

// LoadFile reads a plugin declaration from a YAML file
func LoadFile(path string) (PluginSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PluginSchema{}, fmt.Errorf("failed to read schema file: %w", err)
	}
	s, err := Decode(bytes.NewReader(data))
	if err != nil {
		return PluginSchema{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return s, nil
}

// LoadDir reads every *.yaml and *.yml file of dir, ordered by file name
func LoadDir(dir string) ([]PluginSchema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	schemas := make([]PluginSchema, 0, len(files))
	for _, file := range files {
		s, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}
