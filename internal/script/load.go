package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/txtar"
	"gopkg.in/yaml.v3"
)

// archiveScriptName is the archive member that holds the script when the
// archive comment is empty.
const archiveScriptName = "script.yaml"

// Decode parses a YAML or JSON script. The document may be a list of steps
// or a mapping with "name" and "steps". Unknown fields are rejected.
func Decode(data []byte) (Script, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Script{}, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if len(root.Content) == 0 {
		return Script{}, fmt.Errorf("%w: empty document", ErrInvalidScript)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Script
	var err error
	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		err = dec.Decode(&s.Steps)
	case yaml.MappingNode:
		err = dec.Decode(&s)
	default:
		return Script{}, fmt.Errorf("%w: document must be a list of steps or a mapping", ErrInvalidScript)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, ErrInvalidScript) {
			return Script{}, err
		}
		return Script{}, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}

	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

// LoadFile reads a script from a .yaml, .yml or .json file. Archives are
// loaded with LoadArchive instead because they need a work directory.
func LoadFile(path string) (Script, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return Script{}, fmt.Errorf("%w: unsupported script file %s", ErrInvalidScript, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("reading script: %w", err)
	}
	s, err := Decode(data)
	if err != nil {
		return Script{}, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// LoadArchive reads a txtar archive whose comment, or whose script.yaml
// member, holds the script. Every other member is written below workDir so
// the script's commands can use them as fixtures.
func LoadArchive(path, workDir string) (Script, error) {
	ar, err := txtar.ParseFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("reading archive: %w", err)
	}

	data := ar.Comment
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return Script{}, fmt.Errorf("resolving work dir: %w", err)
	}

	for _, f := range ar.Files {
		if f.Name == archiveScriptName && len(bytes.TrimSpace(data)) == 0 {
			data = f.Data
			continue
		}
		if err := writeFixture(absDir, f); err != nil {
			return Script{}, err
		}
	}

	s, err := Decode(data)
	if err != nil {
		return Script{}, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// writeFixture writes one archive member, refusing paths outside dir.
func writeFixture(dir string, f txtar.File) error {
	target := filepath.Join(dir, filepath.Clean(f.Name))
	if !strings.HasPrefix(target, dir+string(filepath.Separator)) {
		return fmt.Errorf("%w: archive entry %q escapes work directory", ErrInvalidScript, f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create fixture dir: %w", err)
	}
	if err := os.WriteFile(target, f.Data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", f.Name, err)
	}
	return nil
}

// Load dispatches on the file extension: .txtar files are loaded with
// LoadArchive into workDir, everything else with LoadFile.
func Load(path, workDir string) (Script, error) {
	if strings.EqualFold(filepath.Ext(path), ".txtar") {
		return LoadArchive(path, workDir)
	}
	return LoadFile(path)
}
