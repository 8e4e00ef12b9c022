package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/promoflow/pkg/domain/types"
	"github.com/dshills/promoflow/pkg/tree"
)

// ErrTreeNotFound is returned when no definition is stored under an id.
var ErrTreeNotFound = errors.New("tree not found")

// FileTreeRepository implements tree.Repository with one YAML file per tree
// in a directory.
type FileTreeRepository struct {
	baseDir string
	guard   *pathGuard
	logger  zerolog.Logger
}

var _ tree.Repository = (*FileTreeRepository)(nil)

// NewFileTreeRepository creates a repository rooted at dir, creating the
// directory if needed.
func NewFileTreeRepository(dir string, logger zerolog.Logger) (*FileTreeRepository, error) {
	if dir == "" {
		return nil, errors.New("tree directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create trees directory: %w", err)
	}
	guard, err := newPathGuard(dir)
	if err != nil {
		return nil, err
	}
	return &FileTreeRepository{baseDir: guard.base, guard: guard, logger: logger}, nil
}

// Dir returns the directory holding the tree files.
func (r *FileTreeRepository) Dir() string {
	return r.baseDir
}

// Save writes the definition as <id>.yaml.
func (r *FileTreeRepository) Save(def *tree.Definition) error {
	if def == nil {
		return errors.New("cannot save nil definition")
	}
	filePath, err := r.treePath(types.TreeID(def.ID))
	if err != nil {
		return err
	}

	data, err := tree.ToYAML(def)
	if err != nil {
		return err
	}

	// Write to file atomically using a temp file + rename
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write tree file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to save tree file: %w", err)
	}
	return nil
}

// Load reads and schema-checks the definition stored under id.
func (r *FileTreeRepository) Load(id types.TreeID) (*tree.Definition, error) {
	filePath, err := r.treePath(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tree file: %w", err)
	}

	def, err := tree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", id, err)
	}
	if def.ID != string(id) {
		return nil, fmt.Errorf("tree file %s declares id %q", filepath.Base(filePath), def.ID)
	}
	return def, nil
}

// Delete removes the definition stored under id.
func (r *FileTreeRepository) Delete(id types.TreeID) error {
	filePath, err := r.treePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrTreeNotFound, id)
		}
		return fmt.Errorf("failed to delete tree file: %w", err)
	}
	return nil
}

// List returns every readable definition sorted by id. Files that fail to
// parse are logged and skipped.
func (r *FileTreeRepository) List() ([]*tree.Definition, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trees directory: %w", err)
	}

	defs := make([]*tree.Definition, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		id := types.TreeID(strings.TrimSuffix(entry.Name(), ".yaml"))
		def, err := r.Load(id)
		if err != nil {
			r.logger.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable tree file")
			continue
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// treePath maps an id to its file, refusing ids that could escape the
// directory.
func (r *FileTreeRepository) treePath(id types.TreeID) (string, error) {
	if !types.IsValidIdentifier(string(id)) {
		return "", fmt.Errorf("invalid tree id %q", id)
	}
	return r.guard.Resolve(string(id) + ".yaml")
}
