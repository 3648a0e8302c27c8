package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"recollector/api/models"
)

var ErrStorage = errors.New("storage failure")

// RemoveError lists every file Remove could not delete, one error per file.
type RemoveError struct {
	Errs []error
}

func (e *RemoveError) Error() string {
	return errors.Join(e.Errs...).Error()
}

func (e *RemoveError) Unwrap() []error { return e.Errs }

// Store persists per-task metadata records and generated models. Files are
// published with a rename so the static file server never serves a partial
// write.
type Store struct {
	modelDir    string
	metadataDir string
}

func NewStore(modelDir, metadataDir string) (*Store, error) {
	for _, dir := range []string{modelDir, metadataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrStorage, dir, err)
		}
	}
	return &Store{modelDir: modelDir, metadataDir: metadataDir}, nil
}

func (s *Store) ModelPath(taskID string) string {
	return filepath.Join(s.modelDir, taskID+".glb")
}

func (s *Store) MetadataPath(taskID string) string {
	return filepath.Join(s.metadataDir, taskID+".json")
}

func (s *Store) SaveMetadata(taskID string, meta models.Metadata) error {
	data, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %w", ErrStorage, err)
	}
	return writeAtomic(s.MetadataPath(taskID), data)
}

func (s *Store) SaveModel(taskID string, data []byte) error {
	return writeAtomic(s.ModelPath(taskID), data)
}

// Remove deletes the model and metadata files that exist for taskID. It
// attempts both even if the first fails and returns the paths it removed.
func (s *Store) Remove(taskID string) ([]string, error) {
	var (
		removed []string
		errs    []error
	)
	targets := []struct {
		kind string
		path string
	}{
		{"model", s.ModelPath(taskID)},
		{"metadata", s.MetadataPath(taskID)},
	}
	for _, t := range targets {
		err := os.Remove(t.path)
		switch {
		case err == nil:
			removed = append(removed, t.path)
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("%w: failed to delete %s file: %w", ErrStorage, t.kind, err))
		}
	}
	if len(errs) > 0 {
		return removed, &RemoveError{Errs: errs}
	}
	return removed, nil
}

func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrStorage, err)
	}
	tmpName := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStorage, dest, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrStorage, dest, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", ErrStorage, dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrStorage, dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrStorage, dest, err)
	}
	renamed = true
	return nil
}
