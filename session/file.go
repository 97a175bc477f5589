package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	agent "github.com/armatrix/opencode-agent-sdk-go"
)

// FileStore persists records as individual JSON files in a directory.
// Each record is stored as {id}.json.
type FileStore struct {
	dir string
}

var _ agent.SessionLister = (*FileStore)(nil)

// NewFileStore creates a FileStore that saves records to the given
// directory. The directory is created if it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory records are stored in.
func (f *FileStore) Dir() string { return f.dir }

// Save writes record to disk. The file is replaced atomically.
func (f *FileStore) Save(_ context.Context, record *agent.SessionRecord) error {
	if record == nil {
		return errNilRecord
	}
	path, err := f.path(record.ID)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Load reads a record from disk by id.
func (f *FileStore) Load(_ context.Context, id string) (*agent.SessionRecord, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var r agent.SessionRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &r, nil
}

// Delete removes a record file from disk.
func (f *FileStore) Delete(_ context.Context, id string) error {
	path, err := f.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// List returns all records stored on disk, most recently updated first.
// Files that fail to parse are skipped.
func (f *FileStore) List(ctx context.Context) ([]*agent.SessionRecord, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	var records []*agent.SessionRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		r, err := f.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue // corrupt file
		}
		records = append(records, r)
	}
	sortByUpdated(records)
	return records, nil
}

func (f *FileStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(f.dir, id+".json"), nil
}
