package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by ObjectStore.Get for a missing key
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key        string
	Size       int64
	ModifiedAt time.Time
}

// ObjectStore is the minimal blob API artifact snapshots are kept in
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	HealthCheck(ctx context.Context) error
	// Location renders a key as a URL for logs and manifests
	Location(key string) string
}

// LocalStore keeps objects as files below a base directory. Metadata is
// written next to each object as <name>.meta.json.
type LocalStore struct {
	basePath    string
	permissions os.FileMode
}

const localMetaSuffix = ".meta.json"

// NewLocalStore creates the base directory when missing
func NewLocalStore(basePath string, permissions os.FileMode) (*LocalStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local store base path is required")
	}
	if permissions == 0 {
		permissions = 0750
	}

	if err := os.MkdirAll(basePath, permissions); err != nil {
		return nil, fmt.Errorf("failed to create local store directory: %w", err)
	}

	return &LocalStore{basePath: basePath, permissions: permissions}, nil
}

func (l *LocalStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	path, err := l.pathFor(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), l.permissions); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}

	if len(metadata) > 0 {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal object metadata: %w", err)
		}
		if err := os.WriteFile(path+localMetaSuffix, meta, 0640); err != nil {
			return fmt.Errorf("failed to write object metadata: %w", err)
		}
	}
	return nil
}

func (l *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := l.pathFor(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (l *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := l.pathFor(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	if err := os.Remove(path + localMetaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object metadata %s: %w", key, err)
	}

	// Drop the now-empty parent directory, ignoring errors for non-empty ones
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func (l *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, localMetaSuffix) {
			return nil
		}

		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{Key: key, Size: info.Size(), ModifiedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list local objects: %w", err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (l *LocalStore) HealthCheck(ctx context.Context) error {
	probe := filepath.Join(l.basePath, ".health_check")
	if err := os.WriteFile(probe, []byte("ok"), 0640); err != nil {
		return fmt.Errorf("local store not writable: %w", err)
	}
	return os.Remove(probe)
}

func (l *LocalStore) Location(key string) string {
	return "file://" + filepath.Join(l.basePath, filepath.FromSlash(key))
}

// pathFor rejects keys that would escape the base directory
func (l *LocalStore) pathFor(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(l.basePath, clean), nil
}
