package recording

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/louisbranch/imogine/internal/errors"
)

// BlobStore keeps recording blobs in a single flat directory. Names are
// opaque to callers but validated here so a stored name can never escape
// the directory.
type BlobStore struct {
	dir string
}

// NewBlobStore creates the directory if needed and returns a store rooted
// at it.
func NewBlobStore(dir string) (*BlobStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("recordings directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// ValidateName rejects names that could resolve outside the store
// directory. Stored names are always a single flat path element.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" ||
		strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) {
		return apperrors.WithMetadata(
			apperrors.CodeRecordingUnsafeName,
			"recording name is not safe",
			map[string]string{"Name": name},
		)
	}
	return nil
}

// Path returns the absolute path for a validated name. The file may or may
// not exist.
func (b *BlobStore) Path(name string) (string, error) {
	if b == nil {
		return "", fmt.Errorf("blob store is not configured")
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(b.dir, name), nil
}

// Write stores the blob durably under name and returns the byte count.
// The blob lands in a temp file that is synced before being renamed into
// place, so a crash never leaves a partial file under the final name.
func (b *BlobStore) Write(name string, blob io.Reader) (int64, error) {
	target, err := b.Path(name)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(b.dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, blob)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("store blob: %w", err)
	}
	return size, nil
}

// Stat reports the size of a stored blob, or RECORDING_NOT_FOUND.
func (b *BlobStore) Stat(name string) (int64, error) {
	path, err := b.Path(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, apperrors.WithMetadata(
				apperrors.CodeRecordingNotFound,
				"recording not found",
				map[string]string{"Name": name},
			)
		}
		return 0, fmt.Errorf("stat blob: %w", err)
	}
	return info.Size(), nil
}

// Remove deletes a stored blob. Removing an absent blob is not an error.
func (b *BlobStore) Remove(name string) error {
	path, err := b.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// List returns the names of every stored blob, ignoring in-flight temp
// files.
func (b *BlobStore) List() ([]string, error) {
	if b == nil {
		return nil, fmt.Errorf("blob store is not configured")
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// PurgeExcept removes every blob whose base name does not match a kept
// name's base. Derived variants share the original's base, so keeping a
// recording keeps its conversions.
func (b *BlobStore) PurgeExcept(keep []string) ([]string, error) {
	names, err := b.List()
	if err != nil {
		return nil, err
	}

	kept := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		kept[baseName(name)] = struct{}{}
	}

	var removed []string
	for _, name := range names {
		if _, ok := kept[baseName(name)]; ok {
			continue
		}
		if err := b.Remove(name); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func baseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
