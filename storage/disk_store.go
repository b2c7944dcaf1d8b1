package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/luma/dgramfs/protocol"
)

const tmpSuffix = ".tmp"

// DiskStore keeps one file per record under a directory. Each file holds the
// encoded protocol.FileRecord and is replaced as a unit on every write.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("Failed to create storage directory %s: %w", dir, err)
	}

	return &DiskStore{dir: dir}, nil
}

func (d *DiskStore) Read(ctx context.Context, name string) (*protocol.FileRecord, error) {
	path, err := d.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	record := &protocol.FileRecord{}
	if err := record.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("Failed to decode %s: %w", path, err)
	}

	record.Name = name

	return record, nil
}

func (d *DiskStore) Write(ctx context.Context, name string, record *protocol.FileRecord) error {
	path, err := d.path(name)
	if err != nil {
		return err
	}

	stored := record.Clone()
	stored.Name = name

	data, err := stored.Marshal()
	if err != nil {
		return err
	}

	// Write then rename so a reader never sees half a record
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func (d *DiskStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), tmpSuffix) {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}

func (d *DiskStore) Close() error {
	return nil
}

func (d *DiskStore) path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	return filepath.Join(d.dir, name), nil
}

// validateName rejects names that would escape a flat namespace.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasSuffix(name, tmpSuffix) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}

	return nil
}

var _ Store = (*DiskStore)(nil)
