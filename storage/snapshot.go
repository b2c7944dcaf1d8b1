package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/dgramfs/protocol"
)

var ErrInvalidSnapshot = errors.New("Snapshot is not a JSON array of files")

// Backup renders every record in store as a JSON array of
// `{"name", "content", "lastModified"}` objects, ordered by name.
func Backup(ctx context.Context, store Store) ([]byte, error) {
	names, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	values := []byte("[]")

	for _, name := range names {
		record, err := store.Read(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("Failed to back up %s: %w", name, err)
		}

		file := []byte("{}")

		if file, err = sjson.SetBytes(file, "name", record.Name); err != nil {
			return nil, err
		}

		if file, err = sjson.SetBytes(file, "content", record.Content); err != nil {
			return nil, err
		}

		if file, err = sjson.SetBytes(file, "lastModified", record.LastModified.UnixMilli()); err != nil {
			return nil, err
		}

		// -1 appends to the array
		if values, err = sjson.SetRawBytes(values, "-1", file); err != nil {
			return nil, err
		}
	}

	return values, nil
}

// Restore writes every file in a snapshot produced by Backup into store.
// Files in store that are not in the snapshot are left alone. A file that
// already exists keeps its record when the content matches, and otherwise is
// stamped after its current LastModified so time never runs backwards. It
// returns how many files the snapshot held and the records it changed.
func Restore(ctx context.Context, store Store, values []byte, now time.Time) (int, []*protocol.FileRecord, error) {
	if !gjson.ValidBytes(values) {
		return 0, nil, ErrInvalidSnapshot
	}

	parsed := gjson.ParseBytes(values)
	if !parsed.IsArray() {
		return 0, nil, ErrInvalidSnapshot
	}

	var (
		restored int
		changed  []*protocol.FileRecord
	)

	for _, file := range parsed.Array() {
		name := file.Get("name").String()
		if name == "" {
			return restored, changed, fmt.Errorf("file %d has no name: %w", restored, ErrInvalidSnapshot)
		}

		record := &protocol.FileRecord{
			Name:         name,
			Content:      file.Get("content").String(),
			LastModified: time.UnixMilli(file.Get("lastModified").Int()),
		}

		existing, err := store.Read(ctx, name)
		switch {
		case err == nil && existing.Content == record.Content:
			restored++
			continue

		case err == nil:
			record.LastModified = nextModified(existing.LastModified, now)

		case !errors.Is(err, ErrNotFound):
			return restored, changed, fmt.Errorf("Failed to restore %s: %w", name, err)
		}

		if err := store.Write(ctx, name, record); err != nil {
			return restored, changed, fmt.Errorf("Failed to restore %s: %w", name, err)
		}

		restored++
		changed = append(changed, record)
	}

	return restored, changed, nil
}
