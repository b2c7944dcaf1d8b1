package storage

import (
	"fmt"
	"time"

	"github.com/luma/dgramfs/protocol"
)

// GetContent returns up to maxBytes of content starting at offset. Reading at
// exactly the end of the content yields an empty string, reading past it is an
// error.
func GetContent(record *protocol.FileRecord, offset, maxBytes int) (string, error) {
	size := len(record.Content)
	if offset < 0 || offset > size {
		return "", fmt.Errorf("offset %d, length %d: %w", offset, size, ErrOffsetOutOfRange)
	}

	end := size
	if maxBytes >= 0 && offset+maxBytes < size {
		end = offset + maxBytes
	}

	return record.Content[offset:end], nil
}

// UpdateContent inserts newContent at offset, keeping everything that was
// already at or after offset. It bumps LastModified so that it is strictly
// later than before, even if the clock has not moved.
func UpdateContent(record *protocol.FileRecord, offset int, newContent string, now time.Time) error {
	size := len(record.Content)
	if offset < 0 || offset > size {
		return fmt.Errorf("offset %d, length %d: %w", offset, size, ErrOffsetOutOfRange)
	}

	record.Content = record.Content[:offset] + newContent + record.Content[offset:]
	record.LastModified = nextModified(record.LastModified, now)

	return nil
}

// AppendContent is UpdateContent at the end of the file.
func AppendContent(record *protocol.FileRecord, newContent string, now time.Time) error {
	return UpdateContent(record, len(record.Content), newContent, now)
}

func nextModified(prev, now time.Time) time.Time {
	now = time.UnixMilli(now.UnixMilli())
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}

	return now
}

// NewRecord returns a record holding content, stamped with now.
func NewRecord(name, content string, now time.Time) *protocol.FileRecord {
	return &protocol.FileRecord{
		Name:         name,
		Content:      content,
		LastModified: time.UnixMilli(now.UnixMilli()),
	}
}
