package storage

import (
	"context"
	"errors"

	"github.com/luma/dgramfs/protocol"
)

var (
	ErrNotFound         = errors.New("File does not exist.")
	ErrOffsetOutOfRange = errors.New("Offset provided exceeds the current file length")
	ErrInvalidName      = errors.New("File name is not valid")
	ErrClosed           = errors.New("Store is closed")
)

// Store persists file records by name. Records passed in and handed out are
// never retained or shared, every Read returns a fresh copy.
type Store interface {
	// Read returns ErrNotFound if there is no file called name.
	Read(ctx context.Context, name string) (*protocol.FileRecord, error)

	// Write replaces the file called name with record.
	Write(ctx context.Context, name string, record *protocol.FileRecord) error

	// List returns the names of every stored file.
	List(ctx context.Context) ([]string, error)

	Close() error
}
