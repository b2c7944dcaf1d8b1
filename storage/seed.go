package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultSeed is the set of files a fresh server starts with.
var DefaultSeed = map[string]string{
	"file1": "Hello World",
	"file2": "Distributed systems",
	"file3": "",
}

// Seed creates each file in files that store does not already hold, and
// returns how many it created.
func Seed(ctx context.Context, store Store, files map[string]string, now time.Time) (int, error) {
	created := 0

	for name, content := range files {
		_, err := store.Read(ctx, name)
		if err == nil {
			continue
		}

		if !errors.Is(err, ErrNotFound) {
			return created, err
		}

		if err := store.Write(ctx, name, NewRecord(name, content, now)); err != nil {
			return created, err
		}

		created++
	}

	return created, nil
}
