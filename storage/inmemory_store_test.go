package storage_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/dgramfs/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("refuses reads and writes once closed", func() {
			store := storage.NewInmemoryStore()
			Expect(store.Close()).To(Succeed())

			_, err := store.Read(ctx, "foo")
			Expect(err).To(MatchError(storage.ErrClosed))
			Expect(store.Write(ctx, "foo", storage.NewRecord("foo", "", now))).To(MatchError(storage.ErrClosed))
		})
	})

	It("an empty inmemory store lists nothing", func() {
		store := storage.NewInmemoryStore()
		defer store.Close()

		Expect(store.List(ctx)).To(BeEmpty())
	})

	Describe("Write() / Read()", func() {
		It("can read a file that is written", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Write(ctx, "foo", storage.NewRecord("foo", "bar", now))).To(Succeed())

			record, err := store.Read(ctx, "foo")
			Expect(err).To(Succeed())
			Expect(record.Name).To(Equal("foo"))
			Expect(record.Content).To(Equal("bar"))
			Expect(record.LastModified.Equal(now)).To(BeTrue())

			Expect(store.List(ctx)).To(Equal([]string{"foo"}))
		})

		It("returns ErrNotFound for a missing file", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			_, err := store.Read(ctx, "nope")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("hands out copies that do not alias the stored record", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			written := storage.NewRecord("foo", "bar", now)
			Expect(store.Write(ctx, "foo", written)).To(Succeed())
			written.Content = "changed after write"

			first, err := store.Read(ctx, "foo")
			Expect(err).To(Succeed())
			first.Content = "changed after read"

			second, err := store.Read(ctx, "foo")
			Expect(err).To(Succeed())
			Expect(second.Content).To(Equal("bar"))
		})

		It("last write wins", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Write(ctx, "foo", storage.NewRecord("foo", "one", now))).To(Succeed())
			Expect(store.Write(ctx, "foo", storage.NewRecord("foo", "two", now))).To(Succeed())

			record, err := store.Read(ctx, "foo")
			Expect(err).To(Succeed())
			Expect(record.Content).To(Equal("two"))
		})
	})
})
