package storage_test

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/dgramfs/storage"
)

// fakeS3 is an in-process bucket that pages its listings two keys at a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[aws.ToString(in.Key)] = data

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0)
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) && key > aws.ToString(in.ContinuationToken) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > 2 {
		keys = keys[:2]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[1])
	}

	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}

	return out, nil
}

var _ = Describe("storage / S3Store", func() {
	var (
		ctx   = context.Background()
		now   = time.UnixMilli(1700000000000)
		fake  *fakeS3
		store *storage.S3Store
	)

	BeforeEach(func() {
		fake = newFakeS3()
		store = storage.NewS3StoreWithClient(fake, "bucket", "files/")
	})

	It("stores the encoded record under the prefixed key", func() {
		record := storage.NewRecord("file1", "Hello World", now)
		Expect(store.Write(ctx, "file1", record)).To(Succeed())

		expected, err := record.Marshal()
		Expect(err).To(Succeed())
		Expect(fake.objects).To(HaveKeyWithValue("files/file1", expected))
	})

	It("reads back what it wrote", func() {
		Expect(store.Write(ctx, "file1", storage.NewRecord("file1", "Hello World", now))).To(Succeed())

		record, err := store.Read(ctx, "file1")
		Expect(err).To(Succeed())
		Expect(record.Name).To(Equal("file1"))
		Expect(record.Content).To(Equal("Hello World"))
	})

	It("maps NoSuchKey to ErrNotFound", func() {
		_, err := store.Read(ctx, "nope")
		Expect(err).To(MatchError(storage.ErrNotFound))
	})

	It("lists across pages without the prefix", func() {
		for _, name := range []string{"e", "d", "c", "b", "a"} {
			Expect(store.Write(ctx, name, storage.NewRecord(name, "", now))).To(Succeed())
		}

		Expect(store.List(ctx)).To(Equal([]string{"a", "b", "c", "d", "e"}))
	})
})
