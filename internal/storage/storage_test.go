package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"realtime-board/internal/config"
	"realtime-board/internal/database"
	"realtime-board/internal/logging"
	"realtime-board/internal/model"
)

func newDisk(t *testing.T) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(filepath.Join(t.TempDir(), "maps"), "/uploads/maps")
	require.NoError(t, err)
	return store
}

func TestDiskStorePutAndList(t *testing.T) {
	store := newDisk(t)
	ctx := context.Background()

	url, err := store.Put(ctx, "b.png", "image/png", strings.NewReader("png-bytes"), 9)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/maps/b.png", url)

	_, err = store.Put(ctx, "a.jpg", "image/jpeg", strings.NewReader("jpg"), 3)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0o644))

	data, err := os.ReadFile(filepath.Join(store.Dir(), "b.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	objects, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Object{
		{Filename: "a.jpg", URL: "/uploads/maps/a.jpg"},
		{Filename: "b.png", URL: "/uploads/maps/b.png"},
	}, objects)
}

func TestServiceUploadValidates(t *testing.T) {
	svc := NewService(newDisk(t), nil, 16, logging.Discard())
	ctx := context.Background()

	_, err := svc.Upload(ctx, "script.exe", "application/octet-stream", 4, strings.NewReader("MZ.."))
	assert.True(t, model.IsValidation(err))

	_, err = svc.Upload(ctx, "fake.png", "text/html", 4, strings.NewReader("<h1>"))
	assert.True(t, model.IsValidation(err))

	_, err = svc.Upload(ctx, "huge.png", "image/png", 17, strings.NewReader(strings.Repeat("x", 17)))
	assert.True(t, model.IsValidation(err))
}

func TestServiceUploadWithCatalog(t *testing.T) {
	db, err := database.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	disk := newDisk(t)
	svc := NewService(disk, NewCatalog(db), 1024, logging.Discard())
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	ctx := context.Background()

	up, err := svc.Upload(ctx, "Dust2.PNG", "", 5, strings.NewReader("image"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(up.Filename, "1700000000000-"))
	assert.True(t, strings.HasSuffix(up.Filename, ".png"))
	assert.Equal(t, "Dust2.PNG", up.OriginalName)
	assert.Equal(t, "/uploads/maps/"+up.Filename, up.URL)

	second, err := svc.Upload(ctx, "mirage.webp", "image/webp", 5, strings.NewReader("image"))
	require.NoError(t, err)
	assert.NotEqual(t, up.Filename, second.Filename)

	listed, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.ElementsMatch(t, []string{up.Filename, second.Filename}, []string{listed[0].Filename, listed[1].Filename})

	var rec model.BackgroundImage
	require.NoError(t, db.Where("filename = ?", up.Filename).First(&rec).Error)
	assert.Equal(t, "image/png", rec.ContentType)
	assert.Equal(t, int64(5), rec.Size)
}

func TestServiceListWithoutCatalogUsesStore(t *testing.T) {
	disk := newDisk(t)
	svc := NewService(disk, nil, 1024, logging.Discard())

	up, err := svc.Upload(context.Background(), "a.gif", "image/gif", 3, strings.NewReader("gif"))
	require.NoError(t, err)

	listed, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Object{{Filename: up.Filename, URL: up.URL}}, listed)
}

type fakeS3 struct {
	puts    map[string]string
	types   map[string]string
	listErr error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[aws.ToString(in.Key)] = string(body)
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := &s3.ListObjectsV2Output{}
	for key := range f.puts {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{puts: map[string]string{}, types: map[string]string{}}
	store := NewS3StoreWithClient(fake, config.S3Config{
		Region:     "ap-northeast-2",
		BucketName: "boards",
		Prefix:     "maps/",
	})
	ctx := context.Background()

	url, err := store.Put(ctx, "1-abc.png", "image/png", strings.NewReader("png"), 3)
	require.NoError(t, err)
	assert.Equal(t, "https://boards.s3.ap-northeast-2.amazonaws.com/maps/1-abc.png", url)
	assert.Equal(t, "png", fake.puts["maps/1-abc.png"])
	assert.Equal(t, "image/png", fake.types["maps/1-abc.png"])

	fake.puts["maps/readme.md"] = "skip"
	objects, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Object{{Filename: "1-abc.png", URL: url}}, objects)
}

func TestS3StorePublicURLOverrides(t *testing.T) {
	fake := &fakeS3{puts: map[string]string{}, types: map[string]string{}}

	cdn := NewS3StoreWithClient(fake, config.S3Config{BucketName: "b", PublicBaseURL: "https://cdn.example.com/"})
	url, err := cdn.Put(context.Background(), "x.png", "image/png", strings.NewReader("x"), 1)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x.png", url)

	minio := NewS3StoreWithClient(fake, config.S3Config{BucketName: "b", Endpoint: "http://localhost:9000"})
	url, err = minio.Put(context.Background(), "y.png", "image/png", strings.NewReader("y"), 1)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/b/y.png", url)
}
