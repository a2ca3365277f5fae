package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// fakeS3 keeps objects of one bucket in memory and lists them two per page.
type fakeS3 struct {
	mu          sync.Mutex
	objects     map[string][]byte
	contentType map[string]string
	listCalls   int
	getErr      error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), contentType: make(map[string]string)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.contentType[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func TestS3Store_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	store := NewS3Store(client, "bucket", WithS3Prefix("flux/"))

	if data, err := store.Load(ctx, "theme"); err != nil || data != nil {
		t.Fatalf("Load() missing got %v, %v want nil, nil", data, err)
	}

	if err := store.Save(ctx, "theme", []byte(`"dark"`)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	client.mu.Lock()
	_, ok := client.objects["flux/theme"]
	ct := client.contentType["flux/theme"]
	client.mu.Unlock()
	if !ok || ct != "application/json" {
		t.Fatalf("expected object flux/theme with json content type, got %v %q", ok, ct)
	}

	data, err := store.Load(ctx, "theme")
	if err != nil || string(data) != `"dark"` {
		t.Fatalf("Load() got %q, %v", data, err)
	}

	if err := store.Delete(ctx, "theme"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if data, _ := store.Load(ctx, "theme"); data != nil {
		t.Fatalf("Load() after Delete got %q", data)
	}
}

func TestS3Store_KeysPaginates(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	client.objects["elsewhere/x"] = []byte("1")
	store := NewS3Store(client, "bucket", WithS3Prefix("flux/"), WithS3ContentType("application/yaml"))

	for _, k := range []string{"e", "d", "c", "b", "a"} {
		if err := store.Save(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"a", "b", "c", "d", "e"}) {
		t.Fatalf("Keys() got %v", keys)
	}
	if client.listCalls != 3 {
		t.Fatalf("expected 3 list pages, got %d", client.listCalls)
	}
	if client.contentType["flux/a"] != "application/yaml" {
		t.Fatalf("content type got %q", client.contentType["flux/a"])
	}
}

func TestS3Store_NotFoundAPIError(t *testing.T) {
	client := newFakeS3()
	client.getErr = &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	store := NewS3Store(client, "bucket")

	data, err := store.Load(context.Background(), "k")
	if err != nil || data != nil {
		t.Fatalf("Load() got %v, %v want nil, nil", data, err)
	}

	boom := &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	client.getErr = boom
	if _, err := store.Load(context.Background(), "k"); !errors.Is(err, boom) {
		t.Fatalf("Load() got %v want wrapped AccessDenied", err)
	}
}

func TestS3Store_Close_MakesOperationsFail(t *testing.T) {
	store := NewS3Store(newFakeS3(), "bucket")
	_ = store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, "k", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Save() got %v want ErrClosed", err)
	}
	if _, err := store.Load(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Load() got %v want ErrClosed", err)
	}
	if _, err := store.Keys(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Keys() got %v want ErrClosed", err)
	}
}

func TestNewS3Client(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "id")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	client := NewS3Client("eu-west-1", "http://localhost:9000")
	opts := client.Options()
	if opts.Region != "eu-west-1" || !opts.UsePathStyle || aws.ToString(opts.BaseEndpoint) != "http://localhost:9000" {
		t.Fatalf("unexpected client options: region %q path style %v endpoint %q",
			opts.Region, opts.UsePathStyle, aws.ToString(opts.BaseEndpoint))
	}

	creds, err := opts.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if creds.AccessKeyID != "id" || creds.SecretAccessKey != "secret" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
}
