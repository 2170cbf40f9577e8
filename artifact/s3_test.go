package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	failWith     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

var errNoSuchKey = &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

type fakePresigner struct {
	expires time.Duration
}

func (p *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://" + aws.ToString(in.Bucket) + ".s3.amazonaws.com/" + aws.ToString(in.Key) + "?X-Amz-Signature=abc"}, nil
}

func TestNewS3Store(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		bucket string
		region string
	}{
		{name: "empty bucket", bucket: "", region: "us-east-1"},
		{name: "empty region", bucket: "test-bucket", region: ""},
		{name: "both empty", bucket: "", region: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewS3Store(ctx, tt.bucket, tt.region, ""); err == nil {
				t.Error("expected error but got none")
			}
		})
	}
}

func TestS3Store_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	presigner := &fakePresigner{}
	store := NewS3StoreWithClient(client, presigner, "shots")

	if err := store.Put(ctx, "./runs/1/screenshots/0001.png", strings.NewReader("png"), ContentTypePNG); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.objects["runs/1/screenshots/0001.png"]; !ok {
		t.Fatalf("object stored under unexpected key: %v", client.objects)
	}
	if got := client.contentTypes["runs/1/screenshots/0001.png"]; got != ContentTypePNG {
		t.Errorf("content type mismatch: got %q", got)
	}

	r, err := store.Get(ctx, "runs/1/screenshots/0001.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "png" {
		t.Errorf("content mismatch: got %q", string(data))
	}

	url, err := store.URL(ctx, "runs/1/screenshots/0001.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(url, "shots.s3.amazonaws.com/runs/1/screenshots/0001.png") {
		t.Errorf("unexpected url: %s", url)
	}
	if presigner.expires != 15*time.Minute {
		t.Errorf("expected default expiry of 15m, got %v", presigner.expires)
	}

	if err := store.Delete(ctx, "runs/1/screenshots/0001.png"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(ctx, "runs/1/screenshots/0001.png"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound but got: %v", err)
	}
	if _, err := store.URL(ctx, "runs/1/screenshots/0001.png"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound but got: %v", err)
	}
}

func TestS3Store_Failures(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	client.failWith = errors.New("access denied")
	store := NewS3StoreWithClient(client, &fakePresigner{}, "shots")

	if err := store.Put(ctx, "a.png", strings.NewReader("x"), ""); err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("expected upload failure, got %v", err)
	}
	if _, err := store.Exists(ctx, "a.png"); err == nil {
		t.Error("expected exists failure")
	}
}

func TestS3Store_KeyValidation(t *testing.T) {
	store := NewS3StoreWithClient(newFakeS3(), &fakePresigner{}, "shots")
	ctx := context.Background()

	maliciousKeys := []string{
		"",
		"../../../etc/passwd",
		`..\..\..\windows\system32`,
		"../../outside.txt",
		"subdir/../../outside.txt",
		"/absolute/path.txt",
	}

	for _, key := range maliciousKeys {
		if err := store.Put(ctx, key, strings.NewReader("test"), ""); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("put should have blocked key %q, got %v", key, err)
		}
		if _, err := store.Get(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("get should have blocked key %q, got %v", key, err)
		}
		if err := store.Delete(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("delete should have blocked key %q, got %v", key, err)
		}
		if _, err := store.Exists(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("exists should have blocked key %q, got %v", key, err)
		}
		if _, err := store.URL(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("url should have blocked key %q, got %v", key, err)
		}
	}
}
