package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestNewS3Storage(t *testing.T) {
	cfg := testS3Config("http://localhost:4566/") // LocalStack-like endpoint

	storage, err := NewS3Storage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	if storage.bucket != cfg.Bucket {
		t.Errorf("bucket = %v, want %v", storage.bucket, cfg.Bucket)
	}
	if storage.region != cfg.Region {
		t.Errorf("region = %v, want %v", storage.region, cfg.Region)
	}
	if storage.endpoint != "http://localhost:4566" {
		t.Errorf("endpoint = %v, want trailing slash trimmed", storage.endpoint)
	}
}

func TestS3Storage_URL(t *testing.T) {
	aws := &S3Storage{bucket: "b", region: "eu-west-1"}
	if got, want := aws.url("videos/x"), "https://b.s3.eu-west-1.amazonaws.com/videos/x"; got != want {
		t.Errorf("url() = %q, want %q", got, want)
	}

	minio := &S3Storage{bucket: "b", region: "us-east-1", endpoint: "http://minio:9000"}
	if got, want := minio.url("videos/x"), "http://minio:9000/b/videos/x"; got != want {
		t.Errorf("url() = %q, want %q", got, want)
	}
}

func TestS3Storage_Save_MockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}

		if !strings.HasSuffix(r.URL.Path, "/test-bucket/videos/u1/job_1/source") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if string(body) != "test content" {
			t.Errorf("unexpected body: %s", string(body))
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	storage, err := NewS3Storage(context.Background(), testS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	url, err := storage.Save(context.Background(), VideoKey("u1", "job_1"), bytes.NewReader([]byte("test content")))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	expectedURL := server.URL + "/test-bucket/videos/u1/job_1/source"
	if url != expectedURL {
		t.Errorf("url = %v, want %v", url, expectedURL)
	}
}

func TestS3Storage_Save_UnseekableBody(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		if r.ContentLength != int64(len("streamed video")) {
			t.Errorf("ContentLength = %d, want %d", r.ContentLength, len("streamed video"))
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if string(body) != "streamed video" {
			t.Errorf("unexpected body: %s", string(body))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testS3Config(server.URL)
	cfg.SpoolDir = t.TempDir()
	storage, err := NewS3Storage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	// The upload handler hands over request bodies behind MaxBytesReader,
	// which cannot seek.
	body := http.MaxBytesReader(httptest.NewRecorder(), io.NopCloser(strings.NewReader("streamed video")), 1<<20)
	if _, err := storage.Save(context.Background(), VideoKey("u1", "job_1"), body); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if received.Load() != 1 {
		t.Errorf("expected one PUT, got %d", received.Load())
	}
	assertEmptyDir(t, cfg.SpoolDir)
}

func TestS3Storage_Save_BodyTooLarge(t *testing.T) {
	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testS3Config(server.URL)
	cfg.SpoolDir = t.TempDir()
	storage, err := NewS3Storage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	body := http.MaxBytesReader(httptest.NewRecorder(), io.NopCloser(strings.NewReader("way more than four bytes")), 4)
	_, err = storage.Save(context.Background(), "k", body)

	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected *http.MaxBytesError, got %v", err)
	}
	if received.Load() != 0 {
		t.Errorf("expected no request to S3, got %d", received.Load())
	}
	assertEmptyDir(t, cfg.SpoolDir)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}

func TestS3Storage_Save_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	storage, err := NewS3Storage(context.Background(), testS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	if _, err := storage.Save(context.Background(), "k", bytes.NewReader([]byte("x"))); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestS3Storage_Delete_MockServer(t *testing.T) {
	var (
		mu      sync.Mutex
		deleted []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE method, got %s", r.Method)
		}
		mu.Lock()
		deleted = append(deleted, strings.TrimPrefix(r.URL.Path, "/test-bucket/"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	storage, err := NewS3Storage(context.Background(), testS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	err = storage.Delete(context.Background(), []string{"a/1", "../bad", "b/2"})
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(deleted) != 2 || deleted[0] != "a/1" || deleted[1] != "b/2" {
		t.Errorf("deleted = %v, want [a/1 b/2]", deleted)
	}
}
