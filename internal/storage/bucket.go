package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// BucketStore keeps blobs in a portable bucket under <container>/<object>
// keys and hands out URLs below baseURL. It also serves them over HTTP.
type BucketStore struct {
	bucket  *blob.Bucket
	baseURL string
}

// NewBucketStore wraps an opened bucket. The store owns the bucket and
// closes it in Close.
func NewBucketStore(bucket *blob.Bucket, baseURL string) *BucketStore {
	return &BucketStore{bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

// OpenDiskStore keeps blobs as files below root, creating it if needed.
func OpenDiskStore(root, baseURL string) (*BucketStore, error) {
	bucket, err := fileblob.OpenBucket(root, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open evidence directory %q: %w", root, err)
	}
	return NewBucketStore(bucket, baseURL), nil
}

// NewMemoryStore keeps blobs in process memory.
func NewMemoryStore(baseURL string) *BucketStore {
	return NewBucketStore(memblob.OpenBucket(nil), baseURL)
}

func key(container, object string) (string, error) {
	if container != SanitizeContainerName(container) {
		return "", fmt.Errorf("invalid container name %q", container)
	}
	if object == "" || strings.ContainsAny(object, `/\`) || object == "." || object == ".." {
		return "", fmt.Errorf("invalid object name %q", object)
	}
	return container + "/" + object, nil
}

func (s *BucketStore) Put(ctx context.Context, container, object string, data []byte) (string, error) {
	k, err := key(container, object)
	if err != nil {
		return "", err
	}
	if err := s.bucket.WriteAll(ctx, k, data, nil); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return s.URL(container, object), nil
}

func (s *BucketStore) Exists(ctx context.Context, container, object string) (bool, error) {
	k, err := key(container, object)
	if err != nil {
		return false, err
	}
	return s.bucket.Exists(ctx, k)
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *BucketStore) Delete(ctx context.Context, container, object string) error {
	k, err := key(container, object)
	if err != nil {
		return err
	}
	if err := s.bucket.Delete(ctx, k); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *BucketStore) URL(container, object string) string {
	return s.baseURL + "/" + url.PathEscape(container) + "/" + url.PathEscape(object)
}

// List returns the objects stored in container.
func (s *BucketStore) List(ctx context.Context, container string) ([]string, error) {
	if container != SanitizeContainerName(container) {
		return nil, fmt.Errorf("invalid container name %q", container)
	}
	prefix := container + "/"
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	var objects []string
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return objects, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list blobs: %w", err)
		}
		objects = append(objects, strings.TrimPrefix(obj.Key, prefix))
	}
}

// Containers returns the containers holding at least one object.
func (s *BucketStore) Containers(ctx context.Context) ([]string, error) {
	iter := s.bucket.List(&blob.ListOptions{Delimiter: "/"})
	var containers []string
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return containers, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list containers: %w", err)
		}
		if obj.IsDir {
			containers = append(containers, strings.TrimSuffix(obj.Key, "/"))
		}
	}
}

// ServeHTTP serves GET requests for <container>/<object> paths. Mount it
// below the prefix of baseURL with http.StripPrefix.
func (s *BucketStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	container, object, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	k, err := key(container, object)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	rd, err := s.bucket.NewReader(r.Context(), k, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "failed to read evidence", http.StatusInternalServerError)
		return
	}
	defer rd.Close()

	if ct := rd.ContentType(); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(rd.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = io.Copy(w, rd)
	}
}

func (s *BucketStore) Close() error {
	return s.bucket.Close()
}
