package blob

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
)

// MinioConfig holds connection settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore implements Store on an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore creates a client for cfg. No network call is made until first use.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "minio: create client")
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

// Get opens the object at key. The object is stat'ed first so a missing key
// surfaces here instead of on the first Read.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, eris.Wrapf(ErrNotFound, "minio: %s", key)
		}
		return nil, eris.Wrapf(err, "minio: get %s", key)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close() //nolint:errcheck
		if isNoSuchKey(err) {
			return nil, eris.Wrapf(ErrNotFound, "minio: %s", key)
		}
		return nil, eris.Wrapf(err, "minio: stat %s", key)
	}
	return obj, nil
}

// Put uploads r to key.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: ContentType(key),
	})
	if err != nil {
		return eris.Wrapf(err, "minio: put %s", key)
	}
	return nil
}

// List returns every object key under prefix.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, eris.Wrapf(obj.Err, "minio: list %s", prefix)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// ListPrefixes returns the common-prefix names one level below prefix.
func (s *MinioStore) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	prefix = dirPrefix(prefix)
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, eris.Wrapf(obj.Err, "minio: list prefixes %s", prefix)
		}
		if name, ok := childPrefix(prefix, obj.Key); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// childPrefix extracts "2024" from key "JSON_Conversion/2024/" under prefix
// "JSON_Conversion/". Plain objects (no trailing slash) are not prefixes.
func childPrefix(prefix, key string) (string, bool) {
	if !strings.HasSuffix(key, "/") || !strings.HasPrefix(key, prefix) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), "/")
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
