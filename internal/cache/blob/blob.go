// Package blob stores processed images in an S3-compatible bucket through
// minio-go. Object LastModified is the entry creation time; PutObject replaces
// the whole object, which gives read-after-write semantics per key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/any-hub/imgcache/internal/cache"
)

// Key is the registry key of this backend.
const Key = "blob"

func init() {
	cache.MustRegister(cache.BackendFactory{
		Key:         Key,
		Description: "S3/MinIO bucket via minio-go",
		SettingKeys: settingKeys,
		Augmenter:   cache.EnvAugmenter("IMGCACHE_BLOB", settingKeys...),
		New: func(settings cache.Settings) (cache.Backend, error) {
			cfg, err := ConfigFromSettings(settings)
			if err != nil {
				return nil, fmt.Errorf("blob backend: %w", err)
			}
			return New(cfg)
		},
	})
}

// objectAPI 是 Store 用到的 minio.Client 方法子集，便于测试替换。
type objectAPI interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// minioAPI 把 minio.Client.GetObject 的 *minio.Object 收窄为 io.ReadCloser。
type minioAPI struct {
	*minio.Client
}

func (c minioAPI) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := c.Client.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Store is a bucket-backed cache backend.
type Store struct {
	client    objectAPI
	bucket    string
	prefix    string
	publicURL string
}

// New validates cfg and connects a minio client (no network round-trip).
func New(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}
	return newStore(minioAPI{Client: client}, cfg), nil
}

func newStore(client objectAPI, cfg Config) *Store {
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
}

func (s *Store) Stat(ctx context.Context, key string) (cache.Entry, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.objectKey(key), minio.StatObjectOptions{})
	if err != nil {
		return cache.Entry{}, translate(err)
	}
	entry := s.entryOf(info)
	entry.Key = key
	return entry, nil
}

func (s *Store) Open(ctx context.Context, key string) (*cache.ReadResult, error) {
	entry, err := s.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	return &cache.ReadResult{Entry: entry, Reader: obj}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentType string) (*cache.Entry, error) {
	objectKey := s.objectKey(key)
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey, body, objectSize(body), opts); err != nil {
		return nil, translate(err)
	}
	entry, err := s.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// objectSize 返回已知长度的 reader 剩余字节数；未知时为 -1，minio 会改走分片上传。
func objectSize(body io.Reader) int64 {
	if sized, ok := body.(interface{ Len() int }); ok {
		return int64(sized.Len())
	}
	return -1
}

func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil {
		if errors.Is(translate(err), cache.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]cache.Entry, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}

	var entries []cache.Entry
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, object.Err
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		entries = append(entries, s.entryOf(object))
	}
	return entries, nil
}

func (s *Store) Location(key string) string {
	objectKey := s.objectKey(key)
	if s.publicURL != "" {
		return s.publicURL + "/" + objectKey
	}
	return "/" + s.bucket + "/" + objectKey
}

func (s *Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *Store) entryOf(info minio.ObjectInfo) cache.Entry {
	key := info.Key
	if s.prefix != "" {
		key = strings.TrimPrefix(key, s.prefix+"/")
	}
	return cache.Entry{
		Key:         key,
		CreatedAt:   info.LastModified.UTC(),
		SizeBytes:   info.Size,
		ContentType: info.ContentType,
	}
}

// translate 将 NoSuchKey/404 映射为 cache.ErrNotFound，其余错误原样返回。
func translate(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" || resp.StatusCode == http.StatusNotFound {
		return cache.ErrNotFound
	}
	return err
}
