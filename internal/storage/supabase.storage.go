// internal/storage/supabase.storage.go
package storage

import (
	"context"
	"fmt"
	"io"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

// objectStorage is the slice of storage_go.Client used here.
type objectStorage interface {
	UploadFile(bucketId string, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketId string, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
}

// SupabaseBlobStore writes trained artifacts to a Supabase Storage bucket
// and hands back the object's public URL. It implements jobs.BlobStore.
type SupabaseBlobStore struct {
	storage objectStorage
	bucket  string
	logger  *zap.Logger
}

func NewSupabaseBlobStore(url, serviceKey, bucket string, logger *zap.Logger) (*SupabaseBlobStore, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &SupabaseBlobStore{storage: client.Storage, bucket: bucket, logger: logger.Named("storage")}, nil
}

// Put uploads with upsert so a retried completion overwrites the same key.
func (s *SupabaseBlobStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	upsert := true
	if _, err := s.storage.UploadFile(s.bucket, key, r, storage_go.FileOptions{ContentType: &contentType, Upsert: &upsert}); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", s.bucket, key, err)
	}
	url := s.storage.GetPublicUrl(s.bucket, key).SignedURL
	if url == "" {
		return "", fmt.Errorf("upload %s/%s: storage returned no url", s.bucket, key)
	}
	s.logger.Info("artifact stored", zap.String("bucket", s.bucket), zap.String("key", key))
	return url, nil
}
