package s3

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

const defaultURLExpiry = 24 * time.Hour

// AttachmentStore keeps chat attachments in a bucket and hands out
// presigned download links. Keys are relative to AttachmentPrefix.
type AttachmentStore struct {
	client     *minio.Client
	bucketName string
	urlExpiry  time.Duration
}

func NewAttachmentStore(client *minio.Client, bucketName string, urlExpiry time.Duration) *AttachmentStore {
	if urlExpiry <= 0 {
		urlExpiry = defaultURLExpiry
	}
	return &AttachmentStore{client: client, bucketName: bucketName, urlExpiry: urlExpiry}
}

// Upload streams size bytes from r into the object named key
func (m *AttachmentStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(
		ctx,
		m.bucketName,
		objectName(key),
		r,
		size,
		minio.PutObjectOptions{
			ContentType: contentType,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to upload %s to minio: %w", key, err)
	}

	return nil
}

// PresignedURL generates a temporary download URL for key
func (m *AttachmentStore) PresignedURL(ctx context.Context, key string) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucketName, objectName(key), m.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}

	return url.String(), nil
}

// Delete removes the object named key
func (m *AttachmentStore) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucketName, objectName(key), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

func objectName(key string) string {
	return AttachmentPrefix + strings.TrimPrefix(key, "/")
}
