package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

const (
	initTimeout = 5 * time.Second

	// AttachmentPrefix holds every chat attachment object
	AttachmentPrefix = "attachments/"

	// Days before an unfinished attachment upload is discarded
	abandonedUploadDays = 1
)

// NewClient creates a MinIO client. With a region set, presigning needs
// no round trip to the server.
func NewClient(endpoint, accessKey, secretKey, region string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return client, nil
}

// EnsureBucket prepares the attachment bucket: it is created when missing
// and given a lifecycle rule that drops uploads abandoned part way under
// AttachmentPrefix. Completed attachments never expire.
func EnsureBucket(parentCtx context.Context, client *minio.Client, bucketName string) error {
	ctx, cancel := context.WithTimeout(parentCtx, initTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check whether bucket %s exists: %w", bucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
		}
	}

	if err := client.SetBucketLifecycle(ctx, bucketName, attachmentLifecycle()); err != nil {
		return fmt.Errorf("failed to set lifecycle on bucket %s: %w", bucketName, err)
	}

	return nil
}

func attachmentLifecycle() *lifecycle.Configuration {
	config := lifecycle.NewConfiguration()
	config.Rules = []lifecycle.Rule{
		{
			ID:         "abort-abandoned-attachment-uploads",
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: AttachmentPrefix},
			AbortIncompleteMultipartUpload: lifecycle.AbortIncompleteMultipartUpload{
				DaysAfterInitiation: lifecycle.ExpirationDays(abandonedUploadDays),
			},
		},
	}
	return config
}
