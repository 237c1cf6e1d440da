package services

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioService owns the single well-known bucket holding link payloads.
type MinioService struct {
	Client     *minio.Client
	BucketName string
}

func NewMinioService(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %v", err)
	}

	// Create bucket if it doesn't exist
	exists, err := client.BucketExists(context.Background(), bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %v", err)
	}

	if !exists {
		err = client.MakeBucket(context.Background(), bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %v", err)
		}
		log.Printf("Created bucket: %s", bucket)
	}

	log.Println("Connected to MinIO successfully")
	return &MinioService{Client: client, BucketName: bucket}, nil
}

// CheckConnection is used by the health endpoint.
func (m *MinioService) CheckConnection(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return fmt.Errorf("minio service not initialized")
	}
	_, err := m.Client.BucketExists(ctx, m.BucketName)
	return err
}

func (m *MinioService) UploadFile(ctx context.Context, localPath, objectKey, contentType string) error {
	_, err := m.Client.FPutObject(ctx, m.BucketName, objectKey, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// PresignedDownloadURL mints a short-lived signed URL for an object. The URL
// is returned to the caller unmodified.
func (m *MinioService) PresignedDownloadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	u, err := m.Client.PresignedGetObject(ctx, m.BucketName, objectKey, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectKey, err)
	}
	return u.String(), nil
}

// RemoveObject deletes an object. An already-absent object is the desired
// end state, not an error.
func (m *MinioService) RemoveObject(ctx context.Context, objectKey string) error {
	err := m.Client.RemoveObject(ctx, m.BucketName, objectKey, minio.RemoveObjectOptions{})
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404 {
		log.Printf("[MinIO] %s already gone", objectKey)
		return nil
	}
	return err
}
