package storage

import (
	"context"
	"fmt"
	"io"
	"log"

	"Loop/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements Store with a MinIO client.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore builds a Store from a MinIO client.
func NewMinioStore(client *minio.Client) *MinioStore {
	return &MinioStore{client: client}
}

// InitMinio connects to MinIO using the app config.
func InitMinio() *MinioStore {
	endpoint := fmt.Sprintf("%s:%s", config.AppConfig.MinioHost, config.AppConfig.MinioPort)
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			config.AppConfig.MinioUsername,
			config.AppConfig.MinioPassword,
			"",
		),
		Secure: config.AppConfig.MinioUseSSL,
	})
	if err != nil {
		log.Fatal("init minio fail", err)
	}
	log.Println("init minio success")
	return NewMinioStore(client)
}

// GetObject fetches an object and its size from MinIO.
func (s *MinioStore) GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, ObjectInfo{}, err
	}
	info := ObjectInfo{
		ObjectName: object,
		Size:       stat.Size,
	}
	return obj, info, nil
}

// RemoveObject deletes an object from MinIO.
func (s *MinioStore) RemoveObject(ctx context.Context, bucket, object string) error {
	return s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
}
