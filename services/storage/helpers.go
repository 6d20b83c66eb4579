package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/services/storage/aws_client"
)

// NewObjectStorageService returns a service for AWS S3, or for an S3
// compatible store such as Cloudflare R2 when an endpoint is configured.
// It returns nil when no credentials are configured.
func NewObjectStorageService(cfg *config.StorageConfig, bucketName string) interfaces.StorageService {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil
	}

	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	return NewStorageService(aws_client.NewS3Client(awsCfg), StorageConfig{BucketName: bucketName})
}
