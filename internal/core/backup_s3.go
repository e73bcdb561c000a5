package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vetle/fleet/internal/model"
)

const storageCheckTimeout = 15 * time.Second

// S3Checker verifies backup storage targets with a HeadBucket call against
// the configured endpoint.
type S3Checker struct{}

func (S3Checker) Check(ctx context.Context, storage *model.BackupStorage) error {
	endpoint := storage.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	region := storage.Region
	if region == "" {
		region = "us-east-1"
	}

	client := s3.New(s3.Options{
		Region:       region,
		BaseEndpoint: aws.String(endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(storage.AccessKey, storage.SecretKey, ""),
		// Path-style keeps MinIO and other self-hosted endpoints working.
		UsePathStyle: true,
	})

	ctx, cancel := context.WithTimeout(ctx, storageCheckTimeout)
	defer cancel()

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(storage.Bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", storage.Bucket, err)
	}
	return nil
}
