//go:build s3example
// +build s3example

// This file provides an example S3-backed transcript store.
// It is excluded from regular builds because it requires the AWS SDK.
//
// To use this in your project, copy this file and add the AWS SDK:
//   go get github.com/aws/aws-sdk-go-v2
//   go get github.com/aws/aws-sdk-go-v2/service/s3

package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store writes one JSON transcript object per closed context.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	s3Client := s3.NewFromConfig(cfg)
//	store := archive.NewS3Store(s3Client, "my-bucket", "transcripts/")
//
//	engineCfg.Archive = store
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a transcript store backed by an S3 bucket.
//
// Parameters:
//   - client: AWS S3 client from aws-sdk-go-v2
//   - bucket: S3 bucket name
//   - prefix: key prefix for transcripts (e.g. "transcripts/")
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// Save uploads the transcript as a JSON object keyed by context id.
func (s *S3Store) Save(ctx context.Context, t *Transcript) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("archive: encode transcript: %w", err)
	}

	key := s.prefix + t.ContextID + ".json"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put transcript %s: %w", key, err)
	}
	return nil
}
