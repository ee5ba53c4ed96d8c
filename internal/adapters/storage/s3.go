// Copyright 2025 James Ross
// Package storage implements ports.Storage against S3-compatible object
// storage, spanning the four buckets the pipeline reads and writes
// (videos, transcripts, renders, thumbs). The ForcePathStyle knob keeps
// it usable against MinIO/LocalStack in development.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/clipforge/pipeline/internal/config"
)

// S3 implements ports.Storage.
type S3 struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

// New builds an S3-backed storage adapter from config.Storage. A custom
// Endpoint overrides the AWS endpoint; path-style addressing (needed by
// MinIO/LocalStack in development) is enabled only by ForcePathStyle.
func New(cfg config.Storage) (*S3, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create aws session: %w", err)
	}

	return &S3{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
	}, nil
}

func (a *S3) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: head %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

func (a *S3) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	err := a.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		return !lastPage
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %s/%s: %w", bucket, prefix, err)
	}
	return keys, nil
}

func (a *S3) Download(ctx context.Context, bucket, key, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", destPath, err)
	}
	defer f.Close()

	_, err = a.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: download %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (a *S3) Upload(ctx context.Context, bucket, key, srcPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", srcPath, err)
	}
	defer f.Close()

	_, err = a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (a *S3) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func (a *S3) Remove(ctx context.Context, bucket, key string) error {
	_, err := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (a *S3) RemoveBatch(ctx context.Context, bucket string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	const maxBatch = 1000
	for start := 0; start < len(keys); start += maxBatch {
		end := start + maxBatch
		if end > len(keys) {
			end = len(keys)
		}
		objs := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objs = append(objs, &s3.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := a.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &s3.Delete{Objects: objs, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("storage: batch delete %s: %w", bucket, err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	type awsErr interface {
		Code() string
	}
	if ae, ok := err.(awsErr); ok {
		return ae.Code() == s3.ErrCodeNoSuchKey || ae.Code() == "NotFound"
	}
	return false
}
