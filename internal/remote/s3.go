package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pinnit-go/internal/config"
	"pinnit-go/internal/encryption"
	"pinnit-go/internal/pinnit"
)

// s3Client is the part of *s3.Client the remote reads and deletes with.
type s3Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// s3Uploader is the part of *manager.Uploader the remote writes with.
type s3Uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Remote keeps one object per identity in an S3 bucket at
// <prefix>/pins/<identityID>.json (or .age when sealed).
type S3Remote struct {
	client   s3Client
	uploader s3Uploader
	bucket   string
	prefix   string
	codec    blobCodec
}

// NewS3Remote creates an S3 remote from configuration. Static credentials
// are used when both keys are set; otherwise the default AWS chain applies.
// A custom endpoint (MinIO, R2, ...) switches to path-style addressing.
func NewS3Remote(ctx context.Context, cfg config.RemoteConfig, sealer *encryption.Sealer) (*S3Remote, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 remote requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Remote(client, manager.NewUploader(client), cfg.S3Bucket, cfg.S3Prefix, sealer), nil
}

func newS3Remote(client s3Client, uploader s3Uploader, bucket, prefix string, sealer *encryption.Sealer) *S3Remote {
	return &S3Remote{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		codec:    blobCodec{sealer: sealer},
	}
}

// FetchAll downloads the identity's object. A missing object is an empty collection.
func (r *S3Remote) FetchAll(ctx context.Context, identity pinnit.Identity) ([]pinnit.Pin, error) {
	key, err := r.key(identity.ID)
	if err != nil {
		return nil, err
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return []pinnit.Pin{}, nil
		}
		return nil, fmt.Errorf("getting s3://%s/%s: %w", r.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", r.bucket, key, err)
	}

	return r.codec.decode(data)
}

// ReplaceAll deletes the identity's object and uploads the new collection.
func (r *S3Remote) ReplaceAll(ctx context.Context, identity pinnit.Identity, pins []pinnit.Pin) error {
	key, err := r.key(identity.ID)
	if err != nil {
		return err
	}

	data, err := r.codec.encode(pins)
	if err != nil {
		return err
	}

	if _, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("deleting s3://%s/%s: %w", r.bucket, key, err)
	}

	contentType := "application/json"
	if r.codec.sealer != nil {
		contentType = "application/octet-stream"
	}

	if _, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}); err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", r.bucket, key, err)
	}
	return nil
}

func (r *S3Remote) key(identityID string) (string, error) {
	name, err := r.codec.objectName(identityID)
	if err != nil {
		return "", err
	}
	return path.Join(r.prefix, "pins", name), nil
}

// Compile-time check that S3Remote implements pinnit.RemoteStore
var _ pinnit.RemoteStore = (*S3Remote)(nil)
