// Package archive stores raw uploaded schema documents in S3-compatible
// object storage (MinIO in the compose setup). Archival is optional: with
// no configured endpoint the server simply keeps nothing but the processed
// schema.
package archive

import (
	"bytes"
	"context"
	"time"

	sc "github.com/flowguard/flowguard/internal/server/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// S3Archiver writes raw documents to one bucket and hands out short-lived
// download links for them.
type S3Archiver struct {
	config *sc.Config
}

// NewS3Archiver returns an archiver for the configured endpoint, or nil
// when S3BaseEndpoint is empty and archival is disabled.
func NewS3Archiver(cfg *sc.Config) *S3Archiver {
	if cfg.S3BaseEndpoint == "" {
		return nil
	}
	return &S3Archiver{config: cfg}
}

func (a *S3Archiver) getClient() (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(a.config.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.config.S3RootUser,     // MINIO_ROOT_USER
			a.config.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(a.config.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Store uploads body under objectKey.
func (a *S3Archiver) Store(ctx context.Context, objectKey string, body []byte) error {
	client, err := a.getClient()
	if err != nil {
		return err
	}

	bucket := a.config.S3Bucket
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &objectKey,
		Body:   bytes.NewReader(body),
	})
	return err
}

// PresignedGetURL returns a 15-minute download link for an archived document.
func (a *S3Archiver) PresignedGetURL(ctx context.Context, objectKey string) (string, error) {
	client, err := a.getClient()
	if err != nil {
		return "", err
	}

	bucket := a.config.S3Bucket
	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &objectKey,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}
