package backend

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3BlobStore uploads photos to S3-compatible object storage and returns
// public URLs for insertion into lead/visit rows.
type S3BlobStore struct {
	client    *s3.Client
	uploader  *manager.Uploader
	publicURL string
}

// S3Config contains S3BlobStore configuration.
type S3Config struct {
	Region       string
	Endpoint     string
	PathStyle    bool
	AccessKey    string
	SecretKey    string
	SessionToken string // optional
	// PublicURL is the base under which uploaded objects are reachable,
	// e.g. https://media.example.com. Defaults to the endpoint.
	PublicURL string
}

// NewS3BlobStore creates a blob store from config.
func NewS3BlobStore(ctx context.Context, cfg S3Config) (*S3BlobStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		func(opts *awsconfig.LoadOptions) error {
			if cfg.Endpoint != "" {
				opts.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
					func(service, region string, options ...interface{}) (aws.Endpoint, error) {
						return aws.Endpoint{
							URL:               cfg.Endpoint,
							SigningRegion:     cfg.Region,
							HostnameImmutable: cfg.PathStyle,
						}, nil
					},
				)
			}
			if cfg.AccessKey != "" && cfg.SecretKey != "" {
				opts.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKey, cfg.SecretKey, cfg.SessionToken,
				)
			}
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = cfg.Endpoint
	}
	return &S3BlobStore{
		client:    client,
		uploader:  manager.NewUploader(client),
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// UploadBlob uploads data and returns its public URL. The uploader handles
// multipart automatically for large photos.
func (s *S3BlobStore) UploadBlob(ctx context.Context, bucket, path string, data []byte) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("upload blob %s/%s: %w", bucket, path, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.publicURL, bucket, path), nil
}
