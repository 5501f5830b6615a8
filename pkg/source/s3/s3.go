// Package s3 reads the objects under an S3 prefix as a directory.Source,
// so a directory can be seeded from a bucket snapshot.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittodir/internal/logger"
	"github.com/marmos91/dittodir/pkg/directory"
)

// Client is the part of *s3.Client the source uses.
type Client interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config contains configuration for an S3 source.
type Config struct {
	// Client is the configured S3 client
	Client Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix selects the objects to read. File names are the object
	// keys with the prefix removed.
	// Example: "indexes/products/" maps "indexes/products/_0.cfs" to "_0.cfs"
	KeyPrefix string
}

// Source lists and reads the objects under one prefix.
//
// Objects whose remaining key contains a '/' belong to a nested folder and
// are skipped: directories are flat.
type Source struct {
	client    Client
	bucket    string
	keyPrefix string
}

var _ directory.Source = (*Source)(nil)

// New creates an S3 source. It does not contact S3.
func New(cfg Config) (*Source, error) {
	if cfg.Client == nil {
		return nil, errors.New("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	return &Source{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// List returns the file names under the prefix, following pagination.
func (s *Source) List(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, s.keyPrefix, err)
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}

	logger.Debug("s3 source: %d objects under s3://%s/%s", len(names), s.bucket, s.keyPrefix)
	return names, nil
}

// OpenReader streams one object. The caller must close the reader.
func (s *Source) OpenReader(ctx context.Context, name string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + name),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", name, directory.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	return result.Body, nil
}
