package cloud

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the downloader calls; narrow
// enough to fake in tests.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Downloader issues ranged GETs against an S3-compatible object
// store. It is the Downloader the range cache (internal/rangecache)
// schedules against in production.
type S3Downloader struct {
	client S3API
	bucket string
}

// NewS3Downloader loads the default AWS config for region and builds
// a client bound to bucket.
func NewS3Downloader(ctx context.Context, region, bucket string) (*S3Downloader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &S3Downloader{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// NewS3DownloaderWithClient wraps an already-configured client,
// primarily for tests.
func NewS3DownloaderWithClient(client S3API, bucket string) *S3Downloader {
	return &S3Downloader{client: client, bucket: bucket}
}

// Download performs a ranged GetObject for [start, start+length) on
// key and returns exactly length bytes, or an error.
func (d *S3Downloader) Download(ctx context.Context, key string, start uint64, length int) ([]byte, error) {
	rangeHdr := fmt.Sprintf("bytes=%d-%d", start, start+uint64(length)-1)
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHdr),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s %s: %w", key, rangeHdr, err)
	}
	defer out.Body.Close()

	buf := make([]byte, length)
	n, err := io.ReadFull(out.Body, buf)
	if err != nil {
		return nil, fmt.Errorf("reading object body %s %s: %w", key, rangeHdr, err)
	}
	if n != length {
		return nil, fmt.Errorf("get object %s %s: got %d bytes, want %d", key, rangeHdr, n, length)
	}
	return buf, nil
}
