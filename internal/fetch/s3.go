package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jaa/hls-scaling/internal/retry"
)

type S3Options struct {
	Endpoint string
	Region   string
	UseSSL   bool
	// PathStyle forces bucket-in-path addressing, needed by most S3
	// compatible servers.
	PathStyle bool
	Creds     *credentials.Credentials
}

// DefaultS3Options targets the us-west-2 region where LP DAAC keeps the HLS
// archive, with credentials from the AWS environment variables.
func DefaultS3Options() S3Options {
	return S3Options{
		Endpoint: "s3.us-west-2.amazonaws.com",
		Region:   "us-west-2",
		UseSSL:   true,
		Creds:    credentials.NewEnvAWS(),
	}
}

// S3Opener fetches s3://bucket/key hrefs.
type S3Opener struct {
	client *minio.Client
}

func NewS3Opener(opts S3Options) (*S3Opener, error) {
	if strings.Contains(opts.Endpoint, "://") {
		return nil, fmt.Errorf("s3 endpoint must not include scheme: %q", opts.Endpoint)
	}
	creds := opts.Creds
	if creds == nil {
		creds = credentials.NewEnvAWS()
	}
	lookup := minio.BucketLookupAuto
	if opts.PathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        creds,
		Secure:       opts.UseSSL,
		Region:       opts.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Opener{client: client}, nil
}

func (o *S3Opener) Open(ctx context.Context, href *url.URL) (io.ReadCloser, error) {
	bucket := href.Host
	key := strings.TrimPrefix(href.Path, "/")
	if bucket == "" || key == "" {
		return nil, retry.Permanent(fmt.Errorf("s3 href %s must be s3://bucket/key", href))
	}

	obj, err := o.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyS3(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, classifyS3(err)
	}
	return obj, nil
}

func classifyS3(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return retry.Permanent(err)
	default:
		return err
	}
}
