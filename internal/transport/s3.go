package transport

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"usm-go/internal/usm"
)

// S3Transport stores snapshot objects in an S3 bucket under an optional key
// prefix. Uploads go through the transfer manager so multi-gigabyte backup
// artifacts are sent as multipart uploads.
type S3Transport struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// S3Options configures an S3 transport. AccessKeyID/SecretAccessKey are
// optional; when empty the default credential chain applies.
type S3Options struct {
	Name            string
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Transport creates an S3-backed transport.
func NewS3Transport(ctx context.Context, opts S3Options) (*S3Transport, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 transport requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Transport{
		name:     opts.Name,
		bucket:   opts.Bucket,
		prefix:   strings.TrimSuffix(opts.Prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

var _ usm.Transport = (*S3Transport)(nil)

func (t *S3Transport) Name() string { return t.name }

func (t *S3Transport) objectKey(key string) string {
	if t.prefix == "" {
		return key
	}
	return t.prefix + "/" + key
}

func (t *S3Transport) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(key)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

func (t *S3Transport) Get(ctx context.Context, key string, w io.Writer) error {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("fetching %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}

func (t *S3Transport) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(t.objectKey(prefix)),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if t.prefix != "" {
				key = strings.TrimPrefix(key, t.prefix+"/")
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (t *S3Transport) Validate(ctx context.Context) error {
	_, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(t.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", t.bucket, err)
	}
	return nil
}
