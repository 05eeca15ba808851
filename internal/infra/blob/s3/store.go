// Package s3 implements a blob Store on an S3-compatible bucket (AWS S3 or MinIO).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"vivarium/internal/blob/core"
)

const defaultRegion = "us-east-1"

// Store implements core.Store using a single bucket. Keys map to object keys directly.
type Store struct {
	client  *s3.Client
	bucket  string
	presign *s3.PresignClient
}

// Config holds explicit construction parameters.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional custom endpoint, e.g. MinIO
	AccessKeyID     string // optional, falls back to the default credentials chain
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// New creates an S3 blob store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newWithClient(client, cfg.Bucket), nil
}

func newWithClient(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket, presign: s3.NewPresignClient(client)}
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Put emulates create-only semantics with a HEAD request before writing.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	if _, err := s.Head(ctx, key); err == nil {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Info{}, err
	}
	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &key, Body: r}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = core.CloneMetadata(opts.Metadata)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}
	return s.Head(ctx, key)
}

// Get streams the object body.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return core.Info{}, nil, mapErr(key, err)
	}
	info := s.fromHead(key, aws.ToInt64(out.ContentLength), out.ContentType, out.ETag, out.Metadata, out.LastModified)
	return info, out.Body, nil
}

// Head returns object metadata.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return core.Info{}, mapErr(key, err)
	}
	return s.fromHead(key, aws.ToInt64(out.ContentLength), out.ContentType, out.ETag, out.Metadata, out.LastModified), nil
}

// Delete removes the object, reporting whether it existed beforehand.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.Head(ctx, key); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return true, nil
}

// List pages through ListObjectsV2 for prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: aws.String(prefix)})
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			infos = append(infos, core.Info{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns a time-limited GET URL.
func (s *Store) PresignURL(ctx context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, http.MethodGet) {
		return "", core.ErrUnsupported
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	out, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key}, func(po *s3.PresignOptions) { po.Expires = expiry })
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return out.URL, nil
}

func (s *Store) fromHead(key string, size int64, contentType, etag *string, md map[string]string, lastModified *time.Time) core.Info {
	lm := time.Now().UTC()
	if lastModified != nil {
		lm = *lastModified
	}
	return core.Info{
		Key:          key,
		Size:         size,
		ContentType:  aws.ToString(contentType),
		ETag:         strings.Trim(aws.ToString(etag), `"`),
		Metadata:     core.CloneMetadata(md),
		LastModified: lm,
	}
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func mapErr(key string, err error) error {
	var status httpStatusError
	if errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return fmt.Errorf("blob %s: %w", key, err)
}
