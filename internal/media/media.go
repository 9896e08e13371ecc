// Package media stores user avatars in an S3-compatible bucket.
//
// Objects are addressed by their public URL (PublicBaseURL + "/" + key),
// which is what ends up in User.Image. Delete maps the URL back to a key.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/xid"
)

// MaxAvatarBytes caps uploaded profile images.
const MaxAvatarBytes = 5 << 20

type Config struct {
	Endpoint  string // host:port or full URL; empty means AWS
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PublicBaseURL is the origin objects are served from. Defaults to
	// Endpoint + "/" + Bucket.
	PublicBaseURL string
	UsePathStyle  bool
}

// S3Store uploads and deletes avatars.
type S3Store struct {
	api     *s3.Client
	bucket  string
	baseURL string
	logger  *slog.Logger
}

func NewS3Store(ctx context.Context, cfg Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("media: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: loading AWS config: %w", err)
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		if endpoint != "" {
			baseURL = endpoint + "/" + cfg.Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
		}
	}

	return &S3Store{api: client, bucket: cfg.Bucket, baseURL: baseURL, logger: logger}, nil
}

// NewAvatarKey returns a fresh object key, keeping the file extension.
func NewAvatarKey(filename string) string {
	ext := ""
	if i := strings.LastIndexByte(filename, '.'); i >= 0 && len(filename)-i <= 6 {
		ext = strings.ToLower(filename[i:])
	}
	return "avatars/" + xid.New().String() + ext
}

// Upload stores body under key and returns its public URL. The body is
// buffered so the SDK can sign it over plain HTTP endpoints.
func (s *S3Store) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxAvatarBytes+1))
	if err != nil {
		return "", fmt.Errorf("media: reading upload: %w", err)
	}
	if len(data) > MaxAvatarBytes {
		return "", ErrTooLarge
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("media: uploading %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}

// Delete removes the object behind ref. A ref that does not point into this
// store (an external avatar URL, say) is not ours to delete and is ignored.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	key, ok := s.KeyFromURL(ref)
	if !ok {
		s.logger.Debug("media: skipping foreign image", slog.String("ref", ref))
		return nil
	}
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("media: deleting %s: %w", key, err)
	}
	return nil
}

// Owns reports whether ref is the public URL of an object in this store.
func (s *S3Store) Owns(ref string) bool {
	_, ok := s.KeyFromURL(ref)
	return ok
}

// KeyFromURL maps a public URL back to its object key.
func (s *S3Store) KeyFromURL(ref string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(ref, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	key, err := url.PathUnescape(key)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// =========================================================================
// NOOP
// =========================================================================

// Noop is used when no bucket is configured. Uploads are refused; deletes
// succeed because there is nothing stored.
type Noop struct{}

var ErrUploadsDisabled = errors.New("media: uploads are disabled")

// ErrTooLarge is returned by Upload for bodies over MaxAvatarBytes.
var ErrTooLarge = errors.New("media: upload exceeds 5MB")

func (Noop) Upload(context.Context, string, string, io.Reader) (string, error) {
	return "", ErrUploadsDisabled
}

func (Noop) Delete(context.Context, string) error { return nil }

func (Noop) Owns(string) bool { return false }
