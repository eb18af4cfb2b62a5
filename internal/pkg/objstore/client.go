package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

const (
	minPresignTTL     = 60 * time.Second
	maxPresignTTL     = 3600 * time.Second
	defaultPresignTTL = 300 * time.Second
)

// Config holds S3/MinIO connection settings.
type Config struct {
	Endpoint  string // empty for real AWS S3
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Client is a buffered S3 client for the photo pipeline. All operations
// return *Error with a classified Kind.
type Client struct {
	s3      *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// New creates a storage client. A non-empty Endpoint switches to
// path-style addressing, which MinIO requires.
func New(cfg Config) (*Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
				SigningRegion:     cfg.Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: "new", Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return &Client{
		s3:      client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

// PutOptions carries optional headers applied to stored objects.
type PutOptions struct {
	CacheControl       string
	ContentDisposition string
}

// PresignUpload returns a time-limited PUT URL scoped to key and
// contentType. The ttl is clamped to [1m, 1h].
func (c *Client) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}

	out, err := c.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(clampTTL(ttl)))
	if err != nil {
		return "", &Error{Kind: KindPresign, Op: "presignUpload", Key: key, Err: err}
	}
	if err := checkSigned(out.URL); err != nil {
		return "", &Error{Kind: KindPresign, Op: "presignUpload", Key: key, Err: err}
	}
	return out.URL, nil
}

// PresignDownload returns a time-limited GET URL for key.
func (c *Client) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}

	out, err := c.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(clampTTL(ttl)))
	if err != nil {
		return "", &Error{Kind: KindPresign, Op: "presignDownload", Key: key, Err: err}
	}
	if err := checkSigned(out.URL); err != nil {
		return "", &Error{Kind: KindPresign, Op: "presignDownload", Key: key, Err: err}
	}
	return out.URL, nil
}

// Fetch reads the whole object into memory. The timeout bounds the
// entire call; on expiry the error classifies as transient.
func (c *Client) Fetch(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrap("fetch", key, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, wrap("fetch", key, err)
	}
	if len(data) == 0 {
		return nil, &Error{Kind: KindUnknown, Op: "fetch", Key: key, Err: errors.New("empty object body")}
	}
	return data, nil
}

// Store writes data under key with the given content type.
func (c *Client) Store(ctx context.Context, key string, data []byte, contentType string, opts PutOptions, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if opts.ContentDisposition != "" {
		input.ContentDisposition = aws.String(opts.ContentDisposition)
	}

	if _, err := c.s3.PutObject(ctx, input); err != nil {
		return wrap("store", key, err)
	}
	return nil
}

// Delete removes an object, best-effort. An already absent object
// counts as success.
func (c *Client) Delete(ctx context.Context, key string) bool {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true
	}
	if classify(err) == KindNotFound {
		log.Warn().Str("key", key).Msg("delete: object already absent")
		return true
	}
	log.Error().Err(err).Str("key", key).Msg("delete failed")
	return false
}

// DeleteMany fires deletes concurrently and returns how many
// succeeded. Partial failure is logged, never raised.
func (c *Client) DeleteMany(ctx context.Context, keys []string) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, key := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			if c.Delete(ctx, k) {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(key)
	}
	wg.Wait()

	if failed := len(keys) - ok; failed > 0 {
		log.Warn().Int("ok", ok).Int("failed", failed).Msg("deleteMany partial")
	}
	return ok
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultPresignTTL
	}
	if ttl < minPresignTTL {
		return minPresignTTL
	}
	if ttl > maxPresignTTL {
		return maxPresignTTL
	}
	return ttl
}

// checkSigned verifies the URL carries SigV4 query parameters. A bare
// URL here means the signer is misconfigured.
func checkSigned(url string) error {
	if !strings.Contains(url, "X-Amz-Algorithm") {
		return errors.New("presigned URL missing SigV4 parameters")
	}
	return nil
}
