// Package s3 keeps artifacts in an S3 compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	storage "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/errs"
	"github.com/Kurdzik/PG-backup-manager/pkg/limiter"
	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/retry"
	backend "github.com/Kurdzik/PG-backup-manager/pkg/storage"
)

const minPartSize = s3manager.MinUploadPartSize

// Config describes one bucket location.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UseSSL          bool
	VerifySSL       bool

	PartSize int64
	Limiter  limiter.Limiter
	Timeout  time.Duration
}

// ConfigFromDestination builds a Config from a stored destination.
func ConfigFromDestination(d *models.Destination) Config {
	return Config{
		Endpoint:        d.EndpointURL,
		Region:          d.Region,
		Bucket:          d.BucketName,
		AccessKeyID:     d.AccessKeyID,
		SecretAccessKey: d.SecretAccessKey,
		Prefix:          strings.Trim(d.PathPrefix, "/"),
		UseSSL:          d.UseSSL,
		VerifySSL:       d.VerifySSL,
	}
}

// endpointURL adds a scheme when the user gave a bare host.
func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// NewSession returns an aws session for cfg using a custom HTTP transport.
func NewSession(cfg Config) (*session.Session, error) {
	opts := backend.DefaultTransportOptions()
	opts.InsecureSkipVerify = !cfg.VerifySSL
	var rt http.RoundTripper = backend.Transport(opts)
	if cfg.Limiter != nil {
		// wrap the transport so that the throughput via HTTP is limited
		rt = cfg.Limiter.Transport(rt)
	}
	httpClient := &http.Client{Transport: rt, Timeout: cfg.Timeout}

	return session.NewSession(&aws.Config{
		DisableSSL:       aws.Bool(!cfg.UseSSL),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Endpoint:         aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL)),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
		HTTPClient:       httpClient,
		MaxRetries:       aws.Int(0),
	})
}

var _ backend.Backend = (*S3)(nil)

// S3 is a Backend on one bucket and key prefix.
type S3 struct {
	client     *storage.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
	prefix     string
	retry      retry.Policy
	logger     *zap.Logger
}

// Option configures an S3 backend.
type Option func(s *S3)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *S3) {
		s.logger = l
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p retry.Policy) Option {
	return func(s *S3) {
		s.retry = p
	}
}

// New returns a backend for cfg.
func New(cfg Config, opts ...Option) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errs.Validation("bucket_name is required")
	}
	sess, err := NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	s := &S3{
		client: storage.New(sess),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		retry:  retry.DefaultPolicy,
	}
	partSize := cfg.PartSize
	if partSize < minPartSize {
		partSize = minPartSize
	}
	s.uploader = s3manager.NewUploaderWithClient(s.client, func(u *s3manager.Uploader) {
		u.PartSize = partSize
	})
	s.downloader = s3manager.NewDownloaderWithClient(s.client, func(d *s3manager.Downloader) {
		d.PartSize = partSize
	})
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3) Location() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

func (s *S3) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := s.retry.Do(ctx, fn, func(err error, attempt int, wait time.Duration) {
		s.logger.Warn(op+" failed, retrying",
			zap.String("location", s.Location()), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	})
	return err
}

// Publish uploads the staged file. S3 makes an object visible only after a
// completed upload; failed multipart uploads are aborted by the uploader.
func (s *S3) Publish(ctx context.Context, name, stagingPath string) (int64, error) {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, errs.Conflict("artifact %s already exists in %s", name, s.Location())
	}

	var size int64
	err = s.do(ctx, "upload", func(ctx context.Context) error {
		f, err := os.Open(stagingPath)
		if err != nil {
			return errs.Storage(err, "open staged dump")
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return errs.Storage(err, "stat staged dump")
		}
		size = fi.Size()

		_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(name)),
			Body:   f,
		})
		return classify(err, "upload "+name)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("artifact uploaded", zap.String("location", s.Location()), zap.String("name", name), zap.Int64("bytes", size))
	return size, nil
}

// Fetch downloads the artifact into a temp file under stagingDir.
func (s *S3) Fetch(ctx context.Context, name, stagingDir string) (string, func(), error) {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return "", nil, err
	}
	if !exists {
		return "", nil, errs.NotFound("backup %s not found in %s", name, s.Location())
	}

	f, err := os.CreateTemp(stagingDir, "restore-*.dump")
	if err != nil {
		return "", nil, errs.Storage(err, "create download file")
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}

	err = s.do(ctx, "download", func(ctx context.Context) error {
		if err := f.Truncate(0); err != nil {
			return errs.Storage(err, "reset download file")
		}
		_, err := s.downloader.DownloadWithContext(ctx, f, &storage.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(name)),
		})
		return classify(err, "download "+name)
	})
	if err != nil {
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, errs.Storage(err, "close download file")
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// List returns the names of the objects directly under the prefix.
func (s *S3) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	var names []string
	err := s.do(ctx, "list", func(ctx context.Context) error {
		names = names[:0]
		err := s.client.ListObjectsV2PagesWithContext(ctx, &storage.ListObjectsV2Input{
			Bucket:    aws.String(s.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		}, func(page *storage.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				names = append(names, strings.TrimPrefix(aws.StringValue(obj.Key), prefix))
			}
			return true
		})
		return classify(err, "list "+s.Location())
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.do(ctx, "head", func(ctx context.Context) error {
		_, err := s.client.HeadObjectWithContext(ctx, &storage.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(name)),
		})
		if err == nil {
			exists = true
			return nil
		}
		if isNotFound(err) {
			exists = false
			return nil
		}
		return classify(err, "head "+name)
	})
	return exists, err
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked first to report a missing artifact.
func (s *S3) Delete(ctx context.Context, name string) error {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return errs.NotFound("backup %s not found in %s", name, s.Location())
	}
	return s.do(ctx, "delete", func(ctx context.Context) error {
		_, err := s.client.DeleteObjectWithContext(ctx, &storage.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(name)),
		})
		return classify(err, "delete "+name)
	})
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case "NotFound", storage.ErrCodeNoSuchKey:
		return true
	}
	return false
}

// classify maps an aws error onto the error taxonomy. Only network level
// failures and server side errors are retryable.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case request.CanceledErrorCode:
			return context.Canceled
		case "NotFound", storage.ErrCodeNoSuchKey:
			return errs.NotFound("%s: object not found", op)
		case storage.ErrCodeNoSuchBucket:
			return errs.NotFound("%s: bucket not found", op)
		case "AccessDenied", "Forbidden", "SignatureDoesNotMatch", "InvalidAccessKeyId", "InvalidToken", "ExpiredToken":
			return errs.Rejected(err, "%s: credentials rejected", op)
		case request.ErrCodeRequestError, request.ErrCodeResponseTimeout, request.ErrCodeRead, "RequestTimeout", "SlowDown", "ServiceUnavailable", "InternalError":
			return errs.Unreachable(err, "%s: storage endpoint unavailable", op)
		}
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) && reqErr.StatusCode() >= 500 {
			return errs.Unreachable(err, "%s: storage endpoint unavailable", op)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.Unreachable(err, "%s: storage endpoint unavailable", op)
	}
	return errs.Storage(err, "%s failed", op)
}
