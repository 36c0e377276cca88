package probe

import (
	"context"
	"errors"
	"net"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	storage "github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"

	"github.com/Kurdzik/PG-backup-manager/pkg/models"
	"github.com/Kurdzik/PG-backup-manager/pkg/storage/s3"
)

// S3 sends HeadBucket to the destination's endpoint.
func (ch *Checker) S3(ctx context.Context, d *models.Destination) Result {
	ctx, cancel := context.WithTimeout(ctx, ch.timeout)
	defer cancel()

	cfg := s3.ConfigFromDestination(d)
	cfg.Timeout = ch.timeout
	sess, err := s3.NewSession(cfg)
	if err != nil {
		return failure("invalid destination configuration: %v", err)
	}
	_, err = storage.New(sess).HeadBucketWithContext(ctx, &storage.HeadBucketInput{
		Bucket: aws.String(d.BucketName),
	})
	if err != nil {
		ch.logger.Debug("s3 probe failed", zap.String("endpoint", d.EndpointURL), zap.String("bucket", d.BucketName), zap.Error(err))
		return s3Failure(d, err)
	}
	return success()
}

// origin walks the OrigErr chain of aws errors, which do not implement Unwrap.
func origin(err error) error {
	for {
		var aerr awserr.Error
		if !errors.As(err, &aerr) || aerr.OrigErr() == nil {
			return err
		}
		err = aerr.OrigErr()
	}
}

func s3Failure(d *models.Destination, err error) Result {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case 404:
			return failure("bucket %q not found", d.BucketName)
		case 403:
			return failure("access denied to bucket %q: check access_key_id and secret_access_key", d.BucketName)
		case 400, 301:
			return failure("bucket %q rejected the request, check region %q", d.BucketName, d.Region)
		}
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case storage.ErrCodeNoSuchBucket, "NotFound":
			return failure("bucket %q not found", d.BucketName)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return failure("access denied to bucket %q: check access_key_id and secret_access_key", d.BucketName)
		case request.CanceledErrorCode:
			return failure("connection to %s timed out", d.EndpointURL)
		}
	}

	cause := origin(err)
	if isTLSError(cause) {
		return failure("TLS verification failed for %s: %v", d.EndpointURL, cause)
	}
	if errors.Is(cause, context.DeadlineExceeded) || isTimeout(cause) {
		return failure("connection to %s timed out", d.EndpointURL)
	}
	var netErr net.Error
	if errors.As(cause, &netErr) {
		return failure("endpoint %s is unreachable: %v", d.EndpointURL, cause)
	}
	return failure("could not reach bucket %q: %v", d.BucketName, err)
}
