package s3store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/topichub/pkg/artifact"
)

// wrapError converts S3 errors to store errors with artifact sentinels.
func (s *Store) wrapError(op, key string, err error) error {
	wrapped := &artifact.StoreError{Op: op, Backend: backendName, Key: key, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = artifact.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = fmt.Errorf("%w: bucket %s does not exist", artifact.ErrUnavailable, s.bucket)
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = artifact.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = fmt.Errorf("%w: bucket %s does not exist", artifact.ErrUnavailable, s.bucket)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = fmt.Errorf("%w: %v", artifact.ErrAccessDenied, err)
		case "SlowDown", "Throttling", "RequestLimitExceeded", "ServiceUnavailable", "InternalError":
			wrapped.Err = fmt.Errorf("%w: %v", artifact.ErrUnavailable, err)
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404"):
		wrapped.Err = artifact.ErrNotFound
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "StatusCode: 403"):
		wrapped.Err = fmt.Errorf("%w: %v", artifact.ErrAccessDenied, err)
	case strings.Contains(msg, "SlowDown") || strings.Contains(msg, "StatusCode: 503"):
		wrapped.Err = fmt.Errorf("%w: %v", artifact.ErrUnavailable, err)
	}
	return wrapped
}
