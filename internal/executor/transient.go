package executor

import (
	"errors"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// transientCodes are the S3 error codes worth retrying: rate limiting and
// server-side hiccups. Everything else (AccessDenied, NoSuchKey, ...) fails
// the frame immediately.
var transientCodes = map[string]bool{
	"SlowDown":             true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"RequestLimitExceeded": true,
	"RequestTimeout":       true,
	"InternalError":        true,
	"ServiceUnavailable":   true,
	"503":                  true,
}

// IsTransient reports whether err is a retryable store error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return transientCodes[apiErr.ErrorCode()]
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
