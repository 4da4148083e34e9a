package downloader

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrIntegrity marks a size mismatch between bytes on disk and the total the
// transfer reported. It is transient: the part is discarded and refetched.
var ErrIntegrity = errors.New("part size mismatch")

// StatusError reports an unexpected gateway response code.
type StatusError struct {
	Code int
	Part string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d for part %s", e.Code, e.Part)
}

// PartialDownloadError is the aggregate failure of FetchAll: every part that
// exhausted its retries, by file name. A partial artifact is never accepted
// silently.
type PartialDownloadError struct {
	Failed []string
}

func (e *PartialDownloadError) Error() string {
	return fmt.Sprintf("%d part(s) failed to download: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

// retryable decides which per-part errors are worth another attempt.
// Integrity mismatches, transport failures and 5xx responses are transient;
// 4xx responses are not.
func retryable(err error) bool {
	if errors.Is(err, ErrIntegrity) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}

	return true
}
