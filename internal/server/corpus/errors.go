package corpus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
)

// RejectedError is a permanent refusal: the request itself is wrong and
// resending it unchanged will fail again.
type RejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("rejected with status %d: %s", e.StatusCode, e.Detail)
}

// TransientError is a failure worth retrying later: network trouble,
// timeouts, 5xx, 408, 429 or a stale credential. It matches
// common.ErrTransient with errors.Is.
type TransientError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient failure, status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == common.ErrTransient }

// IsRejected reports whether err carries a *RejectedError.
func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	ok := errors.As(err, &rej)
	return rej, ok
}
