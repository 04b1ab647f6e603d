// internal/classify/errors.go
package classify

import "errors"

// Classification failure modes. All are non-fatal to the caller: a failed
// classification produces no mood log entry and no alert, and is not retried.
var (
	// ErrEmptyInput means the transcript text was empty after trimming.
	// No remote call is made.
	ErrEmptyInput = errors.New("empty transcript")

	// ErrTimeout means the remote classifier did not answer within the
	// configured deadline.
	ErrTimeout = errors.New("classifier timeout")

	// ErrUnreachable means the remote classifier could not be reached or
	// returned a transport-level failure.
	ErrUnreachable = errors.New("classifier unreachable")

	// ErrMalformedResponse means the remote payload did not parse to the
	// expected schema after stripping optional code-fence wrapping.
	ErrMalformedResponse = errors.New("malformed classifier response")
)
