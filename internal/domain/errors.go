package domain

// STSErrorCode enumerates the wire-level error codes the STS processor
// can report on a fragment (spec.md §4.3, §4.6, §7).
type STSErrorCode string

const (
	ErrTimeout       STSErrorCode = "TIMEOUT"
	ErrModelError    STSErrorCode = "MODEL_ERROR"
	ErrGPUOOM        STSErrorCode = "GPU_OOM"
	ErrQueueFull     STSErrorCode = "QUEUE_FULL"
	ErrRateLimit     STSErrorCode = "RATE_LIMIT"
	ErrStreamNotFound STSErrorCode = "STREAM_NOT_FOUND"
	ErrInvalidConfig STSErrorCode = "INVALID_CONFIG"
	ErrFragmentTooLarge STSErrorCode = "FRAGMENT_TOO_LARGE"
	ErrInvalidSequence STSErrorCode = "INVALID_SEQUENCE"
)

// retryable holds the spec.md §4.6 classification: transient STS errors
// are retryable and count toward the circuit breaker; permanent STS
// errors are logged and dropped without affecting the breaker.
var retryable = map[STSErrorCode]bool{
	ErrTimeout:    true,
	ErrModelError: true,
	ErrGPUOOM:     true,
	ErrQueueFull:  true,
	ErrRateLimit:  true,

	ErrStreamNotFound:   false,
	ErrInvalidConfig:    false,
	ErrFragmentTooLarge: false,
	ErrInvalidSequence:  false,
}

// IsRetryable reports whether code should increment the circuit breaker's
// failure counter. Unknown codes are treated as retryable (fail safe:
// an unrecognized condition is more likely transient than a hard bug).
func (c STSErrorCode) IsRetryable() bool {
	if v, ok := retryable[c]; ok {
		return v
	}
	return true
}

// STSError is the decoded form of an inbound `error` event (spec.md §4.3).
type STSError struct {
	Code      STSErrorCode
	Message   string
	Severity  string
	Retryable bool
}
