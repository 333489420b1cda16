package quant

import (
	"fmt"
	"time"
)

// QuantizationErrorCode represents specific quantization error types, kept
// from the teacher's structured-error pattern (internal/quant/errors.go).
type QuantizationErrorCode int

const (
	ErrQuantUnknown QuantizationErrorCode = iota
	ErrQuantConfigInvalid
	ErrQuantTrainingFailed
	ErrQuantTrainingDataInsufficient
	ErrQuantEncodingFailed
	ErrQuantDecodingFailed
	ErrQuantDistanceComputationFailed
	ErrQuantDimensionMismatch
	ErrQuantNotTrained
	ErrQuantMemoryExhausted
)

// QuantizationError carries enough structure for a caller to decide whether
// to retry a training pass or surface the failure to the RPC client.
type QuantizationError struct {
	Code      QuantizationErrorCode
	Message   string
	Component string
	Operation string
	Retryable bool
	Cause     error
	Timestamp time.Time
}

func (qe *QuantizationError) Error() string {
	if qe.Cause != nil {
		return fmt.Sprintf("quant: %s.%s: %s (caused by: %v)", qe.Component, qe.Operation, qe.Message, qe.Cause)
	}
	return fmt.Sprintf("quant: %s.%s: %s", qe.Component, qe.Operation, qe.Message)
}

func (qe *QuantizationError) Unwrap() error { return qe.Cause }

func NewQuantizationError(code QuantizationErrorCode, component, operation, message string) *QuantizationError {
	return &QuantizationError{
		Code:      code,
		Message:   message,
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

func (qe *QuantizationError) WithCause(cause error) *QuantizationError {
	qe.Cause = cause
	return qe
}

func (qe *QuantizationError) WithRetryable(retryable bool) *QuantizationError {
	qe.Retryable = retryable
	return qe
}

// ValidateQuantizationHealth checks that a quantizer is in a usable state
// before it is wired into an index build or search path.
func ValidateQuantizationHealth(q Quantizer) error {
	if !q.IsTrained() {
		return NewQuantizationError(ErrQuantNotTrained, "quantizer", "validate", "quantizer is not trained").
			WithRetryable(true)
	}
	if q.MemoryUsage() < 0 {
		return NewQuantizationError(ErrQuantMemoryExhausted, "quantizer", "validate", "invalid memory usage reported")
	}
	return nil
}
