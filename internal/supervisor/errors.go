package supervisor

import "fmt"

// StartReason classifies why a start attempt failed. Port exhaustion and
// missing binaries read as "no local recognition available" to the user;
// health timeouts read as a startup timeout. None are auto-retried.
type StartReason string

const (
	ReasonBinaryMissing StartReason = "binary_missing"
	ReasonModelMissing  StartReason = "model_missing"
	ReasonPortExhausted StartReason = "port_range_exhausted"
	ReasonSpawnFailed   StartReason = "spawn_failed"
	ReasonHealthTimeout StartReason = "health_check_timeout"
)

// StartError is returned when the recognition server could not be brought up.
type StartError struct {
	Reason StartReason
	Err    error
}

func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server start failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("server start failed (%s)", e.Reason)
}

func (e *StartError) Unwrap() error { return e.Err }
