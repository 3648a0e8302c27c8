package meshy

import (
	"errors"
	"fmt"
	"net/http"
)

var errMissingTaskID = errors.New("no task id in response")

// SubmissionError means the service refused to create a job.
type SubmissionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Body != "":
		return fmt.Sprintf("remote submission failed: status %d: %s", e.StatusCode, e.Body)
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("remote submission failed: status %d: %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("remote submission failed: %v", e.Err)
	default:
		return fmt.Sprintf("remote submission failed: status %d", e.StatusCode)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// CommunicationError covers transport failures and non-success responses
// while talking to the service or downloading an artifact.
type CommunicationError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *CommunicationError) Error() string {
	switch {
	case e.Body != "":
		return fmt.Sprintf("remote API call failed (%s): status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("remote API call failed (%s): status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("remote API call failed (%s): status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("remote API call failed (%s): %v", e.Op, e.Err)
	}
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same call may succeed.
func (e *CommunicationError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
