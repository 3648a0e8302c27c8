package service

import "errors"

// ErrNoArtifact means the remote job succeeded without a downloadable model.
var ErrNoArtifact = errors.New("completed without artifact")

// errShuttingDown replaces context cancellation in the stored failure.
var errShuttingDown = errors.New("processing interrupted: service shutting down")

const unknownRemoteError = "unknown error reported by the generation service"

// GenerationError carries the failure message reported by the remote service.
type GenerationError struct {
	Message string
}

func (e *GenerationError) Error() string {
	return e.Message
}
