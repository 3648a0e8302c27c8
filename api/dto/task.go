package dto

import "recollector/api/models"

type GenerateResponse struct {
	TaskID    string `json:"task_id"`
	StatusURL string `json:"status_url"`
}

type DeleteResponse struct {
	Message      string   `json:"message"`
	DeletedFiles []string `json:"deleted_files"`
}

// DeleteErrorResponse reports files that could not be removed. The status
// entry is gone regardless.
type DeleteErrorResponse struct {
	Message      string   `json:"message"`
	Errors       []string `json:"errors"`
	DeletedFiles []string `json:"deleted_files,omitempty"`
	TraceID      string   `json:"trace_id,omitempty"`
}

type AttachEmailRequest struct {
	Email string `json:"email"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// CreateTaskRequest describes an accepted upload already saved to disk.
type CreateTaskRequest struct {
	TaskID           string
	OriginalFilename string
	FilePath         string
	Options          models.Options
}
