package models

import (
	"encoding/json"
	"errors"
	"time"
)

type TaskStatus string

const (
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition may leave s.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var ErrTerminal = errors.New("task already reached a terminal state")

type EmailStatus struct {
	Sent      bool   `json:"sent"`
	Recipient string `json:"recipient"`
	Detail    string `json:"detail"`
}

// Record is the status entry kept for a task. Status selects which of the
// remaining fields are meaningful; MarshalJSON only emits those.
type Record struct {
	Status         TaskStatus
	Progress       int
	Detail         string
	ViewerURL      string
	ModelURL       string
	Error          string
	RecipientEmail string
	EmailStatus    *EmailStatus
}

// NewRecord returns the record written when a submission is accepted.
func NewRecord() *Record {
	return &Record{Status: StatusProcessing}
}

// Advance moves progress forward while processing. Reported values are
// clamped to [0, 100] and never lower the stored progress.
func (r *Record) Advance(progress int, detail string) error {
	if r.Status.IsTerminal() {
		return ErrTerminal
	}
	progress = min(max(progress, 0), 100)
	r.Status = StatusProcessing
	r.Progress = max(r.Progress, progress)
	r.Detail = detail
	return nil
}

func (r *Record) Complete(viewerURL, modelURL string) error {
	if r.Status.IsTerminal() {
		return ErrTerminal
	}
	r.Status = StatusCompleted
	r.Progress = 100
	r.Detail = ""
	r.ViewerURL = viewerURL
	r.ModelURL = modelURL
	return nil
}

func (r *Record) Fail(msg string) error {
	if r.Status.IsTerminal() {
		return ErrTerminal
	}
	r.Status = StatusFailed
	r.Error = msg
	r.Progress = 0
	r.Detail = ""
	r.ViewerURL = ""
	r.ModelURL = ""
	r.EmailStatus = nil
	return nil
}

// AttachRecipient records where the completion notice should go. Only
// allowed before the task finishes.
func (r *Record) AttachRecipient(email string) error {
	if r.Status.IsTerminal() {
		return ErrTerminal
	}
	r.RecipientEmail = email
	return nil
}

type processingJSON struct {
	Status         TaskStatus `json:"status"`
	Progress       int        `json:"progress"`
	Detail         string     `json:"detail,omitempty"`
	RecipientEmail string     `json:"recipient_email,omitempty"`
}

type completedJSON struct {
	Status         TaskStatus   `json:"status"`
	Progress       int          `json:"progress"`
	ViewerURL      string       `json:"viewer_url"`
	ModelURL       string       `json:"model_url"`
	RecipientEmail string       `json:"recipient_email,omitempty"`
	EmailStatus    *EmailStatus `json:"email_status,omitempty"`
}

type failedJSON struct {
	Status         TaskStatus `json:"status"`
	Error          string     `json:"error"`
	RecipientEmail string     `json:"recipient_email,omitempty"`
}

type recordJSON struct {
	Status         TaskStatus   `json:"status"`
	Progress       int          `json:"progress"`
	Detail         string       `json:"detail"`
	ViewerURL      string       `json:"viewer_url"`
	ModelURL       string       `json:"model_url"`
	Error          string       `json:"error"`
	RecipientEmail string       `json:"recipient_email"`
	EmailStatus    *EmailStatus `json:"email_status"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	switch r.Status {
	case StatusCompleted:
		return json.Marshal(completedJSON{
			Status:         r.Status,
			Progress:       r.Progress,
			ViewerURL:      r.ViewerURL,
			ModelURL:       r.ModelURL,
			RecipientEmail: r.RecipientEmail,
			EmailStatus:    r.EmailStatus,
		})
	case StatusFailed:
		return json.Marshal(failedJSON{
			Status:         r.Status,
			Error:          r.Error,
			RecipientEmail: r.RecipientEmail,
		})
	default:
		return json.Marshal(processingJSON{
			Status:         StatusProcessing,
			Progress:       r.Progress,
			Detail:         r.Detail,
			RecipientEmail: r.RecipientEmail,
		})
	}
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record(raw)
	if r.Status == "" {
		r.Status = StatusProcessing
	}
	return nil
}

// Options is the generation configuration chosen at submission time and
// forwarded verbatim to the generation service.
type Options struct {
	EnablePBR     bool   `json:"enable_pbr"`
	ShouldRemesh  bool   `json:"should_remesh"`
	ShouldTexture bool   `json:"should_texture"`
	AIModel       string `json:"ai_model" validate:"oneof=latest meshy-5"`
}

func DefaultOptions() Options {
	return Options{
		EnablePBR:     true,
		ShouldRemesh:  true,
		ShouldTexture: true,
		AIModel:       "latest",
	}
}

// Metadata is persisted next to the artifacts once the remote job exists.
type Metadata struct {
	OriginalFilename string  `json:"original_filename"`
	Options          Options `json:"options"`
	ExternalTaskID   string  `json:"external_task_id"`
}

// Job is the unit handed from the API to the lifecycle manager.
type Job struct {
	TaskID           string
	TraceID          string
	InputPath        string
	OriginalFilename string
	Options          Options
	SubmittedAt      time.Time
}

// Task is a row of the optional generation ledger.
type Task struct {
	ID               string
	TraceID          string
	OriginalFilename string
	Options          Options
	ExternalTaskID   string
	Status           string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}
