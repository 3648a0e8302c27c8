package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"recollector/api/dto"
	"recollector/api/kafka"
	"recollector/api/models"
	"recollector/api/repository"
	"recollector/api/validation"
	"recollector/metrics"
	"recollector/worker/cache"
	"recollector/worker/pool"
	"recollector/worker/storage"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskFinished = errors.New("task already finished")
)

// DeletionError reports artifact files that could not be removed.
type DeletionError struct {
	Removed []string
	Err     error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("failed to delete task files: %v", e.Err)
}

func (e *DeletionError) Unwrap() error { return e.Err }

// Messages returns one entry per file that could not be removed.
func (e *DeletionError) Messages() []string {
	var rmErr *storage.RemoveError
	if !errors.As(e.Err, &rmErr) {
		return []string{e.Err.Error()}
	}
	msgs := make([]string, 0, len(rmErr.Errs))
	for _, err := range rmErr.Errs {
		msgs = append(msgs, err.Error())
	}
	return msgs
}

type StatusStore interface {
	Set(ctx context.Context, taskID string, rec *models.Record) error
	GetRaw(ctx context.Context, taskID string) ([]byte, error)
	Delete(ctx context.Context, taskID string) (bool, error)
	Update(ctx context.Context, taskID string, fn func(*models.Record) error) error
}

type ArtifactRemover interface {
	Remove(taskID string) ([]string, error)
}

type Dispatcher interface {
	Dispatch(job *models.Job) *pool.Handle
}

type TaskService struct {
	store     StatusStore
	artifacts ArtifactRemover
	runner    Dispatcher
	repo      repository.Repository
	producer  kafka.Producer
	logger    *zap.Logger
}

type Option func(*TaskService)

func WithRepository(repo repository.Repository) Option {
	return func(s *TaskService) { s.repo = repo }
}

func WithProducer(producer kafka.Producer) Option {
	return func(s *TaskService) { s.producer = producer }
}

func NewTaskService(store StatusStore, artifacts ArtifactRemover, runner Dispatcher, logger *zap.Logger, opts ...Option) *TaskService {
	s := &TaskService{
		store:     store,
		artifacts: artifacts,
		runner:    runner,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTask stores the initial record and hands the job to the runner. The
// record is visible to pollers before this returns.
func (s *TaskService) CreateTask(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.GenerateResponse, *pool.Handle, error) {
	if err := s.store.Set(ctx, req.TaskID, models.NewRecord()); err != nil {
		return nil, nil, fmt.Errorf("store initial status: %w", err)
	}

	if s.repo != nil {
		task := &models.Task{
			ID:               req.TaskID,
			TraceID:          traceID,
			OriginalFilename: req.OriginalFilename,
			Options:          req.Options,
			Status:           string(models.StatusProcessing),
		}
		if err := s.repo.CreateTask(ctx, task); err != nil {
			s.logger.Warn("Failed to write ledger row",
				zap.String("task_id", req.TaskID),
				zap.Error(err),
			)
		}
	}

	metrics.RecordTaskSubmitted()
	s.publish(ctx, &kafka.Event{
		Type:    kafka.EventSubmitted,
		TaskID:  req.TaskID,
		TraceID: traceID,
		Status:  string(models.StatusProcessing),
	})

	handle := s.runner.Dispatch(&models.Job{
		TaskID:           req.TaskID,
		TraceID:          traceID,
		InputPath:        req.FilePath,
		OriginalFilename: req.OriginalFilename,
		Options:          req.Options,
		SubmittedAt:      time.Now(),
	})

	return &dto.GenerateResponse{
		TaskID:    req.TaskID,
		StatusURL: "/api/status/" + req.TaskID,
	}, handle, nil
}

// GetTaskStatus returns the stored record exactly as written.
func (s *TaskService) GetTaskStatus(ctx context.Context, taskID string) (json.RawMessage, error) {
	raw, err := s.store.GetRaw(ctx, taskID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return raw, nil
}

// DeleteTask removes the status entry first so an in-flight lifecycle stops
// at its next write, then removes the artifacts.
func (s *TaskService) DeleteTask(ctx context.Context, traceID, taskID string) (*dto.DeleteResponse, error) {
	existed, err := s.store.Delete(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !existed {
		return nil, ErrTaskNotFound
	}

	removed, removeErr := s.artifacts.Remove(taskID)
	if removed == nil {
		removed = []string{}
	}

	if s.repo != nil {
		if err := s.repo.MarkDeleted(ctx, taskID); err != nil && !errors.Is(err, repository.ErrTaskNotFound) {
			s.logger.Warn("Failed to mark ledger row deleted",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
		}
	}
	s.publish(ctx, &kafka.Event{Type: kafka.EventDeleted, TaskID: taskID, TraceID: traceID})

	if removeErr != nil {
		return nil, &DeletionError{Removed: removed, Err: removeErr}
	}

	return &dto.DeleteResponse{
		Message:      fmt.Sprintf("Task %s and related files deleted.", taskID),
		DeletedFiles: removed,
	}, nil
}

// AttachRecipient records where the completion email should go.
func (s *TaskService) AttachRecipient(ctx context.Context, taskID, email string) (*models.Record, error) {
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}

	var updated *models.Record
	err := s.store.Update(ctx, taskID, func(rec *models.Record) error {
		if err := rec.AttachRecipient(email); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return nil, ErrTaskNotFound
	case errors.Is(err, models.ErrTerminal):
		return nil, ErrTaskFinished
	case err != nil:
		return nil, err
	}

	return updated, nil
}

func (s *TaskService) publish(ctx context.Context, event *kafka.Event) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish task event",
			zap.String("task_id", event.TaskID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}
