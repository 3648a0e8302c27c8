package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"recollector/api/kafka"
	"recollector/api/models"
	"recollector/metrics"
	"recollector/worker/cache"
	"recollector/worker/meshy"
	"recollector/worker/repository"
)

const (
	detailSubmitting = "encoding image and submitting to the generation service"
	detailGenerating = "generating 3D model... (%d%%)"

	// Bound for writes that must land after the task context is gone.
	finalWriteTimeout = 10 * time.Second
)

type RemoteClient interface {
	Submit(ctx context.Context, imageURL string, opts models.Options) (string, error)
	Poll(ctx context.Context, remoteID string) (*meshy.Job, error)
	Fetch(ctx context.Context, artifactURL string) ([]byte, error)
}

type StatusStore interface {
	Get(ctx context.Context, taskID string) (*models.Record, error)
	Update(ctx context.Context, taskID string, fn func(*models.Record) error) error
}

type Artifacts interface {
	SaveMetadata(taskID string, meta models.Metadata) error
	SaveModel(taskID string, data []byte) error
	Remove(taskID string) ([]string, error)
}

type Encoder interface {
	EncodeDataURL(inputPath string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, recipient, viewerURL string) (bool, string)
}

type EventPublisher interface {
	Publish(ctx context.Context, event *kafka.Event) error
}

type Config struct {
	PollInterval time.Duration
	// Consecutive transient poll failures tolerated before the task fails.
	PollRetryLimit int
	ViewerBaseURL  string
	ModelURLPrefix string
}

// Processor drives one generation task from submission to a terminal state.
type Processor struct {
	client    RemoteClient
	store     StatusStore
	artifacts Artifacts
	encoder   Encoder
	notifier  Notifier
	events    EventPublisher
	ledger    repository.Repository
	cfg       Config
	logger    *zap.Logger
}

type Option func(*Processor)

func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithEvents(e EventPublisher) Option {
	return func(p *Processor) { p.events = e }
}

func WithLedger(l repository.Repository) Option {
	return func(p *Processor) { p.ledger = l }
}

func NewProcessor(client RemoteClient, store StatusStore, artifacts Artifacts, encoder Encoder, cfg Config, logger *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		client:    client,
		store:     store,
		artifacts: artifacts,
		encoder:   encoder,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the task lifecycle. Every failure, including a panic, ends in a
// failed status record, and the uploaded input is removed once everything else
// is done. The returned error is informational: the outcome is already stored.
func (p *Processor) Process(ctx context.Context, job *models.Job) (err error) {
	logger := p.logger.With(
		zap.String("task_id", job.TaskID),
		zap.String("trace_id", job.TraceID),
	)
	started := job.SubmittedAt
	if started.IsZero() {
		started = time.Now()
	}
	metrics.TaskStarted()

	defer p.removeInput(job.InputPath, logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while processing task", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("unexpected error: %v", r)
		}
		err = p.finish(ctx, job, err, time.Since(started), logger)
	}()

	return p.run(ctx, job, logger)
}

func (p *Processor) run(ctx context.Context, job *models.Job, logger *zap.Logger) error {
	if err := p.advance(ctx, job.TaskID, 10, detailSubmitting); err != nil {
		return err
	}

	payload, err := p.encoder.EncodeDataURL(job.InputPath)
	if err != nil {
		return fmt.Errorf("failed to encode input image: %w", err)
	}

	remoteID, err := p.client.Submit(ctx, payload, job.Options)
	metrics.RecordRemoteCall("submit", err)
	if err != nil {
		return err
	}
	logger.Info("Remote generation job created", zap.String("external_task_id", remoteID))

	meta := models.Metadata{
		OriginalFilename: job.OriginalFilename,
		Options:          job.Options,
		ExternalTaskID:   remoteID,
	}
	if err := p.artifacts.SaveMetadata(job.TaskID, meta); err != nil {
		return err
	}
	if p.ledger != nil {
		if err := p.ledger.SetExternalTaskID(ctx, job.TaskID, remoteID); err != nil {
			logger.Warn("Failed to record external task id", zap.Error(err))
		}
	}

	remote, err := p.pollUntilDone(ctx, job.TaskID, remoteID, logger)
	if err != nil {
		return err
	}

	if remote.Status == meshy.StatusFailed {
		msg := remote.Error
		if msg == "" {
			msg = unknownRemoteError
		}
		return &GenerationError{Message: msg}
	}
	return p.complete(ctx, job, remote, logger)
}

func (p *Processor) pollUntilDone(ctx context.Context, taskID, remoteID string, logger *zap.Logger) (*meshy.Job, error) {
	failures := 0
	for {
		remote, err := p.client.Poll(ctx, remoteID)
		metrics.RecordRemoteCall("poll", err)
		if err != nil {
			var commErr *meshy.CommunicationError
			if ctx.Err() == nil && errors.As(err, &commErr) && commErr.Temporary() && failures < p.cfg.PollRetryLimit {
				failures++
				logger.Warn("Transient poll failure, retrying",
					zap.Int("attempt", failures),
					zap.Error(err),
				)
				if err := p.wait(ctx); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		failures = 0

		if err := p.advance(ctx, taskID, remote.Progress, fmt.Sprintf(detailGenerating, remote.Progress)); err != nil {
			return nil, err
		}
		logger.Debug("Remote job status",
			zap.String("status", string(remote.Status)),
			zap.Int("progress", remote.Progress),
		)

		if remote.Status != meshy.StatusPending {
			return remote, nil
		}
		if err := p.wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (p *Processor) complete(ctx context.Context, job *models.Job, remote *meshy.Job, logger *zap.Logger) error {
	if remote.ModelURL == "" {
		return ErrNoArtifact
	}

	data, err := p.client.Fetch(ctx, remote.ModelURL)
	metrics.RecordRemoteCall("fetch", err)
	if err != nil {
		return err
	}
	if err := p.artifacts.SaveModel(job.TaskID, data); err != nil {
		return err
	}
	logger.Info("Model artifact stored", zap.Int("bytes", len(data)))

	viewerURL := p.viewerURL(job.TaskID)
	modelURL := p.modelURL(job.TaskID)

	current, err := p.store.Get(ctx, job.TaskID)
	if err != nil {
		return err
	}

	var emailStatus *models.EmailStatus
	if current.RecipientEmail != "" && p.notifier != nil {
		sent, detail := p.notifier.Notify(ctx, current.RecipientEmail, viewerURL)
		metrics.RecordEmail(sent)
		emailStatus = &models.EmailStatus{
			Sent:      sent,
			Recipient: current.RecipientEmail,
			Detail:    detail,
		}
	}

	return p.store.Update(ctx, job.TaskID, func(rec *models.Record) error {
		if err := rec.Complete(viewerURL, modelURL); err != nil {
			return err
		}
		rec.EmailStatus = emailStatus
		return nil
	})
}

// finish records the terminal outcome of a task and its side effects.
func (p *Processor) finish(ctx context.Context, job *models.Job, err error, elapsed time.Duration, logger *zap.Logger) error {
	if err == nil {
		logger.Info("Task completed", zap.Duration("elapsed", elapsed))
		metrics.RecordTaskFinished(string(models.StatusCompleted), elapsed)
		p.recordOutcome(job, models.StatusCompleted, "", logger)
		return nil
	}

	if errors.Is(err, cache.ErrNotFound) {
		p.discard(job.TaskID, elapsed, logger)
		return err
	}

	msg := err.Error()
	if ctx.Err() != nil {
		msg = errShuttingDown.Error()
	}
	logger.Error("Task failed", zap.String("reason", msg), zap.Error(err))

	writeCtx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()
	werr := p.store.Update(writeCtx, job.TaskID, func(rec *models.Record) error {
		return rec.Fail(msg)
	})
	switch {
	case errors.Is(werr, cache.ErrNotFound):
		p.discard(job.TaskID, elapsed, logger)
		return err
	case werr != nil:
		logger.Error("Failed to record task failure", zap.Error(werr))
	}

	metrics.RecordTaskFinished(string(models.StatusFailed), elapsed)
	p.recordOutcome(job, models.StatusFailed, msg, logger)
	return err
}

// discard handles a task whose status entry was deleted while it ran.
func (p *Processor) discard(taskID string, elapsed time.Duration, logger *zap.Logger) {
	logger.Warn("Task was deleted during processing, discarding result")
	metrics.RecordTaskFinished("deleted", elapsed)

	removed, err := p.artifacts.Remove(taskID)
	if err != nil {
		logger.Warn("Failed to remove artifacts of deleted task", zap.Error(err))
	}
	if len(removed) > 0 {
		logger.Info("Removed artifacts of deleted task", zap.Strings("files", removed))
	}
}

func (p *Processor) recordOutcome(job *models.Job, status models.TaskStatus, errMsg string, logger *zap.Logger) {
	if p.events == nil && p.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()

	if p.ledger != nil {
		if err := p.ledger.UpdateTaskStatus(ctx, job.TaskID, status, errMsg); err != nil {
			logger.Warn("Failed to update ledger", zap.Error(err))
		}
	}

	if p.events != nil {
		event := &kafka.Event{
			Type:    kafka.EventFailed,
			TaskID:  job.TaskID,
			TraceID: job.TraceID,
			Status:  string(status),
			Error:   errMsg,
		}
		if status == models.StatusCompleted {
			event.Type = kafka.EventCompleted
			event.ModelURL = p.modelURL(job.TaskID)
		}
		if err := p.events.Publish(ctx, event); err != nil {
			logger.Warn("Failed to publish task event", zap.Error(err))
		}
	}
}

func (p *Processor) advance(ctx context.Context, taskID string, progress int, detail string) error {
	return p.store.Update(ctx, taskID, func(rec *models.Record) error {
		return rec.Advance(progress, detail)
	})
}

func (p *Processor) wait(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) removeInput(path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to remove uploaded input", zap.String("path", path), zap.Error(err))
	}
}

func (p *Processor) viewerURL(taskID string) string {
	return strings.TrimRight(p.cfg.ViewerBaseURL, "/") + "/" + taskID
}

func (p *Processor) modelURL(taskID string) string {
	return strings.TrimRight(p.cfg.ModelURLPrefix, "/") + "/" + taskID + ".glb"
}
