package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"recollector/api/dto"
	"recollector/api/kafka"
	"recollector/api/models"
	"recollector/api/validation"
	"recollector/worker/cache"
	"recollector/worker/pool"
	"recollector/worker/storage"
)

const taskID = "2d7f0a3e-51c4-4b8e-a0e6-7f3b6b1c9e42"

type fakeDispatcher struct {
	jobs []*models.Job
	pool *pool.WorkerPool
}

func (f *fakeDispatcher) Dispatch(job *models.Job) *pool.Handle {
	f.jobs = append(f.jobs, job)
	return f.pool.Submit(context.Background(), job, func(context.Context, *models.Job) error { return nil })
}

type recordingProducer struct {
	events []*kafka.Event
}

func (p *recordingProducer) Publish(_ context.Context, e *kafka.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type fakeRepo struct {
	created []*models.Task
	deleted []string
}

func (r *fakeRepo) CreateTask(_ context.Context, task *models.Task) error {
	r.created = append(r.created, task)
	return nil
}

func (r *fakeRepo) MarkDeleted(_ context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	return nil
}

type fixture struct {
	svc        *TaskService
	store      *cache.StatusStore
	artifacts  *storage.Store
	dispatcher *fakeDispatcher
	producer   *recordingProducer
	repo       *fakeRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	dir := t.TempDir()
	artifacts, err := storage.NewStore(filepath.Join(dir, "models"), filepath.Join(dir, "metadata"))
	require.NoError(t, err)

	f := &fixture{
		store:      cache.NewStatusStore(client),
		artifacts:  artifacts,
		dispatcher: &fakeDispatcher{pool: pool.NewWorkerPool(1)},
		producer:   &recordingProducer{},
		repo:       &fakeRepo{},
	}
	f.svc = NewTaskService(f.store, f.artifacts, f.dispatcher, zaptest.NewLogger(t),
		WithProducer(f.producer),
		WithRepository(f.repo),
	)
	return f
}

func (f *fixture) create(t *testing.T) {
	t.Helper()
	_, handle, err := f.svc.CreateTask(context.Background(), "trace-1", &dto.CreateTaskRequest{
		TaskID:           taskID,
		OriginalFilename: "cat.png",
		FilePath:         "/tmp/uploads/" + taskID + "_cat.png",
		Options:          models.DefaultOptions(),
	})
	require.NoError(t, err)
	require.NoError(t, handle.Wait(context.Background()))
}

func TestTaskService_CreateTask(t *testing.T) {
	f := newFixture(t)

	resp, handle, err := f.svc.CreateTask(context.Background(), "trace-1", &dto.CreateTaskRequest{
		TaskID:           taskID,
		OriginalFilename: "cat.png",
		FilePath:         "/tmp/uploads/" + taskID + "_cat.png",
		Options:          models.DefaultOptions(),
	})
	require.NoError(t, err)
	require.NotNil(t, handle)

	assert.Equal(t, taskID, resp.TaskID)
	assert.Equal(t, "/api/status/"+taskID, resp.StatusURL)

	raw, err := f.svc.GetTaskStatus(context.Background(), taskID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"processing","progress":0}`, string(raw))

	require.Len(t, f.dispatcher.jobs, 1)
	job := f.dispatcher.jobs[0]
	assert.Equal(t, "trace-1", job.TraceID)
	assert.Equal(t, "cat.png", job.OriginalFilename)
	assert.False(t, job.SubmittedAt.IsZero())

	require.Len(t, f.repo.created, 1)
	assert.Equal(t, "processing", f.repo.created[0].Status)
	require.Len(t, f.producer.events, 1)
	assert.Equal(t, kafka.EventSubmitted, f.producer.events[0].Type)

	require.NoError(t, handle.Wait(context.Background()))
}

func TestTaskService_GetTaskStatus_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetTaskStatus(context.Background(), "f0000000-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskService_DeleteTask(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	require.NoError(t, f.artifacts.SaveModel(taskID, []byte("glb")))
	require.NoError(t, f.artifacts.SaveMetadata(taskID, models.Metadata{OriginalFilename: "cat.png"}))

	resp, err := f.svc.DeleteTask(context.Background(), "trace-2", taskID)
	require.NoError(t, err)

	assert.Equal(t, "Task "+taskID+" and related files deleted.", resp.Message)
	assert.ElementsMatch(t, []string{f.artifacts.ModelPath(taskID), f.artifacts.MetadataPath(taskID)}, resp.DeletedFiles)

	_, err = f.svc.GetTaskStatus(context.Background(), taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = os.Stat(f.artifacts.ModelPath(taskID))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []string{taskID}, f.repo.deleted)
	deleted := f.producer.events[len(f.producer.events)-1]
	assert.Equal(t, kafka.EventDeleted, deleted.Type)
	assert.Equal(t, "trace-2", deleted.TraceID)
}

func TestTaskService_DeleteTask_NoFiles(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	resp, err := f.svc.DeleteTask(context.Background(), "trace-2", taskID)
	require.NoError(t, err)
	assert.Empty(t, resp.DeletedFiles)

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"deleted_files":[]`)
}

func TestTaskService_DeleteTask_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.DeleteTask(context.Background(), "trace-2", taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskService_DeleteTask_PartialFailure(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	require.NoError(t, f.artifacts.SaveMetadata(taskID, models.Metadata{}))
	modelPath := f.artifacts.ModelPath(taskID)
	require.NoError(t, os.MkdirAll(filepath.Join(modelPath, "nested"), 0o755))

	_, err := f.svc.DeleteTask(context.Background(), "trace-2", taskID)

	var delErr *DeletionError
	require.ErrorAs(t, err, &delErr)
	assert.Equal(t, []string{f.artifacts.MetadataPath(taskID)}, delErr.Removed)
	require.Len(t, delErr.Messages(), 1)
	assert.Contains(t, delErr.Messages()[0], "failed to delete model file")

	exists, err := f.store.Exists(context.Background(), taskID)
	require.NoError(t, err)
	assert.False(t, exists, "status entry is removed even when files linger")
}

func TestTaskService_AttachRecipient(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	rec, err := f.svc.AttachRecipient(context.Background(), taskID, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", rec.RecipientEmail)
	assert.Equal(t, models.StatusProcessing, rec.Status)

	stored, err := f.store.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", stored.RecipientEmail)
}

func TestTaskService_AttachRecipient_Errors(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	_, err := f.svc.AttachRecipient(context.Background(), taskID, "nope")
	assert.ErrorIs(t, err, validation.ErrInvalidEmail)

	_, err = f.svc.AttachRecipient(context.Background(), "f0000000-0000-4000-8000-000000000000", "user@example.com")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, f.store.Update(context.Background(), taskID, func(rec *models.Record) error {
		return rec.Fail("bad image")
	}))
	_, err = f.svc.AttachRecipient(context.Background(), taskID, "user@example.com")
	assert.ErrorIs(t, err, ErrTaskFinished)
}
