package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recollector/api/models"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	return r.scan(dest...)
}

type fakeDB struct {
	execSQL  string
	execArgs []any
	execTag  pgconn.CommandTag
	execErr  error

	querySQL  string
	queryArgs []any
	row       pgx.Row
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL, f.execArgs = sql, args
	return f.execTag, f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.querySQL, f.queryArgs = sql, args
	return f.row
}

func TestPostgresRepo_CreateTask(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	db := &fakeDB{row: fakeRow{scan: func(dest ...any) error {
		*dest[0].(*time.Time) = created
		*dest[1].(*time.Time) = created
		return nil
	}}}
	repo := NewPostgresRepo(db)

	task := &models.Task{
		ID:               "0b7c4f5e-8f0e-4c59-9d4a-2f7d1f0c2a11",
		TraceID:          "trace-1",
		OriginalFilename: "cat.png",
		Options:          models.DefaultOptions(),
		Status:           string(models.StatusProcessing),
	}
	require.NoError(t, repo.CreateTask(context.Background(), task))

	assert.Contains(t, db.querySQL, "INSERT INTO generation_tasks")
	assert.Equal(t, []any{task.ID, "trace-1", "cat.png", models.DefaultOptions(), "processing"}, db.queryArgs)
	assert.Equal(t, created, task.CreatedAt)
}

func TestPostgresRepo_CreateTask_Duplicate(t *testing.T) {
	db := &fakeDB{row: fakeRow{scan: func(...any) error {
		return &pgconn.PgError{Code: "23505"}
	}}}
	repo := NewPostgresRepo(db)

	err := repo.CreateTask(context.Background(), &models.Task{ID: "x"})
	assert.ErrorIs(t, err, ErrTaskAlreadyExists)
}

func TestPostgresRepo_MarkDeleted(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewPostgresRepo(db)

	require.NoError(t, repo.MarkDeleted(context.Background(), "id-1"))
	assert.Equal(t, []any{StatusDeleted, "id-1"}, db.execArgs)
}

func TestPostgresRepo_MarkDeleted_NoRow(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := NewPostgresRepo(db)

	assert.ErrorIs(t, repo.MarkDeleted(context.Background(), "id-1"), ErrTaskNotFound)
}
