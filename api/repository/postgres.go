package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"recollector/api/database"
	"recollector/api/models"
)

const StatusDeleted = "deleted"

const uniqueViolation = "23505"

type PostgresRepo struct {
	db database.DBTX
}

func NewPostgresRepo(db database.DBTX) Repository {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO generation_tasks (id, trace_id, original_filename, options, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		task.ID,
		task.TraceID,
		task.OriginalFilename,
		task.Options,
		task.Status,
	).Scan(&task.CreatedAt, &task.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrTaskAlreadyExists
		}
		return err
	}

	return nil
}

func (r *PostgresRepo) MarkDeleted(ctx context.Context, id string) error {
	query := `UPDATE generation_tasks SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Exec(ctx, query, StatusDeleted, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}

	return nil
}
