package repository

import (
	"context"
	"errors"

	"recollector/api/database"
	"recollector/api/models"
)

// Repository is the worker side of the generation ledger.
type Repository interface {
	SetExternalTaskID(ctx context.Context, taskID, externalID string) error
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) error
}

type PostgresRepo struct {
	db database.DBTX
}

func NewPostgresRepo(db database.DBTX) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) SetExternalTaskID(ctx context.Context, taskID, externalID string) error {
	query := `UPDATE generation_tasks SET external_task_id = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Exec(ctx, query, externalID, taskID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepo) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, errMsg string) error {
	query := `UPDATE generation_tasks SET status = $1, error_message = $2, updated_at = NOW()`
	if status.IsTerminal() {
		query += `, completed_at = NOW()`
	}
	query += ` WHERE id = $3`

	result, err := r.db.Exec(ctx, query, string(status), errMsg, taskID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

var ErrTaskNotFound = errors.New("task not found")
