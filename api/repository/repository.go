package repository

import (
	"context"
	"errors"

	"recollector/api/models"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskAlreadyExists = errors.New("task already exists")
)

// Repository is the API side of the generation ledger.
type Repository interface {
	CreateTask(ctx context.Context, task *models.Task) error
	MarkDeleted(ctx context.Context, id string) error
}
