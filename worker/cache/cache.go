package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"recollector/api/models"
)

const (
	statusKeyPrefix = "task:status:"
	maxUpdateTries  = 10
)

var (
	ErrNotFound = errors.New("task status not found")
	ErrConflict = errors.New("task status changed concurrently")
)

// StatusStore keeps one JSON status record per task id. Entries never
// expire; they live until Delete.
type StatusStore struct {
	client *redis.Client
}

func NewStatusStore(client *redis.Client) *StatusStore {
	return &StatusStore{client: client}
}

func (s *StatusStore) key(taskID string) string {
	return statusKeyPrefix + taskID
}

// Set overwrites the whole record.
func (s *StatusStore) Set(ctx context.Context, taskID string, rec *models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return s.client.Set(ctx, s.key(taskID), data, 0).Err()
}

func (s *StatusStore) Get(ctx context.Context, taskID string) (*models.Record, error) {
	data, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(data)
}

// GetRaw returns the stored JSON as written.
func (s *StatusStore) GetRaw(ctx context.Context, taskID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *StatusStore) Exists(ctx context.Context, taskID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(taskID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the record and reports whether one existed.
func (s *StatusStore) Delete(ctx context.Context, taskID string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(taskID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Update applies fn to the current record and writes the result back. The
// key is WATCHed so a concurrent writer forces a re-read instead of being
// overwritten; fn may therefore run more than once and must not have side
// effects outside the record. Returns ErrNotFound if the record is gone.
func (s *StatusStore) Update(ctx context.Context, taskID string, fn func(*models.Record) error) error {
	key := s.key(taskID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		rec, err := decode(data)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		out, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode status: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for range maxUpdateTries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func decode(data []byte) (*models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &rec, nil
}
