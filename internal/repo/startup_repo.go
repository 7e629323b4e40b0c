package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StartupStateRepo хранит результат startup hook в Postgres.
//
// Одна запись на flow; повторное сохранение перезаписывает данные.
type StartupStateRepo struct {
	db DB
}

// NewStartupStateRepo создаёт новый StartupStateRepo.
func NewStartupStateRepo(db DB) *StartupStateRepo {
	return &StartupStateRepo{db: db}
}

// EnsureSchema создаёт таблицу, если её нет.
func (r *StartupStateRepo) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS sailor_startup_state (
			flow_id    TEXT PRIMARY KEY,
			data       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create startup state table: %w", err)
	}
	return nil
}

// CreateStartupData сохраняет результат startup hook.
func (r *StartupStateRepo) CreateStartupData(ctx context.Context, flowID string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal startup data: %w", err)
	}

	query := `
		INSERT INTO sailor_startup_state (flow_id, data, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (flow_id) DO UPDATE
		SET data = EXCLUDED.data, created_at = EXCLUDED.created_at
	`
	if _, err := r.db.Exec(ctx, query, flowID, dataJSON); err != nil {
		return fmt.Errorf("upsert startup data: %w", err)
	}
	return nil
}

// GetStartupData возвращает результат startup hook.
// Возвращает ErrNotFound, если записи нет.
func (r *StartupStateRepo) GetStartupData(ctx context.Context, flowID string) (any, error) {
	query := `SELECT data FROM sailor_startup_state WHERE flow_id = $1`

	var dataJSON []byte
	if err := r.db.QueryRow(ctx, query, flowID).Scan(&dataJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select startup data: %w", err)
	}

	var data any
	if err := json.Unmarshal(dataJSON, &data); err != nil {
		return nil, fmt.Errorf("unmarshal startup data: %w", err)
	}
	return data, nil
}

// DeleteStartupData удаляет результат startup hook. Отсутствие записи — не ошибка.
func (r *StartupStateRepo) DeleteStartupData(ctx context.Context, flowID string) error {
	query := `DELETE FROM sailor_startup_state WHERE flow_id = $1`
	if _, err := r.db.Exec(ctx, query, flowID); err != nil {
		return fmt.Errorf("delete startup data: %w", err)
	}
	return nil
}
