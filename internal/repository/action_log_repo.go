package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/law4percent/Chick-Up/internal/domain"
)

const actionLogSchema = `
	CREATE TABLE IF NOT EXISTS chickup_action_logs (
		log_id         TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		device_id      TEXT NOT NULL,
		type           TEXT NOT NULL,
		action         TEXT NOT NULL,
		volume_percent DOUBLE PRECISION NOT NULL,
		ts             BIGINT NOT NULL,
		log_date       TEXT NOT NULL,
		log_time       TEXT NOT NULL,
		day_of_week    SMALLINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chickup_action_logs_user_ts ON chickup_action_logs (user_id, ts DESC);
`

// ActionLogRepository Postgres archive of dispatched actions.
// The realtime store stays the source of truth; rows are keyed by the store's
// entry id so re-archiving the same entry is a no-op.
type ActionLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewActionLogRepository(db *sql.DB, logger *zap.Logger) *ActionLogRepository {
	return &ActionLogRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the table and index when missing
func (r *ActionLogRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, actionLogSchema); err != nil {
		return fmt.Errorf("failed to create action log schema: %w", err)
	}
	return nil
}

// Insert archives one entry
func (r *ActionLogRepository) Insert(ctx context.Context, log domain.ActionLog) error {
	if log.ID == "" {
		return fmt.Errorf("log_id is required")
	}
	if log.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO chickup_action_logs (
			log_id,
			user_id,
			device_id,
			type,
			action,
			volume_percent,
			ts,
			log_date,
			log_time,
			day_of_week
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (log_id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx,
		query,
		log.ID,
		log.UserID,
		log.DeviceID,
		string(log.Type),
		string(log.Action),
		log.VolumePercent,
		log.Timestamp,
		log.Date,
		log.Time,
		log.DayOfWeek,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action log: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		r.logger.Debug("Action log already archived", zap.String("log_id", log.ID))
	}
	return nil
}

// ListByUser newest first; limit <= 0 means no limit
func (r *ActionLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ActionLog, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT
			log_id,
			user_id,
			device_id,
			type,
			action,
			volume_percent,
			ts,
			log_date,
			log_time,
			day_of_week
		FROM chickup_action_logs
		WHERE user_id = $1
		ORDER BY ts DESC, log_id DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.ActionLog
	for rows.Next() {
		var (
			l           domain.ActionLog
			typ, action string
		)
		if err := rows.Scan(
			&l.ID,
			&l.UserID,
			&l.DeviceID,
			&typ,
			&action,
			&l.VolumePercent,
			&l.Timestamp,
			&l.Date,
			&l.Time,
			&l.DayOfWeek,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}
		l.Type = domain.ActuatorType(typ)
		l.Action = domain.ActionKind(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate action logs: %w", err)
	}
	return logs, nil
}
